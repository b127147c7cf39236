package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/inventario-sync/internal/domain"
	"github.com/jhoicas/inventario-sync/internal/domain/entity"
	"github.com/jhoicas/inventario-sync/internal/domain/repository"
)

var _ repository.AccountingRepository = (*AccountingRepo)(nil)

// AccountingRepository asientos contables en memoria.
func (s *Store) AccountingRepository() *AccountingRepo { return &AccountingRepo{store: s} }

// AccountingRepo asientos indexados por referencia.
type AccountingRepo struct {
	store *Store
}

func (r *AccountingRepo) GetByReference(_ context.Context, reference string) (*entity.AccountingTransaction, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	t, ok := r.store.accounting[reference]
	if !ok {
		return nil, nil
	}
	c := *t
	return &c, nil
}

func (r *AccountingRepo) Create(_ context.Context, t *entity.AccountingTransaction) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Version == 0 {
		t.Version = 1
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.accounting[t.Reference]; ok {
		return domain.ErrDuplicate
	}
	c := *t
	r.store.accounting[t.Reference] = &c
	return nil
}

func (r *AccountingRepo) UpdateAmount(_ context.Context, reference string, amount decimal.Decimal, expectedVersion *int64, idempotencyKey string) (*entity.AccountingTransaction, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.accounting[reference]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if idempotencyKey != "" {
		if _, done := r.store.accountingUpdates[idempotencyKey]; done {
			c := *t
			return &c, nil
		}
	}
	if expectedVersion != nil && *expectedVersion != t.Version {
		return nil, &domain.VersionMismatchError{
			EntityType: "accounting_transaction",
			EntityID:   reference,
			Expected:   *expectedVersion,
			Actual:     t.Version,
		}
	}
	t.Amount = amount
	t.Version++
	t.UpdatedAt = time.Now()
	if idempotencyKey != "" {
		r.store.accountingUpdates[idempotencyKey] = reference
	}
	c := *t
	return &c, nil
}
