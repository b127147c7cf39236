package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/inventario-sync/internal/domain"
	"github.com/jhoicas/inventario-sync/internal/domain/entity"
	"github.com/jhoicas/inventario-sync/internal/domain/repository"
)

var _ repository.AccountingRepository = (*AccountingRepo)(nil)

// AccountingRepo asientos contables generados por sincronización, uno por referencia.
type AccountingRepo struct {
	q Querier
}

func NewAccountingRepository(q Querier) *AccountingRepo {
	return &AccountingRepo{q: q}
}

const accountingColumns = `id, reference, type, customer_id, amount, version, created_at, updated_at`

func (r *AccountingRepo) GetByReference(ctx context.Context, reference string) (*entity.AccountingTransaction, error) {
	var t entity.AccountingTransaction
	err := r.q.QueryRow(ctx, `SELECT `+accountingColumns+` FROM accounting_transactions WHERE reference = $1`, reference).Scan(
		&t.ID, &t.Reference, &t.Type, &t.CustomerID, &t.Amount, &t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get accounting transaction: %w", err)
	}
	return &t, nil
}

func (r *AccountingRepo) Create(ctx context.Context, t *entity.AccountingTransaction) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Version == 0 {
		t.Version = 1
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO accounting_transactions (`+accountingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.Reference, t.Type, t.CustomerID, t.Amount, t.Version, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("create accounting transaction: %w", err)
	}
	return nil
}

// UpdateAmount con expectedVersion actualiza solo si la versión coincide (compare-and-set en el WHERE).
// La fila de accounting_updates y el UPDATE van en la misma sentencia: la clave queda registrada solo
// si el monto cambió.
func (r *AccountingRepo) UpdateAmount(ctx context.Context, reference string, amount decimal.Decimal, expectedVersion *int64, idempotencyKey string) (*entity.AccountingTransaction, error) {
	var t entity.AccountingTransaction
	err := r.q.QueryRow(ctx, `
		WITH target AS (
			SELECT reference FROM accounting_transactions
			WHERE reference = $1 AND ($3::bigint IS NULL OR version = $3)
			FOR UPDATE
		), recorded AS (
			INSERT INTO accounting_updates (idempotency_key, reference)
			SELECT $4, reference FROM target WHERE $4 <> ''
			ON CONFLICT (idempotency_key) DO NOTHING
			RETURNING reference
		)
		UPDATE accounting_transactions a
		SET amount = $2, version = a.version + 1, updated_at = now()
		FROM target
		WHERE a.reference = target.reference
		  AND ($4 = '' OR EXISTS (SELECT 1 FROM recorded))
		RETURNING a.id, a.reference, a.type, a.customer_id, a.amount, a.version, a.created_at, a.updated_at`,
		reference, amount, expectedVersion, idempotencyKey,
	).Scan(&t.ID, &t.Reference, &t.Type, &t.CustomerID, &t.Amount, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err == nil {
		return &t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update accounting amount: %w", err)
	}

	current, gerr := r.GetByReference(ctx, reference)
	if gerr != nil {
		return nil, gerr
	}
	if current == nil {
		return nil, domain.ErrNotFound
	}
	if idempotencyKey != "" {
		var applied bool
		if err := r.q.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM accounting_updates WHERE idempotency_key = $1)`, idempotencyKey,
		).Scan(&applied); err != nil {
			return nil, fmt.Errorf("check accounting update key: %w", err)
		}
		if applied {
			return current, nil
		}
	}
	if expectedVersion == nil {
		return nil, domain.ErrNotFound
	}
	return nil, &domain.VersionMismatchError{
		EntityType: "accounting_transaction",
		EntityID:   reference,
		Expected:   *expectedVersion,
		Actual:     current.Version,
	}
}
