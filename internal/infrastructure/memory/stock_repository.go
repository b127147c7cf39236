package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/inventario-sync/internal/domain"
	"github.com/jhoicas/inventario-sync/internal/domain/entity"
	"github.com/jhoicas/inventario-sync/internal/domain/repository"
)

var (
	_ repository.StockRepository         = (*StockRepo)(nil)
	_ repository.ReservationRepository   = (*ReservationRepo)(nil)
	_ repository.StockMovementRepository = (*MovementRepo)(nil)
)

// StockRepo si tx no es nil lee a través de los cambios preparados y escribe en ellos.
type StockRepo struct {
	store *Store
	tx    *txState
}

func (r *StockRepo) Get(_ context.Context, productID string) (*entity.StockRecord, error) {
	if r.tx != nil {
		if rec, ok := r.tx.stock[productID]; ok {
			return copyStock(rec), nil
		}
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if rec, ok := r.store.stock[productID]; ok {
		return copyStock(rec), nil
	}
	return &entity.StockRecord{
		ProductID:       productID,
		TotalQuantity:   decimal.Zero,
		MinimumQuantity: decimal.Zero,
	}, nil
}

// GetForUpdate el bloqueo por producto lo toma TxRunner.
func (r *StockRepo) GetForUpdate(ctx context.Context, productID string) (*entity.StockRecord, error) {
	return r.Get(ctx, productID)
}

func (r *StockRepo) Upsert(_ context.Context, stock *entity.StockRecord) error {
	if r.tx != nil {
		r.tx.stock[stock.ProductID] = copyStock(stock)
		return nil
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.stock[stock.ProductID] = copyStock(stock)
	return nil
}

// ReservationRepo reservas en memoria.
type ReservationRepo struct {
	store *Store
	tx    *txState
}

func (r *ReservationRepo) lookup(id string) (*entity.Reservation, bool) {
	if r.tx != nil {
		if res, ok := r.tx.reservations[id]; ok {
			return res, true
		}
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	res, ok := r.store.reservations[id]
	return res, ok
}

// snapshot reservas confirmadas con los cambios de la transacción superpuestos.
func (r *ReservationRepo) snapshot(keep func(*entity.Reservation) bool) []*entity.Reservation {
	merged := make(map[string]*entity.Reservation)
	r.store.mu.RLock()
	for id, res := range r.store.reservations {
		merged[id] = res
	}
	r.store.mu.RUnlock()
	if r.tx != nil {
		for id, res := range r.tx.reservations {
			merged[id] = res
		}
	}
	out := make([]*entity.Reservation, 0)
	for _, res := range merged {
		if keep(res) {
			out = append(out, copyReservation(res))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *ReservationRepo) put(res *entity.Reservation) {
	if r.tx != nil {
		r.tx.reservations[res.ID] = res
		return
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.reservations[res.ID] = res
}

func (r *ReservationRepo) Create(_ context.Context, res *entity.Reservation) error {
	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	if _, ok := r.lookup(res.ID); ok {
		return domain.ErrDuplicate
	}
	r.put(copyReservation(res))
	return nil
}

func (r *ReservationRepo) GetByID(_ context.Context, id string) (*entity.Reservation, error) {
	res, ok := r.lookup(id)
	if !ok {
		return nil, nil
	}
	return copyReservation(res), nil
}

func (r *ReservationRepo) ListActiveByProduct(_ context.Context, productID string) ([]*entity.Reservation, error) {
	return r.snapshot(func(res *entity.Reservation) bool {
		return res.ProductID == productID && res.Status == entity.ReservationActive
	}), nil
}

func (r *ReservationRepo) ListExpiredActive(_ context.Context, now time.Time, limit int) ([]*entity.Reservation, error) {
	out := r.snapshot(func(res *entity.Reservation) bool {
		return res.Status == entity.ReservationActive && !res.ExpiresAt.After(now)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ReservationRepo) UpdateStatus(_ context.Context, id string, status entity.ReservationStatus, at time.Time) error {
	res, ok := r.lookup(id)
	if !ok {
		return domain.ErrReservationNotFound
	}
	c := copyReservation(res)
	c.Status = status
	if status != entity.ReservationActive {
		t := at
		c.ReleasedAt = &t
	}
	r.put(c)
	return nil
}

// MovementRepo libro de movimientos en memoria (solo inserción).
type MovementRepo struct {
	store *Store
	tx    *txState
}

func (r *MovementRepo) Create(_ context.Context, m *entity.StockMovement) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.IdempotencyKey != "" {
		if existing, _ := r.byKey(m.IdempotencyKey); existing != nil {
			return domain.ErrDuplicate
		}
	}
	m.Sequence = r.store.sequence.Add(1)
	c := copyMovement(m)
	if r.tx != nil {
		r.tx.movements = append(r.tx.movements, c)
		return nil
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if c.IdempotencyKey != "" {
		if _, ok := r.store.movementKeys[c.IdempotencyKey]; ok {
			return domain.ErrDuplicate
		}
		r.store.movementKeys[c.IdempotencyKey] = c
	}
	r.store.movements = append(r.store.movements, c)
	return nil
}

func (r *MovementRepo) byKey(key string) (*entity.StockMovement, error) {
	if r.tx != nil {
		for _, m := range r.tx.movements {
			if m.IdempotencyKey == key {
				return m, nil
			}
		}
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.store.movementKeys[key], nil
}

func (r *MovementRepo) GetByIdempotencyKey(_ context.Context, key string) (*entity.StockMovement, error) {
	m, err := r.byKey(key)
	if err != nil || m == nil {
		return nil, err
	}
	return copyMovement(m), nil
}

func (r *MovementRepo) productMovements(productID string) []*entity.StockMovement {
	var out []*entity.StockMovement
	r.store.mu.RLock()
	for _, m := range r.store.movements {
		if m.ProductID == productID {
			out = append(out, copyMovement(m))
		}
	}
	r.store.mu.RUnlock()
	if r.tx != nil {
		for _, m := range r.tx.movements {
			if m.ProductID == productID {
				out = append(out, copyMovement(m))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func (r *MovementRepo) ListByProduct(_ context.Context, productID string, from, to *time.Time) ([]*entity.StockMovement, error) {
	all := r.productMovements(productID)
	out := make([]*entity.StockMovement, 0, len(all))
	for _, m := range all {
		if from != nil && m.Timestamp.Before(*from) {
			continue
		}
		if to != nil && m.Timestamp.After(*to) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *MovementRepo) ListRecentByProduct(_ context.Context, productID string, limit int) ([]*entity.StockMovement, error) {
	all := r.productMovements(productID)
	out := make([]*entity.StockMovement, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, all[i])
	}
	return out, nil
}
