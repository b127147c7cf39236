package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/inventario-sync/internal/domain"
	"github.com/jhoicas/inventario-sync/internal/domain/entity"
	"github.com/jhoicas/inventario-sync/internal/domain/repository"
)

var _ repository.ReservationRepository = (*ReservationRepo)(nil)

// ReservationRepo reservas de stock sobre PostgreSQL.
type ReservationRepo struct {
	q Querier
}

// NewReservationRepository construye el adaptador. Pasar pool o tx (Querier).
func NewReservationRepository(q Querier) *ReservationRepo {
	return &ReservationRepo{q: q}
}

const reservationColumns = `id, product_id, quantity, reason, holder_id, status, created_at, expires_at, released_at`

func (r *ReservationRepo) Create(ctx context.Context, res *entity.Reservation) error {
	query := `
		INSERT INTO stock_reservations (` + reservationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.q.Exec(ctx, query,
		res.ID, res.ProductID, res.Quantity, res.Reason, res.HolderID,
		res.Status, res.CreatedAt, res.ExpiresAt, res.ReleasedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("create reservation: %w", err)
	}
	return nil
}

// GetByID un ID que no es UUID no puede existir: (nil, nil).
func (r *ReservationRepo) GetByID(ctx context.Context, id string) (*entity.Reservation, error) {
	if !isUUID(id) {
		return nil, nil
	}
	rows, err := r.q.Query(ctx, `SELECT `+reservationColumns+` FROM stock_reservations WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	list, err := scanReservations(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (r *ReservationRepo) ListActiveByProduct(ctx context.Context, productID string) ([]*entity.Reservation, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+reservationColumns+` FROM stock_reservations
		WHERE product_id = $1 AND status = 'ACTIVE'
		ORDER BY created_at`, productID)
	if err != nil {
		return nil, fmt.Errorf("list active reservations: %w", err)
	}
	return scanReservations(rows)
}

func (r *ReservationRepo) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]*entity.Reservation, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+reservationColumns+` FROM stock_reservations
		WHERE status = 'ACTIVE' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired reservations: %w", err)
	}
	return scanReservations(rows)
}

// UpdateStatus solo transiciona reservas ACTIVE; las terminales no cambian.
func (r *ReservationRepo) UpdateStatus(ctx context.Context, id string, status entity.ReservationStatus, at time.Time) error {
	if !isUUID(id) {
		return domain.ErrReservationNotFound
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE stock_reservations SET status = $2, released_at = $3
		WHERE id = $1 AND status = 'ACTIVE'`, id, status, at)
	if err != nil {
		return fmt.Errorf("update reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_reservations WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("update reservation: %w", err)
		}
		if !exists {
			return domain.ErrReservationNotFound
		}
	}
	return nil
}

func scanReservations(rows pgx.Rows) ([]*entity.Reservation, error) {
	defer rows.Close()
	var list []*entity.Reservation
	for rows.Next() {
		var res entity.Reservation
		if err := rows.Scan(&res.ID, &res.ProductID, &res.Quantity, &res.Reason, &res.HolderID,
			&res.Status, &res.CreatedAt, &res.ExpiresAt, &res.ReleasedAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		list = append(list, &res)
	}
	return list, rows.Err()
}
