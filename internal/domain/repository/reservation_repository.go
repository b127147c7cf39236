package repository

import (
	"context"
	"time"

	"github.com/jhoicas/inventario-sync/internal/domain/entity"
)

// ReservationRepository puerto de persistencia de reservas.
type ReservationRepository interface {
	Create(ctx context.Context, r *entity.Reservation) error
	// GetByID devuelve (nil, nil) si no existe.
	GetByID(ctx context.Context, id string) (*entity.Reservation, error)
	ListActiveByProduct(ctx context.Context, productID string) ([]*entity.Reservation, error)
	// ListExpiredActive reservas ACTIVE con ExpiresAt <= now, de todos los productos.
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]*entity.Reservation, error)
	UpdateStatus(ctx context.Context, id string, status entity.ReservationStatus, at time.Time) error
}
