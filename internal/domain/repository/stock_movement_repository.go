package repository

import (
	"context"
	"time"

	"github.com/jhoicas/inventario-sync/internal/domain/entity"
)

// StockMovementRepository puerto del libro de movimientos (solo inserción).
type StockMovementRepository interface {
	// Create asigna ID y Sequence si vienen vacíos. Devuelve domain.ErrDuplicate si la IdempotencyKey ya existe.
	Create(ctx context.Context, m *entity.StockMovement) error
	// GetByIdempotencyKey devuelve (nil, nil) si no existe.
	GetByIdempotencyKey(ctx context.Context, key string) (*entity.StockMovement, error)
	// ListByProduct en orden ascendente (Timestamp, Sequence). from/to opcionales e inclusivos.
	ListByProduct(ctx context.Context, productID string, from, to *time.Time) ([]*entity.StockMovement, error)
	// ListRecentByProduct últimos limit movimientos, del más reciente al más antiguo.
	ListRecentByProduct(ctx context.Context, productID string, limit int) ([]*entity.StockMovement, error)
}
