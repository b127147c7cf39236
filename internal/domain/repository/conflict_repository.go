package repository

import (
	"context"

	"github.com/jhoicas/inventario-sync/internal/domain/entity"
)

// ConflictRepository persistencia de conflictos de sincronización.
type ConflictRepository interface {
	Create(ctx context.Context, c *entity.Conflict) error
	// GetByID devuelve (nil, nil) si no existe.
	GetByID(ctx context.Context, id string) (*entity.Conflict, error)
	ListByEntity(ctx context.Context, entityType, entityID string) ([]*entity.Conflict, error)
	Update(ctx context.Context, c *entity.Conflict) error
}
