package repository

import (
	"context"
	"time"

	"github.com/jhoicas/inventario-sync/internal/domain/entity"
)

// SyncQueueRepository persistencia de la cola de sincronización.
type SyncQueueRepository interface {
	Create(ctx context.Context, item *entity.SyncQueueItem) error
	// GetByID devuelve (nil, nil) si no existe.
	GetByID(ctx context.Context, id string) (*entity.SyncQueueItem, error)
	// ClaimReady marca como PROCESSING y devuelve hasta limit ítems listos (PENDING, o FAILED con
	// NextAttemptAt <= now), ordenados por prioridad descendente y luego CreatedAt ascendente.
	ClaimReady(ctx context.Context, now time.Time, limit int) ([]*entity.SyncQueueItem, error)
	Update(ctx context.Context, item *entity.SyncQueueItem) error
	// CountOutstanding ítems no terminales (PENDING, PROCESSING, FAILED).
	CountOutstanding(ctx context.Context) (int, error)
	ListByStatus(ctx context.Context, status entity.SyncStatus, limit int) ([]*entity.SyncQueueItem, error)
	// ResetStale devuelve a PENDING los ítems PROCESSING sin actualizar desde before (caída a mitad de proceso).
	ResetStale(ctx context.Context, before time.Time) (int, error)
}
