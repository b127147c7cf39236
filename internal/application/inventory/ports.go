package inventory

import (
	"context"

	"github.com/jhoicas/inventario-sync/internal/domain/repository"
)

// TxRunner ejecuta una función dentro de una unidad de trabajo atómica, serializada por producto,
// pasando repositorios atados a esa transacción. Commit si fn retorna nil; Rollback en otro caso.
type TxRunner interface {
	Run(ctx context.Context, productID string, fn func(
		stockRepo repository.StockRepository,
		reservationRepo repository.ReservationRepository,
		movementRepo repository.StockMovementRepository,
	) error) error
}

// Metrics instrumentación del libro. Las implementaciones deben tolerar receptor nil.
type Metrics interface {
	RecordReservation(ctx context.Context, outcome string)
	RecordMovement(ctx context.Context, movementType string)
	RecordExpiredReservations(ctx context.Context, count int)
}

// Locker exclusión entre réplicas para el barrido de reservas vencidas.
// TryLock devuelve false (sin error) si otra réplica tiene el candado.
type Locker interface {
	TryLock(ctx context.Context) (unlock func(), ok bool, err error)
}

type noopMetrics struct{}

func (noopMetrics) RecordReservation(context.Context, string)      {}
func (noopMetrics) RecordMovement(context.Context, string)         {}
func (noopMetrics) RecordExpiredReservations(context.Context, int) {}
