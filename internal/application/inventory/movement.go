package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/inventario-sync/internal/application/events"
	"github.com/jhoicas/inventario-sync/internal/domain"
	"github.com/jhoicas/inventario-sync/internal/domain/entity"
	"github.com/jhoicas/inventario-sync/internal/domain/repository"
)

// movementCommand movimiento ya validado. Si counted no es nil el delta se calcula
// bajo el bloqueo como counted - total (reconteo físico).
type movementCommand struct {
	MovementInput
	counted *decimal.Decimal
}

func (l *StockLedger) commitMovement(ctx context.Context, cmd movementCommand) (*entity.StockMovement, error) {
	in := cmd.MovementInput
	if in.IdempotencyKey != "" {
		existing, err := l.movementRepo.GetByIdempotencyKey(ctx, in.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	var (
		now     time.Time
		mov     *entity.StockMovement
		created bool
		after   entity.StockLevels
		alert   *events.StockThresholdAlert
	)
	err := l.txRunner.Run(ctx, in.ProductID, func(
		stockRepo repository.StockRepository,
		reservationRepo repository.ReservationRepository,
		movementRepo repository.StockMovementRepository,
	) error {
		if in.IdempotencyKey != "" {
			existing, err := movementRepo.GetByIdempotencyKey(ctx, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				mov = existing
				return nil
			}
		}

		stock, err := stockRepo.GetForUpdate(ctx, in.ProductID)
		if err != nil {
			return err
		}
		now = lockedNow(l.now(), stock)
		if in.ExpectedVersion != nil && *in.ExpectedVersion != stock.Version {
			return &domain.VersionMismatchError{
				EntityType: "stock",
				EntityID:   in.ProductID,
				Expected:   *in.ExpectedVersion,
				Actual:     stock.Version,
			}
		}
		active, err := reservationRepo.ListActiveByProduct(ctx, in.ProductID)
		if err != nil {
			return err
		}
		before := entity.ComputeLevels(stock.TotalQuantity, active, now)

		delta := in.Quantity
		if cmd.counted != nil {
			delta = cmd.counted.Sub(stock.TotalQuantity)
			if delta.IsZero() {
				return nil
			}
		}

		remaining := active
		if in.ReservationID != "" {
			remaining, err = l.fulfillReservation(ctx, reservationRepo, in, active, now)
			if err != nil {
				return err
			}
		}

		newTotal := stock.TotalQuantity.Add(delta)
		if newTotal.IsNegative() {
			verr := domain.NewValidationError("quantity", "el stock total quedaría negativo (%s)", newTotal.String())
			verr.Cause = domain.ErrInsufficientStock
			return verr
		}
		levels := entity.ComputeLevels(newTotal, remaining, now)
		if delta.IsNegative() && cmd.counted == nil && newTotal.Sub(levels.Reserved).IsNegative() {
			return &domain.InsufficientStockError{
				ProductID: in.ProductID,
				Requested: delta.Neg(),
				Available: entity.ComputeLevels(stock.TotalQuantity, remaining, now).Available,
			}
		}

		mov = &entity.StockMovement{
			ID:             uuid.New().String(),
			ProductID:      in.ProductID,
			Type:           in.Type,
			QuantityDelta:  delta,
			BeforeQty:      stock.TotalQuantity,
			AfterQty:       newTotal,
			Reason:         in.Reason,
			Reference:      in.Reference,
			IdempotencyKey: in.IdempotencyKey,
			ActorID:        in.ActorID,
			Timestamp:      now,
		}
		if err := movementRepo.Create(ctx, mov); err != nil {
			return err
		}
		stock.TotalQuantity = newTotal
		stock.Version++
		stock.UpdatedAt = now
		if err := stockRepo.Upsert(ctx, stock); err != nil {
			return err
		}

		created = true
		after = levels
		alert = thresholdAlert(in.ProductID, before, stock.MinimumQuantity, after, stock.MinimumQuantity, now)
		return nil
	})
	if err != nil {
		if in.IdempotencyKey != "" && errors.Is(err, domain.ErrDuplicate) {
			existing, rerr := l.movementRepo.GetByIdempotencyKey(ctx, in.IdempotencyKey)
			if rerr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if !created {
		return mov, nil
	}

	l.metrics.RecordMovement(ctx, string(mov.Type))
	l.publishAvailability(ctx, in.ProductID, after, "movement_"+string(mov.Type), now)
	if alert != nil {
		l.publisher.Publish(ctx, *alert)
	}
	l.log.Debug().
		Str("product_id", in.ProductID).
		Str("type", string(mov.Type)).
		Str("delta", mov.QuantityDelta.String()).
		Str("after", mov.AfterQty.String()).
		Msg("movimiento registrado")
	return mov, nil
}

// lockedNow hora del movimiento, leída con el bloqueo del producto tomado. Nunca retrocede respecto
// del último cambio del registro, así (timestamp, sequence) sigue el orden real de confirmación.
func lockedNow(now time.Time, stock *entity.StockRecord) time.Time {
	if now.Before(stock.UpdatedAt) {
		return stock.UpdatedAt
	}
	return now
}

// fulfillReservation libera la reserva que el movimiento cumple y devuelve las reservas activas restantes.
// Una reserva ya cerrada (vencida o liberada) no impide el movimiento.
func (l *StockLedger) fulfillReservation(
	ctx context.Context,
	reservationRepo repository.ReservationRepository,
	in MovementInput,
	active []*entity.Reservation,
	now time.Time,
) ([]*entity.Reservation, error) {
	r, err := reservationRepo.GetByID(ctx, in.ReservationID)
	if err != nil {
		return nil, err
	}
	if r == nil || r.ProductID != in.ProductID {
		return nil, domain.ErrReservationNotFound
	}
	if !r.IsActiveAt(now) {
		return active, nil
	}
	if err := reservationRepo.UpdateStatus(ctx, r.ID, entity.ReservationReleased, now); err != nil {
		return nil, err
	}
	remaining := make([]*entity.Reservation, 0, len(active))
	for _, a := range active {
		if a.ID != r.ID {
			remaining = append(remaining, a)
		}
	}
	return remaining, nil
}

// thresholdLevel DEPLETED si no queda disponible; LOW si está en o bajo un mínimo positivo.
func thresholdLevel(levels entity.StockLevels, minimum decimal.Decimal) events.ThresholdLevel {
	if !levels.Available.IsPositive() {
		return events.ThresholdDepleted
	}
	if minimum.IsPositive() && levels.Available.LessThanOrEqual(minimum) {
		return events.ThresholdLow
	}
	return ""
}

// thresholdAlert solo alerta al cruzar a un nivel nuevo, no en cada operación que lo mantiene.
func thresholdAlert(productID string, before entity.StockLevels, beforeMin decimal.Decimal, after entity.StockLevels, afterMin decimal.Decimal, now time.Time) *events.StockThresholdAlert {
	level := thresholdLevel(after, afterMin)
	if level == "" || level == thresholdLevel(before, beforeMin) {
		return nil
	}
	return &events.StockThresholdAlert{
		Meta:      events.Meta{At: now},
		ProductID: productID,
		Level:     level,
		Available: after.Available,
		Minimum:   afterMin,
	}
}

func (l *StockLedger) publishAvailability(ctx context.Context, productID string, levels entity.StockLevels, cause string, now time.Time) {
	l.publisher.Publish(ctx, events.ProductAvailabilityUpdated{
		Meta:      events.Meta{At: now},
		ProductID: productID,
		Total:     levels.Total,
		Reserved:  levels.Reserved,
		Available: levels.Available,
		Cause:     cause,
	})
}
