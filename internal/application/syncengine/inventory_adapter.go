package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/inventario-sync/internal/application/inventory"
	"github.com/jhoicas/inventario-sync/internal/domain"
	"github.com/jhoicas/inventario-sync/internal/domain/entity"
)

// StockLedger operaciones del libro de stock que usa el adaptador de inventario.
type StockLedger interface {
	RecordMovement(ctx context.Context, in inventory.MovementInput) (*entity.StockMovement, error)
	ReconcileStock(ctx context.Context, in inventory.ReconcileInput) (*entity.StockMovement, error)
	GetStockRecord(ctx context.Context, productID string) (*entity.StockRecord, error)
}

const syncActor = "sync"

// movementLine línea de venta, devolución o compra.
type movementLine struct {
	ProductID     string          `json:"productId"`
	Quantity      decimal.Decimal `json:"quantity"`
	ReservationID string          `json:"reservationId,omitempty"`
}

type movementPayload struct {
	ID        string         `json:"id"`
	Reference string         `json:"reference"`
	Items     []movementLine `json:"items"`
}

// stockCountPayload conteo físico. BasisVersion es la versión de stock sobre la que se contó;
// BasisQuantity el total que había en ese momento (necesario para MERGE).
type stockCountPayload struct {
	ID              string           `json:"id"`
	ProductID       string           `json:"productId"`
	CountedQuantity decimal.Decimal  `json:"countedQuantity"`
	BasisVersion    *int64           `json:"basisVersion,omitempty"`
	BasisQuantity   *decimal.Decimal `json:"basisQuantity,omitempty"`
	Reference       string           `json:"reference"`
}

// stockState estado observado en destino al detectar un conflicto.
type stockState struct {
	ProductID     string          `json:"productId"`
	TotalQuantity decimal.Decimal `json:"totalQuantity"`
	Version       int64           `json:"version"`
}

// InventoryAdapter traduce eventos de ventas, devoluciones, compras y conteos a movimientos del libro.
// Los movimientos son deltas y no generan conflicto; el conteo físico es absoluto y compara versión.
type InventoryAdapter struct {
	ledger StockLedger
}

// NewInventoryAdapter construye el adaptador sobre el libro de stock.
func NewInventoryAdapter(ledger StockLedger) *InventoryAdapter {
	return &InventoryAdapter{ledger: ledger}
}

func (a *InventoryAdapter) Module() string { return ModuleInventory }

func (a *InventoryAdapter) Apply(ctx context.Context, item *entity.SyncQueueItem) error {
	switch item.Trigger {
	case TriggerSaleCreated:
		return a.applyLines(ctx, item, entity.MovementSale, true)
	case TriggerSaleCancelled, TriggerReturnCreated:
		return a.applyLines(ctx, item, entity.MovementReturn, false)
	case TriggerPurchaseReceived:
		return a.applyLines(ctx, item, entity.MovementPurchase, false)
	case TriggerStockCounted:
		return a.applyCount(ctx, item)
	}
	return domain.NewFatalSyncError(ModuleInventory, "trigger no soportado: %s", item.Trigger)
}

func (a *InventoryAdapter) applyLines(ctx context.Context, item *entity.SyncQueueItem, typ entity.MovementType, outbound bool) error {
	var p movementPayload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return domain.NewFatalSyncError(ModuleInventory, "payload inválido: %v", err)
	}
	if len(p.Items) == 0 {
		return domain.NewFatalSyncError(ModuleInventory, "el evento %s no trae ítems", item.Trigger)
	}
	for i, line := range p.Items {
		if strings.TrimSpace(line.ProductID) == "" || !line.Quantity.IsPositive() {
			return domain.NewFatalSyncError(ModuleInventory, "línea %d inválida: productId y quantity > 0 son obligatorios", i)
		}
	}
	reference := firstNonEmpty(p.Reference, p.ID, item.ID)
	for i, line := range p.Items {
		qty := line.Quantity
		if outbound {
			qty = qty.Neg()
		}
		in := inventory.MovementInput{
			ProductID:      line.ProductID,
			Type:           typ,
			Quantity:       qty,
			Reason:         item.SourceModule + "." + item.Trigger,
			Reference:      reference,
			ActorID:        syncActor,
			IdempotencyKey: IdempotencyKey(item.ID, ModuleInventory, i),
		}
		if outbound {
			in.ReservationID = line.ReservationID
		}
		if _, err := a.ledger.RecordMovement(ctx, in); err != nil {
			return classifyLedgerError(fmt.Errorf("línea %d (%s)%s: %w", i, line.ProductID, appliedLines(i), err))
		}
	}
	return nil
}

// appliedLines nota para LastError: las líneas anteriores a la fallida ya movieron stock y quedan
// registradas; un reintento solo aplica las que faltan.
func appliedLines(failed int) string {
	switch failed {
	case 0:
		return ""
	case 1:
		return ", línea 0 ya aplicada"
	}
	return fmt.Sprintf(", líneas 0-%d ya aplicadas", failed-1)
}

func (a *InventoryAdapter) applyCount(ctx context.Context, item *entity.SyncQueueItem) error {
	p, err := parseStockCount(item.Payload)
	if err != nil {
		return err
	}
	_, err = a.ledger.ReconcileStock(ctx, inventory.ReconcileInput{
		ProductID:       p.ProductID,
		CountedQuantity: p.CountedQuantity,
		Reference:       firstNonEmpty(p.Reference, p.ID, item.ID),
		ActorID:         syncActor,
		IdempotencyKey:  IdempotencyKey(item.ID, ModuleInventory, 0),
		ExpectedVersion: p.BasisVersion,
	})
	var mismatch *domain.VersionMismatchError
	if errors.As(err, &mismatch) {
		return a.conflict(ctx, item.Payload, p.ProductID, mismatch)
	}
	if err != nil {
		return classifyLedgerError(err)
	}
	return nil
}

func (a *InventoryAdapter) conflict(ctx context.Context, source json.RawMessage, productID string, mismatch *domain.VersionMismatchError) error {
	current, err := a.ledger.GetStockRecord(ctx, productID)
	if err != nil {
		return &domain.SyncAdapterError{Module: ModuleInventory, Err: err}
	}
	target, _ := json.Marshal(stockState{
		ProductID:     current.ProductID,
		TotalQuantity: current.TotalQuantity,
		Version:       current.Version,
	})
	return &ConflictDetectedError{
		EntityType:   "stock",
		EntityID:     productID,
		SourceChange: source,
		TargetChange: target,
		Reason:       mismatch.Error(),
	}
}

// Resolve SOURCE_WINS fija el conteo; MERGE suma (contado - base) sobre el total actual, es decir,
// conserva los movimientos ocurridos después del conteo; MANUAL apply admite {"countedQuantity": n}.
func (a *InventoryAdapter) Resolve(ctx context.Context, c *entity.Conflict, strategy entity.ResolutionStrategy, decision *Decision) error {
	p, err := parseStockCount(c.SourceChange)
	if err != nil {
		return err
	}
	key := resolutionKey(c)
	reference := firstNonEmpty(p.Reference, p.ID, c.QueueItemID)

	switch strategy {
	case entity.ResolutionMerge:
		if p.BasisQuantity == nil {
			return domain.ErrMergeNotSupported
		}
		delta := p.CountedQuantity.Sub(*p.BasisQuantity)
		if delta.IsZero() {
			return nil
		}
		_, err = a.ledger.RecordMovement(ctx, inventory.MovementInput{
			ProductID:      p.ProductID,
			Type:           entity.MovementAdjustment,
			Quantity:       delta,
			Reason:         string(entity.ReasonRecount),
			Reference:      reference,
			ActorID:        syncActor,
			IdempotencyKey: key,
		})
		return err
	case entity.ResolutionManual:
		if decision != nil && len(decision.Data) > 0 {
			var manual struct {
				CountedQuantity *decimal.Decimal `json:"countedQuantity"`
			}
			if err := json.Unmarshal(decision.Data, &manual); err != nil {
				return domain.NewValidationError("decision.data", "JSON inválido: %v", err)
			}
			if manual.CountedQuantity != nil {
				p.CountedQuantity = *manual.CountedQuantity
			}
		}
	}
	_, err = a.ledger.ReconcileStock(ctx, inventory.ReconcileInput{
		ProductID:       p.ProductID,
		CountedQuantity: p.CountedQuantity,
		Reference:       reference,
		ActorID:         syncActor,
		IdempotencyKey:  key,
	})
	return err
}

func parseStockCount(raw json.RawMessage) (*stockCountPayload, error) {
	var p stockCountPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, domain.NewFatalSyncError(ModuleInventory, "payload inválido: %v", err)
	}
	if strings.TrimSpace(p.ProductID) == "" {
		return nil, domain.NewFatalSyncError(ModuleInventory, "productId es obligatorio")
	}
	if p.CountedQuantity.IsNegative() {
		return nil, domain.NewFatalSyncError(ModuleInventory, "countedQuantity no puede ser negativo")
	}
	return &p, nil
}

// classifyLedgerError datos inválidos no se arreglan reintentando; falta de stock sí puede
// resolverse cuando llegue una compra o se libere una reserva.
func classifyLedgerError(err error) error {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return &domain.SyncAdapterError{Module: ModuleInventory, Err: err}
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrReservationNotFound):
		return domain.NewFatalSyncError(ModuleInventory, "%v", err)
	default:
		return &domain.SyncAdapterError{Module: ModuleInventory, Err: err}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
