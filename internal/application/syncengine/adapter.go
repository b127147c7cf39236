// Package syncengine propaga eventos de dominio entre módulos: cola con reintentos,
// reglas de enrutamiento, adaptadores por módulo destino y resolución de conflictos.
package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jhoicas/inventario-sync/internal/domain"
	"github.com/jhoicas/inventario-sync/internal/domain/entity"
)

// Módulos destino conocidos.
const (
	ModuleInventory  = "inventory"
	ModuleAccounting = "accounting"
)

// Triggers emitidos por los módulos origen.
const (
	TriggerSaleCreated      = "sale_created"
	TriggerSaleCancelled    = "sale_cancelled"
	TriggerReturnCreated    = "return_created"
	TriggerPurchaseReceived = "purchase_received"
	TriggerStockCounted     = "stock_counted"
	TriggerInvoiceCreated   = "invoice_created"
	TriggerInvoiceUpdated   = "invoice_updated"
)

// Adapter transforma y aplica un ítem de la cola en un módulo destino.
//
// Apply debe ser idempotente: un reintento repite el mismo payload. Errores:
//   - *ConflictDetectedError: el destino cambió después de la versión base del evento.
//   - domain.FatalSyncError: el payload nunca podrá aplicarse.
//   - cualquier otro error se trata como transitorio.
//
// Resolve aplica el desenlace de un conflicto resuelto con SOURCE_WINS, MERGE o MANUAL (apply).
type Adapter interface {
	Module() string
	Apply(ctx context.Context, item *entity.SyncQueueItem) error
	Resolve(ctx context.Context, conflict *entity.Conflict, strategy entity.ResolutionStrategy, decision *Decision) error
}

// Decision decisión externa para la estrategia MANUAL.
type Decision struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Acciones de Decision.
const (
	DecisionApply  = "apply"
	DecisionReject = "reject"
)

// ConflictDetectedError el adaptador no aplicó el cambio porque la entidad destino es más nueva
// que la versión base del evento. El motor registra el conflicto y estaciona el ítem.
type ConflictDetectedError struct {
	EntityType   string
	EntityID     string
	SourceChange json.RawMessage
	TargetChange json.RawMessage
	Reason       string
}

func (e *ConflictDetectedError) Error() string {
	return fmt.Sprintf("conflicto en %s %s: %s", e.EntityType, e.EntityID, e.Reason)
}

func (e *ConflictDetectedError) Is(target error) bool { return target == domain.ErrConflictDetected }

// IdempotencyKey clave determinista de la línea line del ítem en el módulo destino.
func IdempotencyKey(itemID, module string, line int) string {
	return fmt.Sprintf("sync:%s:%s:%d", itemID, module, line)
}

// resolutionKey clave de la aplicación de un conflicto resuelto.
func resolutionKey(c *entity.Conflict) string {
	return fmt.Sprintf("sync:%s:%s:resolve:%s", c.QueueItemID, c.TargetModule, c.ID)
}

// Metrics instrumentación del motor. Las implementaciones deben tolerar receptor nil.
type Metrics interface {
	RecordItemOutcome(ctx context.Context, outcome string)
	RecordCycle(ctx context.Context, claimed int, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordItemOutcome(context.Context, string)       {}
func (noopMetrics) RecordCycle(context.Context, int, time.Duration) {}
