package syncengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/inventario-sync/internal/application/events"
	"github.com/jhoicas/inventario-sync/internal/domain"
	"github.com/jhoicas/inventario-sync/internal/domain/entity"
	"github.com/jhoicas/inventario-sync/internal/domain/repository"
)

// ConflictResolver cierra conflictos detectados por los adaptadores y devuelve el ítem a la cola.
type ConflictResolver struct {
	mu        sync.Mutex
	conflicts repository.ConflictRepository
	queue     repository.SyncQueueRepository
	engine    *Engine
	publisher events.Publisher
	log       zerolog.Logger
	now       func() time.Time
}

// NewConflictResolver usa los adaptadores y reglas del motor.
func NewConflictResolver(conflicts repository.ConflictRepository, queue repository.SyncQueueRepository, engine *Engine, publisher events.Publisher, log zerolog.Logger) *ConflictResolver {
	if publisher == nil {
		publisher = events.Multi(nil)
	}
	return &ConflictResolver{
		conflicts: conflicts,
		queue:     queue,
		engine:    engine,
		publisher: publisher,
		log:       log,
		now:       engine.now,
	}
}

// ListConflicts conflictos de una entidad; entityType vacío no filtra por tipo.
func (r *ConflictResolver) ListConflicts(ctx context.Context, entityType, entityID string) ([]*entity.Conflict, error) {
	if entityID == "" {
		return nil, domain.NewValidationError("entityId", "es obligatorio")
	}
	return r.conflicts.ListByEntity(ctx, entityType, entityID)
}

// ResolveConflict aplica la estrategia al conflicto.
//
// SOURCE_WINS, MERGE y MANUAL con action=apply aplican el cambio mediante el adaptador y reencolan el ítem
// para que el motor complete los destinos restantes. TARGET_WINS y MANUAL con action=reject descartan el
// cambio para ese destino; el ítem queda COMPLETED si no le quedan destinos.
func (r *ConflictResolver) ResolveConflict(ctx context.Context, conflictID string, strategy entity.ResolutionStrategy, decision *Decision, resolvedBy string) (*entity.Conflict, error) {
	if _, ok := entity.ParseResolutionStrategy(string(strategy)); !ok {
		return nil, domain.NewValidationError("resolution", "estrategia desconocida: %q", strategy)
	}
	apply := strategy == entity.ResolutionSourceWins || strategy == entity.ResolutionMerge
	if strategy == entity.ResolutionManual {
		if decision == nil {
			return nil, domain.NewValidationError("decision", "MANUAL requiere una decisión")
		}
		switch decision.Action {
		case DecisionApply:
			apply = true
		case DecisionReject:
		default:
			return nil, domain.NewValidationError("decision.action", "debe ser apply o reject")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.conflicts.GetByID(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, domain.ErrNotFound
	}
	if c.Status == entity.ConflictResolved {
		return nil, domain.ErrConflictResolved
	}

	if apply {
		adapter, ok := r.engine.Adapter(c.TargetModule)
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownTargetModule, c.TargetModule)
		}
		if err := adapter.Resolve(ctx, c, strategy, decision); err != nil {
			return nil, err
		}
	}

	now := r.now()
	if err := r.requeue(ctx, c, apply, now); err != nil {
		return nil, err
	}

	c.Status = entity.ConflictResolved
	c.ResolutionStrategy = strategy
	c.ResolvedAt = &now
	c.ResolvedBy = resolvedBy
	if err := r.conflicts.Update(ctx, c); err != nil {
		return nil, err
	}

	r.publisher.Publish(ctx, events.ConflictResolved{
		Meta:       events.Meta{At: now},
		ConflictID: c.ID,
		ItemID:     c.QueueItemID,
		EntityType: c.EntityType,
		EntityID:   c.EntityID,
		Strategy:   string(strategy),
		Applied:    apply,
	})
	r.log.Info().
		Str("conflict_id", c.ID).
		Str("strategy", string(strategy)).
		Bool("applied", apply).
		Str("resolved_by", resolvedBy).
		Msg("conflicto resuelto")
	r.engine.Wake()
	return c, nil
}

// requeue marca el destino del conflicto como resuelto en el ítem. Con apply el ítem vuelve a PENDING
// y el motor emite sync_completed; sin apply se completa aquí si no quedan destinos.
func (r *ConflictResolver) requeue(ctx context.Context, c *entity.Conflict, apply bool, now time.Time) error {
	item, err := r.queue.GetByID(ctx, c.QueueItemID)
	if err != nil {
		return err
	}
	if item == nil || item.ConflictID != c.ID || !item.IsParked() {
		r.log.Warn().Str("conflict_id", c.ID).Msg("el ítem del conflicto ya no está estacionado")
		return nil
	}

	item.MarkTargetApplied(c.TargetModule)
	item.LastError = ""
	item.NextAttemptAt = nil
	item.UpdatedAt = now
	item.Status = entity.SyncPending
	if !apply && r.allTargetsSettled(item) {
		item.Status = entity.SyncCompleted
		item.CompletedAt = &now
	}
	return r.queue.Update(ctx, item)
}

func (r *ConflictResolver) allTargetsSettled(item *entity.SyncQueueItem) bool {
	for _, t := range TargetsOf(r.engine.registry.Match(item.SourceModule, item.Trigger)) {
		if !item.IsTargetApplied(t) {
			return false
		}
	}
	return true
}
