package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jhoicas/inventario-sync/internal/application/events"
	"github.com/jhoicas/inventario-sync/internal/domain"
	"github.com/jhoicas/inventario-sync/internal/domain/entity"
	"github.com/jhoicas/inventario-sync/internal/domain/repository"
)

// Resultado de procesar un ítem.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeDead      = "dead"
	OutcomeParked    = "parked"
)

// SyncRequest evento de dominio recibido de un módulo origen.
type SyncRequest struct {
	SourceModule string
	Action       string
	Data         json.RawMessage
	EntityType   string
	EntityID     string
}

// Health estado del motor para GET /sync.
type Health struct {
	IsHealthy       bool       `json:"isHealthy"`
	QueueLength     int        `json:"queueLength"`
	IsProcessing    bool       `json:"isProcessing"`
	ActiveRules     int        `json:"activeRules"`
	LastProcessedAt *time.Time `json:"lastProcessedAt"`
}

// CycleStats resumen de un ciclo de drenado.
type CycleStats struct {
	Claimed   int
	Completed int
	Retried   int
	Dead      int
	Parked    int
}

func (s *CycleStats) add(outcome string) {
	switch outcome {
	case OutcomeCompleted:
		s.Completed++
	case OutcomeRetried:
		s.Retried++
	case OutcomeDead:
		s.Dead++
	case OutcomeParked:
		s.Parked++
	}
}

// Engine drena la cola de sincronización: reclama ítems listos por prioridad, los agrupa por entidad
// y aplica cada destino con su adaptador. Ítems de la misma entidad se procesan en serie; grupos
// distintos en paralelo hasta Workers. Un ítem en espera de reintento no bloquea a los demás.
type Engine struct {
	queue     repository.SyncQueueRepository
	conflicts repository.ConflictRepository
	registry  *Registry
	adapters  map[string]Adapter
	publisher events.Publisher
	metrics   Metrics
	log       zerolog.Logger
	now       func() time.Time

	policy       RetryPolicy
	workers      int
	batchSize    int
	pollInterval time.Duration
	staleAfter   time.Duration

	drainMu         sync.Mutex
	processing      atomic.Bool
	lastProcessedAt atomic.Pointer[time.Time]
	wake            chan struct{}
	stopCh          chan struct{}
	done            chan struct{}
	started         atomic.Bool
	stopOnce        sync.Once
}

// EngineOption configura el motor.
type EngineOption func(*Engine)

// WithRetryPolicy curva de reintentos.
func WithRetryPolicy(p RetryPolicy) EngineOption {
	return func(e *Engine) { e.policy = p }
}

// WithWorkers grupos de entidad procesados en paralelo.
func WithWorkers(n int) EngineOption {
	return func(e *Engine) { e.workers = n }
}

// WithBatchSize ítems reclamados por ciclo.
func WithBatchSize(n int) EngineOption {
	return func(e *Engine) { e.batchSize = n }
}

func WithPollInterval(d time.Duration) EngineOption {
	return func(e *Engine) { e.pollInterval = d }
}

// WithStaleAfter antigüedad a partir de la cual un ítem PROCESSING se considera abandonado.
func WithStaleAfter(d time.Duration) EngineOption {
	return func(e *Engine) { e.staleAfter = d }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func WithLogger(log zerolog.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

func WithMetrics(m Metrics) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// NewEngine construye el motor con un adaptador por módulo destino.
func NewEngine(
	queue repository.SyncQueueRepository,
	conflicts repository.ConflictRepository,
	registry *Registry,
	adapters []Adapter,
	publisher events.Publisher,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		queue:        queue,
		conflicts:    conflicts,
		registry:     registry,
		adapters:     make(map[string]Adapter, len(adapters)),
		publisher:    publisher,
		metrics:      noopMetrics{},
		log:          zerolog.Nop(),
		now:          time.Now,
		policy:       DefaultRetryPolicy(),
		workers:      4,
		batchSize:    50,
		pollInterval: time.Second,
		staleAfter:   5 * time.Minute,
		wake:         make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, a := range adapters {
		e.adapters[a.Module()] = a
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.publisher == nil {
		e.publisher = events.Multi(nil)
	}
	if e.workers < 1 {
		e.workers = 1
	}
	if e.batchSize < 1 {
		e.batchSize = 1
	}
	return e
}

// Modules módulos destino con adaptador.
func (e *Engine) Modules() []string {
	out := make([]string, 0, len(e.adapters))
	for m := range e.adapters {
		out = append(out, m)
	}
	return out
}

// Adapter adaptador del módulo, si existe.
func (e *Engine) Adapter(module string) (Adapter, bool) {
	a, ok := e.adapters[module]
	return a, ok
}

// Enqueue persiste el evento como ítem PENDING y despierta al motor. No espera el procesamiento.
func (e *Engine) Enqueue(ctx context.Context, req SyncRequest) (*entity.SyncQueueItem, error) {
	if strings.TrimSpace(req.SourceModule) == "" {
		return nil, domain.NewValidationError("sourceModule", "es obligatorio")
	}
	if strings.TrimSpace(req.Action) == "" {
		return nil, domain.NewValidationError("action", "es obligatorio")
	}
	payload := req.Data
	if len(payload) == 0 || string(payload) == "null" {
		payload = json.RawMessage("{}")
	}
	if !json.Valid(payload) {
		return nil, domain.NewValidationError("data", "no es JSON válido")
	}

	priority := 0
	for _, rule := range e.registry.Match(req.SourceModule, req.Action) {
		if rule.Priority > priority {
			priority = rule.Priority
		}
	}
	now := e.now()
	item := &entity.SyncQueueItem{
		ID:           uuid.New().String(),
		SourceModule: req.SourceModule,
		Trigger:      req.Action,
		Payload:      payload,
		Priority:     priority,
		Status:       entity.SyncPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	item.EntityKey = entityKey(req, item)
	if err := e.queue.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("encolar evento: %w", err)
	}
	e.Wake()
	e.log.Debug().
		Str("item_id", item.ID).
		Str("source", item.SourceModule).
		Str("trigger", item.Trigger).
		Int("priority", item.Priority).
		Msg("evento encolado")
	return item, nil
}

// entityKey clave de serialización: entidad explícita, producto, referencia o id del payload.
func entityKey(req SyncRequest, item *entity.SyncQueueItem) string {
	if req.EntityType != "" && req.EntityID != "" {
		return req.EntityType + ":" + req.EntityID
	}
	var ids struct {
		ProductID string `json:"productId"`
		Reference string `json:"reference"`
		ID        string `json:"id"`
	}
	_ = json.Unmarshal(item.Payload, &ids)
	switch {
	case ids.ProductID != "":
		return "product:" + ids.ProductID
	case ids.Reference != "":
		return "ref:" + ids.Reference
	case ids.ID != "":
		return item.SourceModule + ":" + ids.ID
	}
	return "item:" + item.ID
}

// Wake pide un ciclo de drenado sin esperar al siguiente tick.
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Start recupera los ítems que quedaron PROCESSING tras una caída y lanza el bucle.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return nil
	}
	if err := e.resetStale(ctx, e.now()); err != nil {
		return err
	}
	e.log.Info().
		Int("workers", e.workers).
		Dur("poll_interval", e.pollInterval).
		Int("max_attempts", e.policy.MaxAttempts).
		Msg("motor de sincronización iniciado")
	go e.loop(ctx)
	return nil
}

// Stop detiene el bucle y espera el ciclo en curso.
func (e *Engine) Stop() {
	if !e.started.Load() {
		return
	}
	e.stopOnce.Do(func() { close(e.stopCh) })
	<-e.done
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-e.wake:
		case <-e.stopCh:
			e.log.Info().Msg("motor de sincronización detenido")
			return
		case <-ctx.Done():
			return
		}
		for {
			stats, err := e.RunOnce(ctx)
			if err != nil {
				e.log.Error().Err(err).Msg("ciclo de sincronización con errores")
				break
			}
			if stats.Claimed < e.batchSize {
				break
			}
		}
	}
}

// RunOnce reclama un lote de ítems listos y los procesa. Los ciclos no se solapan.
// Antes de reclamar devuelve a PENDING los ítems PROCESSING abandonados más de staleAfter.
// Si no se puede persistir el resultado de un ítem, el grupo sigue con el siguiente y el
// error se devuelve al final; el ítem queda PROCESSING hasta que otro ciclo lo recupere.
func (e *Engine) RunOnce(ctx context.Context) (CycleStats, error) {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()

	start := e.now()
	if err := e.resetStale(ctx, start); err != nil {
		return CycleStats{}, err
	}
	items, err := e.queue.ClaimReady(ctx, start, e.batchSize)
	if err != nil {
		return CycleStats{}, fmt.Errorf("reclamar ítems: %w", err)
	}
	stats := CycleStats{Claimed: len(items)}
	if len(items) == 0 {
		return stats, nil
	}

	e.processing.Store(true)
	defer e.processing.Store(false)
	e.publisher.Publish(ctx, events.QueueProcessingStarted{Meta: events.Meta{At: start}, Claimed: len(items)})

	var (
		mu      sync.Mutex
		persist []error
	)
	g := new(errgroup.Group)
	g.SetLimit(e.workers)
	for _, group := range groupByEntity(items) {
		g.Go(func() error {
			for _, item := range group {
				outcome, err := e.process(ctx, item)
				if err != nil {
					e.log.Error().Err(err).Str("item_id", item.ID).Msg("no se pudo actualizar el ítem")
					mu.Lock()
					persist = append(persist, fmt.Errorf("ítem %s: %w", item.ID, err))
					mu.Unlock()
					continue
				}
				e.metrics.RecordItemOutcome(ctx, outcome)
				mu.Lock()
				stats.add(outcome)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	err = errors.Join(persist...)

	end := e.now()
	e.lastProcessedAt.Store(&end)
	e.metrics.RecordCycle(ctx, len(items), end.Sub(start))
	e.publisher.Publish(ctx, events.QueueProcessingCompleted{
		Meta:      events.Meta{At: end},
		Processed: len(items),
		Completed: stats.Completed,
		Retried:   stats.Retried,
		Dead:      stats.Dead,
		Parked:    stats.Parked,
		Duration:  end.Sub(start),
	})
	return stats, err
}

func (e *Engine) resetStale(ctx context.Context, now time.Time) error {
	n, err := e.queue.ResetStale(ctx, now.Add(-e.staleAfter))
	if err != nil {
		return fmt.Errorf("recuperar ítems en proceso: %w", err)
	}
	if n > 0 {
		e.log.Warn().Int("items", n).Msg("ítems PROCESSING devueltos a PENDING")
	}
	return nil
}

// groupByEntity agrupa conservando el orden de prioridad dentro de cada grupo.
func groupByEntity(items []*entity.SyncQueueItem) [][]*entity.SyncQueueItem {
	index := make(map[string]int)
	var groups [][]*entity.SyncQueueItem
	for _, item := range items {
		key := item.EntityKey
		if key == "" {
			key = "item:" + item.ID
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], item)
	}
	return groups
}

// process aplica los destinos pendientes del ítem. Solo devuelve error si no pudo persistir el resultado.
func (e *Engine) process(ctx context.Context, item *entity.SyncQueueItem) (string, error) {
	item.Attempts++
	targets := TargetsOf(e.registry.Match(item.SourceModule, item.Trigger))
	for _, target := range targets {
		if item.IsTargetApplied(target) {
			continue
		}
		adapter, ok := e.adapters[target]
		if !ok {
			return e.handleFailure(ctx, item, target, domain.NewFatalSyncError(target, "%v", domain.ErrUnknownTargetModule))
		}
		if err := adapter.Apply(ctx, item); err != nil {
			return e.handleFailure(ctx, item, target, err)
		}
		item.MarkTargetApplied(target)
	}
	return e.complete(ctx, item)
}

func (e *Engine) complete(ctx context.Context, item *entity.SyncQueueItem) (string, error) {
	now := e.now()
	item.Status = entity.SyncCompleted
	item.LastError = ""
	item.NextAttemptAt = nil
	item.CompletedAt = &now
	item.UpdatedAt = now
	if err := e.queue.Update(ctx, item); err != nil {
		return "", err
	}
	e.publisher.Publish(ctx, events.SyncCompleted{
		Meta:         events.Meta{At: now},
		ItemID:       item.ID,
		SourceModule: item.SourceModule,
		Trigger:      item.Trigger,
		Targets:      append([]string(nil), item.AppliedTargets...),
		Attempts:     item.Attempts,
	})
	e.log.Debug().Str("item_id", item.ID).Strs("targets", item.AppliedTargets).Msg("ítem sincronizado")
	return OutcomeCompleted, nil
}

func (e *Engine) handleFailure(ctx context.Context, item *entity.SyncQueueItem, target string, cause error) (string, error) {
	var conflict *ConflictDetectedError
	switch {
	case errors.As(cause, &conflict):
		return e.park(ctx, item, target, conflict)
	case errors.Is(cause, domain.ErrFatalSync):
		return e.dead(ctx, item, cause, true)
	case e.policy.Exhausted(item.Attempts):
		return e.dead(ctx, item, cause, false)
	}

	now := e.now()
	next := now.Add(e.policy.Delay(item.Attempts))
	item.Status = entity.SyncFailed
	item.LastError = cause.Error()
	item.NextAttemptAt = &next
	item.UpdatedAt = now
	if err := e.queue.Update(ctx, item); err != nil {
		return "", err
	}
	e.log.Warn().
		Err(cause).
		Str("item_id", item.ID).
		Str("target", target).
		Int("attempts", item.Attempts).
		Time("next_attempt_at", next).
		Msg("fallo transitorio de sincronización, se reintentará")
	return OutcomeRetried, nil
}

func (e *Engine) dead(ctx context.Context, item *entity.SyncQueueItem, cause error, fatal bool) (string, error) {
	now := e.now()
	item.Status = entity.SyncDead
	item.LastError = cause.Error()
	item.NextAttemptAt = nil
	item.UpdatedAt = now
	if err := e.queue.Update(ctx, item); err != nil {
		return "", err
	}
	e.publisher.Publish(ctx, events.SyncError{
		Meta:         events.Meta{At: now},
		ItemID:       item.ID,
		SourceModule: item.SourceModule,
		Trigger:      item.Trigger,
		Attempts:     item.Attempts,
		Error:        cause.Error(),
		Fatal:        fatal,
	})
	e.log.Error().
		Err(cause).
		Str("item_id", item.ID).
		Int("attempts", item.Attempts).
		Bool("fatal", fatal).
		Msg("ítem de sincronización descartado (DEAD)")
	return OutcomeDead, nil
}

// park registra el conflicto y deja el ítem FAILED sin próximo intento. No consume un intento.
func (e *Engine) park(ctx context.Context, item *entity.SyncQueueItem, target string, cause *ConflictDetectedError) (string, error) {
	now := e.now()
	c := &entity.Conflict{
		ID:           uuid.New().String(),
		QueueItemID:  item.ID,
		TargetModule: target,
		EntityType:   cause.EntityType,
		EntityID:     cause.EntityID,
		SourceChange: cause.SourceChange,
		TargetChange: cause.TargetChange,
		Status:       entity.ConflictOpen,
		DetectedAt:   now,
	}
	if err := e.conflicts.Create(ctx, c); err != nil {
		return "", fmt.Errorf("registrar conflicto: %w", err)
	}
	item.Attempts--
	item.Status = entity.SyncFailed
	item.ConflictID = c.ID
	item.LastError = cause.Error()
	item.NextAttemptAt = nil
	item.UpdatedAt = now
	if err := e.queue.Update(ctx, item); err != nil {
		return "", err
	}
	e.publisher.Publish(ctx, events.ConflictDetected{
		Meta:         events.Meta{At: now},
		ConflictID:   c.ID,
		ItemID:       item.ID,
		TargetModule: target,
		EntityType:   c.EntityType,
		EntityID:     c.EntityID,
	})
	e.log.Warn().
		Str("item_id", item.ID).
		Str("conflict_id", c.ID).
		Str("entity", c.EntityType+":"+c.EntityID).
		Msg("conflicto detectado, ítem estacionado")
	return OutcomeParked, nil
}

// Health longitud de la cola, reglas activas y último ciclo.
func (e *Engine) Health(ctx context.Context) Health {
	h := Health{
		IsProcessing:    e.processing.Load(),
		ActiveRules:     e.registry.ActiveCount(),
		LastProcessedAt: e.lastProcessedAt.Load(),
	}
	n, err := e.queue.CountOutstanding(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("no se pudo contar la cola")
		return h
	}
	h.QueueLength = n
	h.IsHealthy = true
	return h
}

// ListQueue ítems por estado (p. ej. DEAD para inspección).
func (e *Engine) ListQueue(ctx context.Context, status entity.SyncStatus, limit int) ([]*entity.SyncQueueItem, error) {
	switch status {
	case entity.SyncPending, entity.SyncProcessing, entity.SyncCompleted, entity.SyncFailed, entity.SyncDead:
	default:
		return nil, domain.NewValidationError("status", "estado desconocido: %q", status)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return e.queue.ListByStatus(ctx, status, limit)
}

// Retry reintenta manualmente un ítem DEAD o FAILED no estacionado, con el contador en cero.
func (e *Engine) Retry(ctx context.Context, itemID string) (*entity.SyncQueueItem, error) {
	item, err := e.queue.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	if item.Status != entity.SyncDead && (item.Status != entity.SyncFailed || item.IsParked()) {
		return nil, domain.ErrQueueItemNotRetryable
	}
	item.Status = entity.SyncPending
	item.Attempts = 0
	item.NextAttemptAt = nil
	item.LastError = ""
	item.UpdatedAt = e.now()
	if err := e.queue.Update(ctx, item); err != nil {
		return nil, err
	}
	e.Wake()
	return item, nil
}
