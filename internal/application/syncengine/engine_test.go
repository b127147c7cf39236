package syncengine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/inventario-sync/internal/application/events"
	"github.com/jhoicas/inventario-sync/internal/application/syncengine"
	"github.com/jhoicas/inventario-sync/internal/domain"
	"github.com/jhoicas/inventario-sync/internal/domain/entity"
	"github.com/jhoicas/inventario-sync/internal/domain/repository"
)

// ──────────────────────────────────────────────────────────────────────────────
// Flujo feliz
// ──────────────────────────────────────────────────────────────────────────────

// sale_created con cantidad 5 genera un único movimiento SALE -5 y un sync_completed.
func TestEngine_VentaGeneraMovimientoYAsiento(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.purchase(t, "p1", 10)

	item := h.enqueue(t, "sales", syncengine.TriggerSaleCreated, sale{ID: "S-1", Total: "50.00", Items: []line{{ProductID: "p1", Quantity: 5}}})
	assert.Equal(t, 10, item.Priority)

	stats := h.runOnce(t)
	assert.Equal(t, 1, stats.Completed)

	movs, err := h.ledger.GetStockMovements(ctx, "p1", nil, nil)
	require.NoError(t, err)
	require.Len(t, movs, 2)
	assert.Equal(t, entity.MovementSale, movs[1].Type)
	assert.True(t, movs[1].QuantityDelta.Equal(decimal.NewFromInt(-5)))
	assert.Equal(t, "S-1", movs[1].Reference)

	done := h.item(t, item.ID)
	assert.Equal(t, entity.SyncCompleted, done.Status)
	assert.Equal(t, []string{syncengine.ModuleInventory, syncengine.ModuleAccounting}, done.AppliedTargets)
	assert.NotNil(t, done.CompletedAt)

	completed := h.rec.OfKind(events.KindSyncCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, item.ID, completed[0].(events.SyncCompleted).ItemID)
	assert.Len(t, h.rec.OfKind(events.KindQueueProcessingStarted), 1)
	assert.Len(t, h.rec.OfKind(events.KindQueueProcessingCompleted), 1)

	tx, err := h.store.AccountingRepository().GetByReference(ctx, "S-1")
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.True(t, tx.Amount.Equal(decimal.RequireFromString("50")))
}

// Reaplicar el mismo ítem no duplica movimientos.
func TestEngine_AdaptadorInventarioIdempotente(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.purchase(t, "p1", 10)
	item := h.enqueue(t, "sales", syncengine.TriggerSaleCreated, sale{ID: "S-2", Items: []line{{ProductID: "p1", Quantity: 3}, {ProductID: "p1", Quantity: 2}}})

	adapter := syncengine.NewInventoryAdapter(h.ledger)
	require.NoError(t, adapter.Apply(ctx, item))
	require.NoError(t, adapter.Apply(ctx, item))

	movs, err := h.ledger.GetStockMovements(ctx, "p1", nil, nil)
	require.NoError(t, err)
	assert.Len(t, movs, 3)
	assert.True(t, h.total(t, "p1").Equal(decimal.NewFromInt(5)))
}

func TestEngine_SinReglasSeCompleta(t *testing.T) {
	h := newHarness(t)
	item := h.enqueue(t, "crm", "customer_created", map[string]string{"id": "c1"})

	h.runOnce(t)
	done := h.item(t, item.ID)
	assert.Equal(t, entity.SyncCompleted, done.Status)
	assert.Empty(t, done.AppliedTargets)
}

func TestEngine_EnqueueValida(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Enqueue(context.Background(), syncengine.SyncRequest{Action: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = h.engine.Enqueue(context.Background(), syncengine.SyncRequest{SourceModule: "sales", Action: "x", Data: []byte("{no")})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

// ──────────────────────────────────────────────────────────────────────────────
// Reintentos y DEAD
// ──────────────────────────────────────────────────────────────────────────────

func TestEngine_ReintentosAgotadosEmiteUnSoloSyncError(t *testing.T) {
	h := newHarness(t, withRules(testRule("t-ping", "ping", 1)))
	h.test.err = &domain.SyncAdapterError{Module: "test", Err: errors.New("timeout")}
	h.test.failures = -1
	item := h.enqueue(t, "test", "ping", map[string]string{"id": "1"})

	h.runOnce(t)
	failed := h.item(t, item.ID)
	assert.Equal(t, entity.SyncFailed, failed.Status)
	assert.Equal(t, 1, failed.Attempts)
	require.NotNil(t, failed.NextAttemptAt)
	assert.True(t, failed.NextAttemptAt.Equal(h.clock.Now().Add(2*time.Second)))

	// antes de cumplirse el backoff no se reclama
	assert.Equal(t, 0, h.runOnce(t).Claimed)

	for i := 0; i < 5; i++ {
		h.clock.Advance(10 * time.Minute)
		h.runOnce(t)
	}

	dead := h.item(t, item.ID)
	assert.Equal(t, entity.SyncDead, dead.Status)
	assert.Equal(t, 3, dead.Attempts)
	assert.Contains(t, dead.LastError, "timeout")

	errs := h.rec.OfKind(events.KindSyncError)
	require.Len(t, errs, 1)
	assert.False(t, errs[0].(events.SyncError).Fatal)
	assert.Empty(t, h.rec.OfKind(events.KindSyncCompleted))
}

func TestEngine_ErrorTransitorioLuegoExito(t *testing.T) {
	h := newHarness(t, withRules(testRule("t-ping", "ping", 1)))
	h.test.err = errors.New("conexión rechazada")
	h.test.failures = 1
	item := h.enqueue(t, "test", "ping", map[string]string{"id": "1"})

	h.runOnce(t)
	h.clock.Advance(time.Minute)
	h.runOnce(t)

	done := h.item(t, item.ID)
	assert.Equal(t, entity.SyncCompleted, done.Status)
	assert.Equal(t, 2, done.Attempts)
	assert.Len(t, h.rec.OfKind(events.KindSyncCompleted), 1)
}

func TestEngine_ErrorFatalVaDirectoADead(t *testing.T) {
	h := newHarness(t)
	item := h.enqueue(t, "sales", syncengine.TriggerSaleCreated, sale{ID: "S-3"})

	h.runOnce(t)
	dead := h.item(t, item.ID)
	assert.Equal(t, entity.SyncDead, dead.Status)
	assert.Equal(t, 1, dead.Attempts)

	errs := h.rec.OfKind(events.KindSyncError)
	require.Len(t, errs, 1)
	assert.True(t, errs[0].(events.SyncError).Fatal)
}

// Una línea inválida descarta la venta sin mover stock de las demás.
func TestEngine_VentaConLineaInvalidaNoAplicaNinguna(t *testing.T) {
	h := newHarness(t)
	h.purchase(t, "p1", 10)
	item := h.enqueue(t, "sales", syncengine.TriggerSaleCreated, sale{ID: "S-10", Items: []line{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 0},
	}})

	h.runOnce(t)
	assert.Equal(t, entity.SyncDead, h.item(t, item.ID).Status)
	assert.True(t, h.total(t, "p1").Equal(decimal.NewFromInt(10)))
}

// Si una línea falla en el libro después de aplicar otras, LastError lo dice.
func TestEngine_VentaParcialInformaLineasAplicadas(t *testing.T) {
	h := newHarness(t)
	h.purchase(t, "p1", 10)
	h.purchase(t, "p2", 10)
	item := h.enqueue(t, "sales", syncengine.TriggerSaleCreated, sale{ID: "S-11", Items: []line{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 1, ReservationID: "no-existe"},
	}})

	h.runOnce(t)
	dead := h.item(t, item.ID)
	assert.Equal(t, entity.SyncDead, dead.Status)
	assert.Contains(t, dead.LastError, "línea 1 (p2)")
	assert.Contains(t, dead.LastError, "línea 0 ya aplicada")
	assert.True(t, h.total(t, "p1").Equal(decimal.NewFromInt(8)))
	assert.True(t, h.total(t, "p2").Equal(decimal.NewFromInt(10)))
}

// Falta de stock es transitoria: cuando llega la compra el ítem se completa.
func TestEngine_StockInsuficienteSeReintenta(t *testing.T) {
	h := newHarness(t)
	item := h.enqueue(t, "sales", syncengine.TriggerSaleCreated, sale{ID: "S-4", Items: []line{{ProductID: "p9", Quantity: 4}}})

	h.runOnce(t)
	assert.Equal(t, entity.SyncFailed, h.item(t, item.ID).Status)

	h.purchase(t, "p9", 4)
	h.clock.Advance(time.Minute)
	h.runOnce(t)
	assert.Equal(t, entity.SyncCompleted, h.item(t, item.ID).Status)
	assert.True(t, h.total(t, "p9").IsZero())
}

func TestEngine_ReintentoManualDeDead(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	item := h.enqueue(t, "sales", syncengine.TriggerSaleCreated, sale{ID: "S-5"})
	h.runOnce(t)

	dead, err := h.engine.ListQueue(ctx, entity.SyncDead, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)

	retried, err := h.engine.Retry(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.SyncPending, retried.Status)
	assert.Equal(t, 0, retried.Attempts)

	_, err = h.engine.Retry(ctx, item.ID)
	assert.ErrorIs(t, err, domain.ErrQueueItemNotRetryable)
	_, err = h.engine.Retry(ctx, "no-existe")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// ──────────────────────────────────────────────────────────────────────────────
// Orden y concurrencia
// ──────────────────────────────────────────────────────────────────────────────

func TestEngine_DrenaPorPrioridad(t *testing.T) {
	h := newHarness(t, withWorkers(1), withRules(testRule("t-low", "low", 1), testRule("t-high", "high", 9)))
	h.enqueue(t, "test", "low", map[string]string{"id": "a"})
	h.clock.Advance(time.Second)
	h.enqueue(t, "test", "low", map[string]string{"id": "b"})
	h.enqueue(t, "test", "high", map[string]string{"id": "c"})

	h.runOnce(t)
	assert.Equal(t, []string{"high", "low", "low"}, h.test.Applied())
}

func TestEngine_MismaEntidadEnSerie(t *testing.T) {
	h := newHarness(t, withWorkers(8), withRules(testRule("t-ping", "ping", 1)))
	h.test.delay = 5 * time.Millisecond
	for i := 0; i < 6; i++ {
		_, err := h.engine.Enqueue(context.Background(), syncengine.SyncRequest{
			SourceModule: "test",
			Action:       "ping",
			Data:         []byte(`{}`),
			EntityType:   "stock",
			EntityID:     "p1",
		})
		require.NoError(t, err)
	}

	stats := h.runOnce(t)
	assert.Equal(t, 6, stats.Completed)
	assert.Equal(t, 1, h.test.maxPar)
}

func TestEngine_Health(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.enqueue(t, "sales", syncengine.TriggerSaleCreated, sale{ID: "S-6"})

	health := h.engine.Health(ctx)
	assert.True(t, health.IsHealthy)
	assert.Equal(t, 1, health.QueueLength)
	assert.Equal(t, len(syncengine.DefaultRules()), health.ActiveRules)
	assert.Nil(t, health.LastProcessedAt)

	h.runOnce(t)
	health = h.engine.Health(ctx)
	assert.Equal(t, 0, health.QueueLength)
	assert.NotNil(t, health.LastProcessedAt)
	assert.False(t, health.IsProcessing)
}

func TestEngine_StartProcesaEnSegundoPlano(t *testing.T) {
	h := newHarness(t)
	h.purchase(t, "p1", 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.engine.Start(ctx))
	defer h.engine.Stop()

	item := h.enqueue(t, "sales", syncengine.TriggerSaleCreated, sale{ID: "S-7", Items: []line{{ProductID: "p1", Quantity: 1}}})
	require.Eventually(t, func() bool {
		return h.item(t, item.ID).Status == entity.SyncCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

// ──────────────────────────────────────────────────────────────────────────────
// Fallos de persistencia de la cola
// ──────────────────────────────────────────────────────────────────────────────

// flakyQueue falla una vez el Update de los ítems marcados.
type flakyQueue struct {
	repository.SyncQueueRepository
	mu     sync.Mutex
	failOn map[string]bool
}

func (q *flakyQueue) failNext(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failOn[id] = true
}

func (q *flakyQueue) Update(ctx context.Context, item *entity.SyncQueueItem) error {
	q.mu.Lock()
	fail := q.failOn[item.ID]
	delete(q.failOn, item.ID)
	q.mu.Unlock()
	if fail {
		return errors.New("conexión perdida")
	}
	return q.SyncQueueRepository.Update(ctx, item)
}

func TestEngine_FalloAlPersistirSigueConElGrupoYSeRecupera(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyQueue{failOn: make(map[string]bool)}
	h := newHarness(t, withRules(testRule("t-ping", "ping", 1)), withQueue(func(q repository.SyncQueueRepository) repository.SyncQueueRepository {
		flaky.SyncQueueRepository = q
		return flaky
	}))

	var ids []string
	for i := 0; i < 3; i++ {
		item, err := h.engine.Enqueue(ctx, syncengine.SyncRequest{
			SourceModule: "test",
			Action:       "ping",
			Data:         []byte(`{}`),
			EntityType:   "stock",
			EntityID:     "p1",
		})
		require.NoError(t, err)
		ids = append(ids, item.ID)
	}
	flaky.failNext(ids[0])

	stats, err := h.engine.RunOnce(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ids[0])
	assert.Equal(t, 3, stats.Claimed)
	assert.Equal(t, 2, stats.Completed, "el resto del grupo se procesa")
	assert.Equal(t, entity.SyncProcessing, h.item(t, ids[0]).Status)
	assert.Equal(t, entity.SyncCompleted, h.item(t, ids[2]).Status)

	// Todavía no se considera abandonado.
	stats = h.runOnce(t)
	assert.Zero(t, stats.Claimed)

	h.clock.Advance(6 * time.Minute)
	stats = h.runOnce(t)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, entity.SyncCompleted, h.item(t, ids[0]).Status)
}
