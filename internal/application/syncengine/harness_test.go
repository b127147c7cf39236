package syncengine_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/inventario-sync/internal/application/events"
	"github.com/jhoicas/inventario-sync/internal/application/inventory"
	"github.com/jhoicas/inventario-sync/internal/application/syncengine"
	"github.com/jhoicas/inventario-sync/internal/domain/entity"
	"github.com/jhoicas/inventario-sync/internal/domain/repository"
	"github.com/jhoicas/inventario-sync/internal/infrastructure/memory"
)

// ──────────────────────────────────────────────────────────────────────────────
// Helpers de test
// ──────────────────────────────────────────────────────────────────────────────

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scriptedAdapter adaptador de prueba: falla con err las primeras failures llamadas (o siempre si failures < 0)
// y registra el orden de los ítems aplicados.
type scriptedAdapter struct {
	module   string
	err      error
	failures int

	mu       sync.Mutex
	calls    int
	applied  []string
	inFlight map[string]int
	maxPar   int
	delay    time.Duration
}

func newScripted(module string) *scriptedAdapter {
	return &scriptedAdapter{module: module, inFlight: make(map[string]int)}
}

func (a *scriptedAdapter) Module() string { return a.module }

func (a *scriptedAdapter) Apply(_ context.Context, item *entity.SyncQueueItem) error {
	a.mu.Lock()
	a.calls++
	call := a.calls
	a.inFlight[item.EntityKey]++
	if a.inFlight[item.EntityKey] > a.maxPar {
		a.maxPar = a.inFlight[item.EntityKey]
	}
	a.mu.Unlock()

	if a.delay > 0 {
		time.Sleep(a.delay)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.inFlight[item.EntityKey]--
	if a.err != nil && (a.failures < 0 || call <= a.failures) {
		return a.err
	}
	a.applied = append(a.applied, item.Trigger)
	return nil
}

func (a *scriptedAdapter) Resolve(context.Context, *entity.Conflict, entity.ResolutionStrategy, *syncengine.Decision) error {
	return errors.New("no soportado")
}

func (a *scriptedAdapter) Applied() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.applied...)
}

type harness struct {
	store    *memory.Store
	ledger   *inventory.StockLedger
	registry *syncengine.Registry
	engine   *syncengine.Engine
	resolver *syncengine.ConflictResolver
	rec      *events.Recorder
	clock    *fakeClock
	test     *scriptedAdapter
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	policy    syncengine.RetryPolicy
	workers   int
	rules     []*entity.SyncRule
	wrapQueue func(repository.SyncQueueRepository) repository.SyncQueueRepository
}

func withPolicy(p syncengine.RetryPolicy) harnessOption {
	return func(c *harnessConfig) { c.policy = p }
}

func withQueue(wrap func(repository.SyncQueueRepository) repository.SyncQueueRepository) harnessOption {
	return func(c *harnessConfig) { c.wrapQueue = wrap }
}

func withWorkers(n int) harnessOption {
	return func(c *harnessConfig) { c.workers = n }
}

func withRules(rules ...*entity.SyncRule) harnessOption {
	return func(c *harnessConfig) { c.rules = append(c.rules, rules...) }
}

func testRule(id, trigger string, priority int) *entity.SyncRule {
	return &entity.SyncRule{ID: id, SourceModule: "test", Trigger: trigger, TargetModules: []string{"test"}, Priority: priority, Enabled: true}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{
		policy: syncengine.RetryPolicy{
			MaxAttempts:     3,
			InitialInterval: 2 * time.Second,
			Multiplier:      2,
			MaxInterval:     time.Minute,
		},
		workers: 4,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	store := memory.NewStore()
	rec := &events.Recorder{}
	clock := &fakeClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	ledger := inventory.NewStockLedger(
		memory.NewTxRunner(store),
		store.StockRepository(),
		store.ReservationRepository(),
		store.MovementRepository(),
		rec,
		inventory.WithClock(clock.Now),
	)

	test := newScripted("test")
	adapters := []syncengine.Adapter{
		syncengine.NewInventoryAdapter(ledger),
		syncengine.NewAccountingAdapter(store.AccountingRepository()),
		test,
	}
	registry := syncengine.NewRegistry([]string{syncengine.ModuleInventory, syncengine.ModuleAccounting, "test"}, nil, zerolog.Nop())
	require.NoError(t, registry.Load(append(syncengine.DefaultRules(), cfg.rules...)))

	var queue repository.SyncQueueRepository = store.SyncQueueRepository()
	if cfg.wrapQueue != nil {
		queue = cfg.wrapQueue(queue)
	}
	engine := syncengine.NewEngine(
		queue,
		store.ConflictRepository(),
		registry,
		adapters,
		rec,
		syncengine.WithRetryPolicy(cfg.policy),
		syncengine.WithWorkers(cfg.workers),
		syncengine.WithClock(clock.Now),
	)
	resolver := syncengine.NewConflictResolver(store.ConflictRepository(), store.SyncQueueRepository(), engine, rec, zerolog.Nop())

	return &harness{
		store:    store,
		ledger:   ledger,
		registry: registry,
		engine:   engine,
		resolver: resolver,
		rec:      rec,
		clock:    clock,
		test:     test,
	}
}

func (h *harness) purchase(t *testing.T, productID string, qty int64) {
	t.Helper()
	_, err := h.ledger.RecordMovement(context.Background(), inventory.MovementInput{
		ProductID: productID,
		Type:      entity.MovementPurchase,
		Quantity:  decimal.NewFromInt(qty),
	})
	require.NoError(t, err)
}

func (h *harness) enqueue(t *testing.T, source, action string, data any) *entity.SyncQueueItem {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	item, err := h.engine.Enqueue(context.Background(), syncengine.SyncRequest{SourceModule: source, Action: action, Data: raw})
	require.NoError(t, err)
	return item
}

func (h *harness) runOnce(t *testing.T) syncengine.CycleStats {
	t.Helper()
	stats, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	return stats
}

func (h *harness) item(t *testing.T, id string) *entity.SyncQueueItem {
	t.Helper()
	item, err := h.store.SyncQueueRepository().GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, item)
	return item
}

func (h *harness) total(t *testing.T, productID string) decimal.Decimal {
	t.Helper()
	rec, err := h.ledger.GetStockRecord(context.Background(), productID)
	require.NoError(t, err)
	return rec.TotalQuantity
}

type line struct {
	ProductID     string `json:"productId"`
	Quantity      int64  `json:"quantity"`
	ReservationID string `json:"reservationId,omitempty"`
}

type sale struct {
	ID    string `json:"id"`
	Total string `json:"total,omitempty"`
	Items []line `json:"items"`
}
