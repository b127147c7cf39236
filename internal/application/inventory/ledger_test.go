package inventory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/inventario-sync/internal/application/events"
	"github.com/jhoicas/inventario-sync/internal/application/inventory"
	"github.com/jhoicas/inventario-sync/internal/domain"
	"github.com/jhoicas/inventario-sync/internal/domain/entity"
	"github.com/jhoicas/inventario-sync/internal/infrastructure/memory"
)

// ──────────────────────────────────────────────────────────────────────────────
// Helpers de test
// ──────────────────────────────────────────────────────────────────────────────

const testProduct = "prod-001"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
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

func newLedger(t *testing.T) (*inventory.StockLedger, *events.Recorder, *fakeClock, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	rec := &events.Recorder{}
	clock := newClock()
	ledger := inventory.NewStockLedger(
		memory.NewTxRunner(store),
		store.StockRepository(),
		store.ReservationRepository(),
		store.MovementRepository(),
		rec,
		inventory.WithClock(clock.Now),
	)
	return ledger, rec, clock, store
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func purchase(t *testing.T, l *inventory.StockLedger, qty int64) {
	t.Helper()
	_, err := l.RecordMovement(context.Background(), inventory.MovementInput{
		ProductID: testProduct,
		Type:      entity.MovementPurchase,
		Quantity:  dec(qty),
		Reason:    "compra inicial",
	})
	require.NoError(t, err)
}

func available(t *testing.T, l *inventory.StockLedger) decimal.Decimal {
	t.Helper()
	a, err := l.GetAvailableStock(context.Background(), testProduct)
	require.NoError(t, err)
	return a
}

// ──────────────────────────────────────────────────────────────────────────────
// Reservas y disponible
// ──────────────────────────────────────────────────────────────────────────────

// Total 100, reserva 30, venta -20, liberación: disponible 80 y total 80.
func TestLedger_FlujoReservaVentaLiberacion(t *testing.T) {
	ctx := context.Background()
	l, _, _, _ := newLedger(t)
	purchase(t, l, 100)

	res, err := l.ReserveStock(ctx, inventory.ReserveInput{ProductID: testProduct, Quantity: dec(30), Reason: "pedido web", HolderID: "u1"})
	require.NoError(t, err)
	assert.True(t, available(t, l).Equal(dec(70)))

	_, err = l.RecordMovement(ctx, inventory.MovementInput{ProductID: testProduct, Type: entity.MovementSale, Quantity: dec(-20), Reason: "venta mostrador"})
	require.NoError(t, err)
	assert.True(t, available(t, l).Equal(dec(50)))

	released, err := l.ReleaseReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.True(t, released)

	summary, err := l.GetStockSummary(ctx, testProduct)
	require.NoError(t, err)
	assert.True(t, summary.TotalStock.Equal(dec(80)))
	assert.True(t, summary.AvailableStock.Equal(dec(80)))
	assert.True(t, summary.ReservedStock.IsZero())
	assert.Empty(t, summary.ActiveReservations)
	assert.Len(t, summary.RecentMovements, 2)
}

func TestLedger_ReservaMayorQueDisponible(t *testing.T) {
	ctx := context.Background()
	l, _, _, _ := newLedger(t)
	purchase(t, l, 7)

	_, err := l.ReserveStock(ctx, inventory.ReserveInput{ProductID: testProduct, Quantity: dec(8)})
	require.Error(t, err)
	var insufficient *domain.InsufficientStockError
	require.True(t, errors.As(err, &insufficient))
	assert.True(t, insufficient.Available.Equal(dec(7)))
	assert.Contains(t, err.Error(), "solo hay 7 unidades disponibles")
}

// Reservas concurrentes nunca sobrevenden: con 10 unidades y 25 intentos de 1, exactamente 10 ganan.
func TestLedger_ReservasConcurrentesSinSobreventa(t *testing.T) {
	ctx := context.Background()
	l, _, _, _ := newLedger(t)
	purchase(t, l, 10)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.ReserveStock(ctx, inventory.ReserveInput{ProductID: testProduct, Quantity: dec(1)})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, domain.ErrInsufficientStock) {
				fail++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	assert.Equal(t, 15, fail)
	assert.True(t, available(t, l).IsZero())
}

func TestLedger_DobleLiberacionEsNoOp(t *testing.T) {
	ctx := context.Background()
	l, rec, _, _ := newLedger(t)
	purchase(t, l, 10)
	res, err := l.ReserveStock(ctx, inventory.ReserveInput{ProductID: testProduct, Quantity: dec(4)})
	require.NoError(t, err)

	first, err := l.ReleaseReservation(ctx, res.ID)
	require.NoError(t, err)
	before := len(rec.OfKind(events.KindProductAvailabilityUpdated))

	second, err := l.ReleaseReservation(ctx, res.ID)
	require.NoError(t, err)
	unknown, err := l.ReleaseReservation(ctx, "no-existe")
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	assert.False(t, unknown)
	assert.Len(t, rec.OfKind(events.KindProductAvailabilityUpdated), before)
	assert.True(t, available(t, l).Equal(dec(10)))
}

// Una reserva vencida deja de contar en la lectura aunque el barrido no haya corrido.
func TestLedger_LecturaIgnoraReservasVencidas(t *testing.T) {
	ctx := context.Background()
	l, _, clock, _ := newLedger(t)
	purchase(t, l, 10)
	_, err := l.ReserveStock(ctx, inventory.ReserveInput{ProductID: testProduct, Quantity: dec(6), ExpirationMinutes: 5})
	require.NoError(t, err)
	assert.True(t, available(t, l).Equal(dec(4)))

	clock.Advance(6 * time.Minute)
	assert.True(t, available(t, l).Equal(dec(10)))

	n, err := l.CleanupExpiredReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = l.CleanupExpiredReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestLedger_LiberarReservaVencida(t *testing.T) {
	ctx := context.Background()
	l, _, clock, _ := newLedger(t)
	purchase(t, l, 10)
	res, err := l.ReserveStock(ctx, inventory.ReserveInput{ProductID: testProduct, Quantity: dec(3), ExpirationMinutes: 1})
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	_, err = l.CleanupExpiredReservations(ctx)
	require.NoError(t, err)

	released, err := l.ReleaseReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.False(t, released)

	got, err := l.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ReservationExpired, got.Status)
}

func TestLedger_ReservaValidaEntrada(t *testing.T) {
	ctx := context.Background()
	l, _, _, _ := newLedger(t)

	_, err := l.ReserveStock(ctx, inventory.ReserveInput{ProductID: testProduct, Quantity: dec(0)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = l.ReserveStock(ctx, inventory.ReserveInput{ProductID: "", Quantity: dec(1)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = l.ReserveStock(ctx, inventory.ReserveInput{ProductID: testProduct, Quantity: dec(1), ExpirationMinutes: -3})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

// ──────────────────────────────────────────────────────────────────────────────
// Movimientos
// ──────────────────────────────────────────────────────────────────────────────

func TestLedger_VentaNoConsumeStockReservado(t *testing.T) {
	ctx := context.Background()
	l, _, _, _ := newLedger(t)
	purchase(t, l, 10)
	_, err := l.ReserveStock(ctx, inventory.ReserveInput{ProductID: testProduct, Quantity: dec(8)})
	require.NoError(t, err)

	_, err = l.RecordMovement(ctx, inventory.MovementInput{ProductID: testProduct, Type: entity.MovementSale, Quantity: dec(-3)})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, err = l.RecordMovement(ctx, inventory.MovementInput{ProductID: testProduct, Type: entity.MovementSale, Quantity: dec(-11)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	record, err := l.GetStockRecord(ctx, testProduct)
	require.NoError(t, err)
	assert.True(t, record.TotalQuantity.Equal(dec(10)))
}

func TestLedger_VentaQueCumpleReserva(t *testing.T) {
	ctx := context.Background()
	l, _, _, _ := newLedger(t)
	purchase(t, l, 10)
	res, err := l.ReserveStock(ctx, inventory.ReserveInput{ProductID: testProduct, Quantity: dec(8)})
	require.NoError(t, err)

	_, err = l.RecordMovement(ctx, inventory.MovementInput{
		ProductID:     testProduct,
		Type:          entity.MovementSale,
		Quantity:      dec(-8),
		ReservationID: res.ID,
	})
	require.NoError(t, err)

	got, err := l.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ReservationReleased, got.Status)
	assert.True(t, available(t, l).Equal(dec(2)))
}

func TestLedger_SignoSegunTipo(t *testing.T) {
	ctx := context.Background()
	l, _, _, _ := newLedger(t)
	purchase(t, l, 10)

	cases := []inventory.MovementInput{
		{ProductID: testProduct, Type: entity.MovementSale, Quantity: dec(2)},
		{ProductID: testProduct, Type: entity.MovementPurchase, Quantity: dec(-2)},
		{ProductID: testProduct, Type: entity.MovementReturn, Quantity: dec(-1)},
		{ProductID: testProduct, Type: entity.MovementTransfer, Quantity: dec(0)},
		{ProductID: testProduct, Type: "GIFT", Quantity: dec(1)},
	}
	for _, in := range cases {
		_, err := l.RecordMovement(ctx, in)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "tipo %s cantidad %s", in.Type, in.Quantity)
	}
}

func TestLedger_AjusteConMotivoDesconocido(t *testing.T) {
	ctx := context.Background()
	l, _, _, _ := newLedger(t)
	purchase(t, l, 10)

	_, err := l.UpdateStock(ctx, inventory.AdjustmentInput{ProductID: testProduct, Quantity: dec(-1), Reason: "CLUMSINESS"})
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "reason", verr.Field)

	movs, err := l.GetStockMovements(ctx, testProduct, nil, nil)
	require.NoError(t, err)
	assert.Len(t, movs, 1)
}

func TestLedger_AjusteConMotivoValido(t *testing.T) {
	ctx := context.Background()
	l, _, _, _ := newLedger(t)
	purchase(t, l, 10)

	mov, err := l.UpdateStock(ctx, inventory.AdjustmentInput{ProductID: testProduct, Quantity: dec(-2), Reason: "breakage", ActorID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, entity.MovementAdjustment, mov.Type)
	assert.Equal(t, string(entity.ReasonBreakage), mov.Reason)
	assert.True(t, mov.BeforeQty.Equal(dec(10)))
	assert.True(t, mov.AfterQty.Equal(dec(8)))
}

// Reproducir los movimientos desde cero reconstruye el total actual.
func TestLedger_ReplayDeMovimientosReconstruyeTotal(t *testing.T) {
	ctx := context.Background()
	l, _, clock, _ := newLedger(t)
	purchase(t, l, 50)
	steps := []inventory.MovementInput{
		{ProductID: testProduct, Type: entity.MovementSale, Quantity: dec(-12)},
		{ProductID: testProduct, Type: entity.MovementReturn, Quantity: dec(2)},
		{ProductID: testProduct, Type: entity.MovementAdjustment, Quantity: dec(-3), Reason: "THEFT"},
		{ProductID: testProduct, Type: entity.MovementTransfer, Quantity: dec(-5)},
		{ProductID: testProduct, Type: entity.MovementPurchase, Quantity: dec(20)},
	}
	for _, in := range steps {
		clock.Advance(time.Second)
		_, err := l.RecordMovement(ctx, in)
		require.NoError(t, err)
	}

	movs, err := l.GetStockMovements(ctx, testProduct, nil, nil)
	require.NoError(t, err)
	require.Len(t, movs, 6)

	total := decimal.Zero
	for i, m := range movs {
		assert.True(t, m.BeforeQty.Equal(total), "movimiento %d", i)
		total = total.Add(m.QuantityDelta)
		assert.True(t, m.AfterQty.Equal(total), "movimiento %d", i)
		if i > 0 {
			assert.False(t, m.Timestamp.Before(movs[i-1].Timestamp))
		}
	}
	record, err := l.GetStockRecord(ctx, testProduct)
	require.NoError(t, err)
	assert.True(t, record.TotalQuantity.Equal(total))
	assert.Equal(t, int64(6), record.Version)
}

func TestLedger_MovimientosFiltradosPorRango(t *testing.T) {
	ctx := context.Background()
	l, _, clock, _ := newLedger(t)
	purchase(t, l, 5)
	clock.Advance(time.Hour)
	from := clock.Now()
	purchase(t, l, 5)
	clock.Advance(time.Hour)
	purchase(t, l, 5)

	to := from.Add(30 * time.Minute)
	movs, err := l.GetStockMovements(ctx, testProduct, &from, &to)
	require.NoError(t, err)
	assert.Len(t, movs, 1)

	_, err = l.GetStockMovements(ctx, testProduct, &to, &from)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLedger_MovimientoIdempotente(t *testing.T) {
	ctx := context.Background()
	l, _, _, _ := newLedger(t)
	in := inventory.MovementInput{ProductID: testProduct, Type: entity.MovementPurchase, Quantity: dec(5), IdempotencyKey: "sync:item-1:inventory:0"}

	first, err := l.RecordMovement(ctx, in)
	require.NoError(t, err)
	second, err := l.RecordMovement(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, available(t, l).Equal(dec(5)))
}

func TestLedger_VersionEsperada(t *testing.T) {
	ctx := context.Background()
	l, _, _, _ := newLedger(t)
	purchase(t, l, 5)
	stale := int64(0)

	_, err := l.RecordMovement(ctx, inventory.MovementInput{ProductID: testProduct, Type: entity.MovementPurchase, Quantity: dec(1), ExpectedVersion: &stale})
	var vm *domain.VersionMismatchError
	require.True(t, errors.As(err, &vm))
	assert.Equal(t, int64(1), vm.Actual)
}

func TestLedger_Reconteo(t *testing.T) {
	ctx := context.Background()
	l, _, _, _ := newLedger(t)
	purchase(t, l, 20)

	mov, err := l.ReconcileStock(ctx, inventory.ReconcileInput{ProductID: testProduct, CountedQuantity: dec(17)})
	require.NoError(t, err)
	require.NotNil(t, mov)
	assert.True(t, mov.QuantityDelta.Equal(dec(-3)))
	assert.Equal(t, string(entity.ReasonRecount), mov.Reason)

	same, err := l.ReconcileStock(ctx, inventory.ReconcileInput{ProductID: testProduct, CountedQuantity: dec(17)})
	require.NoError(t, err)
	assert.Nil(t, same)
}

// ──────────────────────────────────────────────────────────────────────────────
// Validación previa y alertas
// ──────────────────────────────────────────────────────────────────────────────

func TestLedger_ValidateStockOperation(t *testing.T) {
	ctx := context.Background()
	l, _, _, _ := newLedger(t)
	purchase(t, l, 7)

	res, err := l.ValidateStockOperation(ctx, testProduct, dec(10), inventory.OperationReserve)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "solo hay 7 unidades disponibles", res.Message)
	assert.True(t, res.AvailableStock.Equal(dec(7)))

	res, err = l.ValidateStockOperation(ctx, testProduct, dec(7), inventory.OperationReduce)
	require.NoError(t, err)
	assert.True(t, res.Valid)

	_, err = l.ValidateStockOperation(ctx, testProduct, dec(1), inventory.Operation("borrar"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLedger_AlertasDeUmbral(t *testing.T) {
	ctx := context.Background()
	l, rec, _, _ := newLedger(t)
	purchase(t, l, 10)
	require.NoError(t, l.SetMinimumStock(ctx, testProduct, dec(3)))

	_, err := l.RecordMovement(ctx, inventory.MovementInput{ProductID: testProduct, Type: entity.MovementSale, Quantity: dec(-7)})
	require.NoError(t, err)
	_, err = l.RecordMovement(ctx, inventory.MovementInput{ProductID: testProduct, Type: entity.MovementSale, Quantity: dec(-1)})
	require.NoError(t, err)
	_, err = l.RecordMovement(ctx, inventory.MovementInput{ProductID: testProduct, Type: entity.MovementSale, Quantity: dec(-2)})
	require.NoError(t, err)

	alerts := rec.OfKind(events.KindStockThresholdAlert)
	require.Len(t, alerts, 2)
	assert.Equal(t, events.ThresholdLow, alerts[0].(events.StockThresholdAlert).Level)
	assert.Equal(t, events.ThresholdDepleted, alerts[1].(events.StockThresholdAlert).Level)
}

// ──────────────────────────────────────────────────────────────────────────────
// Cadena de movimientos
// ──────────────────────────────────────────────────────────────────────────────

// Escrituras concurrentes con un reloj que retrocede en cada lectura: el orden (timestamp, sequence)
// debe coincidir con el orden de confirmación y encadenar before/after hasta el total.
func TestLedger_CadenaConsistenteConEscriturasConcurrentes(t *testing.T) {
	store := memory.NewStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var calls atomic.Int64
	ledger := inventory.NewStockLedger(
		memory.NewTxRunner(store),
		store.StockRepository(),
		store.ReservationRepository(),
		store.MovementRepository(),
		&events.Recorder{},
		inventory.WithClock(func() time.Time {
			return base.Add(-time.Duration(calls.Add(1)) * time.Second)
		}),
	)
	purchase(t, ledger, 100)

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ledger.RecordMovement(context.Background(), inventory.MovementInput{
				ProductID: testProduct,
				Type:      entity.MovementSale,
				Quantity:  dec(-int64(i%3 + 1)),
				Reason:    "venta",
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	movs, err := ledger.GetStockMovements(context.Background(), testProduct, nil, nil)
	require.NoError(t, err)
	require.Len(t, movs, writers+1)
	for i := 1; i < len(movs); i++ {
		assert.False(t, movs[i].Timestamp.Before(movs[i-1].Timestamp), "índice %d", i)
		assert.True(t, movs[i].BeforeQty.Equal(movs[i-1].AfterQty), "cadena rota en índice %d", i)
		assert.True(t, movs[i].AfterQty.Equal(movs[i].BeforeQty.Add(movs[i].QuantityDelta)), "índice %d", i)
	}

	rec, err := ledger.GetStockRecord(context.Background(), testProduct)
	require.NoError(t, err)
	assert.True(t, rec.TotalQuantity.Equal(movs[len(movs)-1].AfterQty))
}
