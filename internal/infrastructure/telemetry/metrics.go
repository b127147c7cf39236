package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jhoicas/inventario-sync/internal/application/inventory"
	"github.com/jhoicas/inventario-sync/internal/application/syncengine"
)

const (
	LedgerMeterName = "github.com/jhoicas/inventario-sync/ledger"
	SyncMeterName   = "github.com/jhoicas/inventario-sync/sync"
)

var (
	_ inventory.Metrics  = (*LedgerMetrics)(nil)
	_ syncengine.Metrics = (*SyncMetrics)(nil)
)

// LedgerMetrics instrumentos del libro de stock. Un *LedgerMetrics nil no registra nada.
type LedgerMetrics struct {
	reservations metric.Int64Counter
	movements    metric.Int64Counter
	expired      metric.Int64Counter
}

// NewLedgerMetrics provider nil devuelve nil (métricas no-op).
func NewLedgerMetrics(provider metric.MeterProvider) (*LedgerMetrics, error) {
	if provider == nil {
		return nil, nil
	}
	meter := provider.Meter(LedgerMeterName)

	reservations, err := meter.Int64Counter(
		"stock_reservations_total",
		metric.WithDescription("Solicitudes de reserva por resultado"),
		metric.WithUnit("{reservation}"),
	)
	if err != nil {
		return nil, err
	}
	movements, err := meter.Int64Counter(
		"stock_movements_total",
		metric.WithDescription("Movimientos registrados en el libro por tipo"),
		metric.WithUnit("{movement}"),
	)
	if err != nil {
		return nil, err
	}
	expired, err := meter.Int64Counter(
		"stock_reservations_expired_total",
		metric.WithDescription("Reservas vencidas por el barrido"),
		metric.WithUnit("{reservation}"),
	)
	if err != nil {
		return nil, err
	}
	return &LedgerMetrics{reservations: reservations, movements: movements, expired: expired}, nil
}

func (m *LedgerMetrics) RecordReservation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.reservations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *LedgerMetrics) RecordMovement(ctx context.Context, movementType string) {
	if m == nil {
		return
	}
	m.movements.Add(ctx, 1, metric.WithAttributes(attribute.String("type", movementType)))
}

func (m *LedgerMetrics) RecordExpiredReservations(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.expired.Add(ctx, int64(count))
}

// SyncMetrics instrumentos del motor de sincronización. Un *SyncMetrics nil no registra nada.
type SyncMetrics struct {
	items         metric.Int64Counter
	cycleDuration metric.Float64Histogram
	claimed       metric.Int64Histogram
}

func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}
	meter := provider.Meter(SyncMeterName)

	items, err := meter.Int64Counter(
		"sync_items_total",
		metric.WithDescription("Ítems de la cola procesados por resultado"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}
	cycleDuration, err := meter.Float64Histogram(
		"sync_cycle_duration_seconds",
		metric.WithDescription("Duración de cada ciclo de drenado"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}
	claimed, err := meter.Int64Histogram(
		"sync_cycle_claimed_items",
		metric.WithDescription("Ítems reclamados por ciclo"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}
	return &SyncMetrics{items: items, cycleDuration: cycleDuration, claimed: claimed}, nil
}

func (m *SyncMetrics) RecordItemOutcome(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.items.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *SyncMetrics) RecordCycle(ctx context.Context, claimed int, duration time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.Record(ctx, duration.Seconds())
	m.claimed.Record(ctx, int64(claimed))
}

// RegisterQueueLength gauge observable con la longitud de la cola pendiente.
func RegisterQueueLength(provider metric.MeterProvider, observe func(ctx context.Context) (int64, error)) error {
	if provider == nil {
		return nil
	}
	meter := provider.Meter(SyncMeterName)
	gauge, err := meter.Int64ObservableGauge(
		"sync_queue_length",
		metric.WithDescription("Ítems no terminales en la cola de sincronización"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		n, err := observe(ctx)
		if err != nil {
			return err
		}
		o.ObserveInt64(gauge, n)
		return nil
	}, gauge)
	return err
}
