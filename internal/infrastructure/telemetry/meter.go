// Package telemetry instrumentación OpenTelemetry del libro de stock y del motor de sincronización.
package telemetry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jhoicas/inventario-sync/pkg/config"
)

// Shutdown vacía y cierra el exportador.
type Shutdown func(ctx context.Context) error

// NewMeterProvider con métricas deshabilitadas devuelve un provider no-op.
// El llamador debe invocar el Shutdown devuelto al terminar.
func NewMeterProvider(ctx context.Context, serviceName string, cfg config.TelemetryConfig, log zerolog.Logger) (metric.MeterProvider, Shutdown, error) {
	if !cfg.Enabled {
		log.Info().Msg("métricas deshabilitadas")
		return noop.NewMeterProvider(), func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("crear resource: %w", err)
	}

	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("crear exportador OTLP: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.ExportInterval))),
	)
	otel.SetMeterProvider(mp)

	log.Info().
		Str("endpoint", cfg.OTLPEndpoint).
		Dur("interval", cfg.ExportInterval).
		Msg("métricas OTLP inicializadas")
	return mp, mp.Shutdown, nil
}
