package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/jhoicas/inventario-sync/internal/application/events"
	"github.com/jhoicas/inventario-sync/internal/application/inventory"
	"github.com/jhoicas/inventario-sync/internal/application/syncengine"
	"github.com/jhoicas/inventario-sync/internal/infrastructure/kafka"
	"github.com/jhoicas/inventario-sync/internal/infrastructure/redis"
	"github.com/jhoicas/inventario-sync/internal/infrastructure/telemetry"
	httpRouter "github.com/jhoicas/inventario-sync/internal/interfaces/http"
	"github.com/jhoicas/inventario-sync/pkg/config"
	"github.com/jhoicas/inventario-sync/pkg/logger"
)

const sweepLockKey = "inventario-sync:reservation-sweep"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
		Service: cfg.App.Name,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("store", cfg.Store.Driver).
		Msg("iniciando aplicación")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Contexto de los procesos de fondo: se cancela recién cuando ya se detuvieron y drenaron.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	st, err := openStores(ctx, cfg, log.Component("store"))
	if err != nil {
		log.Fatal().Err(err).Msg("almacenamiento")
	}
	defer st.close()

	// Métricas OTLP (noop si OTEL_METRICS_ENABLED=false)
	provider, shutdownMetrics, err := telemetry.NewMeterProvider(ctx, cfg.App.Name, cfg.Telemetry, log.Component("telemetry"))
	if err != nil {
		log.Fatal().Err(err).Msg("proveedor de métricas")
	}
	ledgerMetrics, err := telemetry.NewLedgerMetrics(provider)
	if err != nil {
		log.Fatal().Err(err).Msg("métricas del libro de stock")
	}
	syncMetrics, err := telemetry.NewSyncMetrics(provider)
	if err != nil {
		log.Fatal().Err(err).Msg("métricas de sincronización")
	}
	if err := telemetry.RegisterQueueLength(provider, func(ctx context.Context) (int64, error) {
		n, err := st.queue.CountOutstanding(ctx)
		return int64(n), err
	}); err != nil {
		log.Fatal().Err(err).Msg("métrica de longitud de cola")
	}

	// Bus de eventos; Kafka es un suscriptor más
	bus := events.NewBus(log.Component("events"))
	var publisher *kafka.EventPublisher
	publisherDone := make(chan struct{})
	if cfg.Kafka.Enabled() {
		publisher = kafka.NewEventPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log.Component("kafka"))
		sub := bus.Subscribe("kafka", 1024)
		go func() {
			defer close(publisherDone)
			publisher.Run(workCtx, sub)
		}()
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("publicación de eventos a Kafka activa")
	} else {
		close(publisherDone)
	}

	ledger := inventory.NewStockLedger(
		st.txRunner, st.stock, st.reservations, st.movements, bus,
		inventory.WithLogger(log.Component("ledger")),
		inventory.WithMetrics(ledgerMetrics),
	)

	// Barrido de reservas vencidas; con Redis el candado se comparte entre réplicas
	var locker inventory.Locker
	if cfg.Redis.Enabled() {
		client, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("conexión a Redis")
		}
		defer client.Close()
		locker = redis.NewLocker(client, sweepLockKey, cfg.Reservations.LockTTL, log.Component("redis"))
	}
	scheduler := inventory.NewReservationExpiryScheduler(ledger, locker, cfg.Reservations.SweepInterval, log.Component("reservations"))

	// Reglas: por defecto, luego archivo YAML, luego las persistidas
	modules := []string{syncengine.ModuleInventory, syncengine.ModuleAccounting}
	registry := syncengine.NewRegistry(modules, st.rules, log.Component("rules"))
	if err := registry.Load(syncengine.DefaultRules()); err != nil {
		log.Fatal().Err(err).Msg("reglas por defecto")
	}
	if cfg.Sync.RulesFile != "" {
		rules, err := syncengine.LoadRulesFile(cfg.Sync.RulesFile)
		if err != nil {
			log.Fatal().Err(err).Msg("archivo de reglas")
		}
		if err := registry.Merge(rules); err != nil {
			log.Fatal().Err(err).Str("file", cfg.Sync.RulesFile).Msg("reglas inválidas")
		}
	}
	if err := registry.LoadFromRepository(ctx); err != nil {
		log.Fatal().Err(err).Msg("reglas persistidas")
	}

	engine := syncengine.NewEngine(
		st.queue, st.conflicts, registry,
		[]syncengine.Adapter{
			syncengine.NewInventoryAdapter(ledger),
			syncengine.NewAccountingAdapter(st.accounting),
		},
		bus,
		syncengine.WithRetryPolicy(syncengine.RetryPolicy{
			MaxAttempts:         cfg.Sync.MaxAttempts,
			InitialInterval:     cfg.Sync.InitialBackoff,
			Multiplier:          cfg.Sync.BackoffMultiplier,
			MaxInterval:         cfg.Sync.MaxBackoff,
			RandomizationFactor: syncengine.DefaultRetryPolicy().RandomizationFactor,
		}),
		syncengine.WithWorkers(cfg.Sync.Workers),
		syncengine.WithBatchSize(cfg.Sync.BatchSize),
		syncengine.WithPollInterval(cfg.Sync.PollInterval),
		syncengine.WithStaleAfter(cfg.Sync.StaleAfter),
		syncengine.WithLogger(log.Component("sync")),
		syncengine.WithMetrics(syncMetrics),
	)
	resolver := syncengine.NewConflictResolver(st.conflicts, st.queue, engine, bus, log.Component("conflicts"))

	if err := engine.Start(workCtx); err != nil {
		log.Fatal().Err(err).Msg("motor de sincronización")
	}
	scheduler.Start(workCtx)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI (http://localhost:<port>/docs) solo si existe el documento generado con swag init
	if _, err := os.Stat(cfg.HTTP.DocsFile); err == nil {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/",
			FilePath: cfg.HTTP.DocsFile,
			Path:     "docs",
			Title:    "Inventario Sync API",
		}))
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": cfg.App.Name})
	})

	httpRouter.Router(app, httpRouter.RouterDeps{
		Ledger:    ledger,
		Engine:    engine,
		Registry:  registry,
		Resolver:  resolver,
		JWTSecret: cfg.JWT.Secret,
		JWTIssuer: cfg.JWT.Issuer,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}
	scheduler.Stop()
	engine.Stop()

	// El bus se cierra después del motor para no perder los últimos eventos.
	bus.Close()
	<-publisherDone
	cancelWork()
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("cerrar publicador Kafka")
		}
	}
	if err := shutdownMetrics(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Error().Err(err).Msg("apagado de métricas")
	}

	log.Info().Msg("aplicación detenida")
}
