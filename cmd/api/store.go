package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jhoicas/inventario-sync/internal/application/inventory"
	"github.com/jhoicas/inventario-sync/internal/domain/repository"
	"github.com/jhoicas/inventario-sync/internal/infrastructure/memory"
	"github.com/jhoicas/inventario-sync/internal/infrastructure/postgres"
	"github.com/jhoicas/inventario-sync/pkg/config"
)

// stores repositorios del driver elegido en STORE_DRIVER.
type stores struct {
	txRunner     inventory.TxRunner
	stock        repository.StockRepository
	reservations repository.ReservationRepository
	movements    repository.StockMovementRepository
	queue        repository.SyncQueueRepository
	conflicts    repository.ConflictRepository
	rules        repository.SyncRuleRepository
	accounting   repository.AccountingRepository
	close        func()
}

func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	switch cfg.Store.Driver {
	case config.StoreMemory:
		log.Warn().Msg("almacenamiento en memoria: los datos se pierden al reiniciar")
		s := memory.NewStore()
		return &stores{
			txRunner:     memory.NewTxRunner(s),
			stock:        s.StockRepository(),
			reservations: s.ReservationRepository(),
			movements:    s.MovementRepository(),
			queue:        s.SyncQueueRepository(),
			conflicts:    s.ConflictRepository(),
			rules:        s.SyncRuleRepository(),
			accounting:   s.AccountingRepository(),
			close:        func() {},
		}, nil
	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("conexión a PostgreSQL: %w", err)
		}
		if cfg.DB.Migrate {
			if err := postgres.Migrate(ctx, pool, log); err != nil {
				pool.Close()
				return nil, fmt.Errorf("migraciones: %w", err)
			}
		}
		return &stores{
			txRunner:     postgres.NewTxRunner(pool),
			stock:        postgres.NewStockRepository(pool),
			reservations: postgres.NewReservationRepository(pool),
			movements:    postgres.NewStockMovementRepository(pool),
			queue:        postgres.NewSyncQueueRepository(pool),
			conflicts:    postgres.NewConflictRepository(pool),
			rules:        postgres.NewSyncRuleRepository(pool),
			accounting:   postgres.NewAccountingRepository(pool),
			close:        pool.Close,
		}, nil
	}
	return nil, fmt.Errorf("driver de almacenamiento desconocido: %s", cfg.Store.Driver)
}
