// Package memory implementa los puertos de persistencia en memoria (STORE_DRIVER=memory y pruebas).
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jhoicas/inventario-sync/internal/application/inventory"
	"github.com/jhoicas/inventario-sync/internal/domain"
	"github.com/jhoicas/inventario-sync/internal/domain/entity"
	"github.com/jhoicas/inventario-sync/internal/domain/repository"
)

var _ inventory.TxRunner = (*TxRunner)(nil)

// Store estado compartido de todos los repositorios en memoria.
type Store struct {
	mu           sync.RWMutex
	stock        map[string]*entity.StockRecord
	reservations map[string]*entity.Reservation
	movements    []*entity.StockMovement
	movementKeys map[string]*entity.StockMovement
	queue        map[string]*entity.SyncQueueItem
	rules        map[string]*entity.SyncRule
	conflicts    map[string]*entity.Conflict
	accounting   map[string]*entity.AccountingTransaction

	// clave de idempotencia -> referencia de las actualizaciones de monto ya aplicadas
	accountingUpdates map[string]string

	sequence atomic.Int64
	locks    sync.Map // productID -> *sync.Mutex
}

// NewStore construye un almacén vacío.
func NewStore() *Store {
	return &Store{
		stock:        make(map[string]*entity.StockRecord),
		reservations: make(map[string]*entity.Reservation),
		movementKeys: make(map[string]*entity.StockMovement),
		queue:        make(map[string]*entity.SyncQueueItem),
		rules:        make(map[string]*entity.SyncRule),
		conflicts:    make(map[string]*entity.Conflict),
		accounting:   make(map[string]*entity.AccountingTransaction),

		accountingUpdates: make(map[string]string),
	}
}

// StockRepository repositorio de stock fuera de transacción.
func (s *Store) StockRepository() repository.StockRepository { return &StockRepo{store: s} }

// ReservationRepository repositorio de reservas fuera de transacción.
func (s *Store) ReservationRepository() repository.ReservationRepository {
	return &ReservationRepo{store: s}
}

// MovementRepository repositorio de movimientos fuera de transacción.
func (s *Store) MovementRepository() repository.StockMovementRepository {
	return &MovementRepo{store: s}
}

func (s *Store) productLock(productID string) *sync.Mutex {
	m, _ := s.locks.LoadOrStore(productID, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// TxRunner unidad de trabajo en memoria: serializa por producto y aplica los cambios
// preparados solo si fn termina sin error.
type TxRunner struct {
	store *Store
}

// NewTxRunner construye el runner sobre el almacén.
func NewTxRunner(store *Store) *TxRunner {
	return &TxRunner{store: store}
}

// Run ejecuta fn con repositorios atados a la transacción del producto.
func (r *TxRunner) Run(ctx context.Context, productID string, fn func(
	stockRepo repository.StockRepository,
	reservationRepo repository.ReservationRepository,
	movementRepo repository.StockMovementRepository,
) error) error {
	lock := r.store.productLock(productID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := newTxState()
	if err := fn(
		&StockRepo{store: r.store, tx: tx},
		&ReservationRepo{store: r.store, tx: tx},
		&MovementRepo{store: r.store, tx: tx},
	); err != nil {
		return err
	}
	return r.store.commit(tx)
}

// txState cambios preparados de una transacción.
type txState struct {
	stock        map[string]*entity.StockRecord
	reservations map[string]*entity.Reservation
	movements    []*entity.StockMovement
}

func newTxState() *txState {
	return &txState{
		stock:        make(map[string]*entity.StockRecord),
		reservations: make(map[string]*entity.Reservation),
	}
}

func (s *Store) commit(tx *txState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range tx.movements {
		if m.IdempotencyKey == "" {
			continue
		}
		if _, ok := s.movementKeys[m.IdempotencyKey]; ok {
			return domain.ErrDuplicate
		}
	}
	for id, rec := range tx.stock {
		s.stock[id] = rec
	}
	for id, res := range tx.reservations {
		s.reservations[id] = res
	}
	for _, m := range tx.movements {
		s.movements = append(s.movements, m)
		if m.IdempotencyKey != "" {
			s.movementKeys[m.IdempotencyKey] = m
		}
	}
	return nil
}

func copyStock(r *entity.StockRecord) *entity.StockRecord {
	c := *r
	return &c
}

func copyReservation(r *entity.Reservation) *entity.Reservation {
	c := *r
	if r.ReleasedAt != nil {
		t := *r.ReleasedAt
		c.ReleasedAt = &t
	}
	return &c
}

func copyMovement(m *entity.StockMovement) *entity.StockMovement {
	c := *m
	return &c
}
