package inventory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// SweepResult resultado de RunOnce.
type SweepResult struct {
	Expired int
	// Skipped true si otra ejecución seguía en curso o el candado lo tenía otra réplica.
	Skipped bool
}

// Sweeper lo que el planificador necesita del libro.
type Sweeper interface {
	CleanupExpiredReservations(ctx context.Context) (int, error)
}

// ReservationExpiryScheduler barrido periódico de reservas vencidas.
// Nunca se solapa consigo mismo: un tick que encuentra una ejecución en curso se descarta.
type ReservationExpiryScheduler struct {
	sweeper  Sweeper
	locker   Locker
	interval time.Duration
	log      zerolog.Logger

	running atomic.Bool
	started atomic.Bool
	stopCh  chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewReservationExpiryScheduler locker puede ser nil (una sola réplica).
func NewReservationExpiryScheduler(sweeper Sweeper, locker Locker, interval time.Duration, log zerolog.Logger) *ReservationExpiryScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ReservationExpiryScheduler{
		sweeper:  sweeper,
		locker:   locker,
		interval: interval,
		log:      log,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start lanza el bucle en una goroutine; corre un barrido inmediato al arrancar.
// Llamadas posteriores no hacen nada.
func (s *ReservationExpiryScheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.log.Info().Dur("interval", s.interval).Msg("iniciando barrido de reservas vencidas")
	go s.loop(ctx)
}

// Stop detiene el bucle y espera a que termine el barrido en curso. Sin Start vuelve enseguida.
func (s *ReservationExpiryScheduler) Stop() {
	if !s.started.Load() {
		return
	}
	s.once.Do(func() { close(s.stopCh) })
	<-s.done
}

func (s *ReservationExpiryScheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stopCh:
			s.log.Info().Msg("barrido de reservas detenido")
			return
		case <-ctx.Done():
			s.log.Info().Msg("barrido de reservas cancelado")
			return
		}
	}
}

func (s *ReservationExpiryScheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Error().Err(err).Msg("falló el barrido de reservas vencidas")
	}
}

// RunOnce ejecuta un barrido si no hay otro en curso en este proceso ni en otra réplica.
func (s *ReservationExpiryScheduler) RunOnce(ctx context.Context) (SweepResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug().Msg("barrido anterior en curso, tick omitido")
		return SweepResult{Skipped: true}, nil
	}
	defer s.running.Store(false)

	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx)
		if err != nil {
			return SweepResult{}, err
		}
		if !ok {
			s.log.Debug().Msg("otra réplica tiene el candado del barrido")
			return SweepResult{Skipped: true}, nil
		}
		defer unlock()
	}

	n, err := s.sweeper.CleanupExpiredReservations(ctx)
	if err != nil {
		return SweepResult{Expired: n}, err
	}
	return SweepResult{Expired: n}, nil
}

// Running indica si hay un barrido en curso.
func (s *ReservationExpiryScheduler) Running() bool { return s.running.Load() }
