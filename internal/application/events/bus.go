package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Publisher contrato mínimo para emitir eventos. Publish nunca bloquea al emisor.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Bus distribuye eventos a suscriptores por canales con buffer.
// Si el buffer de un suscriptor está lleno el evento se descarta para ese suscriptor y se registra:
// las notificaciones no son una dependencia de correctitud.
type Bus struct {
	mu     sync.RWMutex
	subs   []*Subscription
	closed bool
	log    zerolog.Logger
}

// Subscription canal de lectura de un suscriptor.
type Subscription struct {
	name string
	ch   chan Event
}

// C canal de eventos; se cierra al cerrar el Bus.
func (s *Subscription) C() <-chan Event { return s.ch }

// NewBus construye el bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{log: log}
}

// Subscribe registra un suscriptor con el tamaño de buffer indicado.
func (b *Bus) Subscribe(name string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	s := &Subscription{name: name, ch: make(chan Event, buffer)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs = append(b.subs, s)
	return s
}

// Publish entrega el evento a todos los suscriptores sin bloquear.
func (b *Bus) Publish(_ context.Context, e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			b.log.Warn().
				Str("subscriber", s.name).
				Str("event", string(e.Kind())).
				Msg("buffer de suscriptor lleno, evento descartado")
		}
	}
}

// Close cierra los canales de todos los suscriptores.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
}

// Recorder publisher en memoria que conserva los eventos (útil para pruebas y diagnósticos).
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish guarda el evento.
func (r *Recorder) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events copia de los eventos registrados.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind eventos registrados de un tipo.
func (r *Recorder) OfKind(k Kind) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind() == k {
			out = append(out, e)
		}
	}
	return out
}

// Multi publica en varios publishers.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, e)
		}
	}
}
