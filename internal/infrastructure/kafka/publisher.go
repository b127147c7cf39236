// Package kafka reenvía los eventos del bus al topic que consume el gateway de broadcast.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/jhoicas/inventario-sync/internal/application/events"
)

// MessageWriter lo que usa el publisher de *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope formato del mensaje en el topic.
type Envelope struct {
	Type events.Kind  `json:"type"`
	At   time.Time    `json:"at"`
	Data events.Event `json:"data"`
}

// EventPublisher consume una suscripción del bus y escribe cada evento en Kafka.
// La clave del mensaje es Event.Key(), así los eventos de una misma entidad van a la misma partición.
type EventPublisher struct {
	writer       MessageWriter
	log          zerolog.Logger
	writeTimeout time.Duration
}

// NewEventPublisher writer con acks de todas las réplicas.
func NewEventPublisher(brokers []string, topic string, log zerolog.Logger) *EventPublisher {
	return NewEventPublisherWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}, log)
}

func NewEventPublisherWithWriter(w MessageWriter, log zerolog.Logger) *EventPublisher {
	return &EventPublisher{writer: w, log: log, writeTimeout: 5 * time.Second}
}

// Run bloquea hasta que se cierre la suscripción o se cancele ctx. Un evento que no se pudo
// escribir se registra y se descarta.
func (p *EventPublisher) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			if err := p.write(ctx, e); err != nil {
				p.log.Error().Err(err).Str("event", string(e.Kind())).Str("key", e.Key()).Msg("no se pudo publicar el evento en Kafka")
			}
		}
	}
}

func (p *EventPublisher) write(ctx context.Context, e events.Event) error {
	msg, err := Encode(e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()
	return p.writer.WriteMessages(ctx, msg)
}

// Encode arma el mensaje Kafka del evento.
func Encode(e events.Event) (kafka.Message, error) {
	value, err := json.Marshal(Envelope{Type: e.Kind(), At: e.OccurredAt(), Data: e})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("serializar %s: %w", e.Kind(), err)
	}
	return kafka.Message{
		Key:     []byte(e.Key()),
		Value:   value,
		Headers: []kafka.Header{{Key: "event-type", Value: []byte(e.Kind())}},
		Time:    e.OccurredAt(),
	}, nil
}

func (p *EventPublisher) Close() error {
	return p.writer.Close()
}
