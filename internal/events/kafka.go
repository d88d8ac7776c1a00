package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// ErrPublisherFull is returned when the outbound buffer is full.
var ErrPublisherFull = errors.New("event buffer full")

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("publisher closed")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher buffers envelopes and writes them from a single goroutine.
// Publish never blocks on the broker.
type KafkaPublisher struct {
	w      messageWriter
	inbox  chan kafka.Message
	done   chan struct{}
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

func NewKafkaPublisher(brokers []string, topic string, buf int, logger *slog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaPublisher(w, buf, logger)
}

func newKafkaPublisher(w messageWriter, buf int, logger *slog.Logger) *KafkaPublisher {
	if buf <= 0 {
		buf = 256
	}
	p := &KafkaPublisher{
		w:      w,
		inbox:  make(chan kafka.Message, buf),
		done:   make(chan struct{}),
		logger: logger,
	}
	go p.loop()
	return p
}

func (p *KafkaPublisher) loop() {
	defer close(p.done)
	for m := range p.inbox {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := p.w.WriteMessages(ctx, m)
		cancel()
		eventType := headerValue(m, "event-type")
		record(eventType, err)
		if err != nil {
			p.logger.Error("kafka write failed",
				"event_type", eventType,
				"key", string(m.Key),
				"error", err,
			)
		}
	}
}

func (p *KafkaPublisher) Publish(_ context.Context, env Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(env.Key),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(env.Type)},
			{Key: "event-id", Value: []byte(env.ID)},
		},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.inbox <- msg:
		return nil
	default:
		record(env.Type, ErrPublisherFull)
		return ErrPublisherFull
	}
}

// Close flushes buffered messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.inbox)
	p.mu.Unlock()

	<-p.done
	return p.w.Close()
}

func headerValue(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

var _ Publisher = (*KafkaPublisher)(nil)
