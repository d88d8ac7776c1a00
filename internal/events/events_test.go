package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	block  chan struct{}
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func testOrder() *domain.Order {
	return &domain.Order{
		ID:         7,
		CustomerID: 42,
		InvoiceNo:  "INV-20260101-ABCDEFGH",
		Status:     domain.OrderStatusPending,
		Currency:   "USD",
		TotalCents: 4919,
		Lines:      []domain.OrderLine{{ProductID: 1, Quantity: 2}},
	}
}

func TestOrderCreatedEvent(t *testing.T) {
	env, err := OrderCreatedEvent(testOrder())
	require.NoError(t, err)
	assert.Equal(t, TypeOrderCreated, env.Type)
	assert.Equal(t, "INV-20260101-ABCDEFGH", env.Key)
	assert.NotEmpty(t, env.ID)

	var data OrderCreated
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, int64(7), data.OrderID)
	assert.Equal(t, int64(4919), data.TotalCents)
	assert.Equal(t, 1, data.LineCount)
}

func TestOrderStatusChangedEvent(t *testing.T) {
	o := testOrder()
	o.Status = domain.OrderStatusConfirmed
	env, err := OrderStatusChangedEvent(o, domain.OrderStatusPending)
	require.NoError(t, err)

	var data OrderStatusChanged
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, domain.OrderStatusPending, data.From)
	assert.Equal(t, domain.OrderStatusConfirmed, data.To)
}

func TestKafkaPublisher_FlushesOnClose(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, 8, slog.New(slog.NewTextHandler(io.Discard, nil)))

	env, err := OrderCreatedEvent(testOrder())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Publish(context.Background(), env))
	}
	require.NoError(t, p.Close())

	assert.Len(t, w.msgs, 3)
	assert.True(t, w.closed)
	assert.Equal(t, []byte(env.Key), w.msgs[0].Key)
	assert.Equal(t, TypeOrderCreated, headerValue(w.msgs[0], "event-type"))

	assert.ErrorIs(t, p.Publish(context.Background(), env), ErrPublisherClosed)
	assert.NoError(t, p.Close())
}

func TestKafkaPublisher_BufferFull(t *testing.T) {
	w := &fakeWriter{block: make(chan struct{})}
	p := newKafkaPublisher(w, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	env, _ := NewEnvelope("test", "k", map[string]int{"n": 1})

	// The loop takes one message and blocks in WriteMessages; one more fills
	// the buffer; the next is rejected.
	var err error
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if err = p.Publish(context.Background(), env); errors.Is(err, ErrPublisherFull) {
			break
		}
	}
	assert.ErrorIs(t, err, ErrPublisherFull)

	close(w.block)
	require.NoError(t, p.Close())
}

func TestKafkaPublisher_WriteErrorsAreLogged(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unavailable")}
	p := newKafkaPublisher(w, 4, slog.New(slog.NewTextHandler(io.Discard, nil)))
	env, _ := NewEnvelope("test", "k", nil)

	require.NoError(t, p.Publish(context.Background(), env))
	require.NoError(t, p.Close())
	assert.Len(t, w.msgs, 1)
}

type fakeNATS struct {
	msgs    []*nats.Msg
	err     error
	drained bool
}

func (f *fakeNATS) PublishMsg(m *nats.Msg) error {
	f.msgs = append(f.msgs, m)
	return f.err
}

func (f *fakeNATS) Drain() error {
	f.drained = true
	return nil
}

func TestNATSPublisher(t *testing.T) {
	nc := &fakeNATS{}
	p := &NATSPublisher{nc: nc, subject: "orders.events"}

	env, err := OrderCreatedEvent(testOrder())
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), env))

	require.Len(t, nc.msgs, 1)
	assert.Equal(t, "orders.events.order.created", nc.msgs[0].Subject)
	assert.Equal(t, env.ID, nc.msgs[0].Header.Get("Nats-Msg-Id"))

	var got Envelope
	require.NoError(t, json.Unmarshal(nc.msgs[0].Data, &got))
	assert.Equal(t, env.ID, got.ID)

	require.NoError(t, p.Close())
	assert.True(t, nc.drained)
}

func TestNATSPublisher_Error(t *testing.T) {
	nc := &fakeNATS{err: nats.ErrConnectionClosed}
	p := &NATSPublisher{nc: nc, subject: "orders.events"}
	env, _ := NewEnvelope("test", "k", nil)

	err := p.Publish(context.Background(), env)
	assert.ErrorIs(t, err, nats.ErrConnectionClosed)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), Envelope{}))
	assert.NoError(t, p.Close())
}
