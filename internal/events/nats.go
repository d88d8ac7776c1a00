package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

type natsConn interface {
	PublishMsg(m *nats.Msg) error
	Drain() error
}

// NATSPublisher publishes envelopes to {subject}.{event type}.
type NATSPublisher struct {
	nc      natsConn
	subject string
}

// NewNATSPublisher connects to url.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("cartkeeper"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSPublisher{nc: nc, subject: subject}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	msg := nats.NewMsg(p.subject + "." + env.Type)
	msg.Data = data
	msg.Header.Set("Nats-Msg-Id", env.ID)
	msg.Header.Set("Event-Type", env.Type)

	err = p.nc.PublishMsg(msg)
	record(env.Type, err)
	if err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Close drains pending messages before closing the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

var _ Publisher = (*NATSPublisher)(nil)
