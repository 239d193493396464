package natsclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/laundromat/internal/models"
)

const DefaultEventSubject = "machines.events"

// Publisher emits machine lifecycle events as JSON on a single subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
	owned   bool
}

func NewPublisher(ctx context.Context, url, subject string, logger *zap.Logger) (*Publisher, error) {
	nc, err := Connect(ctx, url, "laundromat-events", logger)
	if err != nil {
		return nil, err
	}
	p := NewPublisherFromConn(nc, subject)
	p.owned = true
	return p, nil
}

// NewPublisherFromConn shares an existing connection; Close will not drain it.
func NewPublisherFromConn(nc *nats.Conn, subject string) *Publisher {
	if subject == "" {
		subject = DefaultEventSubject
	}
	return &Publisher{nc: nc, subject: subject}
}

func (p *Publisher) Publish(ctx context.Context, subject string, payload []byte) error {
	if p.nc == nil || p.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	return p.nc.Publish(subject, payload)
}

func (p *Publisher) PublishMachineEvent(ctx context.Context, ev models.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.Publish(ctx, p.subject, payload)
}

func (p *Publisher) Close() {
	if p.nc != nil && p.owned {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}
