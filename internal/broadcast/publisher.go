package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/ledger"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/observability"
)

// publisher is the slice of jetstream.JetStream the Publisher uses.
type publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher sends committed ledger changes to peers. Enqueue is a ledger
// subscriber and never blocks; Run performs the network writes.
type Publisher struct {
	js         publisher
	instanceID string
	input      chan Message
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

func NewPublisher(js publisher, instanceID string, logger zerolog.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		js:         js,
		instanceID: instanceID,
		input:      make(chan Message, 256),
		logger:     logger,
		metrics:    metrics,
	}
}

// Enqueue queues c for publishing. A full queue drops the change; peers
// still converge through the remote store.
func (p *Publisher) Enqueue(c ledger.Change) {
	msg, ok := messageFromChange(p.instanceID, c)
	if !ok {
		return
	}
	select {
	case p.input <- msg:
	default:
		p.logger.Warn().Int64("seq", c.Seq).Msg("broadcast queue full, change dropped")
	}
}

// Run publishes queued messages until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-p.input:
			if err := p.publish(ctx, msg); err != nil {
				// Non-fatal: peers reconcile through the remote store.
				p.logger.Warn().Err(err).Int64("seq", msg.Sequence).Str("kind", msg.Kind).Msg("broadcast publish failed")
				continue
			}
			p.metrics.BroadcastOut()
		}
	}
}

func (p *Publisher) publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal broadcast message: %w", err)
	}
	if _, err := p.js.Publish(ctx, Subject(msg.UserID), data); err != nil {
		return fmt.Errorf("publish %s: %w", Subject(msg.UserID), err)
	}
	return nil
}
