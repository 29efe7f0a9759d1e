package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/event"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/ledger"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/observability"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/window"
)

type consumerSource interface {
	OrderedConsumer(ctx context.Context, stream string, cfg jetstream.OrderedConsumerConfig) (jetstream.Consumer, error)
}

// Sink receives the events decoded from peer messages; *event.Bus in
// production.
type Sink interface {
	Publish(e event.Event)
}

type SubscriberOptions struct {
	InstanceID string
	Windows    *window.Manager
	// DailyGains reports the local gains; peer gains are only forwarded when
	// they are higher.
	DailyGains func() decimal.Decimal
	Logger     zerolog.Logger
	Metrics    *observability.Metrics
}

// Subscriber follows the subject of the bound user and turns peer messages
// into bus events.
type Subscriber struct {
	js   consumerSource
	sink Sink
	opts SubscriberOptions

	mu     sync.Mutex
	userID string
	cc     jetstream.ConsumeContext
}

func NewSubscriber(js consumerSource, sink Sink, opts SubscriberOptions) *Subscriber {
	if opts.Windows == nil {
		opts.Windows = window.NewManager(nil, nil)
	}
	if opts.DailyGains == nil {
		opts.DailyGains = func() decimal.Decimal { return decimal.Zero }
	}
	return &Subscriber{js: js, sink: sink, opts: opts}
}

// Follow switches the subscription to userID; an empty userID only stops
// the current one. Only messages published after the call are delivered.
func (s *Subscriber) Follow(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cc != nil {
		s.cc.Stop()
		s.cc = nil
	}
	s.userID = userID
	if userID == "" {
		return nil
	}

	consumer, err := s.js.OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{Subject(userID)},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer for %s: %w", Subject(userID), err)
	}
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		s.handle(msg.Data())
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", Subject(userID), err)
	}
	s.cc = cc
	s.opts.Logger.Info().Str("subject", Subject(userID)).Msg("following peer changes")
	return nil
}

// Stop ends the current subscription.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cc != nil {
		s.cc.Stop()
		s.cc = nil
	}
}

func (s *Subscriber) following() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Subscriber) handle(data []byte) {
	m, err := decodeMessage(data)
	if err != nil {
		s.opts.Metrics.BroadcastIn("malformed")
		s.opts.Logger.Warn().Err(err).Msg("peer message dropped")
		return
	}
	if m.InstanceID == s.opts.InstanceID {
		s.opts.Metrics.BroadcastIn("own")
		return
	}
	if m.UserID != s.following() {
		s.opts.Metrics.BroadcastIn("other_user")
		return
	}

	s.opts.Metrics.BroadcastIn("applied")
	if m.Kind == ledger.ChangeReset.String() {
		s.sink.Publish(&event.Reset{UserID: m.UserID, Reason: ForwardedReason + ":" + m.InstanceID})
		return
	}

	s.sink.Publish(&event.BalanceAbsolute{UserID: m.UserID, Value: m.Balance, Source: ledger.SourceStorage})
	if m.WindowDate == s.opts.Windows.CurrentWindowDate().String() && m.DailyGains.GreaterThan(s.opts.DailyGains()) {
		s.sink.Publish(&event.DailyGainsUpdate{UserID: m.UserID, Value: m.DailyGains})
	}
}
