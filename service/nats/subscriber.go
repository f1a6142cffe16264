package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/brojonat/stackhome/service/home"
	"github.com/brojonat/stackhome/service/metrics"
)

// FeedHandler receives decoded feed updates.
type FeedHandler func(ctx context.Context, address string, u home.Update) error

// DefaultFeedConsumer is the durable consumer name the server uses.
const DefaultFeedConsumer = "stackhome-server"

// FeedSubscriber drains the FEEDS stream into a handler.
type FeedSubscriber struct {
	js       jetstream.JetStream
	consumer string
	handler  FeedHandler
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewFeedSubscriber creates a subscriber using a durable consumer named
// consumer. An empty name selects DefaultFeedConsumer.
func NewFeedSubscriber(js jetstream.JetStream, consumer string, handler FeedHandler, m *metrics.Metrics, logger *slog.Logger) *FeedSubscriber {
	if consumer == "" {
		consumer = DefaultFeedConsumer
	}
	return &FeedSubscriber{
		js:       js,
		consumer: consumer,
		handler:  handler,
		metrics:  m,
		logger:   logger,
	}
}

// Run consumes until ctx is done. Undecodable messages are terminated;
// handler failures are nak'd for redelivery.
func (s *FeedSubscriber) Run(ctx context.Context) error {
	cons, err := s.js.CreateOrUpdateConsumer(ctx, FeedStreamName, jetstream.ConsumerConfig{
		Durable:       s.consumer,
		FilterSubject: FeedStreamSubjects,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
	})
	if err != nil {
		return fmt.Errorf("failed to create feed consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		s.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to start feed consumer: %w", err)
	}
	defer cc.Stop()

	s.logger.Info("feed subscriber started",
		"stream", FeedStreamName,
		"consumer", s.consumer,
	)
	<-ctx.Done()
	s.logger.Info("feed subscriber stopped", "consumer", s.consumer)
	return nil
}

func (s *FeedSubscriber) handle(ctx context.Context, msg jetstream.Msg) {
	address, update, err := DecodeFeed(msg.Data())
	if err != nil {
		s.record(err)
		s.logger.Error("dropping malformed feed event",
			"subject", msg.Subject(),
			"error", err,
		)
		if termErr := msg.Term(); termErr != nil {
			s.logger.Warn("failed to terminate message", "error", termErr)
		}
		return
	}

	if err := s.handler(ctx, address, update); err != nil {
		s.record(err)
		s.logger.Warn("feed handler failed",
			"address", address,
			"kind", update.Kind,
			"error", err,
		)
		if nakErr := msg.Nak(); nakErr != nil {
			s.logger.Warn("failed to nak message", "error", nakErr)
		}
		return
	}

	s.record(nil)
	if err := msg.Ack(); err != nil {
		s.logger.Warn("failed to ack message", "error", err)
	}
}

func (s *FeedSubscriber) record(err error) {
	if s.metrics != nil {
		s.metrics.RecordNATSConsume(FeedStreamName, err)
	}
}

// DecodeFeed parses a FEEDS message body.
func DecodeFeed(data []byte) (string, home.Update, error) {
	var event FeedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return "", home.Update{}, fmt.Errorf("failed to unmarshal feed event: %w", err)
	}
	u, err := event.ToUpdate()
	if err != nil {
		return "", home.Update{}, err
	}
	return event.WalletAddress, u, nil
}
