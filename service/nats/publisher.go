package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/brojonat/stackhome/service/metrics"
)

// Publisher defines the interface for publishing feed and view events to NATS.
type Publisher interface {
	// PublishFeed publishes a single feed event to JetStream.
	// The event is published to the subject "feeds.{wallet_address}".
	PublishFeed(ctx context.Context, event *FeedEvent) error

	// PublishFeedBatch publishes the feed events of one refresh. It keeps
	// going past individual failures and returns them joined.
	PublishFeedBatch(ctx context.Context, events []*FeedEvent) error

	// PublishHomeView publishes a rendered view to
	// "home.{wallet_address}.{session_id}".
	PublishHomeView(ctx context.Context, event *HomeViewEvent) error

	// Close closes the connection to NATS.
	Close() error
}

const (
	// FeedStreamName is the JetStream stream carrying feed refreshes.
	FeedStreamName = "FEEDS"
	// FeedStreamSubjects is the subject pattern for the feed stream.
	FeedStreamSubjects = "feeds.*"
	// FeedStreamRetention bounds how long refreshes are kept. Feeds are
	// only replayed to catch a restarted server up, never as history.
	FeedStreamRetention = time.Hour
	// FeedDuplicateWindow is how long JetStream remembers feed event ids.
	// It covers the retries of one refresh workflow.
	FeedDuplicateWindow = 10 * time.Minute

	// HomeStreamName is the JetStream stream carrying rendered views.
	HomeStreamName = "HOME"
	// HomeStreamSubjects is the subject pattern for the home stream.
	HomeStreamSubjects = "home.>"
	// HomeStreamRetention bounds how long rendered views are kept.
	HomeStreamRetention = 10 * time.Minute
)

// Connect opens a NATS connection with the reconnect settings every
// component uses.
func Connect(natsURL, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// JetStreamPublisher publishes feed and view events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures both streams exist.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := Connect(natsURL, "stackhome-publisher")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := EnsureStreams(ctx, js, logger); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure streams exist: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"streams", []string{FeedStreamName, HomeStreamName},
	)

	return publisher, nil
}

// JetStream exposes the JetStream context for consumers sharing the
// connection.
func (p *JetStreamPublisher) JetStream() jetstream.JetStream {
	return p.js
}

// StreamConfigs returns the configuration of every stream this service uses.
func StreamConfigs() []jetstream.StreamConfig {
	return []jetstream.StreamConfig{
		{
			Name:        FeedStreamName,
			Description: "Wallet feed refreshes from the Stacks API",
			Subjects:    []string{FeedStreamSubjects},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      FeedStreamRetention,
			Duplicates:  FeedDuplicateWindow,
			Storage:     jetstream.MemoryStorage,
			Replicas:    1,
		},
		{
			Name:              HomeStreamName,
			Description:       "Rendered home views per session",
			Subjects:          []string{HomeStreamSubjects},
			Retention:         jetstream.LimitsPolicy,
			MaxAge:            HomeStreamRetention,
			MaxMsgsPerSubject: 16,
			Storage:           jetstream.MemoryStorage,
			Replicas:          1,
		},
	}
}

// EnsureStreams creates the JetStream streams if they don't exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger *slog.Logger) error {
	for _, cfg := range StreamConfigs() {
		stream, err := js.Stream(ctx, cfg.Name)
		if err == nil {
			if info, err := stream.Info(ctx); err == nil {
				logger.Debug("JetStream stream already exists",
					"stream", cfg.Name,
					"messages", info.State.Msgs,
				)
			}
			continue
		}
		if !errors.Is(err, jetstream.ErrStreamNotFound) {
			return fmt.Errorf("failed to look up stream %s: %w", cfg.Name, err)
		}

		logger.Info("creating JetStream stream", "stream", cfg.Name)
		if _, err := js.CreateStream(ctx, cfg); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

func (p *JetStreamPublisher) publish(ctx context.Context, subject, metricSubject string, v any, opts ...jetstream.PublishOpt) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	start := time.Now()
	ack, err := p.js.Publish(ctx, subject, data, opts...)
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(metricSubject, status, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	if ack.Duplicate {
		p.logger.Debug("duplicate event dropped by stream", "subject", subject, "stream", ack.Stream)
	}
	return nil
}

// PublishFeed publishes a single feed event.
func (p *JetStreamPublisher) PublishFeed(ctx context.Context, event *FeedEvent) error {
	subject := FeedSubject(event.WalletAddress)
	if err := p.publish(ctx, subject, FeedStreamSubjects, event, jetstream.WithMsgID(event.EventID)); err != nil {
		return err
	}

	p.logger.Debug("published feed event",
		"subject", subject,
		"kind", event.Kind,
		"event_id", event.EventID,
	)
	return nil
}

// PublishFeedBatch publishes the events of one refresh in order.
func (p *JetStreamPublisher) PublishFeedBatch(ctx context.Context, events []*FeedEvent) error {
	if len(events) == 0 {
		return nil
	}

	var errs []error
	for _, event := range events {
		if err := p.PublishFeed(ctx, event); err != nil {
			p.logger.Error("failed to publish feed in batch",
				"wallet", event.WalletAddress,
				"kind", event.Kind,
				"error", err,
			)
			errs = append(errs, err)
		}
	}

	p.logger.Debug("published feed batch",
		"count", len(events),
		"failed", len(errs),
	)
	return errors.Join(errs...)
}

// PublishHomeView publishes a rendered view.
func (p *JetStreamPublisher) PublishHomeView(ctx context.Context, event *HomeViewEvent) error {
	subject := HomeSubject(event.WalletAddress, event.SessionID)
	if err := p.publish(ctx, subject, HomeStreamSubjects, event); err != nil {
		return err
	}

	p.logger.Debug("published home view",
		"subject", subject,
		"card_state", event.View.CardState,
	)
	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
