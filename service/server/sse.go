package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/brojonat/stackhome/service/home"
	"github.com/brojonat/stackhome/service/metrics"
	natspkg "github.com/brojonat/stackhome/service/nats"
)

const sseKeepalive = 10 * time.Second

// SSEPublisher streams home view events from JetStream to Server-Sent Events
// clients.
type SSEPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSSEPublisher connects to NATS for streaming home views.
func NewSSEPublisher(natsURL string, logger *slog.Logger) (*SSEPublisher, error) {
	nc, err := natspkg.Connect(natsURL, "stackhome-sse-publisher")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("SSE publisher initialized", "nats_url", natsURL)
	return &SSEPublisher{nc: nc, js: js, logger: logger}, nil
}

// Close closes the NATS connection.
func (p *SSEPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("SSE publisher closed")
	}
	return nil
}

// handleStreamSession streams a session's home view. The current view is
// sent first, then every re-render published for the session.
// GET /api/v1/stream/sessions/{id}
func handleStreamSession(publisher *SSEPublisher, registry *home.Registry, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := trimmed(r, "id")

		session, err := registry.Session(id)
		if err != nil {
			writeSessionError(w, err, logger)
			return
		}
		address := session.Address()

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flusher.Flush()

		// Ephemeral: no durable name, removed when the connection closes.
		cons, err := publisher.js.CreateOrUpdateConsumer(ctx, natspkg.HomeStreamName, jetstream.ConsumerConfig{
			FilterSubject: natspkg.HomeSubject(address, id),
			AckPolicy:     jetstream.AckExplicitPolicy,
			DeliverPolicy: jetstream.DeliverNewPolicy,
		})
		if err != nil {
			logger.ErrorContext(ctx, "failed to create consumer", "session_id", id, "error", err)
			fmt.Fprintf(w, "event: error\ndata: {\"error\": \"failed to subscribe\"}\n\n")
			flusher.Flush()
			return
		}

		msgChan := make(chan jetstream.Msg, 10)
		doneChan := make(chan struct{})
		go func() {
			defer close(doneChan)
			cc, err := cons.Consume(func(msg jetstream.Msg) {
				select {
				case msgChan <- msg:
				case <-ctx.Done():
				}
			})
			if err != nil {
				logger.ErrorContext(ctx, "failed to start consuming messages", "error", err)
				return
			}
			<-ctx.Done()
			cc.Stop()
		}()

		if m != nil {
			m.RecordSSEConnectionChange(address, 1)
			defer m.RecordSSEConnectionChange(address, -1)
		}
		logger.DebugContext(ctx, "SSE client connected", "session_id", id, "remote_addr", r.RemoteAddr)

		send := func(event string, v any) bool {
			data, err := json.Marshal(v)
			if err != nil {
				logger.WarnContext(ctx, "failed to marshal event", "error", err)
				return true
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
				return false
			}
			flusher.Flush()
			if m != nil {
				m.RecordSSEEventSent(address, event)
			}
			return true
		}

		if !send("connected", map[string]string{"session_id": id, "wallet": address}) {
			return
		}
		if !send("view", session.View()) {
			return
		}

		keepalive := time.NewTicker(sseKeepalive)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flusher.Flush()

			case msg := <-msgChan:
				var event natspkg.HomeViewEvent
				if err := json.Unmarshal(msg.Data(), &event); err != nil {
					logger.WarnContext(ctx, "failed to unmarshal home view event", "error", err)
					msg.Ack()
					continue
				}
				msg.Ack()
				if event.SessionID != id {
					continue
				}
				if !send("view", event.View) {
					return
				}

			case <-ctx.Done():
				logger.DebugContext(ctx, "SSE client disconnected", "session_id", id, "remote_addr", r.RemoteAddr)
				return

			case <-doneChan:
				return
			}
		}
	})
}
