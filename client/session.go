package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/brojonat/stackhome/service/home"
	natspkg "github.com/brojonat/stackhome/service/nats"
)

// ErrStreamClosed is returned by Watch when the server ends the stream
// before the matcher accepted a view.
var ErrStreamClosed = errors.New("stream closed")

// FeedSummary is the server's summary of the feeds held for an address.
type FeedSummary struct {
	Address        string            `json:"address"`
	Version        uint64            `json:"version"`
	TxRefresh      uint64            `json:"tx_refresh"`
	PendingCount   int               `json:"pending_count"`
	ConfirmedCount int               `json:"confirmed_count"`
	Balances       *home.Balances    `json:"balances,omitempty"`
	StackerStatus  string            `json:"stacker_status,omitempty"`
	Delegated      *bool             `json:"delegated,omitempty"`
	PoxMinimum     *uint64           `json:"pox_minimum,omitempty"`
	Errors         map[string]string `json:"errors,omitempty"`
	Sessions       []string          `json:"sessions"`
}

// OpenSession opens a home view session for address and returns its first
// render.
func (c *Client) OpenSession(ctx context.Context, address string) (*home.View, error) {
	var view home.View
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/sessions", map[string]string{"address": address}, &view, http.StatusCreated); err != nil {
		return nil, err
	}
	c.logger.Debug("session opened", "session_id", view.SessionID, "address", address)
	return &view, nil
}

// Session returns the current view of a session.
func (c *Client) Session(ctx context.Context, id string) (*home.View, error) {
	var view home.View
	if err := c.doJSON(ctx, http.MethodGet, sessionPath(id, ""), nil, &view, http.StatusOK); err != nil {
		return nil, err
	}
	return &view, nil
}

// CloseSession ends a session.
func (c *Client) CloseSession(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, sessionPath(id, ""), nil, nil, http.StatusNoContent)
}

// BindFocus pins a session's focus to a transaction in its timeline.
func (c *Client) BindFocus(ctx context.Context, id, txID string) (*home.View, error) {
	var view home.View
	if err := c.doJSON(ctx, http.MethodPut, sessionPath(id, "/focus"), map[string]string{"tx_id": txID}, &view, http.StatusOK); err != nil {
		return nil, err
	}
	return &view, nil
}

// ClearFocus lets a session follow the head of its timeline again.
func (c *Client) ClearFocus(ctx context.Context, id string) (*home.View, error) {
	var view home.View
	if err := c.doJSON(ctx, http.MethodDelete, sessionPath(id, "/focus"), nil, &view, http.StatusOK); err != nil {
		return nil, err
	}
	return &view, nil
}

// Feeds summarizes the feed state the server holds for address.
func (c *Client) Feeds(ctx context.Context, address string) (*FeedSummary, error) {
	var summary FeedSummary
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/feeds/"+url.PathEscape(address), nil, &summary, http.StatusOK); err != nil {
		return nil, err
	}
	return &summary, nil
}

// PushFeed applies one feed event on the server and returns the views it
// re-rendered.
func (c *Client) PushFeed(ctx context.Context, address string, event *natspkg.FeedEvent) ([]home.View, error) {
	var response struct {
		Views []home.View `json:"views"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/feeds/"+url.PathEscape(address), event, &response, http.StatusOK); err != nil {
		return nil, err
	}
	return response.Views, nil
}

// Watch streams a session's views and calls match for each until it
// returns true. The accepted view is returned. Watch blocks until a match,
// ctx is done, or the server closes the stream.
func (c *Client) Watch(ctx context.Context, id string, match func(*home.View) bool) (*home.View, error) {
	u := c.baseURL + "/api/v1/stream/sessions/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// Streams outlive the default client timeout.
	streamClient := *c.httpClient
	streamClient.Timeout = 0
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}
	c.logger.Debug("watching session", "session_id", id)

	var event string
	var data strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				view, err := c.dispatch(event, data.String())
				if err != nil {
					return nil, err
				}
				if view != nil && match(view) {
					return view, nil
				}
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream read failed: %w", err)
	}
	return nil, ErrStreamClosed
}

// dispatch decodes one server-sent event. Only view events yield a view.
func (c *Client) dispatch(event, data string) (*home.View, error) {
	switch event {
	case "view":
		var view home.View
		if err := json.Unmarshal([]byte(data), &view); err != nil {
			c.logger.Warn("failed to decode view event", "error", err)
			return nil, nil
		}
		return &view, nil
	case "error":
		var e struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &e); err == nil && e.Error != "" {
			return nil, fmt.Errorf("stream error: %s", e.Error)
		}
		return nil, fmt.Errorf("stream error: %s", data)
	default:
		c.logger.Debug("stream event", "event", event)
		return nil, nil
	}
}

func sessionPath(id, suffix string) string {
	return "/api/v1/sessions/" + url.PathEscape(id) + suffix
}
