package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/stackhome/service/home"
	natspkg "github.com/brojonat/stackhome/service/nats"
	"github.com/brojonat/stackhome/service/stacking"
)

func sseServer(t *testing.T, events []string, hold bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stream/sessions/s-1", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		require.True(t, ok, "ResponseWriter should support flushing")

		for _, e := range events {
			fmt.Fprint(w, e)
			flusher.Flush()
		}
		if hold {
			<-r.Context().Done()
		}
	}))
}

func viewEvent(t *testing.T, state stacking.HomeCardState) string {
	t.Helper()
	data, err := json.Marshal(home.View{SessionID: "s-1", Address: testWallet, CardState: state})
	require.NoError(t, err)
	return "event: view\ndata: " + string(data) + "\n\n"
}

func TestWatch_MatchingView(t *testing.T) {
	server := sseServer(t, []string{
		"event: connected\ndata: {\"session_id\":\"s-1\"}\n\n",
		viewEvent(t, stacking.LoadingResources),
		": keepalive\n\n",
		viewEvent(t, stacking.StackingActive),
	}, true)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := NewClient(server.URL, nil, nil)
	seen := 0
	view, err := client.Watch(ctx, "s-1", func(v *home.View) bool {
		seen++
		return v.CardState != stacking.LoadingResources
	})
	require.NoError(t, err)
	assert.Equal(t, stacking.StackingActive, view.CardState)
	assert.Equal(t, 2, seen)
}

func TestWatch_StreamClosedWithoutMatch(t *testing.T) {
	server := sseServer(t, []string{viewEvent(t, stacking.NotEnoughStx)}, false)
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Watch(context.Background(), "s-1", func(*home.View) bool { return false })
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestWatch_ContextCancelled(t *testing.T) {
	server := sseServer(t, []string{viewEvent(t, stacking.NotEnoughStx)}, true)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Watch(ctx, "s-1", func(*home.View) bool { return false })
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestWatch_ServerErrorEvent(t *testing.T) {
	server := sseServer(t, []string{"event: error\ndata: {\"error\": \"failed to subscribe\"}\n\n"}, true)
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Watch(context.Background(), "s-1", func(*home.View) bool { return true })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to subscribe")
}

func TestWatch_UnknownSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "session not found"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Watch(context.Background(), "s-1", func(*home.View) bool { return true })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not found")
}

func TestSessionCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "POST /api/v1/sessions":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, testWallet, body["address"])
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(home.View{SessionID: "s-1", Address: testWallet})
		case "GET /api/v1/sessions/s-1":
			json.NewEncoder(w).Encode(home.View{SessionID: "s-1", CardState: stacking.PostStacking})
		case "PUT /api/v1/sessions/s-1/focus":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			view := home.View{SessionID: "s-1"}
			view.Focus.TxID = body["tx_id"]
			view.Focus.Bound = true
			json.NewEncoder(w).Encode(view)
		case "DELETE /api/v1/sessions/s-1/focus":
			json.NewEncoder(w).Encode(home.View{SessionID: "s-1"})
		case "DELETE /api/v1/sessions/s-1":
			w.WriteHeader(http.StatusNoContent)
		case "GET /api/v1/feeds/" + testWallet:
			json.NewEncoder(w).Encode(map[string]any{"address": testWallet, "version": 7, "sessions": []string{"s-1"}})
		case "POST /api/v1/feeds/" + testWallet:
			var event natspkg.FeedEvent
			require.NoError(t, json.NewDecoder(r.Body).Decode(&event))
			assert.Equal(t, "balance", event.Kind)
			json.NewEncoder(w).Encode(map[string]any{"views": []home.View{{SessionID: "s-1"}}})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	ctx := context.Background()
	client := NewClient(server.URL, nil, nil)

	opened, err := client.OpenSession(ctx, testWallet)
	require.NoError(t, err)
	assert.Equal(t, "s-1", opened.SessionID)

	current, err := client.Session(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, stacking.PostStacking, current.CardState)

	focused, err := client.BindFocus(ctx, "s-1", "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", focused.Focus.TxID)
	assert.True(t, focused.Focus.Bound)

	cleared, err := client.ClearFocus(ctx, "s-1")
	require.NoError(t, err)
	assert.False(t, cleared.Focus.Bound)

	summary, err := client.Feeds(ctx, testWallet)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), summary.Version)

	views, err := client.PushFeed(ctx, testWallet, &natspkg.FeedEvent{Kind: "balance", Balances: &home.Balances{Total: 1}})
	require.NoError(t, err)
	assert.Len(t, views, 1)

	assert.NoError(t, client.CloseSession(ctx, "s-1"))
}
