package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/stackhome/service/reconcile"
	"github.com/brojonat/stackhome/service/stacking"
)

func TestRecordReconcile(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	addr := "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7"
	warnings := []reconcile.Warning{{Kind: reconcile.WarningMissingIdentifier, Feed: reconcile.FeedConfirmed}}

	m.RecordReconcile(addr, reconcile.Result{
		Transactions: []reconcile.Transaction{
			{TxID: "0x1", Status: reconcile.StatusPending},
			{TxID: "0x2", Status: reconcile.StatusConfirmed},
			{TxID: "0x3", Status: reconcile.StatusConfirmed},
		},
		Promoted:    []string{"0x9"},
		Evicted:     []string{"0x7", "0x8"},
		Warnings:    warnings,
		NewWarnings: warnings,
	}, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconcilePassesTotal.WithLabelValues(addr)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pendingPromotedTotal.WithLabelValues(addr)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pendingEvictedTotal.WithLabelValues(addr)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dataQualityWarnings.WithLabelValues("missing-identifier", "confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.timelineLength.WithLabelValues(addr, "pending")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.timelineLength.WithLabelValues(addr, "confirmed")))

	// A later pass over the same refresh repeats the warning without
	// reporting it again.
	m.RecordReconcile(addr, reconcile.Result{Warnings: warnings}, time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.reconcilePassesTotal.WithLabelValues(addr)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dataQualityWarnings.WithLabelValues("missing-identifier", "confirmed")))
}

func TestRecordClassificationAndSessions(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordClassification(stacking.StackingPreCycle)
	m.RecordClassification(stacking.StackingPreCycle)
	m.SetActiveSessions(3)
	m.RecordFeedUpdate("balance", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.classificationsTotal.WithLabelValues("StackingPreCycle")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.homeSessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.feedUpdatesTotal.WithLabelValues("balance", "error")))
}

func TestInstrument(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	h := Instrument(m, "/api/v1/sessions/{id}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := w.(http.Flusher)
		require.True(t, ok)
		w.WriteHeader(http.StatusNotFound)
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/abc", nil))
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/def", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/api/v1/sessions/{id}", "GET", "4xx")))
}

func TestInstrument_NilMetrics(t *testing.T) {
	called := false
	h := Instrument(nil, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.True(t, called)
}

func TestStatusCodeToString(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"}, {302, "3xx"}, {404, "4xx"}, {503, "5xx"}, {99, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCodeToString(tt.code))
	}
}
