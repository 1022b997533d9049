package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusObserver_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := NewPrometheusObserver("test", reg)
	require.NoError(t, err)

	o.RateDecision("retroq", ResultAllowed)
	o.RateDecision("retroq", ResultAllowed)
	o.RateDecision("retroq", ResultDenied)
	o.RotationDraw("images")
	o.RotationReshuffle("images")
	o.CorrelationRegistered("pending_delete")
	o.CorrelationExpired("pending_delete")
	o.UpdateHandled("quotes", 10*time.Millisecond, nil)
	o.UpdateHandled("quotes", 10*time.Millisecond, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(o.rateDecisions.WithLabelValues("retroq", ResultAllowed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.rateDecisions.WithLabelValues("retroq", ResultDenied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.rotationEvents.WithLabelValues("images", "reshuffle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.correlation.WithLabelValues("pending_delete", "expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.updateErrors.WithLabelValues("quotes")))
}

func TestPrometheusObserver_RegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPrometheusObserver("test", reg)
	require.NoError(t, err)
	second, err := NewPrometheusObserver("test", reg)
	require.NoError(t, err)

	first.RotationDraw("images")
	second.RotationDraw("images")
	assert.Equal(t, 2.0, testutil.ToFloat64(first.rotationEvents.WithLabelValues("images", "draw")))
}

func TestPrometheusObserver_NilSafe(t *testing.T) {
	var o *PrometheusObserver
	assert.NotPanics(t, func() {
		o.RateDecision("x", ResultError)
		o.RotationDraw("x")
		o.CorrelationResolved("x")
		o.UpdateHandled("x", time.Second, nil)
	})
}

func TestOrNop(t *testing.T) {
	assert.Equal(t, Nop{}, OrNop(nil))

	reg := prometheus.NewRegistry()
	o, err := NewPrometheusObserver("", reg)
	require.NoError(t, err)
	assert.Same(t, o, OrNop(o))
}

func TestNewServer_ServesRegistry(t *testing.T) {
	reg := NewRegistry()
	obs, err := NewPrometheusObserver("chatkit", reg)
	require.NoError(t, err)
	obs.RotationDraw("rockyball")

	srv := NewServer(":0", reg)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `chatkit_rotation_events_total{event="draw",pool="rockyball"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
