package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveBatch("MortgageRegistered", 3)
	m.ObserveBatch("MortgageRegistered", 2)
	m.ObserveBatch("AlertDoubleFinancing", 1)
	m.IncrementTransition("Pending")
	m.ObserveQuery("exists", 10*time.Millisecond)
	m.SetQueueDepth(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Batches.WithLabelValues("MortgageRegistered")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.Events.WithLabelValues("MortgageRegistered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Events.WithLabelValues("AlertDoubleFinancing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("Pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Queries.WithLabelValues("exists")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.QueueDepth))
}

func TestMetrics_InstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.IncrementTransition("Confirmed")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Transitions.WithLabelValues("Confirmed")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveBatch("x", 1)
		m.IncrementTransition("Idle")
		m.ObserveQuery("error", time.Second)
		m.SetQueueDepth(1)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.IncrementTransition("Failed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `lienwatch_tracker_transitions_total{phase="Failed"} 1`), body)
}
