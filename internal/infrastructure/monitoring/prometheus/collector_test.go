package prometheus

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/monitoring/logging"
)

func newTestCollector(t *testing.T) MetricsCollector {
	t.Helper()
	c, err := NewMetricsCollector(CollectorConfig{Namespace: "test", Subsystem: "unit"}, logging.NewNopLogger())
	require.NoError(t, err)
	return c
}

func scrape(t *testing.T, c MetricsCollector) string {
	t.Helper()
	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestNewMetricsCollector_EmptyNamespace(t *testing.T) {
	_, err := NewMetricsCollector(CollectorConfig{Subsystem: "unit"}, nil)
	assert.Error(t, err)
}

func TestNewMetricsCollector_ProcessMetrics(t *testing.T) {
	c, err := NewMetricsCollector(CollectorConfig{Namespace: "test", EnableProcessMetrics: true, EnableGoMetrics: true}, nil)
	require.NoError(t, err)
	out := scrape(t, c)
	assert.Contains(t, out, "go_goroutines")
}

func TestRegisterCounter_Idempotent(t *testing.T) {
	c := newTestCollector(t)
	a := c.RegisterCounter("events_total", "Events", "kind")
	b := c.RegisterCounter("events_total", "Events", "kind")
	a.WithLabelValues("x").Inc()
	b.WithLabelValues("x").Add(2)

	n, err := testutil.GatherAndCount(c.Gatherer(), "test_unit_events_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, scrape(t, c), `test_unit_events_total{kind="x"} 3`)
}

func TestRegister_TypeMismatchFallsBackToNoop(t *testing.T) {
	c := newTestCollector(t)
	c.RegisterCounter("shared", "Shared")
	g := c.RegisterGauge("shared", "Shared")
	assert.IsType(t, noopGaugeVec{}, g)
	g.WithLabelValues().Set(5)

	h := c.RegisterHistogram("shared", "Shared", nil)
	assert.IsType(t, noopHistogramVec{}, h)
}

func TestRegisterGaugeFunc(t *testing.T) {
	c := newTestCollector(t)
	v := 1.0
	c.RegisterGaugeFunc("sampled", "Sampled", func() float64 { return v })
	v = 7
	assert.Contains(t, scrape(t, c), "test_unit_sampled 7")
}
