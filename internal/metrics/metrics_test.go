package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/spechawk/internal/metrics"
)

func TestNew_RegistersAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.FetchTotal.WithLabelValues("http", "2xx").Inc()
	m.FetchTotal.WithLabelValues("http", "2xx").Inc()
	m.ModeSwitches.WithLabelValues("crawler", "http", "no_result").Inc()

	assert.InDelta(t, 2.0, testutil.ToFloat64(m.FetchTotal.WithLabelValues("http", "2xx")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.ModeSwitches.WithLabelValues("crawler", "http", "no_result")), 1e-9)
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{0, "timeout"},
		{200, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{429, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, metrics.StatusClass(tt.status))
	}
}
