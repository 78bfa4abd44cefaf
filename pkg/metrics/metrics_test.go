package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveFlush(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveFlush(true, 0.02, 8, 1, 1)
	m.ObserveFlush(false, 1.5, 0, 0, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BulkFlushesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BulkFlushesTotal.WithLabelValues("error")))
	assert.Equal(t, 8.0, testutil.ToFloat64(m.BulkItemsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BulkItemsTotal.WithLabelValues("conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BulkItemsTotal.WithLabelValues("failed")))
}

func TestSetBreakerState(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetBreakerState("elasticsearch-bulk", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("elasticsearch-bulk")))
}

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RecordsTotal.WithLabelValues("logs", ResultOK).Inc()

	assert.Panics(t, func() { New(reg) }, "registering twice must fail")
}
