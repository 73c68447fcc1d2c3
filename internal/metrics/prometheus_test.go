package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.OrdersPlaced.Inc()
	prom.Metrics.OrdersModified.Inc()
	prom.Metrics.OrdersCancelled.Inc()
	prom.Metrics.OrdersFailed.Inc()
	prom.Metrics.Requotes.Inc()
	prom.Metrics.Fills.Inc()
	prom.Metrics.HedgeAttempts.Inc()
	prom.Metrics.HedgesSettled.Inc()
	prom.Metrics.HedgesFailed.Inc()
	prom.Metrics.UnhedgedFatal.Inc()
	prom.Metrics.TransientErrors.Inc()

	counters := []Counter{
		prom.Metrics.OrdersPlaced,
		prom.Metrics.OrdersModified,
		prom.Metrics.OrdersCancelled,
		prom.Metrics.OrdersFailed,
		prom.Metrics.Requotes,
		prom.Metrics.Fills,
		prom.Metrics.HedgeAttempts,
		prom.Metrics.HedgesSettled,
		prom.Metrics.HedgesFailed,
		prom.Metrics.UnhedgedFatal,
		prom.Metrics.TransientErrors,
	}
	for i, counter := range counters {
		pc, ok := counter.(promCounter)
		if !ok {
			t.Fatalf("counter %d is not prometheus backed", i)
		}
		if got := testutil.ToFloat64(pc.counter); got != 1 {
			t.Fatalf("counter %d expected 1, got %v", i, got)
		}
	}
}

func TestNoopCountersDoNotPanic(t *testing.T) {
	m := NewNoop()
	m.OrdersPlaced.Inc()
	m.Requotes.Inc()
	m.UnhedgedFatal.Inc()
}
