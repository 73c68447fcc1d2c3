package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "markup_arb_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	newCounter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}

	ordersPlaced := newCounter("orders_placed_total", "Total number of limit sell orders placed.")
	ordersModified := newCounter("orders_modified_total", "Total number of in-place order modifications.")
	ordersCancelled := newCounter("orders_cancelled_total", "Total number of order cancellations.")
	ordersFailed := newCounter("orders_failed_total", "Total number of failed order actions.")
	requotes := newCounter("requotes_total", "Total number of requotes triggered by price drift.")
	fills := newCounter("fills_total", "Total number of detected order fills.")
	hedgeAttempts := newCounter("hedge_attempts_total", "Total number of hedge quote/execute attempts.")
	hedgesSettled := newCounter("hedges_settled_total", "Total number of hedges settled successfully.")
	hedgesFailed := newCounter("hedges_failed_total", "Total number of hedges that exhausted all attempts.")
	unhedgedFatal := newCounter("unhedged_fatal_total", "Times the bot halted with an unhedged CEX fill.")
	transientErrors := newCounter("transient_errors_total", "Total number of transient I/O errors skipped.")

	m := &Metrics{
		OrdersPlaced:    promCounter{ordersPlaced},
		OrdersModified:  promCounter{ordersModified},
		OrdersCancelled: promCounter{ordersCancelled},
		OrdersFailed:    promCounter{ordersFailed},
		Requotes:        promCounter{requotes},
		Fills:           promCounter{fills},
		HedgeAttempts:   promCounter{hedgeAttempts},
		HedgesSettled:   promCounter{hedgesSettled},
		HedgesFailed:    promCounter{hedgesFailed},
		UnhedgedFatal:   promCounter{unhedgedFatal},
		TransientErrors: promCounter{transientErrors},
	}

	return &Prometheus{
		Metrics:  m,
		registry: registry,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
