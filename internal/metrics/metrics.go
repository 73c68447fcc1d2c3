package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	OrdersPlaced    Counter
	OrdersModified  Counter
	OrdersCancelled Counter
	OrdersFailed    Counter
	Requotes        Counter
	Fills           Counter
	HedgeAttempts   Counter
	HedgesSettled   Counter
	HedgesFailed    Counter
	UnhedgedFatal   Counter
	TransientErrors Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrdersPlaced:    n,
		OrdersModified:  n,
		OrdersCancelled: n,
		OrdersFailed:    n,
		Requotes:        n,
		Fills:           n,
		HedgeAttempts:   n,
		HedgesSettled:   n,
		HedgesFailed:    n,
		UnhedgedFatal:   n,
		TransientErrors: n,
	}
}
