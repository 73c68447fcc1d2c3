package exec

import (
	"context"
	"errors"
	"sync"
	"time"

	"markup-arb-bot/internal/arb"

	"go.uber.org/zap"
)

// FillSource reports order executions. SubscribeFills returns
// arb.ErrUnsupported on venues without a user data stream; PollFill answers
// whether the order has terminally filled.
type FillSource interface {
	SubscribeFills(ctx context.Context, symbol string) (<-chan arb.FillEvent, error)
	PollFill(ctx context.Context, symbol, orderID string) (arb.FillEvent, bool, error)
}

// FillWatcher resolves the tracked resting order to its terminal fill.
// Pushed events and the poll loop race; whichever reports the execution
// first wins and the event is delivered exactly once per tracked order.
type FillWatcher struct {
	source FillSource
	symbol string
	poll   time.Duration
	log    *zap.Logger

	mu        sync.Mutex
	target    arb.RestingOrder
	delivered bool

	events chan arb.FillEvent
}

func NewFillWatcher(source FillSource, symbol string, poll time.Duration, log *zap.Logger) *FillWatcher {
	if poll <= 0 {
		poll = time.Second
	}
	return &FillWatcher{
		source: source,
		symbol: symbol,
		poll:   poll,
		log:    log,
		events: make(chan arb.FillEvent, 1),
	}
}

func (w *FillWatcher) Events() <-chan arb.FillEvent {
	return w.events
}

// Track points the watcher at a new resting order. Events for previously
// tracked orders are dropped from then on.
func (w *FillWatcher) Track(order arb.RestingOrder) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.target = order
	w.delivered = false
}

// Untrack stops watching without tracking a replacement.
func (w *FillWatcher) Untrack() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.target = arb.RestingOrder{}
	w.delivered = false
}

func (w *FillWatcher) Start(ctx context.Context) {
	pushed, err := w.source.SubscribeFills(ctx, w.symbol)
	if err != nil {
		if errors.Is(err, arb.ErrUnsupported) {
			w.log.Info("fill push not supported, polling only", zap.String("symbol", w.symbol))
		} else {
			w.log.Warn("fill subscription unavailable, polling only", zap.String("symbol", w.symbol), zap.Error(err))
		}
		pushed = nil
	}
	go w.run(ctx, pushed)
}

func (w *FillWatcher) run(ctx context.Context, pushed <-chan arb.FillEvent) {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case fill, ok := <-pushed:
			if !ok {
				pushed = nil
				continue
			}
			w.deliver(fill)
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

func (w *FillWatcher) pollOnce(ctx context.Context) {
	w.mu.Lock()
	target := w.target
	delivered := w.delivered
	w.mu.Unlock()
	if target.OrderID == "" || delivered {
		return
	}
	fill, done, err := w.source.PollFill(ctx, target.Symbol, target.OrderID)
	if err != nil {
		w.log.Warn("fill poll failed", zap.String("order_id", target.OrderID), zap.Error(err))
		return
	}
	if !done {
		return
	}
	w.deliver(fill)
}

func (w *FillWatcher) deliver(fill arb.FillEvent) {
	w.mu.Lock()
	if w.delivered || fill.OrderID == "" || fill.OrderID != w.target.OrderID {
		w.mu.Unlock()
		return
	}
	w.delivered = true
	w.mu.Unlock()
	if fill.At.IsZero() {
		fill.At = time.Now().UTC()
	}
	select {
	case w.events <- fill:
	default:
		w.log.Warn("fill event dropped, consumer not draining", zap.String("order_id", fill.OrderID))
	}
}
