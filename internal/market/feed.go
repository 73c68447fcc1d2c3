package market

import (
	"context"
	"errors"
	"sync"
	"time"

	"markup-arb-bot/internal/arb"

	"go.uber.org/zap"
)

// PriceSource is the venue surface the feed needs: a snapshot read plus an
// optional push subscription.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	SubscribePrices(ctx context.Context, symbol string) (<-chan arb.PriceTick, error)
}

// PriceFeed merges pushed ticker updates with a polling fallback into one
// stream. Push is preferred; the poller only fetches when pushes have gone
// quiet for a full interval.
type PriceFeed struct {
	source PriceSource
	symbol string
	poll   time.Duration
	log    *zap.Logger

	mu     sync.RWMutex
	last   float64
	lastAt time.Time

	ticks chan arb.PriceTick
}

func NewPriceFeed(source PriceSource, symbol string, poll time.Duration, log *zap.Logger) *PriceFeed {
	if poll <= 0 {
		poll = time.Second
	}
	return &PriceFeed{
		source: source,
		symbol: symbol,
		poll:   poll,
		log:    log,
		ticks:  make(chan arb.PriceTick, 1),
	}
}

// Ticks delivers the latest price. The channel conflates: when the consumer
// lags, a stale tick is replaced rather than queued behind.
func (f *PriceFeed) Ticks() <-chan arb.PriceTick {
	return f.ticks
}

func (f *PriceFeed) Start(ctx context.Context) {
	pushed, err := f.source.SubscribePrices(ctx, f.symbol)
	if err != nil {
		if errors.Is(err, arb.ErrUnsupported) {
			f.log.Info("price push not supported, polling only", zap.String("symbol", f.symbol))
		} else {
			f.log.Warn("price subscription unavailable, polling only", zap.String("symbol", f.symbol), zap.Error(err))
		}
		pushed = nil
	}
	go f.run(ctx, pushed)
}

func (f *PriceFeed) run(ctx context.Context, pushed <-chan arb.PriceTick) {
	ticker := time.NewTicker(f.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-pushed:
			if !ok {
				pushed = nil
				continue
			}
			f.publish(tick)
		case <-ticker.C:
			if f.freshWithin(f.poll) {
				continue
			}
			price, err := f.source.GetPrice(ctx, f.symbol)
			if err != nil {
				f.log.Warn("price poll failed", zap.String("symbol", f.symbol), zap.Error(err))
				continue
			}
			f.publish(arb.PriceTick{Symbol: f.symbol, Price: price, At: time.Now().UTC()})
		}
	}
}

// Price returns the cached price, fetching once when no tick has arrived yet.
func (f *PriceFeed) Price(ctx context.Context) (float64, error) {
	f.mu.RLock()
	last := f.last
	f.mu.RUnlock()
	if last > 0 {
		return last, nil
	}
	price, err := f.source.GetPrice(ctx, f.symbol)
	if err != nil {
		return 0, err
	}
	f.publish(arb.PriceTick{Symbol: f.symbol, Price: price, At: time.Now().UTC()})
	return price, nil
}

func (f *PriceFeed) publish(tick arb.PriceTick) {
	if tick.Price <= 0 {
		return
	}
	if tick.At.IsZero() {
		tick.At = time.Now().UTC()
	}
	f.mu.Lock()
	f.last = tick.Price
	f.lastAt = tick.At
	f.mu.Unlock()
	select {
	case f.ticks <- tick:
	default:
		select {
		case <-f.ticks:
		default:
		}
		select {
		case f.ticks <- tick:
		default:
		}
	}
}

func (f *PriceFeed) freshWithin(window time.Duration) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return !f.lastAt.IsZero() && time.Since(f.lastAt) < window
}
