package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"markup-arb-bot/internal/arb"
	"markup-arb-bot/internal/state"

	"go.uber.org/zap"
)

// OrderGateway is the venue order surface the executor drives. ModifyOrder
// returns arb.ErrUnsupported on venues without an amend endpoint.
type OrderGateway interface {
	PlaceLimitSell(ctx context.Context, symbol string, quantity, price float64, clientOrderID string) (arb.RestingOrder, error)
	ModifyOrder(ctx context.Context, symbol, orderID string, quantity, price float64) (arb.RestingOrder, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

// ErrOrderGone reports that a requote cancelled the resting order but the
// replacement was never placed; the caller holds no live order.
var ErrOrderGone = errors.New("resting order cancelled without replacement")

type Executor struct {
	gateway OrderGateway
	store   state.Store
	log     *zap.Logger

	mu    sync.Mutex
	cache map[string]string

	// wait is swapped out in tests.
	wait func(ctx context.Context, d time.Duration) error
}

func New(gateway OrderGateway, store state.Store, log *zap.Logger) *Executor {
	return &Executor{
		gateway: gateway,
		store:   store,
		log:     log,
		cache:   make(map[string]string),
		wait:    sleepCtx,
	}
}

// PlaceLimitSell submits the quote under the given client order id. A
// repeated call with the same id returns the already placed order instead
// of submitting twice, surviving restarts through the store.
func (e *Executor) PlaceLimitSell(ctx context.Context, quote arb.Quote, clientOrderID string) (arb.RestingOrder, error) {
	if clientOrderID == "" {
		return e.placeWithRetry(ctx, quote, clientOrderID)
	}
	cacheKey := "cloid:" + clientOrderID
	e.mu.Lock()
	if oid, ok := e.cache[cacheKey]; ok {
		e.mu.Unlock()
		return e.knownOrder(quote, clientOrderID, oid), nil
	}
	e.mu.Unlock()
	if e.store != nil {
		if raw, ok, err := e.store.Get(ctx, cacheKey); err != nil {
			return arb.RestingOrder{}, err
		} else if ok {
			oid := string(raw)
			e.mu.Lock()
			e.cache[cacheKey] = oid
			e.mu.Unlock()
			return e.knownOrder(quote, clientOrderID, oid), nil
		}
	}
	order, err := e.placeWithRetry(ctx, quote, clientOrderID)
	if err != nil {
		return arb.RestingOrder{}, err
	}
	if e.store != nil {
		if err := e.store.Set(ctx, cacheKey, []byte(order.OrderID)); err != nil {
			e.log.Warn("failed to persist order id", zap.Error(err))
		}
	}
	e.mu.Lock()
	e.cache[cacheKey] = order.OrderID
	e.mu.Unlock()
	return order, nil
}

// Requote moves the resting order to the new quote, amending in place when
// the venue supports it and cancelling and replacing otherwise. When the
// replacement fails after the cancel went through, the error wraps
// ErrOrderGone and no order is resting.
func (e *Executor) Requote(ctx context.Context, current arb.RestingOrder, quote arb.Quote, clientOrderID string) (arb.RestingOrder, error) {
	var modified arb.RestingOrder
	err := e.retry(ctx, func() error {
		var err error
		modified, err = e.gateway.ModifyOrder(ctx, current.Symbol, current.OrderID, quote.Quantity, quote.LimitPrice)
		return err
	})
	if err == nil {
		if modified.OrderID == "" {
			modified.OrderID = current.OrderID
		}
		if modified.ClientOrderID == "" {
			modified.ClientOrderID = current.ClientOrderID
		}
		if modified.ReferencePrice == 0 {
			modified.ReferencePrice = quote.MarketPrice
		}
		return modified, nil
	}
	if !errors.Is(err, arb.ErrUnsupported) {
		return arb.RestingOrder{}, err
	}
	if err := e.Cancel(ctx, current); err != nil {
		return arb.RestingOrder{}, err
	}
	order, err := e.PlaceLimitSell(ctx, quote, clientOrderID)
	if err != nil {
		return arb.RestingOrder{}, fmt.Errorf("%w: %w", ErrOrderGone, err)
	}
	return order, nil
}

func (e *Executor) Cancel(ctx context.Context, order arb.RestingOrder) error {
	return e.retry(ctx, func() error {
		return e.gateway.CancelOrder(ctx, order.Symbol, order.OrderID)
	})
}

func (e *Executor) knownOrder(quote arb.Quote, clientOrderID, orderID string) arb.RestingOrder {
	return arb.RestingOrder{
		Symbol:         quote.Symbol,
		OrderID:        orderID,
		ClientOrderID:  clientOrderID,
		LimitPrice:     quote.LimitPrice,
		Quantity:       quote.Quantity,
		ReferencePrice: quote.MarketPrice,
	}
}

func (e *Executor) placeWithRetry(ctx context.Context, quote arb.Quote, clientOrderID string) (arb.RestingOrder, error) {
	var order arb.RestingOrder
	err := e.retry(ctx, func() error {
		var err error
		order, err = e.gateway.PlaceLimitSell(ctx, quote.Symbol, quote.Quantity, quote.LimitPrice, clientOrderID)
		return err
	})
	if err != nil {
		return arb.RestingOrder{}, err
	}
	if order.OrderID == "" {
		return arb.RestingOrder{}, errors.New("empty order id")
	}
	if order.ClientOrderID == "" {
		order.ClientOrderID = clientOrderID
	}
	if order.ReferencePrice == 0 {
		order.ReferencePrice = quote.MarketPrice
	}
	if order.PlacedAt.IsZero() {
		order.PlacedAt = time.Now().UTC()
	}
	return order, nil
}

func (e *Executor) retry(ctx context.Context, fn func() error) error {
	backoff := 200 * time.Millisecond
	for attempt := 0; attempt < 5; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, arb.ErrUnsupported) {
			return err
		}
		if attempt == 4 {
			return fmt.Errorf("retry failed: %w", err)
		}
		if err := e.wait(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}
	return nil
}
