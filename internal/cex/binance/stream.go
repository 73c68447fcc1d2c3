package binance

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"markup-arb-bot/internal/arb"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const listenKeyKeepAlive = 25 * time.Minute

// SubscribePrices streams last-price ticks from the <symbol>@ticker market
// stream. The channel closes when ctx ends.
func (c *Client) SubscribePrices(ctx context.Context, symbol string) (<-chan arb.PriceTick, error) {
	if c.wsURL == "" {
		return nil, errors.New("binance ws url is required")
	}
	endpoint := c.wsURL + "/" + strings.ToLower(symbol) + "@ticker"
	ticks := make(chan arb.PriceTick, 16)
	go func() {
		defer close(ticks)
		c.runStream(ctx, func(context.Context) (string, error) {
			return endpoint, nil
		}, func(raw json.RawMessage) {
			var event tickerEvent
			if err := json.Unmarshal(raw, &event); err != nil {
				return
			}
			if event.Symbol != symbol || event.LastPrice == "" {
				return
			}
			price, err := strconv.ParseFloat(event.LastPrice, 64)
			if err != nil || price <= 0 {
				return
			}
			tick := arb.PriceTick{Symbol: event.Symbol, Price: price, At: time.UnixMilli(event.EventTime).UTC()}
			select {
			case ticks <- tick:
			default:
			}
		})
	}()
	return ticks, nil
}

// SubscribeFills streams terminal order executions from the user data
// stream. The listen key is kept alive in the background and refreshed on
// every redial.
func (c *Client) SubscribeFills(ctx context.Context, symbol string) (<-chan arb.FillEvent, error) {
	if c.wsURL == "" {
		return nil, errors.New("binance ws url is required")
	}
	if c.apiKey == "" {
		return nil, errors.New("binance api key is required")
	}
	fills := make(chan arb.FillEvent, 16)
	go c.keepAliveLoop(ctx)
	go func() {
		defer close(fills)
		c.runStream(ctx, func(ctx context.Context) (string, error) {
			key, err := c.createListenKey(ctx)
			if err != nil {
				return "", err
			}
			return c.wsURL + "/" + key, nil
		}, func(raw json.RawMessage) {
			fill, ok := parseOrderTradeUpdate(raw, symbol)
			if !ok {
				return
			}
			select {
			case fills <- fill:
			default:
				c.log.Warn("fill stream backlogged, dropping event", zap.String("order_id", fill.OrderID))
			}
		})
	}()
	return fills, nil
}

// parseOrderTradeUpdate extracts a FillEvent from an ORDER_TRADE_UPDATE
// event once the order reaches FILLED.
func parseOrderTradeUpdate(raw json.RawMessage, symbol string) (arb.FillEvent, bool) {
	var event userEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return arb.FillEvent{}, false
	}
	if event.Event != "ORDER_TRADE_UPDATE" {
		return arb.FillEvent{}, false
	}
	order := event.Order
	if order.Symbol != symbol || order.Status != "FILLED" {
		return arb.FillEvent{}, false
	}
	return arb.FillEvent{
		Symbol:      order.Symbol,
		OrderID:     strconv.FormatInt(order.OrderID, 10),
		AvgPrice:    parseFloat(order.AvgPrice),
		ExecutedQty: parseFloat(order.CumQty),
		At:          time.UnixMilli(order.TradeTime).UTC(),
	}, true
}

// runStream pumps raw messages from the endpoint into handler until ctx
// ends, redialing after the reconnect delay. The endpoint is re-evaluated
// per dial so expiring listen keys refresh.
func (c *Client) runStream(ctx context.Context, endpoint func(context.Context) (string, error), handler func(json.RawMessage)) {
	for {
		if ctx.Err() != nil {
			return
		}
		u, err := endpoint(ctx)
		if err != nil {
			c.log.Warn("stream endpoint unavailable", zap.Error(err))
		} else if err := c.pump(ctx, u, handler); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("stream read ended, reconnecting", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *Client) pump(ctx context.Context, endpoint string, handler func(json.RawMessage)) error {
	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "reset") }()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}

func (c *Client) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(listenKeyKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.keepAliveListenKey(ctx); err != nil {
				c.log.Warn("listen key keepalive failed", zap.Error(err))
			}
		}
	}
}
