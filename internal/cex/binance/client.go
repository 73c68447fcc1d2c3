package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"markup-arb-bot/internal/arb"
	"markup-arb-bot/internal/config"

	"go.uber.org/zap"
)

// Client talks to the Binance USDT-margined futures API. Signed endpoints
// carry an HMAC-SHA256 signature over the query string.
type Client struct {
	baseURL        string
	wsURL          string
	apiKey         string
	secret         string
	recvWindow     int64
	reconnectDelay time.Duration
	http           *http.Client
	log            *zap.Logger

	mu      sync.Mutex
	filters map[string]arb.SymbolFilters
}

func New(cfg config.BinanceConfig, log *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		wsURL:          strings.TrimRight(cfg.WSURL, "/"),
		apiKey:         cfg.APIKey,
		secret:         cfg.APISecret,
		recvWindow:     cfg.RecvWindow,
		reconnectDelay: 2 * time.Second,
		http:           &http.Client{Timeout: timeout},
		log:            log,
		filters:        make(map[string]arb.SymbolFilters),
	}
}

func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	var resp tickerPrice
	if err := c.publicRequest(ctx, "/fapi/v1/ticker/price", params, &resp); err != nil {
		return 0, err
	}
	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ticker price %q: %w", resp.Price, err)
	}
	return price, nil
}

// SymbolFilters returns the symbol's price and lot constraints, cached
// after the first exchangeInfo fetch.
func (c *Client) SymbolFilters(ctx context.Context, symbol string) (arb.SymbolFilters, error) {
	c.mu.Lock()
	if filters, ok := c.filters[symbol]; ok {
		c.mu.Unlock()
		return filters, nil
	}
	c.mu.Unlock()
	var resp exchangeInfo
	if err := c.publicRequest(ctx, "/fapi/v1/exchangeInfo", nil, &resp); err != nil {
		return arb.SymbolFilters{}, err
	}
	for _, info := range resp.Symbols {
		if info.Symbol != symbol {
			continue
		}
		filters := arb.SymbolFilters{}
		for _, f := range info.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				filters.PriceStep = parseFloat(f.TickSize)
			case "LOT_SIZE":
				filters.QtyStep = parseFloat(f.StepSize)
				filters.MinQty = parseFloat(f.MinQty)
			case "MIN_NOTIONAL":
				filters.MinNotional = parseFloat(f.Notional)
			}
		}
		c.mu.Lock()
		c.filters[symbol] = filters
		c.mu.Unlock()
		return filters, nil
	}
	return arb.SymbolFilters{}, fmt.Errorf("symbol %s not listed", symbol)
}

func (c *Client) PlaceLimitSell(ctx context.Context, symbol string, quantity, price float64, clientOrderID string) (arb.RestingOrder, error) {
	filters, err := c.SymbolFilters(ctx, symbol)
	if err != nil {
		return arb.RestingOrder{}, err
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", "SELL")
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("quantity", formatByStep(quantity, filters.QtyStep))
	params.Set("price", formatByStep(price, filters.PriceStep))
	if clientOrderID != "" {
		params.Set("newClientOrderId", clientOrderID)
	}
	var resp orderResponse
	if err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params, &resp); err != nil {
		return arb.RestingOrder{}, err
	}
	return resp.restingOrder(), nil
}

// ModifyOrder amends price and quantity in place via the order modify
// endpoint; the order keeps its id and queue entry time is reset.
func (c *Client) ModifyOrder(ctx context.Context, symbol, orderID string, quantity, price float64) (arb.RestingOrder, error) {
	filters, err := c.SymbolFilters(ctx, symbol)
	if err != nil {
		return arb.RestingOrder{}, err
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	params.Set("side", "SELL")
	params.Set("quantity", formatByStep(quantity, filters.QtyStep))
	params.Set("price", formatByStep(price, filters.PriceStep))
	var resp orderResponse
	if err := c.signedRequest(ctx, http.MethodPut, "/fapi/v1/order", params, &resp); err != nil {
		return arb.RestingOrder{}, err
	}
	return resp.restingOrder(), nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	return c.signedRequest(ctx, http.MethodDelete, "/fapi/v1/order", params, nil)
}

func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	return c.signedRequest(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params, nil)
}

func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]arb.OpenOrder, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	var resp []orderResponse
	if err := c.signedRequest(ctx, http.MethodGet, "/fapi/v1/openOrders", params, &resp); err != nil {
		return nil, err
	}
	orders := make([]arb.OpenOrder, 0, len(resp))
	for _, o := range resp {
		orders = append(orders, o.openOrder())
	}
	return orders, nil
}

// PollFill reports the terminal fill for an order; done is false while the
// order is still working or was cancelled.
func (c *Client) PollFill(ctx context.Context, symbol, orderID string) (arb.FillEvent, bool, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	var resp orderResponse
	if err := c.signedRequest(ctx, http.MethodGet, "/fapi/v1/order", params, &resp); err != nil {
		return arb.FillEvent{}, false, err
	}
	if resp.Status != "FILLED" {
		return arb.FillEvent{}, false, nil
	}
	fill := arb.FillEvent{
		Symbol:      resp.Symbol,
		OrderID:     strconv.FormatInt(resp.OrderID, 10),
		AvgPrice:    parseFloat(resp.AvgPrice),
		ExecutedQty: parseFloat(resp.ExecutedQty),
	}
	if resp.UpdateTime > 0 {
		fill.At = time.UnixMilli(resp.UpdateTime).UTC()
	}
	return fill, true, nil
}

func (c *Client) Balances(ctx context.Context) ([]arb.AssetBalance, error) {
	var resp []balanceEntry
	if err := c.signedRequest(ctx, http.MethodGet, "/fapi/v2/balance", nil, &resp); err != nil {
		return nil, err
	}
	balances := make([]arb.AssetBalance, 0, len(resp))
	for _, b := range resp {
		balances = append(balances, arb.AssetBalance{
			Asset:     b.Asset,
			Total:     parseFloat(b.Balance),
			Available: parseFloat(b.AvailableBalance),
		})
	}
	return balances, nil
}

// Positions returns the nonzero positions for the symbol.
func (c *Client) Positions(ctx context.Context, symbol string) ([]arb.Position, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	var resp []positionRisk
	if err := c.signedRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, &resp); err != nil {
		return nil, err
	}
	positions := make([]arb.Position, 0, len(resp))
	for _, p := range resp {
		amt := parseFloat(p.PositionAmt)
		if amt == 0 {
			continue
		}
		positions = append(positions, arb.Position{
			Symbol:     p.Symbol,
			Quantity:   amt,
			EntryPrice: parseFloat(p.EntryPrice),
		})
	}
	return positions, nil
}

// MarketClose flattens a signed position with a reduce-only market order on
// the opposite side and returns the venue order id.
func (c *Client) MarketClose(ctx context.Context, symbol string, positionQty float64) (string, error) {
	if positionQty == 0 {
		return "", errors.New("position quantity is zero")
	}
	filters, err := c.SymbolFilters(ctx, symbol)
	if err != nil {
		return "", err
	}
	side := "SELL"
	if positionQty < 0 {
		side = "BUY"
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "MARKET")
	params.Set("quantity", formatByStep(math.Abs(positionQty), filters.QtyStep))
	params.Set("reduceOnly", "true")
	var resp orderResponse
	if err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params, &resp); err != nil {
		return "", err
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}

func (c *Client) createListenKey(ctx context.Context) (string, error) {
	var resp listenKeyResponse
	if err := c.keyedRequest(ctx, http.MethodPost, "/fapi/v1/listenKey", &resp); err != nil {
		return "", err
	}
	if resp.ListenKey == "" {
		return "", errors.New("empty listen key")
	}
	return resp.ListenKey, nil
}

func (c *Client) keepAliveListenKey(ctx context.Context) error {
	return c.keyedRequest(ctx, http.MethodPut, "/fapi/v1/listenKey", nil)
}

func (c *Client) signedRequest(ctx context.Context, method, path string, params url.Values, out any) error {
	if c.apiKey == "" || c.secret == "" {
		return errors.New("binance api credentials are required")
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	if c.recvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
	}
	query := params.Encode()
	query += "&signature=" + c.sign(query)
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	return c.do(req, out)
}

func (c *Client) keyedRequest(ctx context.Context, method, path string, out any) error {
	if c.apiKey == "" {
		return errors.New("binance api key is required")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	return c.do(req, out)
}

func (c *Client) publicRequest(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// formatByStep renders a value with exactly the decimal places of the step
// so the venue never sees float artifacts.
func formatByStep(value, step float64) string {
	return strconv.FormatFloat(value, 'f', stepDecimals(step), 64)
}

func stepDecimals(step float64) int {
	if step <= 0 {
		return 8
	}
	decimals := 0
	for step < 0.9999999 && decimals < 12 {
		step *= 10
		decimals++
	}
	return decimals
}
