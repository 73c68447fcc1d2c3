package mexc

import (
	"bytes"
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

// Client talks to the MEXC contract (perpetual futures) REST API. The
// contract API has no order modify endpoint and no user data stream, so
// ModifyOrder, SubscribePrices and SubscribeFills report arb.ErrUnsupported
// and callers fall back to cancel+replace and polling.
type Client struct {
	baseURL string
	apiKey  string
	secret  string
	http    *http.Client
	log     *zap.Logger

	mu      sync.Mutex
	details map[string]contractDetail
}

func New(cfg config.MexcConfig, log *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		secret:  cfg.APISecret,
		http:    &http.Client{Timeout: timeout},
		log:     log,
		details: make(map[string]contractDetail),
	}
}

// contractSymbol converts a plain symbol like PIPPINUSDT into the
// underscore form the contract API expects.
func contractSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(symbol, "_") {
		return symbol
	}
	for _, quote := range []string{"USDT", "USDC", "USD"} {
		if base, ok := strings.CutSuffix(symbol, quote); ok && base != "" {
			return base + "_" + quote
		}
	}
	return symbol
}

func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", contractSymbol(symbol))
	var ticker tickerData
	if err := c.publicGet(ctx, "/api/v1/contract/ticker", params, &ticker); err != nil {
		return 0, err
	}
	if ticker.LastPrice <= 0 {
		return 0, fmt.Errorf("no last price for %s", symbol)
	}
	return ticker.LastPrice, nil
}

// SubscribePrices is not available on the contract gateway.
func (c *Client) SubscribePrices(ctx context.Context, symbol string) (<-chan arb.PriceTick, error) {
	return nil, arb.ErrUnsupported
}

// SubscribeFills is not available on the contract gateway.
func (c *Client) SubscribeFills(ctx context.Context, symbol string) (<-chan arb.FillEvent, error) {
	return nil, arb.ErrUnsupported
}

// SymbolFilters reports steps and minimums in base units. The contract API
// quotes volume in contracts, so volUnit and minVol are scaled by
// contractSize before they reach the quoting logic.
func (c *Client) SymbolFilters(ctx context.Context, symbol string) (arb.SymbolFilters, error) {
	detail, err := c.detail(ctx, symbol)
	if err != nil {
		return arb.SymbolFilters{}, err
	}
	size := detail.ContractSize
	if size <= 0 {
		size = 1
	}
	return arb.SymbolFilters{
		PriceStep: detail.PriceUnit,
		QtyStep:   detail.VolUnit * size,
		MinQty:    detail.MinVol * size,
	}, nil
}

func (c *Client) detail(ctx context.Context, symbol string) (contractDetail, error) {
	key := contractSymbol(symbol)
	c.mu.Lock()
	detail, ok := c.details[key]
	c.mu.Unlock()
	if ok {
		return detail, nil
	}

	params := url.Values{}
	params.Set("symbol", key)
	if err := c.publicGet(ctx, "/api/v1/contract/detail", params, &detail); err != nil {
		return contractDetail{}, err
	}
	if detail.Symbol == "" {
		return contractDetail{}, fmt.Errorf("contract %s not listed", key)
	}

	c.mu.Lock()
	c.details[key] = detail
	c.mu.Unlock()
	return detail, nil
}

// PlaceLimitSell opens a short with a limit order. Quantity is given in
// base units and converted to contracts.
func (c *Client) PlaceLimitSell(ctx context.Context, symbol string, quantity, price float64, clientOrderID string) (arb.RestingOrder, error) {
	detail, err := c.detail(ctx, symbol)
	if err != nil {
		return arb.RestingOrder{}, err
	}
	vol, err := toContracts(quantity, detail)
	if err != nil {
		return arb.RestingOrder{}, err
	}

	req := submitRequest{
		Symbol:      contractSymbol(symbol),
		Price:       price,
		Vol:         vol,
		Side:        sideOpenShort,
		Type:        typeLimit,
		OpenType:    1, // isolated
		ExternalOid: clientOrderID,
	}
	var orderID string
	if err := c.signedPost(ctx, "/api/v1/private/order/submit", req, &orderID); err != nil {
		return arb.RestingOrder{}, err
	}
	if orderID == "" {
		return arb.RestingOrder{}, errors.New("order submit returned no order id")
	}
	return arb.RestingOrder{
		Symbol:        symbol,
		OrderID:       orderID,
		ClientOrderID: clientOrderID,
		LimitPrice:    price,
		Quantity:      quantity,
		PlacedAt:      time.Now().UTC(),
	}, nil
}

// ModifyOrder is not available on the contract API.
func (c *Client) ModifyOrder(ctx context.Context, symbol, orderID string, quantity, price float64) (arb.RestingOrder, error) {
	return arb.RestingOrder{}, arb.ErrUnsupported
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("order id %q: %w", orderID, err)
	}
	var results []cancelResult
	if err := c.signedPost(ctx, "/api/v1/private/order/cancel", []int64{id}, &results); err != nil {
		return err
	}
	for _, r := range results {
		if r.ErrorCode != 0 {
			return fmt.Errorf("cancel %d rejected: %d %s", r.OrderID, r.ErrorCode, r.ErrorMsg)
		}
	}
	return nil
}

func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	body := map[string]string{"symbol": contractSymbol(symbol)}
	return c.signedPost(ctx, "/api/v1/private/order/cancel_all", body, nil)
}

func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]arb.OpenOrder, error) {
	detail, err := c.detail(ctx, symbol)
	if err != nil {
		return nil, err
	}
	size := detail.ContractSize
	if size <= 0 {
		size = 1
	}

	params := url.Values{}
	params.Set("page_num", "1")
	params.Set("page_size", "100")
	var rows []orderDetail
	path := "/api/v1/private/order/list/open_orders/" + contractSymbol(symbol)
	if err := c.signedGet(ctx, path, params, &rows); err != nil {
		return nil, err
	}

	orders := make([]arb.OpenOrder, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, arb.OpenOrder{
			Symbol:        symbol,
			OrderID:       row.OrderID,
			ClientOrderID: row.ExternalOid,
			Price:         row.Price,
			OrigQty:       row.Vol * size,
			ExecutedQty:   row.DealVol * size,
			Side:          sideName(row.Side),
		})
	}
	return orders, nil
}

// PollFill reports the order as done only once it is fully completed.
// done stays false while the order is working or after a cancel.
func (c *Client) PollFill(ctx context.Context, symbol, orderID string) (arb.FillEvent, bool, error) {
	detail, err := c.detail(ctx, symbol)
	if err != nil {
		return arb.FillEvent{}, false, err
	}
	size := detail.ContractSize
	if size <= 0 {
		size = 1
	}

	var row orderDetail
	if err := c.signedGet(ctx, "/api/v1/private/order/get/"+orderID, nil, &row); err != nil {
		return arb.FillEvent{}, false, err
	}
	if row.State != stateCompleted {
		return arb.FillEvent{}, false, nil
	}
	at := time.UnixMilli(row.UpdateTime)
	if row.UpdateTime == 0 {
		at = time.Now().UTC()
	}
	return arb.FillEvent{
		Symbol:      symbol,
		OrderID:     orderID,
		AvgPrice:    row.DealAvgPrice,
		ExecutedQty: row.DealVol * size,
		At:          at,
	}, true, nil
}

func (c *Client) Balances(ctx context.Context) ([]arb.AssetBalance, error) {
	var rows []assetEntry
	if err := c.signedGet(ctx, "/api/v1/private/account/assets", nil, &rows); err != nil {
		return nil, err
	}
	balances := make([]arb.AssetBalance, 0, len(rows))
	for _, row := range rows {
		balances = append(balances, arb.AssetBalance{
			Asset:     row.Currency,
			Total:     row.Equity,
			Available: row.AvailableBalance,
		})
	}
	return balances, nil
}

// Positions returns the open positions for the symbol with volumes scaled to
// base units. Shorts carry a negative quantity.
func (c *Client) Positions(ctx context.Context, symbol string) ([]arb.Position, error) {
	detail, err := c.detail(ctx, symbol)
	if err != nil {
		return nil, err
	}
	size := detail.ContractSize
	if size <= 0 {
		size = 1
	}

	params := url.Values{}
	params.Set("symbol", contractSymbol(symbol))
	var rows []positionEntry
	if err := c.signedGet(ctx, "/api/v1/private/position/open_positions", params, &rows); err != nil {
		return nil, err
	}

	positions := make([]arb.Position, 0, len(rows))
	for _, row := range rows {
		qty := row.HoldVol * size
		if qty == 0 {
			continue
		}
		if row.PositionType == positionShort {
			qty = -qty
		}
		positions = append(positions, arb.Position{
			Symbol:     symbol,
			Quantity:   qty,
			EntryPrice: row.HoldAvgPrice,
		})
	}
	return positions, nil
}

// MarketClose flattens a signed position with a market order on the closing
// side. The submit endpoint requires a price field even for market orders,
// so the last traded price is sent.
func (c *Client) MarketClose(ctx context.Context, symbol string, positionQty float64) (string, error) {
	if positionQty == 0 {
		return "", errors.New("position quantity is zero")
	}
	detail, err := c.detail(ctx, symbol)
	if err != nil {
		return "", err
	}
	vol, err := toContracts(math.Abs(positionQty), detail)
	if err != nil {
		return "", err
	}
	price, err := c.GetPrice(ctx, symbol)
	if err != nil {
		return "", err
	}
	side := sideCloseLong
	if positionQty < 0 {
		side = sideCloseShort
	}
	req := submitRequest{
		Symbol:   contractSymbol(symbol),
		Price:    price,
		Vol:      vol,
		Side:     side,
		Type:     typeMarket,
		OpenType: 1,
	}
	var orderID string
	if err := c.signedPost(ctx, "/api/v1/private/order/submit", req, &orderID); err != nil {
		return "", err
	}
	return orderID, nil
}

// toContracts converts a base-unit quantity into a whole number of volUnit
// sized contract lots.
func toContracts(quantity float64, detail contractDetail) (float64, error) {
	size := detail.ContractSize
	if size <= 0 {
		size = 1
	}
	vol := quantity / size
	if detail.VolUnit > 0 {
		vol = math.Round(vol/detail.VolUnit) * detail.VolUnit
	}
	if vol <= 0 {
		return 0, fmt.Errorf("quantity %f is below one contract", quantity)
	}
	return vol, nil
}

func (c *Client) publicGet(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) signedGet(ctx context.Context, path string, params url.Values, out any) error {
	if c.apiKey == "" || c.secret == "" {
		return errors.New("mexc api credentials are not configured")
	}
	query := ""
	if len(params) > 0 {
		query = params.Encode()
	}
	endpoint := c.baseURL + path
	if query != "" {
		endpoint += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	c.authorize(req, query)
	return c.do(req, out)
}

func (c *Client) signedPost(ctx context.Context, path string, body, out any) error {
	if c.apiKey == "" || c.secret == "" {
		return errors.New("mexc api credentials are not configured")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req, string(payload))
	return c.do(req, out)
}

// authorize attaches the contract API auth headers. The signature covers
// apiKey + request time + the query string for GET, or the JSON body for
// POST.
func (c *Client) authorize(req *http.Request, payload string) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(c.apiKey + timestamp + payload))
	req.Header.Set("ApiKey", c.apiKey)
	req.Header.Set("Request-Time", timestamp)
	req.Header.Set("Signature", hex.EncodeToString(mac.Sum(nil)))
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !env.Success || env.Code != 0 {
		return fmt.Errorf("mexc code %d: %s", env.Code, env.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
