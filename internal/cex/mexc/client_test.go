package mexc

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"markup-arb-bot/internal/arb"
	"markup-arb-bot/internal/config"

	"go.uber.org/zap"
)

const detailFixture = `{"success":true,"code":0,"data":{"symbol":"PIPPIN_USDT","contractSize":10,"priceUnit":0.0001,"volUnit":1,"minVol":1,"priceScale":4,"volScale":0}}`

func newTestClient(baseURL string) *Client {
	return New(config.MexcConfig{
		BaseURL:   baseURL,
		Timeout:   2 * time.Second,
		APIKey:    "test-key",
		APISecret: "test-secret",
	}, zap.NewNop())
}

func verifyAuth(t *testing.T, r *http.Request, payload string) {
	t.Helper()
	if r.Header.Get("ApiKey") != "test-key" {
		t.Errorf("missing ApiKey header")
	}
	timestamp := r.Header.Get("Request-Time")
	if timestamp == "" {
		t.Errorf("missing Request-Time header")
	}
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte("test-key" + timestamp + payload))
	if expected := hex.EncodeToString(mac.Sum(nil)); r.Header.Get("Signature") != expected {
		t.Errorf("expected signature %s, got %s", expected, r.Header.Get("Signature"))
	}
}

func TestContractSymbol(t *testing.T) {
	cases := map[string]string{
		"PIPPINUSDT":  "PIPPIN_USDT",
		"pippinusdt":  "PIPPIN_USDT",
		"PIPPIN_USDT": "PIPPIN_USDT",
		"BTCUSDC":     "BTC_USDC",
	}
	for in, want := range cases {
		if got := contractSymbol(in); got != want {
			t.Fatalf("contractSymbol(%s): expected %s, got %s", in, want, got)
		}
	}
}

func TestGetPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/contract/ticker" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("symbol") != "PIPPIN_USDT" {
			t.Errorf("unexpected symbol %s", r.URL.Query().Get("symbol"))
		}
		w.Write([]byte(`{"success":true,"code":0,"data":{"symbol":"PIPPIN_USDT","lastPrice":0.0206,"timestamp":1700000000000}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	price, err := client.GetPrice(context.Background(), "PIPPINUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 0.0206 {
		t.Fatalf("expected 0.0206, got %f", price)
	}
}

func TestSymbolFiltersScalesByContractSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(detailFixture))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	filters, err := client.SymbolFilters(context.Background(), "PIPPINUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filters.PriceStep != 0.0001 {
		t.Fatalf("expected price step 0.0001, got %f", filters.PriceStep)
	}
	if filters.QtyStep != 10 || filters.MinQty != 10 {
		t.Fatalf("expected base unit steps of 10, got %+v", filters)
	}
}

func TestPlaceLimitSellSignsBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/contract/detail", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(detailFixture))
	})
	mux.HandleFunc("/api/v1/private/order/submit", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		verifyAuth(t, r, string(body))

		var req submitRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad body: %v", err)
		}
		if req.Symbol != "PIPPIN_USDT" || req.Side != sideOpenShort || req.Type != 1 {
			t.Errorf("unexpected submit request: %+v", req)
		}
		if req.Vol != 480 {
			t.Errorf("expected 480 contracts, got %f", req.Vol)
		}
		if req.Price != 0.0206 {
			t.Errorf("expected price 0.0206, got %f", req.Price)
		}
		if req.ExternalOid != "cl-1" {
			t.Errorf("expected external oid cl-1, got %s", req.ExternalOid)
		}
		w.Write([]byte(`{"success":true,"code":0,"data":"102015012431820288"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(server.URL)
	order, err := client.PlaceLimitSell(context.Background(), "PIPPINUSDT", 4800, 0.0206, "cl-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.OrderID != "102015012431820288" {
		t.Fatalf("expected order id from response, got %s", order.OrderID)
	}
	if order.Quantity != 4800 {
		t.Fatalf("expected base quantity 4800, got %f", order.Quantity)
	}
}

func TestModifyOrderUnsupported(t *testing.T) {
	client := newTestClient("http://unused")
	_, err := client.ModifyOrder(context.Background(), "PIPPINUSDT", "1", 10, 0.02)
	if !errors.Is(err, arb.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestStreamsUnsupported(t *testing.T) {
	client := newTestClient("http://unused")
	if _, err := client.SubscribePrices(context.Background(), "PIPPINUSDT"); !errors.Is(err, arb.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if _, err := client.SubscribeFills(context.Background(), "PIPPINUSDT"); !errors.Is(err, arb.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestCancelOrderSendsIDList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.TrimSpace(string(body)) != "[102015012431820288]" {
			t.Errorf("unexpected cancel body: %s", body)
		}
		w.Write([]byte(`{"success":true,"code":0,"data":[{"orderId":102015012431820288,"errorCode":0}]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if err := client.CancelOrder(context.Background(), "PIPPINUSDT", "102015012431820288"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCancelOrderSurfacesRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"code":0,"data":[{"orderId":1,"errorCode":2005,"errorMsg":"order not exists"}]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	err := client.CancelOrder(context.Background(), "PIPPINUSDT", "1")
	if err == nil || !strings.Contains(err.Error(), "2005") {
		t.Fatalf("expected rejection error, got %v", err)
	}
}

func TestPollFill(t *testing.T) {
	state := stateUncompleted
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/contract/detail", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(detailFixture))
	})
	mux.HandleFunc("/api/v1/private/order/get/102015012431820288", func(w http.ResponseWriter, r *http.Request) {
		row := orderDetail{
			OrderID:      "102015012431820288",
			Symbol:       "PIPPIN_USDT",
			Price:        0.0206,
			Vol:          480,
			DealVol:      480,
			DealAvgPrice: 0.02061,
			State:        state,
			UpdateTime:   1700000000000,
		}
		data, _ := json.Marshal(row)
		w.Write([]byte(`{"success":true,"code":0,"data":` + string(data) + `}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(server.URL)
	_, done, err := client.PollFill(context.Background(), "PIPPINUSDT", "102015012431820288")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done {
		t.Fatalf("expected working order to not be done")
	}

	state = stateCompleted
	fill, done, err := client.PollFill(context.Background(), "PIPPINUSDT", "102015012431820288")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done {
		t.Fatalf("expected completed order to be done")
	}
	if fill.AvgPrice != 0.02061 {
		t.Fatalf("expected avg price 0.02061, got %f", fill.AvgPrice)
	}
	if fill.ExecutedQty != 4800 {
		t.Fatalf("expected executed qty in base units, got %f", fill.ExecutedQty)
	}
}

func TestEnvelopeErrorSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"code":602,"message":"signature verification failed"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.GetPrice(context.Background(), "PIPPINUSDT")
	if err == nil || !strings.Contains(err.Error(), "mexc code 602") {
		t.Fatalf("expected envelope error, got %v", err)
	}
}

func TestHTTPErrorIncludesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`rate limit`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.GetPrice(context.Background(), "PIPPINUSDT")
	if err == nil || !strings.Contains(err.Error(), "http 429") {
		t.Fatalf("expected http 429 error, got %v", err)
	}
}

func TestPositionsScalesAndSigns(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/contract/detail", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(detailFixture))
	})
	mux.HandleFunc("/api/v1/private/position/open_positions", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "PIPPIN_USDT" {
			t.Errorf("unexpected symbol %s", r.URL.Query().Get("symbol"))
		}
		w.Write([]byte(`{"success":true,"code":0,"data":[
			{"symbol":"PIPPIN_USDT","positionType":2,"holdVol":480,"holdAvgPrice":0.0206},
			{"symbol":"PIPPIN_USDT","positionType":1,"holdVol":0,"holdAvgPrice":0}]}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(server.URL)
	positions, err := client.Positions(context.Background(), "PIPPINUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected one open position, got %d", len(positions))
	}
	if positions[0].Quantity != -4800 {
		t.Fatalf("expected -4800 base units for the short, got %f", positions[0].Quantity)
	}
	if positions[0].EntryPrice != 0.0206 {
		t.Fatalf("expected entry 0.0206, got %f", positions[0].EntryPrice)
	}
}

func TestMarketCloseBuysBackShort(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/contract/detail", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(detailFixture))
	})
	mux.HandleFunc("/api/v1/contract/ticker", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"code":0,"data":{"symbol":"PIPPIN_USDT","lastPrice":0.0206,"timestamp":1700000000000}}`))
	})
	mux.HandleFunc("/api/v1/private/order/submit", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req submitRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad body: %v", err)
		}
		if req.Side != sideCloseShort || req.Type != typeMarket {
			t.Errorf("unexpected close request: %+v", req)
		}
		if req.Vol != 480 {
			t.Errorf("expected 480 contracts, got %f", req.Vol)
		}
		if req.Price != 0.0206 {
			t.Errorf("expected last price in body, got %f", req.Price)
		}
		w.Write([]byte(`{"success":true,"code":0,"data":"102015012431820299"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(server.URL)
	orderID, err := client.MarketClose(context.Background(), "PIPPINUSDT", -4800)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if orderID != "102015012431820299" {
		t.Fatalf("expected order id from response, got %s", orderID)
	}

	if _, err := client.MarketClose(context.Background(), "PIPPINUSDT", 0); err == nil {
		t.Fatalf("expected error for flat position")
	}
}

func TestBalances(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verifyAuth(t, r, "")
		w.Write([]byte(`{"success":true,"code":0,"data":[{"currency":"USDT","equity":1250.5,"availableBalance":1000}]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	balances, err := client.Balances(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(balances) != 1 || balances[0].Asset != "USDT" || balances[0].Total != 1250.5 {
		t.Fatalf("unexpected balances: %+v", balances)
	}
}
