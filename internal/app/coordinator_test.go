package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"markup-arb-bot/internal/arb"
	"markup-arb-bot/internal/exec"
	"markup-arb-bot/internal/market"
	"markup-arb-bot/internal/metrics"
	"markup-arb-bot/internal/state"
)

const testSymbol = "PIPPINUSDT"

type memoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte)}
}

func (m *memoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) keysWithPrefix(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys
}

type mockExecutor struct {
	mu         sync.Mutex
	nextID     int
	placed     []arb.Quote
	requoted   []arb.Quote
	cancelled  []string
	placeErr   error
	requoteErr error
	inPlace    bool
}

func (m *mockExecutor) PlaceLimitSell(ctx context.Context, quote arb.Quote, clientOrderID string) (arb.RestingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.placeErr != nil {
		return arb.RestingOrder{}, m.placeErr
	}
	m.nextID++
	m.placed = append(m.placed, quote)
	return arb.RestingOrder{
		Symbol:         quote.Symbol,
		OrderID:        fmt.Sprintf("ord-%d", m.nextID),
		ClientOrderID:  clientOrderID,
		LimitPrice:     quote.LimitPrice,
		Quantity:       quote.Quantity,
		ReferencePrice: quote.MarketPrice,
		PlacedAt:       time.Now().UTC(),
	}, nil
}

func (m *mockExecutor) Requote(ctx context.Context, current arb.RestingOrder, quote arb.Quote, clientOrderID string) (arb.RestingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.requoteErr != nil {
		return arb.RestingOrder{}, m.requoteErr
	}
	m.requoted = append(m.requoted, quote)
	order := arb.RestingOrder{
		Symbol:         quote.Symbol,
		OrderID:        current.OrderID,
		ClientOrderID:  clientOrderID,
		LimitPrice:     quote.LimitPrice,
		Quantity:       quote.Quantity,
		ReferencePrice: quote.MarketPrice,
		PlacedAt:       time.Now().UTC(),
	}
	if !m.inPlace {
		m.nextID++
		order.OrderID = fmt.Sprintf("ord-%d", m.nextID)
	}
	return order, nil
}

func (m *mockExecutor) Cancel(ctx context.Context, order arb.RestingOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, order.OrderID)
	return nil
}

func (m *mockExecutor) placedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.placed)
}

func (m *mockExecutor) placedAt(i int) arb.Quote {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.placed[i]
}

func (m *mockExecutor) requotedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requoted)
}

func (m *mockExecutor) requotedAt(i int) arb.Quote {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requoted[i]
}

func (m *mockExecutor) cancelledIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cancelled...)
}

type mockFills struct {
	mu        sync.Mutex
	tracked   []arb.RestingOrder
	untracked int
	events    chan arb.FillEvent
}

func newMockFills() *mockFills {
	return &mockFills{events: make(chan arb.FillEvent, 4)}
}

func (m *mockFills) Track(order arb.RestingOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracked = append(m.tracked, order)
}

func (m *mockFills) Untrack() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.untracked++
}

func (m *mockFills) Events() <-chan arb.FillEvent { return m.events }

func (m *mockFills) lastTracked() (arb.RestingOrder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tracked) == 0 {
		return arb.RestingOrder{}, false
	}
	return m.tracked[len(m.tracked)-1], true
}

func (m *mockFills) trackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked)
}

func (m *mockFills) push(fill arb.FillEvent) {
	m.events <- fill
}

type mockHedger struct {
	mu       sync.Mutex
	requests []arb.SwapRequest
	result   arb.SwapResult
	calls    int
	err      error
}

func (m *mockHedger) Hedge(ctx context.Context, req arb.SwapRequest) (arb.SwapResult, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return arb.SwapResult{}, m.calls, m.err
	}
	return m.result, m.calls, nil
}

func (m *mockHedger) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *mockHedger) requestAt(i int) arb.SwapRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

type mockPrices struct {
	ticks    chan arb.PriceTick
	mu       sync.Mutex
	price    float64
	priceErr error
}

func newMockPrices(price float64) *mockPrices {
	return &mockPrices{ticks: make(chan arb.PriceTick, 4), price: price}
}

func (m *mockPrices) Ticks() <-chan arb.PriceTick { return m.ticks }

func (m *mockPrices) Price(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.price, m.priceErr
}

func (m *mockPrices) tick(price float64) {
	m.ticks <- arb.PriceTick{Symbol: testSymbol, Price: price, At: time.Now().UTC()}
}

type mockVenue struct {
	mu         sync.Mutex
	filters    arb.SymbolFilters
	filtersErr error
	open       []arb.OpenOrder
	openErr    error
	polled     []string
	pollFill   arb.FillEvent
	pollDone   bool
	pollErr    error
}

func (m *mockVenue) SymbolFilters(ctx context.Context, symbol string) (arb.SymbolFilters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filters, m.filtersErr
}

func (m *mockVenue) OpenOrders(ctx context.Context, symbol string) ([]arb.OpenOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]arb.OpenOrder(nil), m.open...), m.openErr
}

func (m *mockVenue) PollFill(ctx context.Context, symbol, orderID string) (arb.FillEvent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polled = append(m.polled, orderID)
	return m.pollFill, m.pollDone, m.pollErr
}

func (m *mockVenue) polledIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.polled...)
}

type mockAlerter struct {
	mu   sync.Mutex
	sent []string
}

func (m *mockAlerter) Send(ctx context.Context, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, message)
	return nil
}

func (m *mockAlerter) contains(substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.sent {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

type coordFixture struct {
	executor *mockExecutor
	fills    *mockFills
	hedger   *mockHedger
	prices   *mockPrices
	venue    *mockVenue
	store    *memoryStore
	alerts   *mockAlerter
	cfg      CoordinatorConfig
}

func newCoordFixture() *coordFixture {
	f := &coordFixture{
		executor: &mockExecutor{},
		fills:    newMockFills(),
		hedger: &mockHedger{
			calls: 1,
			result: arb.SwapResult{
				Provider:  "jupiter",
				TxRef:     "sig-1",
				InAmount:  big.NewInt(100_000_000),
				OutAmount: big.NewInt(4_950_000),
			},
		},
		prices: newMockPrices(0.02),
		venue:  &mockVenue{},
		store:  newMemoryStore(),
		alerts: &mockAlerter{},
	}
	f.cfg = CoordinatorConfig{
		Market: market.Market{
			Symbol:        testSymbol,
			CEXProvider:   "binance",
			DEXProvider:   "jupiter",
			Chain:         "solana",
			InputAsset:    "USDC111",
			OutputAsset:   "PIPPIN111",
			InputDecimals: 6,
		},
		Params: arb.Parameters{
			USDNotional:             100,
			MarkupPercent:           1.0,
			RequoteThresholdPercent: 0.5,
			MaxSlippagePercent:      0.25,
		},
		Continuous: true,
		Executor:   f.executor,
		Fills:      f.fills,
		Hedger:     f.hedger,
		Prices:     f.prices,
		Venue:      f.venue,
		Store:      f.store,
		Metrics:    metrics.NewNoop(),
		Alerts:     f.alerts,
		Log:        zap.NewNop(),
	}
	return f
}

func (f *coordFixture) start(t *testing.T) (*Coordinator, context.CancelFunc, chan error) {
	t.Helper()
	coord := NewCoordinator(f.cfg)
	return startCoordinator(t, coord)
}

func startCoordinator(t *testing.T, coord *Coordinator) (*Coordinator, context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- coord.Run(ctx) }()
	return coord, cancel, errCh
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func waitStop(t *testing.T, errCh chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("coordinator did not stop")
		return nil
	}
}

func loadSnapshot(t *testing.T, store state.Store) state.CycleSnapshot {
	t.Helper()
	snapshot, ok, err := state.LoadCycleSnapshot(context.Background(), store, testSymbol)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if !ok {
		t.Fatalf("expected a persisted snapshot")
	}
	return snapshot
}

func TestCycleQuoteFillHedgeSettle(t *testing.T) {
	f := newCoordFixture()
	coord, cancel, errCh := f.start(t)
	defer cancel()

	waitFor(t, func() bool { return coord.Status().State == arb.StateQuoted }, "quote placed")
	if got := f.executor.placedCount(); got != 1 {
		t.Fatalf("expected 1 placement, got %d", got)
	}
	quote := f.executor.placedAt(0)
	if math.Abs(quote.LimitPrice-0.0202) > 1e-12 {
		t.Fatalf("expected limit 0.0202, got %.10f", quote.LimitPrice)
	}

	order, ok := f.fills.lastTracked()
	if !ok {
		t.Fatalf("expected a tracked order")
	}
	f.fills.push(arb.FillEvent{
		Symbol:      testSymbol,
		OrderID:     order.OrderID,
		AvgPrice:    0.02,
		ExecutedQty: 5000,
		At:          time.Now().UTC(),
	})

	waitFor(t, func() bool { return coord.Status().State == arb.StateIdle }, "cycle reset after settle")
	if got := f.hedger.requestCount(); got != 1 {
		t.Fatalf("expected 1 hedge, got %d", got)
	}
	req := f.hedger.requestAt(0)
	if req.InAmount.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("expected hedge input 100000000, got %s", req.InAmount)
	}
	if req.Chain != "solana" || req.InputAsset != "USDC111" || req.OutputAsset != "PIPPIN111" {
		t.Fatalf("unexpected swap request: %+v", req)
	}
	if req.SlippagePercent != 0.25 {
		t.Fatalf("expected slippage 0.25, got %f", req.SlippagePercent)
	}
	if !f.alerts.contains("Hedged") {
		t.Fatalf("expected hedge settled alert")
	}
	if snapshot := loadSnapshot(t, f.store); snapshot.State != string(arb.StateIdle) {
		t.Fatalf("expected IDLE snapshot, got %s", snapshot.State)
	}

	cancel()
	if err := waitStop(t, errCh); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestHedgeExhaustionMarksUnhedged(t *testing.T) {
	f := newCoordFixture()
	f.hedger.err = errors.New("unable to execute hedge: rpc down")
	f.hedger.calls = 3
	coord, cancel, errCh := f.start(t)
	defer cancel()

	waitFor(t, func() bool { return coord.Status().State == arb.StateQuoted }, "quote placed")
	order, _ := f.fills.lastTracked()
	f.fills.push(arb.FillEvent{
		Symbol:      testSymbol,
		OrderID:     order.OrderID,
		AvgPrice:    0.02,
		ExecutedQty: 5000,
		At:          time.Now().UTC(),
	})

	err := waitStop(t, errCh)
	if err == nil || !strings.Contains(err.Error(), "unhedged fill on "+testSymbol) {
		t.Fatalf("expected unhedged error, got %v", err)
	}
	if got := coord.Status().State; got != arb.StateUnhedgedFatal {
		t.Fatalf("expected UNHEDGED_FATAL, got %s", got)
	}
	snapshot := loadSnapshot(t, f.store)
	if snapshot.State != string(arb.StateUnhedgedFatal) {
		t.Fatalf("expected UNHEDGED_FATAL snapshot, got %s", snapshot.State)
	}
	if !strings.Contains(snapshot.LastHedgeError, "rpc down") {
		t.Fatalf("expected hedge error in snapshot, got %q", snapshot.LastHedgeError)
	}
	if snapshot.FilledQty != 5000 || snapshot.FilledAvgPrice != 0.02 {
		t.Fatalf("expected fill in snapshot, got qty=%f avg=%f", snapshot.FilledQty, snapshot.FilledAvgPrice)
	}
	if !f.alerts.contains("UNHEDGED POSITION") {
		t.Fatalf("expected unhedged alert")
	}
}

func TestRestartRefusesUnhedgedSnapshot(t *testing.T) {
	f := newCoordFixture()
	err := state.SaveCycleSnapshot(context.Background(), f.store, state.CycleSnapshot{
		State:          string(arb.StateUnhedgedFatal),
		Symbol:         testSymbol,
		FilledQty:      5000,
		FilledAvgPrice: 0.02,
		LastHedgeError: "unable to execute hedge: rpc down",
	})
	if err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
	_, cancel, errCh := f.start(t)
	defer cancel()

	runErr := waitStop(t, errCh)
	if runErr == nil || !strings.Contains(runErr.Error(), "refusing to start") {
		t.Fatalf("expected refusal, got %v", runErr)
	}
	if got := f.executor.placedCount(); got != 0 {
		t.Fatalf("expected no placements, got %d", got)
	}
	if !f.alerts.contains("UNHEDGED") {
		t.Fatalf("expected unhedged alert on refusal")
	}
}

func TestRestartRefusesInflightHedgeSnapshot(t *testing.T) {
	f := newCoordFixture()
	err := state.SaveCycleSnapshot(context.Background(), f.store, state.CycleSnapshot{
		State:          string(arb.StateHedging),
		Symbol:         testSymbol,
		FilledQty:      5000,
		FilledAvgPrice: 0.02,
	})
	if err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
	_, cancel, errCh := f.start(t)
	defer cancel()

	runErr := waitStop(t, errCh)
	if runErr == nil || !strings.Contains(runErr.Error(), "outcome unknown") {
		t.Fatalf("expected in-flight refusal, got %v", runErr)
	}
}

func TestRestartResumesPendingHedge(t *testing.T) {
	f := newCoordFixture()
	err := state.SaveCycleSnapshot(context.Background(), f.store, state.CycleSnapshot{
		State:          string(arb.StateFilled),
		Symbol:         testSymbol,
		OrderID:        "old-9",
		FilledQty:      5000,
		FilledAvgPrice: 0.02,
	})
	if err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
	coord, cancel, errCh := f.start(t)
	defer cancel()

	waitFor(t, func() bool { return coord.Status().State == arb.StateQuoted }, "fresh quote after resumed hedge")
	if got := f.hedger.requestCount(); got != 1 {
		t.Fatalf("expected resumed hedge, got %d requests", got)
	}
	if req := f.hedger.requestAt(0); req.InAmount.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("expected hedge input 100000000, got %s", req.InAmount)
	}
	if !f.alerts.contains("Hedged") {
		t.Fatalf("expected hedge settled alert")
	}

	cancel()
	if err := waitStop(t, errCh); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRequoteUsesStoredReference(t *testing.T) {
	f := newCoordFixture()
	// Snapshot reference deliberately differs from what the limit implies:
	// only the stored value may drive live requotes.
	err := state.SaveCycleSnapshot(context.Background(), f.store, state.CycleSnapshot{
		State:          string(arb.StateQuoted),
		Symbol:         testSymbol,
		OrderID:        "keep-1",
		LimitPrice:     0.0202,
		Quantity:       5000,
		ReferencePrice: 0.0205,
	})
	if err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
	f.venue.open = []arb.OpenOrder{
		{Symbol: testSymbol, OrderID: "keep-1", Price: 0.0202, OrigQty: 5000, Side: "SELL"},
	}
	coord, cancel, errCh := f.start(t)
	defer cancel()

	waitFor(t, func() bool { return coord.Status().Resting.OrderID == "keep-1" }, "order adopted")
	if ref := coord.Status().Resting.ReferencePrice; ref != 0.0205 {
		t.Fatalf("expected stored reference 0.0205, got %.6f", ref)
	}

	// 0.49% from the stored reference: below threshold, even though the
	// market is above the limit.
	f.prices.tick(0.0204)
	// 4.9% from the stored reference: requote.
	f.prices.tick(0.0215)

	waitFor(t, func() bool { return f.executor.requotedCount() == 1 }, "requote on drift")
	requote := f.executor.requotedAt(0)
	if requote.MarketPrice != 0.0215 {
		t.Fatalf("expected requote at 0.0215, got %.6f", requote.MarketPrice)
	}
	if got := coord.Status().Resting.ReferencePrice; got != 0.0215 {
		t.Fatalf("expected reference moved to 0.0215, got %.6f", got)
	}

	cancel()
	if err := waitStop(t, errCh); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRequoteReplacedWhenOrderGone(t *testing.T) {
	f := newCoordFixture()
	coord, cancel, errCh := f.start(t)
	defer cancel()

	waitFor(t, func() bool { return coord.Status().State == arb.StateQuoted }, "quote placed")
	f.executor.mu.Lock()
	f.executor.requoteErr = fmt.Errorf("requote: %w", exec.ErrOrderGone)
	f.executor.mu.Unlock()

	f.prices.tick(0.0215)
	waitFor(t, func() bool { return coord.Status().State == arb.StateIdle }, "cycle reset after lost order")

	f.executor.mu.Lock()
	f.executor.requoteErr = nil
	f.executor.mu.Unlock()
	f.prices.tick(0.0215)
	waitFor(t, func() bool { return f.executor.placedCount() == 2 }, "replacement placed")
	if got := coord.Status().State; got != arb.StateQuoted {
		t.Fatalf("expected QUOTED after replacement, got %s", got)
	}

	cancel()
	if err := waitStop(t, errCh); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStartupAdoptsHeldOrder(t *testing.T) {
	f := newCoordFixture()
	f.venue.open = []arb.OpenOrder{
		{Symbol: testSymbol, OrderID: "keep-1", Price: 0.0202, OrigQty: 5000, Side: "SELL"},
	}
	coord, cancel, errCh := f.start(t)
	defer cancel()

	waitFor(t, func() bool { return coord.Status().State == arb.StateQuoted }, "order adopted")
	status := coord.Status()
	if status.Resting.OrderID != "keep-1" {
		t.Fatalf("expected keep-1 adopted, got %s", status.Resting.OrderID)
	}
	if derived := 0.0202 / 1.01; math.Abs(status.Resting.ReferencePrice-derived) > 1e-9 {
		t.Fatalf("expected derived reference %.8f, got %.8f", derived, status.Resting.ReferencePrice)
	}
	if got := f.executor.placedCount(); got != 0 {
		t.Fatalf("expected no placements, got %d", got)
	}
	if got := f.fills.trackedCount(); got != 1 {
		t.Fatalf("expected adopted order tracked, got %d", got)
	}
	if snapshot := loadSnapshot(t, f.store); snapshot.State != string(arb.StateQuoted) || snapshot.OrderID != "keep-1" {
		t.Fatalf("unexpected snapshot: state=%s order=%s", snapshot.State, snapshot.OrderID)
	}

	cancel()
	if err := waitStop(t, errCh); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStartupCancelsExtraOrders(t *testing.T) {
	f := newCoordFixture()
	err := state.SaveCycleSnapshot(context.Background(), f.store, state.CycleSnapshot{
		State:          string(arb.StateQuoted),
		Symbol:         testSymbol,
		OrderID:        "keep-1",
		LimitPrice:     0.0202,
		Quantity:       5000,
		ReferencePrice: 0.02,
	})
	if err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
	f.venue.open = []arb.OpenOrder{
		{Symbol: testSymbol, OrderID: "extra-2", Price: 0.19, OrigQty: 100, Side: "SELL"},
		{Symbol: testSymbol, OrderID: "keep-1", Price: 0.0202, OrigQty: 5000, Side: "SELL"},
		{Symbol: testSymbol, OrderID: "extra-3", Price: 0.01, OrigQty: 100, Side: "BUY"},
	}
	coord, cancel, errCh := f.start(t)
	defer cancel()

	waitFor(t, func() bool { return coord.Status().State == arb.StateQuoted }, "snapshot order adopted")
	status := coord.Status()
	if status.Resting.OrderID != "keep-1" {
		t.Fatalf("expected keep-1 kept, got %s", status.Resting.OrderID)
	}
	if status.Resting.ReferencePrice != 0.02 {
		t.Fatalf("expected stored reference preserved, got %.6f", status.Resting.ReferencePrice)
	}
	cancelled := f.executor.cancelledIDs()
	if len(cancelled) != 2 || cancelled[0] != "extra-2" || cancelled[1] != "extra-3" {
		t.Fatalf("expected extras cancelled, got %v", cancelled)
	}

	cancel()
	if err := waitStop(t, errCh); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStartupReplacesStaleOrder(t *testing.T) {
	f := newCoordFixture()
	f.venue.open = []arb.OpenOrder{
		{Symbol: testSymbol, OrderID: "stale-1", Price: 0.03, OrigQty: 3333, Side: "SELL"},
	}
	coord, cancel, errCh := f.start(t)
	defer cancel()

	waitFor(t, func() bool { return coord.Status().State == arb.StateQuoted }, "replacement placed")
	if got := coord.Status().Resting.OrderID; got == "stale-1" {
		t.Fatalf("expected stale order replaced")
	}
	cancelled := f.executor.cancelledIDs()
	if len(cancelled) != 1 || cancelled[0] != "stale-1" {
		t.Fatalf("expected stale-1 cancelled, got %v", cancelled)
	}
	if got := f.executor.placedCount(); got != 1 {
		t.Fatalf("expected 1 placement, got %d", got)
	}

	cancel()
	if err := waitStop(t, errCh); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStartupResolvesMissedFill(t *testing.T) {
	f := newCoordFixture()
	err := state.SaveCycleSnapshot(context.Background(), f.store, state.CycleSnapshot{
		State:          string(arb.StateQuoted),
		Symbol:         testSymbol,
		OrderID:        "miss-1",
		LimitPrice:     0.0202,
		Quantity:       5000,
		ReferencePrice: 0.02,
	})
	if err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
	f.venue.pollDone = true
	f.venue.pollFill = arb.FillEvent{
		Symbol:      testSymbol,
		OrderID:     "miss-1",
		AvgPrice:    0.02,
		ExecutedQty: 5000,
	}
	coord, cancel, errCh := f.start(t)
	defer cancel()

	waitFor(t, func() bool { return coord.Status().State == arb.StateQuoted }, "fresh quote after missed fill")
	polled := f.venue.polledIDs()
	if len(polled) != 1 || polled[0] != "miss-1" {
		t.Fatalf("expected miss-1 polled, got %v", polled)
	}
	if got := f.hedger.requestCount(); got != 1 {
		t.Fatalf("expected missed fill hedged, got %d requests", got)
	}
	if got := f.executor.placedCount(); got != 1 {
		t.Fatalf("expected fresh placement, got %d", got)
	}

	cancel()
	if err := waitStop(t, errCh); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStartupMissedFillPollFailureFatal(t *testing.T) {
	f := newCoordFixture()
	err := state.SaveCycleSnapshot(context.Background(), f.store, state.CycleSnapshot{
		State:      string(arb.StateQuoted),
		Symbol:     testSymbol,
		OrderID:    "miss-1",
		LimitPrice: 0.0202,
		Quantity:   5000,
	})
	if err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
	f.venue.pollErr = errors.New("status api down")
	_, cancel, errCh := f.start(t)
	defer cancel()

	runErr := waitStop(t, errCh)
	if runErr == nil || !strings.Contains(runErr.Error(), "resolve order miss-1") {
		t.Fatalf("expected resolve failure, got %v", runErr)
	}
	if got := f.executor.placedCount(); got != 0 {
		t.Fatalf("expected no placements over an unresolved fill, got %d", got)
	}
}

func TestStartupGoneOrderAssumedCancelled(t *testing.T) {
	f := newCoordFixture()
	err := state.SaveCycleSnapshot(context.Background(), f.store, state.CycleSnapshot{
		State:      string(arb.StateQuoted),
		Symbol:     testSymbol,
		OrderID:    "miss-1",
		LimitPrice: 0.0202,
		Quantity:   5000,
	})
	if err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
	coord, cancel, errCh := f.start(t)
	defer cancel()

	waitFor(t, func() bool { return coord.Status().State == arb.StateQuoted }, "fresh quote placed")
	if got := coord.Status().Resting.OrderID; got != "ord-1" {
		t.Fatalf("expected fresh order, got %s", got)
	}
	if got := f.hedger.requestCount(); got != 0 {
		t.Fatalf("expected no hedge, got %d requests", got)
	}

	cancel()
	if err := waitStop(t, errCh); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNoHedgeModeSettlesWithoutSwap(t *testing.T) {
	f := newCoordFixture()
	f.cfg.NoHedge = true
	f.cfg.Hedger = nil
	coord, cancel, errCh := f.start(t)
	defer cancel()

	waitFor(t, func() bool { return coord.Status().State == arb.StateQuoted }, "quote placed")
	order, _ := f.fills.lastTracked()
	f.fills.push(arb.FillEvent{
		Symbol:      testSymbol,
		OrderID:     order.OrderID,
		AvgPrice:    0.02,
		ExecutedQty: 5000,
		At:          time.Now().UTC(),
	})

	waitFor(t, func() bool { return coord.Status().State == arb.StateIdle }, "cycle reset without hedge")
	if got := f.hedger.requestCount(); got != 0 {
		t.Fatalf("expected no hedge requests, got %d", got)
	}

	cancel()
	if err := waitStop(t, errCh); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPauseDefersPlacementButNotRequotes(t *testing.T) {
	f := newCoordFixture()
	coord := NewCoordinator(f.cfg)
	coord.SetPaused(true)
	_, cancel, errCh := startCoordinator(t, coord)
	defer cancel()

	f.prices.tick(0.02)
	time.Sleep(50 * time.Millisecond)
	if got := f.executor.placedCount(); got != 0 {
		t.Fatalf("expected no placements while paused, got %d", got)
	}

	coord.SetPaused(false)
	f.prices.tick(0.02)
	waitFor(t, func() bool { return coord.Status().State == arb.StateQuoted }, "quote placed after resume")

	coord.SetPaused(true)
	f.prices.tick(0.0215)
	waitFor(t, func() bool { return f.executor.requotedCount() == 1 }, "requote while paused")

	cancel()
	if err := waitStop(t, errCh); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStagedParamsApplyAtCycleBoundary(t *testing.T) {
	f := newCoordFixture()
	coord, cancel, errCh := f.start(t)
	defer cancel()

	waitFor(t, func() bool { return coord.Status().State == arb.StateQuoted }, "quote placed")
	staged := arb.Parameters{
		USDNotional:             200,
		MarkupPercent:           1.0,
		RequoteThresholdPercent: 0.5,
		MaxSlippagePercent:      0.25,
	}
	coord.StageParams(staged, false)
	if got := coord.Status().Params.USDNotional; got != 100 {
		t.Fatalf("expected staged params not yet live, got notional %f", got)
	}

	order, _ := f.fills.lastTracked()
	f.fills.push(arb.FillEvent{
		Symbol:      testSymbol,
		OrderID:     order.OrderID,
		AvgPrice:    0.02,
		ExecutedQty: 5000,
		At:          time.Now().UTC(),
	})
	waitFor(t, func() bool { return coord.Status().Params.USDNotional == 200 }, "params adopted at boundary")

	f.prices.tick(0.02)
	waitFor(t, func() bool { return f.executor.placedCount() == 2 }, "next quote placed")
	if first, second := f.executor.placedAt(0).Quantity, f.executor.placedAt(1).Quantity; second <= first*1.9 {
		t.Fatalf("expected doubled quantity, got %f then %f", first, second)
	}

	cancel()
	if err := waitStop(t, errCh); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestOneShotStopsAfterSettle(t *testing.T) {
	f := newCoordFixture()
	f.cfg.Continuous = false
	coord, cancel, errCh := f.start(t)
	defer cancel()

	waitFor(t, func() bool { return coord.Status().State == arb.StateQuoted }, "quote placed")
	order, _ := f.fills.lastTracked()
	f.fills.push(arb.FillEvent{
		Symbol:      testSymbol,
		OrderID:     order.OrderID,
		AvgPrice:    0.02,
		ExecutedQty: 5000,
		At:          time.Now().UTC(),
	})

	if err := waitStop(t, errCh); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
	if got := coord.Status().State; got != arb.StateSettled {
		t.Fatalf("expected SETTLED, got %s", got)
	}
}

func TestFillOutsideQuotedIgnored(t *testing.T) {
	f := newCoordFixture()
	coord := NewCoordinator(f.cfg)
	coord.SetPaused(true)
	_, cancel, errCh := startCoordinator(t, coord)
	defer cancel()

	f.fills.push(arb.FillEvent{
		Symbol:      testSymbol,
		OrderID:     "ghost-1",
		AvgPrice:    0.02,
		ExecutedQty: 5000,
		At:          time.Now().UTC(),
	})
	time.Sleep(50 * time.Millisecond)
	if got := f.hedger.requestCount(); got != 0 {
		t.Fatalf("expected stray fill ignored, got %d hedges", got)
	}
	if got := coord.Status().State; got != arb.StateIdle {
		t.Fatalf("expected IDLE, got %s", got)
	}

	coord.SetPaused(false)
	f.prices.tick(0.02)
	waitFor(t, func() bool { return coord.Status().State == arb.StateQuoted }, "cycle still functional")

	cancel()
	if err := waitStop(t, errCh); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSymbolFiltersErrorFatal(t *testing.T) {
	f := newCoordFixture()
	f.venue.filtersErr = errors.New("exchange info down")
	_, cancel, errCh := f.start(t)
	defer cancel()

	runErr := waitStop(t, errCh)
	if runErr == nil || !strings.Contains(runErr.Error(), "load symbol filters") {
		t.Fatalf("expected filters failure, got %v", runErr)
	}
}
