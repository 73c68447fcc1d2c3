package exec

import (
	"context"
	"sync"
	"testing"
	"time"

	"markup-arb-bot/internal/arb"

	"go.uber.org/zap"
)

type mockFillSource struct {
	mu        sync.Mutex
	pushes    chan arb.FillEvent
	pushErr   error
	pollFill  arb.FillEvent
	pollDone  bool
	pollCalls int
}

func (m *mockFillSource) SubscribeFills(ctx context.Context, symbol string) (<-chan arb.FillEvent, error) {
	_ = ctx
	_ = symbol
	if m.pushErr != nil {
		return nil, m.pushErr
	}
	return m.pushes, nil
}

func (m *mockFillSource) PollFill(ctx context.Context, symbol, orderID string) (arb.FillEvent, bool, error) {
	_ = ctx
	_ = symbol
	_ = orderID
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollCalls++
	return m.pollFill, m.pollDone, nil
}

func (m *mockFillSource) setPoll(fill arb.FillEvent, done bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollFill = fill
	m.pollDone = done
}

func waitForFill(t *testing.T, watcher *FillWatcher) arb.FillEvent {
	t.Helper()
	select {
	case fill := <-watcher.Events():
		return fill
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for fill")
		return arb.FillEvent{}
	}
}

func expectNoFill(t *testing.T, watcher *FillWatcher) {
	t.Helper()
	time.Sleep(20 * time.Millisecond)
	select {
	case fill := <-watcher.Events():
		t.Fatalf("unexpected fill for %s", fill.OrderID)
	default:
	}
}

func TestFillWatcherDeliversPushedFillOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := &mockFillSource{pushes: make(chan arb.FillEvent, 2)}
	watcher := NewFillWatcher(source, "PIPPINUSDT", time.Minute, zap.NewNop())
	watcher.Track(arb.RestingOrder{Symbol: "PIPPINUSDT", OrderID: "oid-1"})
	watcher.Start(ctx)

	source.pushes <- arb.FillEvent{Symbol: "PIPPINUSDT", OrderID: "oid-1", AvgPrice: 0.0206, ExecutedQty: 4854}
	fill := waitForFill(t, watcher)
	if fill.OrderID != "oid-1" {
		t.Fatalf("expected oid-1, got %s", fill.OrderID)
	}
	source.pushes <- arb.FillEvent{Symbol: "PIPPINUSDT", OrderID: "oid-1", AvgPrice: 0.0206, ExecutedQty: 4854}
	expectNoFill(t, watcher)
}

func TestFillWatcherIgnoresOtherOrders(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := &mockFillSource{pushes: make(chan arb.FillEvent, 1)}
	watcher := NewFillWatcher(source, "PIPPINUSDT", time.Minute, zap.NewNop())
	watcher.Track(arb.RestingOrder{Symbol: "PIPPINUSDT", OrderID: "oid-1"})
	watcher.Start(ctx)

	source.pushes <- arb.FillEvent{Symbol: "PIPPINUSDT", OrderID: "oid-9"}
	expectNoFill(t, watcher)
}

func TestFillWatcherPollsWhenPushUnsupported(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := &mockFillSource{pushErr: arb.ErrUnsupported}
	source.setPoll(arb.FillEvent{Symbol: "PIPPIN_USDT", OrderID: "oid-1", AvgPrice: 0.021, ExecutedQty: 4800}, true)
	watcher := NewFillWatcher(source, "PIPPINUSDT", 5*time.Millisecond, zap.NewNop())
	watcher.Track(arb.RestingOrder{Symbol: "PIPPIN_USDT", OrderID: "oid-1"})
	watcher.Start(ctx)

	fill := waitForFill(t, watcher)
	if fill.AvgPrice != 0.021 {
		t.Fatalf("expected avg price 0.021, got %f", fill.AvgPrice)
	}
	expectNoFill(t, watcher)
}

func TestFillWatcherPollWaitsForTerminalFill(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := &mockFillSource{pushErr: arb.ErrUnsupported}
	source.setPoll(arb.FillEvent{}, false)
	watcher := NewFillWatcher(source, "PIPPINUSDT", 5*time.Millisecond, zap.NewNop())
	watcher.Track(arb.RestingOrder{Symbol: "PIPPIN_USDT", OrderID: "oid-1"})
	watcher.Start(ctx)

	expectNoFill(t, watcher)
	source.setPoll(arb.FillEvent{Symbol: "PIPPIN_USDT", OrderID: "oid-1", AvgPrice: 1, ExecutedQty: 1}, true)
	fill := waitForFill(t, watcher)
	if fill.OrderID != "oid-1" {
		t.Fatalf("expected oid-1, got %s", fill.OrderID)
	}
}

func TestFillWatcherRetargetDropsStaleFills(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := &mockFillSource{pushes: make(chan arb.FillEvent, 2)}
	watcher := NewFillWatcher(source, "PIPPINUSDT", time.Minute, zap.NewNop())
	watcher.Track(arb.RestingOrder{Symbol: "PIPPINUSDT", OrderID: "oid-1"})
	watcher.Start(ctx)

	watcher.Track(arb.RestingOrder{Symbol: "PIPPINUSDT", OrderID: "oid-2"})
	source.pushes <- arb.FillEvent{Symbol: "PIPPINUSDT", OrderID: "oid-1"}
	source.pushes <- arb.FillEvent{Symbol: "PIPPINUSDT", OrderID: "oid-2"}
	fill := waitForFill(t, watcher)
	if fill.OrderID != "oid-2" {
		t.Fatalf("expected fill for oid-2, got %s", fill.OrderID)
	}
}
