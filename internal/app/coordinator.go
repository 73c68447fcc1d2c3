package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"markup-arb-bot/internal/arb"
	"markup-arb-bot/internal/exec"
	"markup-arb-bot/internal/journal"
	"markup-arb-bot/internal/market"
	"markup-arb-bot/internal/metrics"
	"markup-arb-bot/internal/state"
)

// OrderExecutor maintains the resting limit sell on the CEX.
type OrderExecutor interface {
	PlaceLimitSell(ctx context.Context, quote arb.Quote, clientOrderID string) (arb.RestingOrder, error)
	Requote(ctx context.Context, current arb.RestingOrder, quote arb.Quote, clientOrderID string) (arb.RestingOrder, error)
	Cancel(ctx context.Context, order arb.RestingOrder) error
}

// FillTracker resolves the tracked order to its terminal fill.
type FillTracker interface {
	Track(order arb.RestingOrder)
	Untrack()
	Events() <-chan arb.FillEvent
}

// Hedger buys back a filled notional on the DEX leg.
type Hedger interface {
	Hedge(ctx context.Context, req arb.SwapRequest) (arb.SwapResult, int, error)
}

// PriceStream delivers conflated market prices for the traded symbol.
type PriceStream interface {
	Ticks() <-chan arb.PriceTick
	Price(ctx context.Context) (float64, error)
}

// VenueReader is the read-only venue surface used to reconcile venue
// reality with the persisted cycle at startup.
type VenueReader interface {
	SymbolFilters(ctx context.Context, symbol string) (arb.SymbolFilters, error)
	OpenOrders(ctx context.Context, symbol string) ([]arb.OpenOrder, error)
	PollFill(ctx context.Context, symbol, orderID string) (arb.FillEvent, bool, error)
}

// Alerter pushes operator-facing notifications.
type Alerter interface {
	Send(ctx context.Context, message string) error
}

type CoordinatorConfig struct {
	Market     market.Market
	Params     arb.Parameters
	NoHedge    bool
	Continuous bool

	Executor OrderExecutor
	Fills    FillTracker
	Hedger   Hedger
	Prices   PriceStream
	Venue    VenueReader

	Store   state.Store
	Journal *journal.Writer
	Metrics *metrics.Metrics
	Alerts  Alerter
	Log     *zap.Logger
}

type stagedParams struct {
	params  arb.Parameters
	noHedge bool
}

// Coordinator drives the trading cycle for one market: keep a marked-up
// limit sell resting on the CEX, requote it as the price moves, and hedge
// the filled notional with a DEX buy-back the moment it executes. Every
// state transition is persisted before the next action so a restart can
// resume or refuse safely.
type Coordinator struct {
	symbol     string
	market     market.Market
	continuous bool

	executor OrderExecutor
	fills    FillTracker
	hedger   Hedger
	prices   PriceStream
	venue    VenueReader

	store   state.Store
	journal *journal.Writer
	metrics *metrics.Metrics
	alerts  Alerter
	log     *zap.Logger

	machine *arb.StateMachine

	mu            sync.RWMutex
	params        arb.Parameters
	noHedge       bool
	staged        *stagedParams
	paused        bool
	resting       arb.RestingOrder
	filters       arb.SymbolFilters
	lastFill      arb.FillEvent
	lastHedgeErr  string
	stop          context.CancelFunc
	stopRequested bool
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	counters := cfg.Metrics
	if counters == nil {
		counters = metrics.NewNoop()
	}
	params := cfg.Params
	params.Symbol = cfg.Market.Symbol
	return &Coordinator{
		symbol:     cfg.Market.Symbol,
		market:     cfg.Market,
		continuous: cfg.Continuous,
		executor:   cfg.Executor,
		fills:      cfg.Fills,
		hedger:     cfg.Hedger,
		prices:     cfg.Prices,
		venue:      cfg.Venue,
		store:      cfg.Store,
		journal:    cfg.Journal,
		metrics:    counters,
		alerts:     cfg.Alerts,
		log:        log,
		machine:    arb.NewStateMachine(),
		params:     params,
		noHedge:    cfg.NoHedge,
	}
}

// Run restores the persisted cycle, reconciles it against the venue, and
// then processes price ticks and fills until the context is cancelled, the
// cycle settles in one-shot mode, or a fill cannot be hedged.
func (c *Coordinator) Run(ctx context.Context) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	c.mu.Lock()
	c.stop = stop
	c.mu.Unlock()

	if err := c.restore(runCtx); err != nil {
		return err
	}
	if c.machine.Current() == arb.StateFilled {
		// The last run stopped between the fill and its hedge. Settle it
		// before taking on new exposure.
		if err := c.settleFill(runCtx, c.currentFill()); err != nil {
			return err
		}
		if c.stopWasRequested() {
			return nil
		}
	}
	if err := c.startCycle(runCtx); err != nil {
		return err
	}

	err := c.eventLoop(runCtx)
	if errors.Is(err, context.Canceled) && c.stopWasRequested() && ctx.Err() == nil {
		return nil
	}
	return err
}

func (c *Coordinator) eventLoop(ctx context.Context) error {
	ticks := c.prices.Ticks()
	fills := c.fills.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick := <-ticks:
			c.onTick(ctx, tick)
		case fill := <-fills:
			if err := c.onFill(ctx, fill); err != nil {
				return err
			}
		}
	}
}

// restore loads the cycle persisted by the previous run. Terminal or
// in-flight hedge states refuse to start; a completed fill is carried into
// Run so the hedge can be retried; a resting order is carried into startup
// reconciliation.
func (c *Coordinator) restore(ctx context.Context) error {
	snapshot, ok, err := state.LoadCycleSnapshot(ctx, c.store, c.symbol)
	if err != nil {
		return fmt.Errorf("load cycle snapshot: %w", err)
	}
	if !ok {
		return nil
	}
	switch arb.State(snapshot.State) {
	case arb.StateUnhedgedFatal:
		c.alert(ctx, fmt.Sprintf("UNHEDGED position on %s blocks restart: filled %.8f @ %.8f, last hedge error: %s. Resolve manually and clear the cycle record.",
			c.symbol, snapshot.FilledQty, snapshot.FilledAvgPrice, snapshot.LastHedgeError))
		return fmt.Errorf("refusing to start: unhedged fill on %s recorded at shutdown (filled %.8f @ %.8f)",
			c.symbol, snapshot.FilledQty, snapshot.FilledAvgPrice)
	case arb.StateHedging:
		c.alert(ctx, fmt.Sprintf("Hedge on %s was in flight at shutdown; its outcome is unknown. Verify the swap on chain before restarting.", c.symbol))
		return fmt.Errorf("refusing to start: hedge on %s was in flight at shutdown, outcome unknown", c.symbol)
	case arb.StateFilled:
		c.machine.SetState(arb.StateFilled)
		c.mu.Lock()
		c.lastFill = arb.FillEvent{
			Symbol:      snapshot.Symbol,
			OrderID:     snapshot.OrderID,
			AvgPrice:    snapshot.FilledAvgPrice,
			ExecutedQty: snapshot.FilledQty,
			At:          time.UnixMilli(snapshot.UpdatedAtMS).UTC(),
		}
		c.mu.Unlock()
		c.log.Info("restored unhedged fill",
			zap.String("order_id", snapshot.OrderID),
			zap.Float64("qty", snapshot.FilledQty),
			zap.Float64("avg_price", snapshot.FilledAvgPrice))
	case arb.StateQuoted:
		c.setResting(arb.RestingOrder{
			Symbol:         snapshot.Symbol,
			OrderID:        snapshot.OrderID,
			LimitPrice:     snapshot.LimitPrice,
			Quantity:       snapshot.Quantity,
			ReferencePrice: snapshot.ReferencePrice,
		})
		c.log.Info("restored resting order for reconciliation", zap.String("order_id", snapshot.OrderID))
	}
	return nil
}

// startCycle brings the venue and the local cycle into agreement. Open
// orders on the venue are authoritative: a recorded order that vanished is
// resolved through the venue before trading resumes, extra orders are
// cancelled down to one, and the survivor is adopted or replaced.
func (c *Coordinator) startCycle(ctx context.Context) error {
	c.adoptStagedParams()

	filters, err := c.venue.SymbolFilters(ctx, c.symbol)
	if err != nil {
		return fmt.Errorf("load symbol filters: %w", err)
	}
	c.setFilters(filters)

	price, err := c.prices.Price(ctx)
	if err != nil {
		return fmt.Errorf("initial price for %s: %w", c.symbol, err)
	}

	open, err := c.venue.OpenOrders(ctx, c.symbol)
	if err != nil {
		return fmt.Errorf("list open orders: %w", err)
	}

	restored := c.restingOrder()
	if restored.OrderID != "" && !containsOrder(open, restored.OrderID) {
		c.clearResting()
		if err := c.resolveRestoredOrder(ctx, restored); err != nil {
			return err
		}
	}
	if c.machine.Current() != arb.StateIdle {
		// A missed fill settled in one-shot mode; nothing left to start.
		return nil
	}

	if len(open) == 0 {
		if c.IsPaused() {
			return nil
		}
		if err := c.placeQuote(ctx, price); err != nil {
			c.metrics.TransientErrors.Inc()
			c.log.Warn("initial quote failed, retrying on next tick", zap.Error(err))
		}
		return nil
	}

	candidate := pickCandidate(open, restored.OrderID)
	for _, order := range open {
		if order.OrderID == candidate.OrderID {
			continue
		}
		if err := c.executor.Cancel(ctx, arb.RestingOrder{Symbol: c.symbol, OrderID: order.OrderID}); err != nil {
			return fmt.Errorf("cancel extra order %s: %w", order.OrderID, err)
		}
		c.metrics.OrdersCancelled.Inc()
		c.log.Warn("cancelled extra open order", zap.String("order_id", order.OrderID))
	}

	adopted := arb.RestingOrder{
		Symbol:        c.symbol,
		OrderID:       candidate.OrderID,
		ClientOrderID: candidate.ClientOrderID,
		LimitPrice:    candidate.Price,
		Quantity:      candidate.OrigQty,
	}
	if restored.OrderID == candidate.OrderID {
		adopted.ReferencePrice = restored.ReferencePrice
		adopted.PlacedAt = restored.PlacedAt
	}

	decision := arb.EvaluateReconcile(c.currentParams(), adopted, price)
	if decision.Action == arb.ActionHold {
		if adopted.ReferencePrice <= 0 {
			adopted.ReferencePrice = decision.ReferencePrice
		}
		c.setResting(adopted)
		c.fills.Track(adopted)
		c.transition(ctx, arb.EventQuote, "adopted existing order")
		c.log.Info("adopted existing order",
			zap.String("order_id", adopted.OrderID),
			zap.Float64("limit", adopted.LimitPrice),
			zap.Float64("ref", adopted.ReferencePrice))
		return nil
	}

	if err := c.executor.Cancel(ctx, adopted); err != nil {
		return fmt.Errorf("cancel stale order %s: %w", adopted.OrderID, err)
	}
	c.metrics.OrdersCancelled.Inc()
	c.clearResting()
	c.log.Info("replacing stale order",
		zap.String("order_id", adopted.OrderID),
		zap.String("reason", decision.Reason),
		zap.Float64("drift_pct", decision.DriftPercent))
	if c.IsPaused() {
		return nil
	}
	if err := c.placeQuote(ctx, price); err != nil {
		c.metrics.TransientErrors.Inc()
		c.log.Warn("replacement quote failed, retrying on next tick", zap.Error(err))
	}
	return nil
}

// resolveRestoredOrder settles the fate of a recorded order the venue no
// longer lists: it either filled while the bot was down or was cancelled
// externally. Trading does not resume until the venue answers.
func (c *Coordinator) resolveRestoredOrder(ctx context.Context, restored arb.RestingOrder) error {
	fill, done, err := c.venue.PollFill(ctx, c.symbol, restored.OrderID)
	if err != nil {
		return fmt.Errorf("resolve order %s recorded before restart: %w", restored.OrderID, err)
	}
	if !done {
		c.log.Warn("recorded order is gone without a fill, assuming cancelled", zap.String("order_id", restored.OrderID))
		c.persist(ctx, arb.StateIdle)
		return nil
	}
	if fill.At.IsZero() {
		fill.At = time.Now().UTC()
	}
	c.log.Warn("recorded order filled while offline",
		zap.String("order_id", restored.OrderID),
		zap.Float64("avg_price", fill.AvgPrice),
		zap.Float64("qty", fill.ExecutedQty))
	c.machine.SetState(arb.StateQuoted)
	return c.onFill(ctx, fill)
}

func (c *Coordinator) onTick(ctx context.Context, tick arb.PriceTick) {
	switch c.machine.Current() {
	case arb.StateIdle:
		if c.IsPaused() {
			return
		}
		c.adoptStagedParams()
		if err := c.placeQuote(ctx, tick.Price); err != nil {
			c.metrics.TransientErrors.Inc()
			c.log.Warn("quote placement failed", zap.Error(err))
		}
	case arb.StateQuoted:
		c.maybeRequote(ctx, tick.Price)
	}
}

func (c *Coordinator) placeQuote(ctx context.Context, price float64) error {
	quote, err := arb.BuildQuote(c.currentParams(), price, c.currentFilters())
	if err != nil {
		return err
	}
	if quote.BelowMinimums(c.currentFilters()) {
		c.log.Warn("quote below venue minimums",
			zap.Float64("qty", quote.Quantity),
			zap.Float64("limit", quote.LimitPrice))
	}
	order, err := c.executor.PlaceLimitSell(ctx, quote, uuid.NewString())
	if err != nil {
		c.metrics.OrdersFailed.Inc()
		return err
	}
	c.metrics.OrdersPlaced.Inc()
	c.setResting(order)
	c.fills.Track(order)
	c.transition(ctx, arb.EventQuote, fmt.Sprintf("limit %.8f qty %.8f", order.LimitPrice, order.Quantity))
	c.log.Info("quote placed",
		zap.String("order_id", order.OrderID),
		zap.Float64("limit", order.LimitPrice),
		zap.Float64("qty", order.Quantity),
		zap.Float64("ref", order.ReferencePrice))
	return nil
}

// maybeRequote follows the market while an order rests. Drift is measured
// against the reference captured at placement; a failed requote keeps the
// last known good order except when the executor reports it gone.
func (c *Coordinator) maybeRequote(ctx context.Context, price float64) {
	current := c.restingOrder()
	if current.OrderID == "" {
		return
	}
	params := c.currentParams()
	decision := arb.EvaluateRequote(params, current, price)
	if decision.Action != arb.ActionRequote {
		return
	}
	quote, err := arb.BuildQuote(params, price, c.currentFilters())
	if err != nil {
		c.metrics.TransientErrors.Inc()
		c.log.Warn("requote build failed", zap.Error(err))
		return
	}
	if quote.BelowMinimums(c.currentFilters()) {
		c.log.Warn("requote below venue minimums",
			zap.Float64("qty", quote.Quantity),
			zap.Float64("limit", quote.LimitPrice))
	}
	replaced, err := c.executor.Requote(ctx, current, quote, uuid.NewString())
	if err != nil {
		c.metrics.OrdersFailed.Inc()
		if errors.Is(err, exec.ErrOrderGone) {
			c.clearResting()
			c.fills.Untrack()
			c.transition(ctx, arb.EventCancel, "requote cancelled without replacement")
			c.log.Warn("requote lost the resting order, replacing on next tick", zap.Error(err))
			return
		}
		c.metrics.TransientErrors.Inc()
		c.log.Warn("requote failed, keeping resting order",
			zap.String("order_id", current.OrderID),
			zap.Error(err))
		return
	}
	if replaced.OrderID == current.OrderID {
		c.metrics.OrdersModified.Inc()
	} else {
		c.metrics.OrdersCancelled.Inc()
		c.metrics.OrdersPlaced.Inc()
	}
	c.metrics.Requotes.Inc()
	c.setResting(replaced)
	c.fills.Track(replaced)
	c.persist(ctx, arb.StateQuoted)
	c.journalCycle("REQUOTE", arb.StateQuoted, decision.Reason)
	c.log.Info("requoted",
		zap.String("order_id", replaced.OrderID),
		zap.Float64("limit", replaced.LimitPrice),
		zap.Float64("drift_pct", decision.DriftPercent))
}

func (c *Coordinator) onFill(ctx context.Context, fill arb.FillEvent) error {
	if current := c.machine.Current(); current != arb.StateQuoted {
		c.log.Warn("ignoring fill outside QUOTED",
			zap.String("order_id", fill.OrderID),
			zap.String("state", string(current)))
		return nil
	}
	params := c.currentParams()
	c.metrics.Fills.Inc()
	c.clearResting()
	c.fills.Untrack()
	c.rememberFill(fill)
	c.transition(ctx, arb.EventFill, fmt.Sprintf("avg %.8f qty %.8f", fill.AvgPrice, fill.ExecutedQty))
	c.journal.EnqueueFill(journal.FillRecord{
		Time:        fill.At,
		Symbol:      c.symbol,
		OrderID:     fill.OrderID,
		AvgPrice:    fill.AvgPrice,
		ExecutedQty: fill.ExecutedQty,
		USDValue:    fill.USDValue(),
	})
	if arb.FillNeedsReview(fill, params.USDNotional) {
		c.log.Warn("fill value deviates from intended notional",
			zap.Float64("fill_usd", fill.USDValue()),
			zap.Float64("intended_usd", params.USDNotional),
			zap.Float64("discrepancy_pct", arb.FillDiscrepancyPercent(fill, params.USDNotional)))
	}
	c.log.Info("order filled",
		zap.String("order_id", fill.OrderID),
		zap.Float64("avg_price", fill.AvgPrice),
		zap.Float64("qty", fill.ExecutedQty),
		zap.Float64("usd_value", fill.USDValue()))
	return c.settleFill(ctx, fill)
}

// settleFill hedges the fill and completes the cycle. The hedge runs on a
// context that survives shutdown: once committed it is never cancelled,
// only finished or exhausted.
func (c *Coordinator) settleFill(ctx context.Context, fill arb.FillEvent) error {
	if c.noHedgeEnabled() {
		c.transition(ctx, arb.EventSettle, "no-hedge mode")
		c.log.Info("fill settled without hedge", zap.Float64("usd_value", fill.USDValue()))
		return c.finishCycle(ctx)
	}
	c.transition(ctx, arb.EventHedgeStart, "")
	if c.hedger == nil {
		return c.failUnhedged(ctx, fill, 0, errors.New("hedge gateway not configured"))
	}

	params := c.currentParams()
	req := arb.SwapRequest{
		Chain:           c.market.Chain,
		InputAsset:      c.market.InputAsset,
		OutputAsset:     c.market.OutputAsset,
		InAmount:        arb.BaseUnits(fill.USDValue(), c.market.InputDecimals),
		SlippagePercent: params.MaxSlippagePercent,
	}
	hedgeCtx := context.WithoutCancel(ctx)
	result, calls, err := c.hedger.Hedge(hedgeCtx, req)
	for i := 0; i < calls; i++ {
		c.metrics.HedgeAttempts.Inc()
	}
	if err != nil {
		return c.failUnhedged(hedgeCtx, fill, calls, err)
	}
	c.metrics.HedgesSettled.Inc()
	c.journal.EnqueueHedge(journal.HedgeRecord{
		Time:         time.Now().UTC(),
		Symbol:       c.symbol,
		Provider:     result.Provider,
		Success:      true,
		TxRef:        result.TxRef,
		InputAmount:  bigString(result.InAmount),
		OutputAmount: bigString(result.OutAmount),
		Attempts:     calls,
	})
	c.transition(hedgeCtx, arb.EventSettle, "hedge settled "+result.TxRef)
	c.log.Info("hedge settled",
		zap.String("provider", result.Provider),
		zap.String("tx", result.TxRef),
		zap.Int("calls", calls))
	c.alert(hedgeCtx, fmt.Sprintf("Hedged %s fill: %.2f USD bought back via %s (%s)",
		c.symbol, fill.USDValue(), result.Provider, result.TxRef))
	return c.finishCycle(hedgeCtx)
}

func (c *Coordinator) finishCycle(ctx context.Context) error {
	if !c.continuous {
		c.log.Info("cycle settled, stopping")
		c.requestStop()
		return nil
	}
	c.adoptStagedParams()
	c.transition(ctx, arb.EventReset, "")
	return nil
}

// failUnhedged records the terminal unhedged state and returns the error
// that stops the coordinator. The alert carries everything an operator
// needs to hedge by hand.
func (c *Coordinator) failUnhedged(ctx context.Context, fill arb.FillEvent, attempts int, cause error) error {
	c.metrics.HedgesFailed.Inc()
	c.metrics.UnhedgedFatal.Inc()
	c.setLastHedgeError(cause.Error())
	c.transition(ctx, arb.EventHedgeFail, cause.Error())
	c.journal.EnqueueHedge(journal.HedgeRecord{
		Time:     time.Now().UTC(),
		Symbol:   c.symbol,
		Provider: c.market.DEXProvider,
		Success:  false,
		Attempts: attempts,
		Error:    cause.Error(),
	})
	c.log.Error("UNHEDGED fill requires manual intervention",
		zap.String("symbol", c.symbol),
		zap.Float64("filled_qty", fill.ExecutedQty),
		zap.Float64("avg_price", fill.AvgPrice),
		zap.Float64("usd_value", fill.USDValue()),
		zap.Error(cause))
	c.alert(ctx, fmt.Sprintf("UNHEDGED POSITION on %s: filled %.8f @ %.8f (%.2f USD). Hedge failed after %d attempts: %v. Hedge manually; the bot refuses to restart until the cycle record is cleared.",
		c.symbol, fill.ExecutedQty, fill.AvgPrice, fill.USDValue(), attempts, cause))
	return fmt.Errorf("unhedged fill on %s: %w", c.symbol, cause)
}

func (c *Coordinator) transition(ctx context.Context, event arb.Event, detail string) {
	next := c.machine.Apply(event)
	c.persist(ctx, next)
	c.journalCycle(string(event), next, detail)
}

// persist writes the cycle snapshot. Failures are logged, not fatal: the
// venue remains the source of truth at the next startup reconciliation.
func (c *Coordinator) persist(ctx context.Context, current arb.State) {
	c.mu.RLock()
	snapshot := state.CycleSnapshot{
		State:          string(current),
		Symbol:         c.symbol,
		OrderID:        c.resting.OrderID,
		LimitPrice:     c.resting.LimitPrice,
		Quantity:       c.resting.Quantity,
		ReferencePrice: c.resting.ReferencePrice,
		FilledQty:      c.lastFill.ExecutedQty,
		FilledAvgPrice: c.lastFill.AvgPrice,
		LastHedgeError: c.lastHedgeErr,
		UpdatedAtMS:    time.Now().UnixMilli(),
	}
	if snapshot.OrderID == "" {
		snapshot.OrderID = c.lastFill.OrderID
	}
	c.mu.RUnlock()
	if err := state.SaveCycleSnapshot(ctx, c.store, snapshot); err != nil {
		c.log.Warn("cycle snapshot save failed", zap.Error(err))
	}
}

func (c *Coordinator) journalCycle(event string, current arb.State, detail string) {
	order := c.restingOrder()
	c.journal.EnqueueCycle(journal.CycleEvent{
		Time:     time.Now().UTC(),
		Symbol:   c.symbol,
		State:    string(current),
		Event:    event,
		OrderID:  order.OrderID,
		Price:    order.LimitPrice,
		Quantity: order.Quantity,
		Detail:   detail,
	})
}

// StageParams records parameter overrides to adopt at the next cycle
// boundary. The traded symbol cannot change at runtime, and no-hedge mode
// stays on when no hedge gateway was built.
func (c *Coordinator) StageParams(params arb.Parameters, noHedge bool) {
	params.Symbol = c.symbol
	if !noHedge && c.hedger == nil {
		c.log.Warn("cannot disable no-hedge mode without a hedge gateway, keeping it on")
		noHedge = true
	}
	c.mu.Lock()
	c.staged = &stagedParams{params: params, noHedge: noHedge}
	c.mu.Unlock()
	c.log.Info("staged parameter update",
		zap.Float64("usd_notional", params.USDNotional),
		zap.Float64("markup_pct", params.MarkupPercent),
		zap.Bool("no_hedge", noHedge))
}

// StagedParams returns the pending override, if any.
func (c *Coordinator) StagedParams() (arb.Parameters, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.staged == nil {
		return arb.Parameters{}, false, false
	}
	return c.staged.params, c.staged.noHedge, true
}

func (c *Coordinator) adoptStagedParams() {
	c.mu.Lock()
	if c.staged == nil {
		c.mu.Unlock()
		return
	}
	c.params = c.staged.params
	c.noHedge = c.staged.noHedge
	c.staged = nil
	params := c.params
	noHedge := c.noHedge
	c.mu.Unlock()
	c.log.Info("trading parameters updated",
		zap.Float64("usd_notional", params.USDNotional),
		zap.Float64("markup_pct", params.MarkupPercent),
		zap.Float64("requote_threshold_pct", params.RequoteThresholdPercent),
		zap.Float64("max_slippage_pct", params.MaxSlippagePercent),
		zap.Bool("no_hedge", noHedge))
}

// SetPaused defers new quote placement. A resting order keeps requoting
// and an in-flight hedge always completes.
func (c *Coordinator) SetPaused(paused bool) {
	c.mu.Lock()
	c.paused = paused
	c.mu.Unlock()
}

func (c *Coordinator) IsPaused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

// HedgeConfigured reports whether a DEX gateway is wired in.
func (c *Coordinator) HedgeConfigured() bool {
	return c.hedger != nil
}

type CycleStatus struct {
	Symbol     string
	State      arb.State
	Paused     bool
	Continuous bool
	NoHedge    bool
	Params     arb.Parameters
	Staged     bool
	Resting    arb.RestingOrder
	LastFill   arb.FillEvent
}

func (c *Coordinator) Status() CycleStatus {
	current := c.machine.Current()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CycleStatus{
		Symbol:     c.symbol,
		State:      current,
		Paused:     c.paused,
		Continuous: c.continuous,
		NoHedge:    c.noHedge,
		Params:     c.params,
		Staged:     c.staged != nil,
		Resting:    c.resting,
		LastFill:   c.lastFill,
	}
}

func (c *Coordinator) alert(ctx context.Context, message string) {
	if c.alerts == nil {
		return
	}
	if err := c.alerts.Send(ctx, message); err != nil {
		c.log.Warn("alert send failed", zap.Error(err))
	}
}

func (c *Coordinator) currentParams() arb.Parameters {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.params
}

func (c *Coordinator) noHedgeEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.noHedge
}

func (c *Coordinator) restingOrder() arb.RestingOrder {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resting
}

func (c *Coordinator) setResting(order arb.RestingOrder) {
	c.mu.Lock()
	c.resting = order
	c.mu.Unlock()
}

func (c *Coordinator) clearResting() {
	c.mu.Lock()
	c.resting = arb.RestingOrder{}
	c.mu.Unlock()
}

func (c *Coordinator) setFilters(filters arb.SymbolFilters) {
	c.mu.Lock()
	c.filters = filters
	c.mu.Unlock()
}

func (c *Coordinator) currentFilters() arb.SymbolFilters {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filters
}

func (c *Coordinator) rememberFill(fill arb.FillEvent) {
	c.mu.Lock()
	c.lastFill = fill
	c.mu.Unlock()
}

func (c *Coordinator) currentFill() arb.FillEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastFill
}

func (c *Coordinator) setLastHedgeError(msg string) {
	c.mu.Lock()
	c.lastHedgeErr = msg
	c.mu.Unlock()
}

func (c *Coordinator) requestStop() {
	c.mu.Lock()
	c.stopRequested = true
	stop := c.stop
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (c *Coordinator) stopWasRequested() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stopRequested
}

func containsOrder(open []arb.OpenOrder, orderID string) bool {
	for _, order := range open {
		if order.OrderID == orderID {
			return true
		}
	}
	return false
}

func pickCandidate(open []arb.OpenOrder, restoredID string) arb.OpenOrder {
	if restoredID != "" {
		for _, order := range open {
			if order.OrderID == restoredID {
				return order
			}
		}
	}
	for _, order := range open {
		if strings.EqualFold(order.Side, "SELL") {
			return order
		}
	}
	return open[0]
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
