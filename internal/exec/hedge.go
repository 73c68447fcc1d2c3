package exec

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"markup-arb-bot/internal/arb"

	"go.uber.org/zap"
)

// quoteInputTolerancePercent bounds how far the quoted input amount may
// drift from the requested amount before the hedge logs a warning.
const quoteInputTolerancePercent = 5

// SwapGateway prices and settles a DEX buy-back. Execute consumes the quote
// returned by Quote, including any provider transaction payload.
type SwapGateway interface {
	Provider() string
	Quote(ctx context.Context, req arb.SwapRequest) (arb.SwapQuote, error)
	Execute(ctx context.Context, quote arb.SwapQuote) (arb.SwapResult, error)
}

// HedgeExecutor runs the two-phase hedge: quote the route, then execute it.
// Each phase retries with exponential backoff. Once started a hedge is not
// cancellable; callers hand it a context that survives shutdown.
type HedgeExecutor struct {
	gateway  SwapGateway
	attempts int
	backoff  time.Duration
	log      *zap.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewHedgeExecutor(gateway SwapGateway, attempts int, backoff time.Duration, log *zap.Logger) *HedgeExecutor {
	if attempts <= 0 {
		attempts = 3
	}
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &HedgeExecutor{
		gateway:  gateway,
		attempts: attempts,
		backoff:  backoff,
		log:      log,
		sleep:    sleepCtx,
	}
}

// Hedge returns the settled swap and the total number of gateway calls
// made across both phases.
func (h *HedgeExecutor) Hedge(ctx context.Context, req arb.SwapRequest) (arb.SwapResult, int, error) {
	calls := 0
	var quote arb.SwapQuote
	err := h.withRetry(ctx, "quote", func(attempt int) error {
		calls++
		var err error
		quote, err = h.gateway.Quote(ctx, req)
		if err != nil {
			return err
		}
		if quote.InAmount == nil || quote.InAmount.Sign() <= 0 ||
			quote.OutAmount == nil || quote.OutAmount.Sign() <= 0 {
			return errors.New("gateway returned an empty quote")
		}
		return nil
	})
	if err != nil {
		return arb.SwapResult{}, calls, fmt.Errorf("unable to quote hedge: %w", err)
	}
	h.log.Info("hedge quoted",
		zap.String("provider", h.gateway.Provider()),
		zap.String("in_amount", quote.InAmount.String()),
		zap.String("out_amount", quote.OutAmount.String()),
	)
	// The route may not absorb the full requested amount. A large deviation
	// is worth an operator's attention but never blocks the buy-back.
	if exceedsTolerance(req.InAmount, quote.InAmount, quoteInputTolerancePercent) {
		h.log.Warn("quoted input amount deviates from request",
			zap.String("provider", h.gateway.Provider()),
			zap.String("requested_in", req.InAmount.String()),
			zap.String("quoted_in", quote.InAmount.String()),
		)
	}
	var result arb.SwapResult
	err = h.withRetry(ctx, "execute", func(attempt int) error {
		calls++
		var err error
		result, err = h.gateway.Execute(ctx, quote)
		return err
	})
	if err != nil {
		return arb.SwapResult{}, calls, fmt.Errorf("unable to execute hedge: %w", err)
	}
	if result.Provider == "" {
		result.Provider = h.gateway.Provider()
	}
	if result.InAmount == nil {
		result.InAmount = quote.InAmount
	}
	if result.OutAmount == nil {
		result.OutAmount = quote.OutAmount
	}
	return result, calls, nil
}

func (h *HedgeExecutor) withRetry(ctx context.Context, phase string, fn func(attempt int) error) error {
	var last error
	for attempt := 1; attempt <= h.attempts; attempt++ {
		last = fn(attempt)
		if last == nil {
			return nil
		}
		h.log.Warn("hedge phase failed",
			zap.String("phase", phase),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", h.attempts),
			zap.Error(last),
		)
		if attempt == h.attempts {
			break
		}
		if err := h.sleep(ctx, h.backoff<<(attempt-1)); err != nil {
			return err
		}
	}
	return last
}

// exceedsTolerance reports whether quoted differs from requested by strictly
// more than tolerancePercent. Integer math keeps the boundary exact.
func exceedsTolerance(requested, quoted *big.Int, tolerancePercent int64) bool {
	if requested == nil || requested.Sign() <= 0 || quoted == nil {
		return false
	}
	diff := new(big.Int).Sub(quoted, requested)
	diff.Abs(diff)
	lhs := new(big.Int).Mul(diff, big.NewInt(100))
	rhs := new(big.Int).Mul(requested, big.NewInt(tolerancePercent))
	return lhs.Cmp(rhs) > 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
