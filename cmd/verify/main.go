package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"markup-arb-bot/internal/app"
	"markup-arb-bot/internal/arb"
	"markup-arb-bot/internal/config"
	"markup-arb-bot/internal/logging"
	"markup-arb-bot/internal/market"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultVerifyEnvFile = ".env"
	dexProbeNotionalUSD  = 1.0
)

// verify exercises the configured venues without running the bot: it fetches
// the live price and symbol filters, prints the limit sell that would be
// quoted right now, and optionally places-then-cancels that order (-place)
// or requests a small DEX quote for the hedge leg (-dex).
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	symbol := flag.String("symbol", "", "override the configured trading symbol")
	place := flag.Bool("place", false, "place the derived order on the venue, then cancel it")
	dex := flag.Bool("dex", false, "request a small DEX quote for the hedge leg")
	flag.Parse()

	if err := config.LoadEnv(defaultVerifyEnvFile); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if *symbol != "" {
		cfg.Trading.Symbol = strings.ToUpper(strings.TrimSpace(*symbol))
	}

	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	catalog := market.NewCatalog(cfg.Markets)
	mkt, err := catalog.Lookup(cfg.Trading.Symbol)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return probeCEX(groupCtx, cfg, mkt, log, *place)
	})
	if *dex {
		group.Go(func() error {
			return probeDEX(groupCtx, cfg, mkt, log)
		})
	}
	if err := group.Wait(); err != nil {
		fatal(err)
	}
}

func probeCEX(ctx context.Context, cfg *config.Config, mkt market.Market, log *zap.Logger, place bool) error {
	cex, err := app.BuildCEX(cfg, mkt, log)
	if err != nil {
		return err
	}
	price, err := cex.GetPrice(ctx, mkt.Symbol)
	if err != nil {
		return fmt.Errorf("price fetch: %w", err)
	}
	fmt.Printf("cex %s: %s price=%.8f\n", mkt.CEXProvider, mkt.Symbol, price)

	filters, err := cex.SymbolFilters(ctx, mkt.Symbol)
	if err != nil {
		return fmt.Errorf("filters fetch: %w", err)
	}
	fmt.Printf("filters: price_step=%.8f qty_step=%.8f min_qty=%.8f min_notional=%.8f\n",
		filters.PriceStep, filters.QtyStep, filters.MinQty, filters.MinNotional)

	quote, err := arb.BuildQuote(arb.ParamsFromConfig(cfg.Trading), price, filters)
	if err != nil {
		return fmt.Errorf("derive quote: %w", err)
	}
	fmt.Printf("dry-run quote: limit=%.8f qty=%.8f notional=%.2f markup=%.3f%%\n",
		quote.LimitPrice, quote.Quantity, quote.LimitPrice*quote.Quantity, cfg.Trading.MarkupPercent)
	if quote.BelowMinimums(filters) {
		fmt.Println("warning: quote is below the venue minimums")
	}
	if !place {
		return nil
	}

	order, err := cex.PlaceLimitSell(ctx, mkt.Symbol, quote.Quantity, quote.LimitPrice, uuid.NewString())
	if err != nil {
		return fmt.Errorf("place probe order: %w", err)
	}
	fmt.Printf("placed probe order: id=%s limit=%.8f qty=%.8f\n", order.OrderID, order.LimitPrice, order.Quantity)
	if err := cex.CancelOrder(ctx, mkt.Symbol, order.OrderID); err != nil {
		return fmt.Errorf("cancel probe order %s: %w", order.OrderID, err)
	}
	fmt.Printf("cancelled probe order: id=%s\n", order.OrderID)
	return nil
}

func probeDEX(ctx context.Context, cfg *config.Config, mkt market.Market, log *zap.Logger) error {
	gateway, err := app.BuildDEX(cfg, mkt, log)
	if err != nil {
		return err
	}
	req := arb.SwapRequest{
		Chain:           mkt.Chain,
		InputAsset:      mkt.InputAsset,
		OutputAsset:     mkt.OutputAsset,
		InAmount:        arb.BaseUnits(dexProbeNotionalUSD, mkt.InputDecimals),
		SlippagePercent: cfg.Trading.MaxSlippagePercent,
	}
	quote, err := gateway.Quote(ctx, req)
	if err != nil {
		return fmt.Errorf("dex quote: %w", err)
	}
	fmt.Printf("dex %s: in=%s out=%s request_id=%s\n",
		gateway.Provider(), quote.InAmount.String(), quote.OutAmount.String(), quote.RequestID)
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
