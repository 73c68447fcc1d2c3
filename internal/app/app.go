package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"markup-arb-bot/internal/alerts"
	"markup-arb-bot/internal/arb"
	"markup-arb-bot/internal/cex/binance"
	"markup-arb-bot/internal/cex/mexc"
	evmchain "markup-arb-bot/internal/chain/evm"
	solchain "markup-arb-bot/internal/chain/solana"
	"markup-arb-bot/internal/config"
	"markup-arb-bot/internal/dex/jupiter"
	"markup-arb-bot/internal/dex/okx"
	"markup-arb-bot/internal/exec"
	"markup-arb-bot/internal/journal"
	"markup-arb-bot/internal/market"
	"markup-arb-bot/internal/metrics"
	"markup-arb-bot/internal/state"
	"markup-arb-bot/internal/state/sqlite"
)

// CEXGateway is the full venue surface the bot drives: order management,
// fill resolution, prices, and the account operations behind the CLI modes.
// Both venue clients satisfy it.
type CEXGateway interface {
	exec.OrderGateway
	exec.FillSource
	market.PriceSource
	SymbolFilters(ctx context.Context, symbol string) (arb.SymbolFilters, error)
	OpenOrders(ctx context.Context, symbol string) ([]arb.OpenOrder, error)
	CancelAllOrders(ctx context.Context, symbol string) error
	Balances(ctx context.Context) ([]arb.AssetBalance, error)
	Positions(ctx context.Context, symbol string) ([]arb.Position, error)
	MarketClose(ctx context.Context, symbol string, positionQty float64) (string, error)
}

type App struct {
	cfg         *config.Config
	log         *zap.Logger
	store       state.Store
	cex         CEXGateway
	feed        *market.PriceFeed
	watcher     *exec.FillWatcher
	journal     *journal.Writer
	alerts      *alerts.Telegram
	coordinator *Coordinator
	promHandler http.Handler

	operatorWarned bool
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	catalog := market.NewCatalog(cfg.Markets)
	mkt, err := catalog.Lookup(cfg.Trading.Symbol)
	if err != nil {
		return nil, err
	}
	cex, err := BuildCEX(cfg, mkt, log)
	if err != nil {
		return nil, err
	}

	executor := exec.New(cex, store, log)
	fillWatcher := exec.NewFillWatcher(cex, mkt.Symbol, cfg.Trading.FillPollInterval, log)
	feed := market.NewPriceFeed(cex, mkt.Symbol, cfg.Trading.PricePollInterval, log)

	var hedger *exec.HedgeExecutor
	if !cfg.Trading.NoHedgeMode {
		gateway, err := BuildDEX(cfg, mkt, log)
		if err != nil {
			return nil, err
		}
		hedger = exec.NewHedgeExecutor(gateway, cfg.Trading.MaxHedgeAttempts, cfg.Trading.BackoffBase, log)
	}

	counters := metrics.NewNoop()
	var promHandler http.Handler
	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheus()
		counters = prom.Metrics
		promHandler = prom.Handler()
	}

	journalWriter, err := journal.New(cfg.Journal, log)
	if err != nil {
		return nil, err
	}
	alertsClient := alerts.NewTelegram(cfg.Telegram, log)

	ccfg := CoordinatorConfig{
		Market:     mkt,
		Params:     arb.ParamsFromConfig(cfg.Trading),
		NoHedge:    cfg.Trading.NoHedgeMode,
		Continuous: cfg.Trading.ContinuousValue(),
		Executor:   executor,
		Fills:      fillWatcher,
		Prices:     feed,
		Venue:      cex,
		Store:      store,
		Journal:    journalWriter,
		Metrics:    counters,
		Alerts:     alertsClient,
		Log:        log,
	}
	if hedger != nil {
		ccfg.Hedger = hedger
	}

	return &App{
		cfg:         cfg,
		log:         log,
		store:       store,
		cex:         cex,
		feed:        feed,
		watcher:     fillWatcher,
		journal:     journalWriter,
		alerts:      alertsClient,
		coordinator: NewCoordinator(ccfg),
		promHandler: promHandler,
	}, nil
}

// BuildCEX constructs the venue client the market routes to.
func BuildCEX(cfg *config.Config, mkt market.Market, log *zap.Logger) (CEXGateway, error) {
	switch mkt.CEXProvider {
	case config.CEXBinance:
		return binance.New(cfg.Binance, log), nil
	case config.CEXMexc:
		return mexc.New(cfg.Mexc, log), nil
	default:
		return nil, fmt.Errorf("unsupported cex provider %q", mkt.CEXProvider)
	}
}

// BuildDEX constructs the swap gateway and the chain wallet it signs with.
func BuildDEX(cfg *config.Config, mkt market.Market, log *zap.Logger) (exec.SwapGateway, error) {
	switch mkt.DEXProvider {
	case config.DEXJupiter:
		wallet, err := solchain.New(cfg.Solana, log)
		if err != nil {
			return nil, err
		}
		return jupiter.New(cfg.Jupiter, wallet, log), nil
	case config.DEXOkx:
		var (
			solWallet *solchain.Wallet
			evmWallet *evmchain.Wallet
			err       error
		)
		if mkt.Chain == config.ChainSolana {
			solWallet, err = solchain.New(cfg.Solana, log)
		} else {
			evmWallet, err = evmchain.New(cfg.EVM, log)
		}
		if err != nil {
			return nil, err
		}
		return okx.New(cfg.OKX, solWallet, evmWallet, log), nil
	default:
		return nil, fmt.Errorf("unsupported dex provider %q", mkt.DEXProvider)
	}
}

// Run starts the supporting loops and blocks on the coordinator. Everything
// spawned here stops when the coordinator returns or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.journal.Close()

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()

	a.journal.Start(runCtx)
	a.feed.Start(runCtx)
	a.watcher.Start(runCtx)
	a.startOperator(runCtx)
	a.startConfigWatch(runCtx)
	a.startMetrics(runCtx)

	status := a.coordinator.Status()
	a.log.Info("starting",
		zap.String("symbol", status.Symbol),
		zap.Float64("usd_notional", status.Params.USDNotional),
		zap.Float64("markup_pct", status.Params.MarkupPercent),
		zap.Bool("no_hedge", status.NoHedge),
		zap.Bool("continuous", status.Continuous))
	if err := a.alerts.Send(runCtx, fmt.Sprintf("Bot started on %s: notional %.2f USD, markup %.3f%%",
		status.Symbol, status.Params.USDNotional, status.Params.MarkupPercent)); err != nil {
		a.log.Warn("startup alert failed", zap.Error(err))
	}

	return a.coordinator.Run(runCtx)
}

func (a *App) startConfigWatch(ctx context.Context) {
	if !a.cfg.Watch.Enabled {
		return
	}
	watcher := config.NewWatcher(a.cfg.Path, a.cfg.Watch, a.log)
	err := watcher.Start(ctx, func(tc config.TradingConfig) {
		if tc.Symbol != a.cfg.Trading.Symbol {
			a.log.Warn("config reload cannot change the traded symbol, ignoring",
				zap.String("current", a.cfg.Trading.Symbol),
				zap.String("new", tc.Symbol))
			return
		}
		a.coordinator.StageParams(arb.ParamsFromConfig(tc), tc.NoHedgeMode)
	})
	if err != nil {
		a.log.Warn("config watch unavailable", zap.Error(err))
	}
}

// startMetrics exposes the Prometheus registry. A serving failure is logged
// and trading continues without metrics.
func (a *App) startMetrics(ctx context.Context) {
	if a.promHandler == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.promHandler)
	server := &http.Server{Addr: a.cfg.Metrics.Address, Handler: mux}
	go func() {
		a.log.Info("metrics listening",
			zap.String("address", a.cfg.Metrics.Address),
			zap.String("path", a.cfg.Metrics.Path))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("metrics shutdown failed", zap.Error(err))
		}
	}()
}
