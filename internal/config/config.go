package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	CEXBinance = "binance"
	CEXMexc    = "mexc"
	DEXJupiter = "jupiter"
	DEXOkx     = "okx"

	ChainSolana = "solana"
	ChainBSC    = "bsc"
)

type Config struct {
	Log      LoggingConfig  `yaml:"log"`
	State    StateConfig    `yaml:"state"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Telegram TelegramConfig `yaml:"telegram"`
	Journal  JournalConfig  `yaml:"journal"`
	Markets  []MarketConfig `yaml:"markets"`
	Trading  TradingConfig  `yaml:"trading"`
	Binance  BinanceConfig  `yaml:"binance"`
	Mexc     MexcConfig     `yaml:"mexc"`
	Jupiter  JupiterConfig  `yaml:"jupiter"`
	OKX      OKXConfig      `yaml:"okx"`
	Solana   SolanaConfig   `yaml:"solana"`
	EVM      EVMConfig      `yaml:"evm"`
	Watch    WatchConfig    `yaml:"watch"`

	// Path is the file the config was loaded from, used by the reload watcher.
	Path string `yaml:"-"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

type TelegramConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Token                  string        `yaml:"token"`
	ChatID                 string        `yaml:"chat_id"`
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
}

type JournalConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// MarketConfig maps a CEX trading symbol to the venues and on-chain assets
// used for its hedge leg. InputAsset is spent on the DEX buy-back.
type MarketConfig struct {
	Symbol        string `yaml:"symbol"`
	CEXProvider   string `yaml:"cex_provider"`
	DEXProvider   string `yaml:"dex_provider"`
	Chain         string `yaml:"chain"`
	InputAsset    string `yaml:"input_asset"`
	OutputAsset   string `yaml:"output_asset"`
	InputDecimals int    `yaml:"input_decimals"`
}

type TradingConfig struct {
	Symbol                  string        `yaml:"symbol"`
	USDNotional             float64       `yaml:"usd_notional"`
	MarkupPercent           float64       `yaml:"markup_percent"`
	RequoteThresholdPercent float64       `yaml:"requote_threshold_percent"`
	MaxSlippagePercent      float64       `yaml:"max_slippage_percent"`
	NoHedgeMode             bool          `yaml:"no_hedge_mode"`
	MaxHedgeAttempts        int           `yaml:"max_hedge_attempts"`
	BackoffBase             time.Duration `yaml:"backoff_base"`
	Continuous              *bool         `yaml:"continuous"`
	PricePollInterval       time.Duration `yaml:"price_poll_interval"`
	FillPollInterval        time.Duration `yaml:"fill_poll_interval"`
}

func (t TradingConfig) ContinuousValue() bool {
	return t.Continuous == nil || *t.Continuous
}

type BinanceConfig struct {
	BaseURL    string        `yaml:"base_url"`
	WSURL      string        `yaml:"ws_url"`
	Timeout    time.Duration `yaml:"timeout"`
	RecvWindow int64         `yaml:"recv_window"`
	APIKey     string        `yaml:"-"`
	APISecret  string        `yaml:"-"`
}

type MexcConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	APIKey    string        `yaml:"-"`
	APISecret string        `yaml:"-"`
}

type JupiterConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	APIKey  string        `yaml:"-"`
}

type OKXConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	APIKey     string        `yaml:"-"`
	APISecret  string        `yaml:"-"`
	Passphrase string        `yaml:"-"`
}

type SolanaConfig struct {
	RPCURL         string        `yaml:"rpc_url"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	PrivateKey     string        `yaml:"-"`
}

type EVMConfig struct {
	RPCURL           string        `yaml:"rpc_url"`
	ChainID          int64         `yaml:"chain_id"`
	ReceiptTimeout   time.Duration `yaml:"receipt_timeout"`
	GasLimitFallback uint64        `yaml:"gas_limit_fallback"`
	PrivateKey       string        `yaml:"-"`
}

type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Cooldown time.Duration `yaml:"cooldown"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Path = path
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/markup-arb-bot.db"
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
	if cfg.Journal.Schema == "" {
		cfg.Journal.Schema = "public"
	}
	if cfg.Journal.QueueSize == 0 {
		cfg.Journal.QueueSize = 256
	}
	if cfg.Trading.USDNotional == 0 {
		cfg.Trading.USDNotional = 100
	}
	if cfg.Trading.MarkupPercent == 0 {
		cfg.Trading.MarkupPercent = 3.0
	}
	if cfg.Trading.RequoteThresholdPercent == 0 {
		cfg.Trading.RequoteThresholdPercent = 0.5
	}
	if cfg.Trading.MaxSlippagePercent == 0 {
		cfg.Trading.MaxSlippagePercent = 1.0
	}
	if cfg.Trading.MaxHedgeAttempts == 0 {
		cfg.Trading.MaxHedgeAttempts = 3
	}
	if cfg.Trading.BackoffBase == 0 {
		cfg.Trading.BackoffBase = 2 * time.Second
	}
	if cfg.Trading.PricePollInterval == 0 {
		cfg.Trading.PricePollInterval = time.Second
	}
	if cfg.Trading.FillPollInterval == 0 {
		cfg.Trading.FillPollInterval = time.Second
	}
	if cfg.Binance.BaseURL == "" {
		cfg.Binance.BaseURL = "https://fapi.binance.com"
	}
	if cfg.Binance.WSURL == "" {
		cfg.Binance.WSURL = "wss://fstream.binance.com/ws"
	}
	if cfg.Binance.Timeout == 0 {
		cfg.Binance.Timeout = 10 * time.Second
	}
	if cfg.Binance.RecvWindow == 0 {
		cfg.Binance.RecvWindow = 5000
	}
	if cfg.Mexc.BaseURL == "" {
		cfg.Mexc.BaseURL = "https://contract.mexc.com"
	}
	if cfg.Mexc.Timeout == 0 {
		cfg.Mexc.Timeout = 10 * time.Second
	}
	if cfg.Jupiter.BaseURL == "" {
		cfg.Jupiter.BaseURL = "https://api.jup.ag/ultra"
	}
	if cfg.Jupiter.Timeout == 0 {
		cfg.Jupiter.Timeout = 15 * time.Second
	}
	if cfg.OKX.BaseURL == "" {
		cfg.OKX.BaseURL = "https://www.okx.com"
	}
	if cfg.OKX.Timeout == 0 {
		cfg.OKX.Timeout = 15 * time.Second
	}
	if cfg.Solana.RPCURL == "" {
		cfg.Solana.RPCURL = "https://api.mainnet-beta.solana.com"
	}
	if cfg.Solana.ConfirmTimeout == 0 {
		cfg.Solana.ConfirmTimeout = 60 * time.Second
	}
	if cfg.EVM.ChainID == 0 {
		cfg.EVM.ChainID = 56
	}
	if cfg.EVM.ReceiptTimeout == 0 {
		cfg.EVM.ReceiptTimeout = 90 * time.Second
	}
	if cfg.EVM.GasLimitFallback == 0 {
		cfg.EVM.GasLimitFallback = 300000
	}
	if cfg.Watch.Cooldown == 0 {
		cfg.Watch.Cooldown = 5 * time.Second
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("BINANCE_API_KEY")); v != "" {
		cfg.Binance.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("BINANCE_API_SECRET")); v != "" {
		cfg.Binance.APISecret = v
	}
	if v := strings.TrimSpace(os.Getenv("MEXC_API_KEY")); v != "" {
		cfg.Mexc.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("MEXC_API_SECRET")); v != "" {
		cfg.Mexc.APISecret = v
	}
	if v := strings.TrimSpace(os.Getenv("JUPITER_API_KEY")); v != "" {
		cfg.Jupiter.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OKX_API_KEY")); v != "" {
		cfg.OKX.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OKX_API_SECRET")); v != "" {
		cfg.OKX.APISecret = v
	}
	if v := strings.TrimSpace(os.Getenv("OKX_API_PASSPHRASE")); v != "" {
		cfg.OKX.Passphrase = v
	}
	if v := strings.TrimSpace(os.Getenv("SOLANA_PRIVATE_KEY")); v != "" {
		cfg.Solana.PrivateKey = v
	}
	if v := strings.TrimSpace(os.Getenv("EVM_PRIVATE_KEY")); v != "" {
		cfg.EVM.PrivateKey = v
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); v != "" {
		cfg.Telegram.ChatID = v
	}
}

func validate(cfg *Config) error {
	if cfg.Trading.Symbol == "" {
		return errors.New("trading.symbol is required")
	}
	if cfg.Trading.USDNotional <= 0 {
		return errors.New("trading.usd_notional must be > 0")
	}
	if cfg.Trading.MarkupPercent <= 0 {
		return errors.New("trading.markup_percent must be > 0")
	}
	if cfg.Trading.RequoteThresholdPercent <= 0 {
		return errors.New("trading.requote_threshold_percent must be > 0")
	}
	if cfg.Trading.MaxSlippagePercent < 0 {
		return errors.New("trading.max_slippage_percent must be >= 0")
	}
	if cfg.Trading.MaxHedgeAttempts < 1 {
		return errors.New("trading.max_hedge_attempts must be >= 1")
	}
	if cfg.Trading.BackoffBase <= 0 {
		return errors.New("trading.backoff_base must be > 0")
	}
	if cfg.Trading.PricePollInterval <= 0 {
		return errors.New("trading.price_poll_interval must be > 0")
	}
	if cfg.Trading.FillPollInterval <= 0 {
		return errors.New("trading.fill_poll_interval must be > 0")
	}
	if len(cfg.Markets) == 0 {
		return errors.New("at least one market is required")
	}
	for i, m := range cfg.Markets {
		if err := validateMarket(m); err != nil {
			return fmt.Errorf("markets[%d]: %w", i, err)
		}
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Journal.Enabled && strings.TrimSpace(cfg.Journal.DSN) == "" {
		return errors.New("journal.dsn is required when journal is enabled")
	}
	return nil
}

func validateMarket(m MarketConfig) error {
	if m.Symbol == "" {
		return errors.New("symbol is required")
	}
	switch m.CEXProvider {
	case CEXBinance, CEXMexc:
	default:
		return fmt.Errorf("unknown cex_provider %q", m.CEXProvider)
	}
	switch m.DEXProvider {
	case DEXJupiter, DEXOkx:
	default:
		return fmt.Errorf("unknown dex_provider %q", m.DEXProvider)
	}
	switch m.Chain {
	case ChainSolana, ChainBSC:
	default:
		return fmt.Errorf("unknown chain %q", m.Chain)
	}
	if m.DEXProvider == DEXJupiter && m.Chain != ChainSolana {
		return errors.New("jupiter only settles on solana")
	}
	if m.InputAsset == "" || m.OutputAsset == "" {
		return errors.New("input_asset and output_asset are required")
	}
	if m.InputDecimals <= 0 {
		return errors.New("input_decimals must be > 0")
	}
	return nil
}
