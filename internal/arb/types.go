package arb

import (
	"errors"
	"math/big"
	"time"

	"markup-arb-bot/internal/config"
)

type State string

type Event string

const (
	StateIdle          State = "IDLE"
	StateQuoted        State = "QUOTED"
	StateFilled        State = "FILLED"
	StateHedging       State = "HEDGING"
	StateSettled       State = "SETTLED"
	StateUnhedgedFatal State = "UNHEDGED_FATAL"
)

const (
	EventQuote      Event = "QUOTE"
	EventFill       Event = "FILL"
	EventCancel     Event = "CANCEL"
	EventHedgeStart Event = "HEDGE_START"
	EventSettle     Event = "SETTLE"
	EventHedgeFail  Event = "HEDGE_FAIL"
	EventReset      Event = "RESET"
)

// ErrUnsupported is returned by venue clients for operations the venue has
// no endpoint for, such as in-place order modification.
var ErrUnsupported = errors.New("operation not supported by venue")

// Parameters are the live trading inputs for one cycle. They can change
// between cycles via the params file watcher or the operator channel, so
// callers pass them by value into each decision.
type Parameters struct {
	Symbol                  string
	USDNotional             float64
	MarkupPercent           float64
	RequoteThresholdPercent float64
	MaxSlippagePercent      float64
}

func ParamsFromConfig(cfg config.TradingConfig) Parameters {
	return Parameters{
		Symbol:                  cfg.Symbol,
		USDNotional:             cfg.USDNotional,
		MarkupPercent:           cfg.MarkupPercent,
		RequoteThresholdPercent: cfg.RequoteThresholdPercent,
		MaxSlippagePercent:      cfg.MaxSlippagePercent,
	}
}

// RestingOrder is the single live limit sell the bot maintains on the CEX.
// ReferencePrice is the market price observed when the order was placed or
// last requoted, not the limit itself; drift is measured against it.
type RestingOrder struct {
	Symbol         string
	OrderID        string
	ClientOrderID  string
	LimitPrice     float64
	Quantity       float64
	ReferencePrice float64
	PlacedAt       time.Time
}

// Quote is a computed order intent before placement.
type Quote struct {
	Symbol      string
	LimitPrice  float64
	Quantity    float64
	MarketPrice float64
}

// SymbolFilters carry the venue's price and quantity constraints for one
// symbol. Zero steps disable rounding for that dimension.
type SymbolFilters struct {
	PriceStep   float64
	QtyStep     float64
	MinQty      float64
	MinNotional float64
}

type PriceTick struct {
	Symbol string
	Price  float64
	At     time.Time
}

// FillEvent reports a fully executed order.
type FillEvent struct {
	Symbol      string
	OrderID     string
	AvgPrice    float64
	ExecutedQty float64
	At          time.Time
}

// USDValue is the authoritative fill value used to size the hedge leg.
func (f FillEvent) USDValue() float64 {
	return f.AvgPrice * f.ExecutedQty
}

type AssetBalance struct {
	Asset     string
	Total     float64
	Available float64
}

type OpenOrder struct {
	Symbol        string
	OrderID       string
	ClientOrderID string
	Price         float64
	OrigQty       float64
	ExecutedQty   float64
	Side          string
}

// Position is a live futures position. Quantity is signed: negative for a
// short, positive for a long.
type Position struct {
	Symbol     string
	Quantity   float64
	EntryPrice float64
}

// SwapRequest asks a DEX aggregator to price a buy-back: spend InAmount
// base units of the input asset for as much of the output asset as the
// route allows within the slippage bound.
type SwapRequest struct {
	Chain           string
	InputAsset      string
	OutputAsset     string
	InAmount        *big.Int
	SlippagePercent float64
}

// SwapQuote is a priced DEX route. Amounts are base units of the input and
// output assets; 18-decimal chains overflow uint64 so both sides use big.Int.
// Payload carries the provider's transaction material opaque to callers.
type SwapQuote struct {
	Provider  string
	RequestID string
	InAmount  *big.Int
	OutAmount *big.Int
	Payload   []byte
}

type SwapResult struct {
	Provider  string
	TxRef     string
	InAmount  *big.Int
	OutAmount *big.Int
}
