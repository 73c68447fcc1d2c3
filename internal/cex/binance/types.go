package binance

import (
	"strconv"
	"time"

	"markup-arb-bot/internal/arb"
)

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type exchangeInfo struct {
	Symbols []symbolInfo `json:"symbols"`
}

type symbolInfo struct {
	Symbol  string         `json:"symbol"`
	Status  string         `json:"status"`
	Filters []symbolFilter `json:"filters"`
}

type symbolFilter struct {
	FilterType string `json:"filterType"`
	TickSize   string `json:"tickSize"`
	StepSize   string `json:"stepSize"`
	MinQty     string `json:"minQty"`
	Notional   string `json:"notional"`
}

type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	Symbol        string `json:"symbol"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	Price         string `json:"price"`
	AvgPrice      string `json:"avgPrice"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Side          string `json:"side"`
	UpdateTime    int64  `json:"updateTime"`
}

func (o orderResponse) restingOrder() arb.RestingOrder {
	order := arb.RestingOrder{
		Symbol:        o.Symbol,
		OrderID:       strconv.FormatInt(o.OrderID, 10),
		ClientOrderID: o.ClientOrderID,
		LimitPrice:    parseFloat(o.Price),
		Quantity:      parseFloat(o.OrigQty),
	}
	if o.UpdateTime > 0 {
		order.PlacedAt = time.UnixMilli(o.UpdateTime).UTC()
	}
	return order
}

func (o orderResponse) openOrder() arb.OpenOrder {
	return arb.OpenOrder{
		Symbol:        o.Symbol,
		OrderID:       strconv.FormatInt(o.OrderID, 10),
		ClientOrderID: o.ClientOrderID,
		Price:         parseFloat(o.Price),
		OrigQty:       parseFloat(o.OrigQty),
		ExecutedQty:   parseFloat(o.ExecutedQty),
		Side:          o.Side,
	}
}

type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

type balanceEntry struct {
	Asset            string `json:"asset"`
	Balance          string `json:"balance"`
	AvailableBalance string `json:"availableBalance"`
}

// positionRisk is one row of /fapi/v2/positionRisk. positionAmt is signed,
// negative for shorts.
type positionRisk struct {
	Symbol      string `json:"symbol"`
	PositionAmt string `json:"positionAmt"`
	EntryPrice  string `json:"entryPrice"`
}

// tickerEvent is the <symbol>@ticker stream payload; c carries the last
// traded price.
type tickerEvent struct {
	Event     string `json:"e"`
	Symbol    string `json:"s"`
	LastPrice string `json:"c"`
	EventTime int64  `json:"E"`
}

type userEvent struct {
	Event string      `json:"e"`
	Order orderUpdate `json:"o"`
}

type orderUpdate struct {
	Symbol        string `json:"s"`
	ClientOrderID string `json:"c"`
	Side          string `json:"S"`
	Status        string `json:"X"`
	OrderID       int64  `json:"i"`
	AvgPrice      string `json:"ap"`
	CumQty        string `json:"z"`
	TradeTime     int64  `json:"T"`
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
