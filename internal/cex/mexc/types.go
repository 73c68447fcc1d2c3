package mexc

import "encoding/json"

// Every contract endpoint wraps its payload in the same envelope. A non-zero
// code means the request was rejected even when HTTP status is 200.
type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type tickerData struct {
	Symbol    string  `json:"symbol"`
	LastPrice float64 `json:"lastPrice"`
	Timestamp int64   `json:"timestamp"`
}

// contractDetail describes one perpetual contract. Volumes on the contract
// API are denominated in contracts, each worth contractSize base units.
type contractDetail struct {
	Symbol       string  `json:"symbol"`
	ContractSize float64 `json:"contractSize"`
	PriceUnit    float64 `json:"priceUnit"`
	VolUnit      float64 `json:"volUnit"`
	MinVol       float64 `json:"minVol"`
	PriceScale   int     `json:"priceScale"`
	VolScale     int     `json:"volScale"`
}

// Order sides. 1 and 4 take or leave a long, 2 and 3 a short.
const (
	sideOpenLong   = 1
	sideCloseShort = 2
	sideOpenShort  = 3
	sideCloseLong  = 4
)

const (
	typeLimit  = 1
	typeMarket = 5
)

// Position types on the open_positions endpoint.
const (
	positionLong  = 1
	positionShort = 2
)

// Order states. Only completed counts as a fill; cancelled and invalid
// orders never become one.
const (
	stateUninformed  = 1
	stateUncompleted = 2
	stateCompleted   = 3
	stateCancelled   = 4
	stateInvalid     = 5
)

type submitRequest struct {
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	Vol         float64 `json:"vol"`
	Side        int     `json:"side"`
	Type        int     `json:"type"`
	OpenType    int     `json:"openType"`
	ExternalOid string  `json:"externalOid,omitempty"`
}

type orderDetail struct {
	OrderID      string  `json:"orderId"`
	Symbol       string  `json:"symbol"`
	Price        float64 `json:"price"`
	Vol          float64 `json:"vol"`
	DealVol      float64 `json:"dealVol"`
	DealAvgPrice float64 `json:"dealAvgPrice"`
	State        int     `json:"state"`
	Side         int     `json:"side"`
	ExternalOid  string  `json:"externalOid"`
	CreateTime   int64   `json:"createTime"`
	UpdateTime   int64   `json:"updateTime"`
}

type cancelResult struct {
	OrderID   int64  `json:"orderId"`
	ErrorCode int    `json:"errorCode"`
	ErrorMsg  string `json:"errorMsg"`
}

type assetEntry struct {
	Currency         string  `json:"currency"`
	Equity           float64 `json:"equity"`
	AvailableBalance float64 `json:"availableBalance"`
}

type positionEntry struct {
	Symbol       string  `json:"symbol"`
	PositionType int     `json:"positionType"`
	HoldVol      float64 `json:"holdVol"`
	HoldAvgPrice float64 `json:"holdAvgPrice"`
}

func sideName(side int) string {
	switch side {
	case sideOpenLong, sideCloseShort:
		return "BUY"
	case sideOpenShort, sideCloseLong:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}
