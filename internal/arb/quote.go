package arb

import (
	"errors"
	"math"
)

// BuildQuote derives the resting limit sell for the current market price:
// the limit is marked up from the market price and the quantity targets the
// configured USD notional at that limit.
func BuildQuote(params Parameters, marketPrice float64, filters SymbolFilters) (Quote, error) {
	if marketPrice <= 0 {
		return Quote{}, errors.New("market price must be positive")
	}
	if params.USDNotional <= 0 {
		return Quote{}, errors.New("usd notional must be positive")
	}
	limit := RoundToStep(marketPrice*(1+params.MarkupPercent/100), filters.PriceStep)
	if limit <= 0 {
		return Quote{}, errors.New("limit price rounded to zero")
	}
	qty := RoundToStep(params.USDNotional/limit, filters.QtyStep)
	if qty <= 0 {
		return Quote{}, errors.New("quantity rounded to zero")
	}
	return Quote{
		Symbol:      params.Symbol,
		LimitPrice:  limit,
		Quantity:    qty,
		MarketPrice: marketPrice,
	}, nil
}

// ReferencePrice recovers the market price a resting limit was quoted
// against by unwinding the markup.
func ReferencePrice(limitPrice, markupPercent float64) float64 {
	return limitPrice / (1 + markupPercent/100)
}

// BelowMinimums reports whether the quote violates the venue's minimum
// quantity or notional filters. Such quotes are still submitted; the venue
// has the final say.
func (q Quote) BelowMinimums(filters SymbolFilters) bool {
	if filters.MinQty > 0 && q.Quantity < filters.MinQty {
		return true
	}
	if filters.MinNotional > 0 && q.Quantity*q.LimitPrice < filters.MinNotional {
		return true
	}
	return false
}

// RoundToStep snaps a value to the nearest multiple of step. A zero step
// leaves the value unchanged.
func RoundToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Round(value/step) * step
}
