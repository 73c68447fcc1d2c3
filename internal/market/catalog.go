package market

import (
	"fmt"
	"sort"
	"strings"

	"markup-arb-bot/internal/config"
)

// Market binds a CEX trading symbol to the venues and on-chain assets used
// for its hedge leg.
type Market struct {
	Symbol        string
	CEXProvider   string
	DEXProvider   string
	Chain         string
	InputAsset    string
	OutputAsset   string
	InputDecimals int
}

type Catalog struct {
	markets map[string]Market
}

func NewCatalog(configs []config.MarketConfig) *Catalog {
	markets := make(map[string]Market, len(configs))
	for _, mc := range configs {
		symbol := strings.ToUpper(strings.TrimSpace(mc.Symbol))
		if symbol == "" {
			continue
		}
		markets[symbol] = Market{
			Symbol:        symbol,
			CEXProvider:   strings.ToLower(strings.TrimSpace(mc.CEXProvider)),
			DEXProvider:   strings.ToLower(strings.TrimSpace(mc.DEXProvider)),
			Chain:         strings.ToLower(strings.TrimSpace(mc.Chain)),
			InputAsset:    strings.TrimSpace(mc.InputAsset),
			OutputAsset:   strings.TrimSpace(mc.OutputAsset),
			InputDecimals: mc.InputDecimals,
		}
	}
	return &Catalog{markets: markets}
}

func (c *Catalog) Lookup(symbol string) (Market, error) {
	market, ok := c.markets[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Market{}, fmt.Errorf("market %s is not configured", symbol)
	}
	return market, nil
}

func (c *Catalog) Symbols() []string {
	symbols := make([]string, 0, len(c.markets))
	for symbol := range c.markets {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}
