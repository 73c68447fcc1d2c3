package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"markup-arb-bot/internal/config"
	"markup-arb-bot/internal/market"
)

// Commands are the one-shot account operations behind the CLI modes. They
// talk to the venue directly and leave the trading state untouched.
type Commands struct {
	cex    CEXGateway
	symbol string
	out    io.Writer
	log    *zap.Logger
}

func NewCommands(cfg *config.Config, log *zap.Logger) (*Commands, error) {
	catalog := market.NewCatalog(cfg.Markets)
	mkt, err := catalog.Lookup(cfg.Trading.Symbol)
	if err != nil {
		return nil, err
	}
	cex, err := BuildCEX(cfg, mkt, log)
	if err != nil {
		return nil, err
	}
	return &Commands{cex: cex, symbol: mkt.Symbol, out: os.Stdout, log: log}, nil
}

// Balance prints the venue account balances.
func (c *Commands) Balance(ctx context.Context) error {
	balances, err := c.cex.Balances(ctx)
	if err != nil {
		return err
	}
	if len(balances) == 0 {
		fmt.Fprintln(c.out, "no balances")
		return nil
	}
	for _, b := range balances {
		fmt.Fprintf(c.out, "%-10s total=%.8f available=%.8f\n", b.Asset, b.Total, b.Available)
	}
	return nil
}

// Orders prints the open orders on the traded symbol.
func (c *Commands) Orders(ctx context.Context) error {
	orders, err := c.cex.OpenOrders(ctx, c.symbol)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		fmt.Fprintln(c.out, "no open orders")
		return nil
	}
	for _, o := range orders {
		fmt.Fprintf(c.out, "%s %s id=%s price=%.8f qty=%.8f filled=%.8f\n",
			o.Symbol, o.Side, o.OrderID, o.Price, o.OrigQty, o.ExecutedQty)
	}
	return nil
}

// CloseAll cancels every open order on the traded symbol.
func (c *Commands) CloseAll(ctx context.Context) error {
	if err := c.cex.CancelAllOrders(ctx, c.symbol); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "cancelled all open orders on %s\n", c.symbol)
	return nil
}

// Liquidate cancels all open orders and market-closes every live position
// on the traded symbol.
func (c *Commands) Liquidate(ctx context.Context) error {
	if err := c.cex.CancelAllOrders(ctx, c.symbol); err != nil {
		return fmt.Errorf("cancel open orders: %w", err)
	}
	fmt.Fprintf(c.out, "cancelled all open orders on %s\n", c.symbol)
	positions, err := c.cex.Positions(ctx, c.symbol)
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}
	if len(positions) == 0 {
		fmt.Fprintln(c.out, "no positions to close")
		return nil
	}
	for _, p := range positions {
		orderID, err := c.cex.MarketClose(ctx, p.Symbol, p.Quantity)
		if err != nil {
			return fmt.Errorf("close position %s: %w", p.Symbol, err)
		}
		fmt.Fprintf(c.out, "closed %s qty=%.8f entry=%.8f order=%s\n",
			p.Symbol, p.Quantity, p.EntryPrice, orderID)
	}
	return nil
}
