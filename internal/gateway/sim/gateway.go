// Package sim provides a simulated order gateway for paper trading and
// tests: orders fill at the observed price plus configurable slippage, with
// optional per-order liquidity caps and artificial latency.
package sim

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"carve/internal/gateway/exchange"
	"carve/internal/market"
)

type Config struct {
	// Slippage is applied against the order side: buys pay (1+s), sells
	// receive (1-s).
	Slippage float64
	// MaxLiquidity caps the filled quantity per child order; 0 is
	// unlimited.
	MaxLiquidity float64
	// Latency delays every submission, for exercising timeout paths.
	Latency time.Duration
}

// Gateway simulates fills. When a feed is attached the fill price follows
// the latest quote; otherwise the request price is used. Submissions are
// idempotent per client order id, so a retry after a timeout cannot double
// fill.
type Gateway struct {
	cfg  Config
	feed market.Feed

	mu        sync.Mutex
	lastPrice map[string]float64
	fills     map[string]exchange.Fill
}

func New(cfg Config) *Gateway {
	return &Gateway{
		cfg:       cfg,
		lastPrice: make(map[string]float64),
		fills:     make(map[string]exchange.Fill),
	}
}

// SetFeed attaches a price source consulted for market orders.
func (g *Gateway) SetFeed(feed market.Feed) { g.feed = feed }

var _ exchange.Gateway = (*Gateway)(nil)

func (g *Gateway) Submit(ctx context.Context, req exchange.Request) (exchange.Fill, error) {
	if req.Quantity <= 0 {
		return exchange.Fill{}, &exchange.RejectionError{Reason: "quantity must be > 0"}
	}
	side := strings.ToUpper(strings.TrimSpace(req.Side))
	if side != "BUY" && side != "SELL" {
		return exchange.Fill{}, &exchange.RejectionError{Reason: fmt.Sprintf("unknown side %q", req.Side)}
	}

	if id := strings.TrimSpace(req.ClientOrderID); id != "" {
		g.mu.Lock()
		fill, ok := g.fills[id]
		g.mu.Unlock()
		if ok {
			return fill, nil
		}
	}

	if g.cfg.Latency > 0 {
		select {
		case <-ctx.Done():
			return exchange.Fill{}, ctx.Err()
		case <-time.After(g.cfg.Latency):
		}
	}
	if err := ctx.Err(); err != nil {
		return exchange.Fill{}, err
	}

	price := g.referencePrice(ctx, req)
	if price <= 0 {
		return exchange.Fill{}, &exchange.RejectionError{Reason: "no price available for " + req.Symbol}
	}
	if side == "BUY" {
		price *= 1 + g.cfg.Slippage
	} else {
		price *= 1 - g.cfg.Slippage
	}

	quantity := req.Quantity
	if g.cfg.MaxLiquidity > 0 && quantity > g.cfg.MaxLiquidity {
		quantity = g.cfg.MaxLiquidity
	}

	fill := exchange.Fill{FilledQuantity: quantity, FillPrice: price}
	if id := strings.TrimSpace(req.ClientOrderID); id != "" {
		g.mu.Lock()
		g.fills[id] = fill
		g.mu.Unlock()
	}
	return fill, nil
}

func (g *Gateway) referencePrice(ctx context.Context, req exchange.Request) float64 {
	if req.Price > 0 {
		g.mu.Lock()
		g.lastPrice[req.Symbol] = req.Price
		g.mu.Unlock()
		return req.Price
	}
	if g.feed != nil {
		if quote, err := g.feed.Latest(ctx, req.Symbol); err == nil && quote.Price > 0 {
			g.mu.Lock()
			g.lastPrice[req.Symbol] = quote.Price
			g.mu.Unlock()
			return quote.Price
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastPrice[req.Symbol]
}
