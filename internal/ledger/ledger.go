// Package ledger owns the authoritative in-memory record of open positions
// and realized/unrealized PnL. It is the single piece of state mutated from
// multiple loops (scheduler fills, portfolio mark-to-market), so every
// mutation is serialized behind one mutex; reads go through copied
// snapshots.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"carve/internal/pkg/trading"
)

var (
	// ErrNoOpenPosition is returned for a SELL against a symbol with no open
	// position. Correct risk gating never produces this; the ledger still
	// defends against it.
	ErrNoOpenPosition = errors.New("no open position")

	// ErrReduceExceedsPosition is returned when a SELL would reduce a
	// position below zero.
	ErrReduceExceedsPosition = errors.New("reduce exceeds open position")
)

// Position is one open position. One open position per symbol; quantity is
// strictly positive while the position exists.
type Position struct {
	Symbol        string    `json:"symbol"`
	Quantity      float64   `json:"quantity"`
	AveragePrice  float64   `json:"average_price"`
	CurrentPrice  float64   `json:"current_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	RealizedPnL   float64   `json:"realized_pnl"`
	OpenedAt      time.Time `json:"opened_at"`
}

// Snapshot is a read-only copy of the ledger state.
type Snapshot struct {
	Positions          []Position `json:"positions"`
	TotalRealizedPnL   float64    `json:"total_realized_pnl"`
	TotalUnrealizedPnL float64    `json:"total_unrealized_pnl"`
}

// Ledger tracks open positions keyed by symbol.
type Ledger struct {
	mu        sync.Mutex
	positions map[string]*Position
	realized  float64
	nowFn     func() time.Time
}

func New() *Ledger {
	return &Ledger{
		positions: make(map[string]*Position),
		nowFn:     time.Now,
	}
}

// ApplyFill records one fill. BUY opens or adds to a position, recomputing
// the quantity-weighted average price. SELL reduces or closes, realizing
// (exitPrice - averagePrice) x reducedQuantity without touching the average
// price, and removes the entry when the quantity reaches zero. The realized
// PnL of the fill is returned (0 for buys).
func (l *Ledger) ApplyFill(symbol string, buy bool, quantity, price float64) (float64, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("fill quantity must be > 0, got %v", quantity)
	}
	if price <= 0 {
		return 0, fmt.Errorf("fill price must be > 0, got %v", price)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if buy {
		l.applyBuy(symbol, quantity, price)
		return 0, nil
	}
	return l.applySell(symbol, quantity, price)
}

func (l *Ledger) applyBuy(symbol string, quantity, price float64) {
	pos, ok := l.positions[symbol]
	if !ok {
		l.positions[symbol] = &Position{
			Symbol:       symbol,
			Quantity:     quantity,
			AveragePrice: price,
			CurrentPrice: price,
			OpenedAt:     l.nowFn().UTC(),
		}
		return
	}
	pos.AveragePrice = trading.WeightedAverage(pos.Quantity, pos.AveragePrice, quantity, price)
	pos.Quantity += quantity
}

func (l *Ledger) applySell(symbol string, quantity, price float64) (float64, error) {
	pos, ok := l.positions[symbol]
	if !ok {
		return 0, fmt.Errorf("sell %s: %w", symbol, ErrNoOpenPosition)
	}
	if quantity > pos.Quantity && !trading.IsZero(quantity-pos.Quantity) {
		return 0, fmt.Errorf("sell %s qty=%v held=%v: %w", symbol, quantity, pos.Quantity, ErrReduceExceedsPosition)
	}

	realized := trading.RealizedPnL(pos.AveragePrice, price, quantity)
	pos.Quantity -= quantity
	pos.RealizedPnL += realized
	l.realized += realized

	if trading.IsZero(pos.Quantity) {
		delete(l.positions, symbol)
	}
	return realized, nil
}

// MarkToMarket refreshes the unrealized PnL of an open position without
// changing the average price. Unknown symbols are ignored.
func (l *Ledger) MarkToMarket(symbol string, currentPrice float64) {
	if currentPrice <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return
	}
	pos.CurrentPrice = currentPrice
	pos.UnrealizedPnL = trading.UnrealizedPnL(pos.AveragePrice, currentPrice, pos.Quantity)
}

// Snapshot copies the current state. Safe to call concurrently with fills;
// positions are sorted by symbol for stable output.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := Snapshot{
		Positions:        make([]Position, 0, len(l.positions)),
		TotalRealizedPnL: l.realized,
	}
	for _, pos := range l.positions {
		snap.Positions = append(snap.Positions, *pos)
		snap.TotalUnrealizedPnL += pos.UnrealizedPnL
	}
	sort.Slice(snap.Positions, func(i, j int) bool {
		return snap.Positions[i].Symbol < snap.Positions[j].Symbol
	})
	return snap
}

// Position returns a copy of the open position for symbol.
func (l *Ledger) Position(symbol string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// OpenCount returns the number of open positions.
func (l *Ledger) OpenCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions)
}

// Reservation records the exact effect of one optimistic fill: what was
// added or removed, at which price, and the realized PnL it produced. Revert
// undoes only that delta, so fills applied concurrently by other workers
// during the gateway round trip survive a rollback.
type Reservation struct {
	symbol   string
	buy      bool
	quantity float64
	price    float64
	realized float64
	avgPrice float64 // average price at fill time; restores a reverted sell
}

// Reserve applies an optimistic fill ahead of gateway confirmation and
// captures its effect for a possible Revert. Validation matches ApplyFill.
func (l *Ledger) Reserve(symbol string, buy bool, quantity, price float64) (Reservation, error) {
	if quantity <= 0 {
		return Reservation{}, fmt.Errorf("fill quantity must be > 0, got %v", quantity)
	}
	if price <= 0 {
		return Reservation{}, fmt.Errorf("fill price must be > 0, got %v", price)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	res := Reservation{symbol: symbol, buy: buy, quantity: quantity, price: price}
	if buy {
		l.applyBuy(symbol, quantity, price)
		return res, nil
	}
	pos, ok := l.positions[symbol]
	if !ok {
		return Reservation{}, fmt.Errorf("sell %s: %w", symbol, ErrNoOpenPosition)
	}
	res.avgPrice = pos.AveragePrice
	realized, err := l.applySell(symbol, quantity, price)
	if err != nil {
		return Reservation{}, err
	}
	res.realized = realized
	return res, nil
}

// Revert backs the reserved fill out of the ledger as a delta. A reverted
// buy gives up its quantity and notional, restoring the prior weighted
// average; a reverted sell restores the quantity at the captured average
// price and subtracts its realized PnL from the totals.
func (l *Ledger) Revert(res Reservation) {
	if res.symbol == "" || res.quantity <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if res.buy {
		pos, ok := l.positions[res.symbol]
		if !ok {
			return
		}
		remaining := pos.Quantity - res.quantity
		if remaining <= 0 || trading.IsZero(remaining) {
			delete(l.positions, res.symbol)
			return
		}
		pos.AveragePrice = trading.AverageAfterRemoval(pos.Quantity, pos.AveragePrice, res.quantity, res.price)
		pos.Quantity = remaining
		return
	}

	pos, ok := l.positions[res.symbol]
	if !ok {
		// The reserved sell closed the position; reopen it at the captured
		// average.
		pos = &Position{
			Symbol:       res.symbol,
			AveragePrice: res.avgPrice,
			CurrentPrice: res.price,
			OpenedAt:     l.nowFn().UTC(),
		}
		l.positions[res.symbol] = pos
	}
	pos.Quantity += res.quantity
	pos.RealizedPnL -= res.realized
	l.realized -= res.realized
}
