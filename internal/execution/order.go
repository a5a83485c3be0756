// Package execution slices parent orders into timed child orders. Each
// parent order runs its own state machine (ACTIVE -> COMPLETED or CANCELLED)
// driven by a single owning worker; terminal states are final.
package execution

import (
	"sync"
	"time"

	"carve/internal/pkg/trading"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Snapshot is the read-only view of a parent order handed to callers and to
// the slicing algorithms.
type Snapshot struct {
	ID                string    `json:"id"`
	Algorithm         string    `json:"algorithm"`
	Symbol            string    `json:"symbol"`
	Side              string    `json:"side"`
	TotalQuantity     float64   `json:"total_quantity"`
	ExecutedQuantity  float64   `json:"executed_quantity"`
	RemainingQuantity float64   `json:"remaining_quantity"`
	AvgExecutionPrice float64   `json:"avg_execution_price"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	Status            Status    `json:"status"`
	LastUpdate        time.Time `json:"last_update"`
}

// order is the mutable parent order. All field access goes through the
// mutex; the scheduler's worker and Cancel may race.
type order struct {
	mu sync.Mutex

	id        string
	algorithm string
	symbol    string
	buy       bool
	total     float64
	executed  float64
	avgPrice  float64
	limit     float64
	start     time.Time
	end       time.Time
	status    Status
	updated   time.Time
}

func (o *order) snapshotLocked() Snapshot {
	side := "SELL"
	if o.buy {
		side = "BUY"
	}
	remaining := o.total - o.executed
	if remaining < 0 {
		remaining = 0
	}
	return Snapshot{
		ID:                o.id,
		Algorithm:         o.algorithm,
		Symbol:            o.symbol,
		Side:              side,
		TotalQuantity:     o.total,
		ExecutedQuantity:  o.executed,
		RemainingQuantity: remaining,
		AvgExecutionPrice: o.avgPrice,
		StartTime:         o.start,
		EndTime:           o.end,
		Status:            o.status,
		LastUpdate:        o.updated,
	}
}

func (o *order) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// recordFill folds a confirmed child fill into the running totals. Executed
// quantity only ever grows; the average execution price is the running
// quantity-weighted mean of all fills.
func (o *order) recordFill(quantity, price float64) Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	if quantity > 0 && price > 0 {
		o.avgPrice = trading.WeightedAverage(o.executed, o.avgPrice, quantity, price)
		o.executed += quantity
		o.updated = time.Now().UTC()
	}
	return o.snapshotLocked()
}

// complete transitions ACTIVE -> COMPLETED. Returns false when the order is
// already terminal.
func (o *order) complete() bool {
	return o.transition(StatusCompleted)
}

// cancel transitions ACTIVE -> CANCELLED. Returns false when the order is
// already terminal, which makes a second cancel a no-op.
func (o *order) cancel() bool {
	return o.transition(StatusCancelled)
}

func (o *order) transition(to Status) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.status != StatusActive {
		return false
	}
	o.status = to
	o.updated = time.Now().UTC()
	return true
}
