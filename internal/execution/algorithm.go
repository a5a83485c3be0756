package execution

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Algorithm names accepted on signals and submit requests.
const (
	AlgoTWAP = "TWAP"
	AlgoVWAP = "VWAP"
	AlgoPoV  = "POV"
)

// View carries the market observations a slicing algorithm may use on one
// tick. TWAP ignores it entirely.
type View struct {
	Price         float64 // latest traded price
	PeriodVolume  float64 // volume observed in the current period
	ReferenceVWAP float64 // rolling reference VWAP over the lookback window
}

// Algorithm computes the child-order size for one tick. Implementations are
// stateless; everything they need is in the order snapshot and the view.
type Algorithm interface {
	Name() string
	// SliceSize returns the quantity to submit this tick, already clamped to
	// [0, remaining].
	SliceSize(snap Snapshot, view View, now time.Time) float64
	// NeedsMarketData reports whether the scheduler must fetch a view before
	// calling SliceSize.
	NeedsMarketData() bool
}

// NewAlgorithm resolves a name to an algorithm instance.
func NewAlgorithm(name string, cfg Config) (Algorithm, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case AlgoTWAP:
		return TWAP{}, nil
	case AlgoVWAP:
		return VWAP{Participation: cfg.VWAPParticipation}, nil
	case AlgoPoV, "POV30", "PERCENTOFVOLUME":
		return PoV{ParticipationCap: cfg.PoVParticipationCap}, nil
	default:
		return nil, fmt.Errorf("unknown execution algorithm %q", name)
	}
}

// TWAP paces the order linearly against the wall clock: the cumulative
// executed quantity tracks floor(total x elapsedFraction) and never runs
// ahead of it.
type TWAP struct{}

func (TWAP) Name() string          { return AlgoTWAP }
func (TWAP) NeedsMarketData() bool { return false }

func (TWAP) SliceSize(snap Snapshot, _ View, now time.Time) float64 {
	window := snap.EndTime.Sub(snap.StartTime)
	if window <= 0 {
		return snap.RemainingQuantity
	}
	elapsed := now.Sub(snap.StartTime).Seconds() / window.Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > 1 {
		elapsed = 1
	}
	expected := math.Floor(snap.TotalQuantity * elapsed)
	slice := expected - snap.ExecutedQuantity
	return clampSlice(slice, snap.RemainingQuantity)
}

// VWAP trades a fixed share of the remainder each tick and shrinks the slice
// proportionally to how far price has run from the rolling reference VWAP:
// aggressive near fair value, passive when price is running away.
type VWAP struct {
	// Participation is the share of the remaining quantity used as the base
	// slice per tick. Defaults to 0.10.
	Participation float64
}

func (VWAP) Name() string          { return AlgoVWAP }
func (VWAP) NeedsMarketData() bool { return true }

func (a VWAP) SliceSize(snap Snapshot, view View, _ time.Time) float64 {
	participation := a.Participation
	if participation <= 0 {
		participation = 0.10
	}
	base := math.Ceil(snap.RemainingQuantity * participation)
	if view.ReferenceVWAP <= 0 || view.Price <= 0 {
		return clampSlice(base, snap.RemainingQuantity)
	}
	deviation := math.Abs(view.Price-view.ReferenceVWAP) / view.ReferenceVWAP
	factor := 1 - deviation
	if factor < 0 {
		factor = 0
	}
	slice := math.Floor(base * factor)
	return clampSlice(slice, snap.RemainingQuantity)
}

// PoV couples slice size to observed liquidity: never more than the
// participation cap share of the volume seen in the current period.
type PoV struct {
	// ParticipationCap bounds the slice relative to observed volume.
	// Defaults to 0.30; configurable lower, never raised above it.
	ParticipationCap float64
}

func (PoV) Name() string          { return AlgoPoV }
func (PoV) NeedsMarketData() bool { return true }

func (a PoV) SliceSize(snap Snapshot, view View, _ time.Time) float64 {
	ratio := a.ParticipationCap
	if ratio <= 0 || ratio > 0.30 {
		ratio = 0.30
	}
	if view.PeriodVolume <= 0 {
		return 0
	}
	slice := math.Floor(view.PeriodVolume * ratio)
	return clampSlice(slice, snap.RemainingQuantity)
}

func clampSlice(slice, remaining float64) float64 {
	if slice < 0 {
		return 0
	}
	if slice > remaining {
		return remaining
	}
	return slice
}
