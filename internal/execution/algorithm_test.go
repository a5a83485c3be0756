package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func pacedSnapshot(total, executed float64, window time.Duration, start time.Time) Snapshot {
	return Snapshot{
		TotalQuantity:     total,
		ExecutedQuantity:  executed,
		RemainingQuantity: total - executed,
		StartTime:         start,
		EndTime:           start.Add(window),
		Status:            StatusActive,
	}
}

func TestNewAlgorithm(t *testing.T) {
	cfg := Config{}.withDefaults()

	for _, name := range []string{"TWAP", "twap", " Twap "} {
		algo, err := NewAlgorithm(name, cfg)
		assert.NoError(t, err)
		assert.Equal(t, AlgoTWAP, algo.Name())
	}
	for _, name := range []string{"POV", "POV30", "PercentOfVolume"} {
		algo, err := NewAlgorithm(name, cfg)
		assert.NoError(t, err)
		assert.Equal(t, AlgoPoV, algo.Name())
	}
	algo, err := NewAlgorithm("VWAP", cfg)
	assert.NoError(t, err)
	assert.Equal(t, AlgoVWAP, algo.Name())

	_, err = NewAlgorithm("ICEBERG", cfg)
	assert.Error(t, err)
}

func TestTWAPSliceSize(t *testing.T) {
	start := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	algo := TWAP{}

	t.Run("tracks floor of elapsed fraction", func(t *testing.T) {
		snap := pacedSnapshot(100, 0, 100*time.Second, start)
		got := algo.SliceSize(snap, View{}, start.Add(30*time.Second))
		assert.InDelta(t, 30, got, 1e-9)

		snap = pacedSnapshot(100, 25, 100*time.Second, start)
		got = algo.SliceSize(snap, View{}, start.Add(30*time.Second))
		assert.InDelta(t, 5, got, 1e-9)
	})

	t.Run("never runs ahead of schedule", func(t *testing.T) {
		snap := pacedSnapshot(100, 40, 100*time.Second, start)
		got := algo.SliceSize(snap, View{}, start.Add(30*time.Second))
		assert.Zero(t, got)
	})

	t.Run("fractional totals floor down", func(t *testing.T) {
		snap := pacedSnapshot(7, 0, 100*time.Second, start)
		// floor(7 * 0.5) = 3
		got := algo.SliceSize(snap, View{}, start.Add(50*time.Second))
		assert.InDelta(t, 3, got, 1e-9)
	})

	t.Run("elapsed clamps to the window", func(t *testing.T) {
		snap := pacedSnapshot(100, 60, 100*time.Second, start)
		got := algo.SliceSize(snap, View{}, start.Add(5*time.Minute))
		assert.InDelta(t, 40, got, 1e-9)

		got = algo.SliceSize(snap, View{}, start.Add(-time.Minute))
		assert.Zero(t, got)
	})

	t.Run("degenerate window releases everything", func(t *testing.T) {
		snap := pacedSnapshot(100, 10, 0, start)
		got := algo.SliceSize(snap, View{}, start)
		assert.InDelta(t, 90, got, 1e-9)
	})
}

func TestVWAPSliceSize(t *testing.T) {
	start := time.Now().UTC()
	algo := VWAP{Participation: 0.10}
	snap := pacedSnapshot(100, 0, time.Minute, start)

	t.Run("base slice without usable market data", func(t *testing.T) {
		// ceil(100 * 0.10) = 10
		got := algo.SliceSize(snap, View{}, start)
		assert.InDelta(t, 10, got, 1e-9)

		got = algo.SliceSize(snap, View{Price: 100}, start)
		assert.InDelta(t, 10, got, 1e-9)
	})

	t.Run("shrinks with deviation from reference", func(t *testing.T) {
		// deviation 5% -> floor(10 * 0.95) = 9
		got := algo.SliceSize(snap, View{Price: 105, ReferenceVWAP: 100}, start)
		assert.InDelta(t, 9, got, 1e-9)

		// at reference -> full base
		got = algo.SliceSize(snap, View{Price: 100, ReferenceVWAP: 100}, start)
		assert.InDelta(t, 10, got, 1e-9)

		// price doubled -> factor floors at zero
		got = algo.SliceSize(snap, View{Price: 200, ReferenceVWAP: 100}, start)
		assert.Zero(t, got)
	})

	t.Run("ceil keeps small remainders moving", func(t *testing.T) {
		small := pacedSnapshot(3, 0, time.Minute, start)
		got := algo.SliceSize(small, View{}, start)
		assert.InDelta(t, 1, got, 1e-9)
	})

	t.Run("zero participation falls back to default", func(t *testing.T) {
		got := VWAP{}.SliceSize(snap, View{}, start)
		assert.InDelta(t, 10, got, 1e-9)
	})

	t.Run("clamped to remaining", func(t *testing.T) {
		wide := VWAP{Participation: 1}
		tail := pacedSnapshot(100, 99.5, time.Minute, start)
		got := wide.SliceSize(tail, View{}, start)
		assert.InDelta(t, 0.5, got, 1e-9)
	})
}

func TestPoVSliceSize(t *testing.T) {
	start := time.Now().UTC()
	snap := pacedSnapshot(1000, 0, time.Minute, start)

	t.Run("takes the cap share of observed volume", func(t *testing.T) {
		got := PoV{ParticipationCap: 0.30}.SliceSize(snap, View{PeriodVolume: 100}, start)
		assert.InDelta(t, 30, got, 1e-9)
	})

	t.Run("cap never exceeds thirty percent", func(t *testing.T) {
		got := PoV{ParticipationCap: 0.50}.SliceSize(snap, View{PeriodVolume: 100}, start)
		assert.InDelta(t, 30, got, 1e-9)
		got = PoV{}.SliceSize(snap, View{PeriodVolume: 100}, start)
		assert.InDelta(t, 30, got, 1e-9)
	})

	t.Run("lower configured cap is respected", func(t *testing.T) {
		got := PoV{ParticipationCap: 0.10}.SliceSize(snap, View{PeriodVolume: 100}, start)
		assert.InDelta(t, 10, got, 1e-9)
	})

	t.Run("no volume means no slice", func(t *testing.T) {
		got := PoV{ParticipationCap: 0.30}.SliceSize(snap, View{}, start)
		assert.Zero(t, got)
	})

	t.Run("clamped to remaining", func(t *testing.T) {
		tail := pacedSnapshot(1000, 990, time.Minute, start)
		got := PoV{ParticipationCap: 0.30}.SliceSize(tail, View{PeriodVolume: 1000}, start)
		assert.InDelta(t, 10, got, 1e-9)
	})
}

func TestOrderStateMachine(t *testing.T) {
	now := time.Now().UTC()
	ord := &order{id: "x", symbol: "ETHUSDT", buy: true, total: 10, start: now, end: now.Add(time.Minute), status: StatusActive}

	snap := ord.recordFill(4, 100)
	assert.InDelta(t, 4, snap.ExecutedQuantity, 1e-9)
	assert.InDelta(t, 100, snap.AvgExecutionPrice, 1e-9)

	snap = ord.recordFill(4, 110)
	assert.InDelta(t, 8, snap.ExecutedQuantity, 1e-9)
	assert.InDelta(t, 105, snap.AvgExecutionPrice, 1e-9)
	assert.InDelta(t, 2, snap.RemainingQuantity, 1e-9)

	// Zero and negative fills are ignored.
	snap = ord.recordFill(0, 100)
	assert.InDelta(t, 8, snap.ExecutedQuantity, 1e-9)

	assert.True(t, ord.complete())
	assert.False(t, ord.cancel())
	assert.False(t, ord.complete())
	assert.Equal(t, StatusCompleted, ord.Snapshot().Status)
}
