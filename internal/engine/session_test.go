package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionRecordFill(t *testing.T) {
	s := NewSession()

	s.RecordFill(150)
	s.RecordFill(-50)
	s.RecordFill(0) // flat close: a trade, but neither win nor loss

	snap := s.Snapshot()
	assert.InDelta(t, 100, snap.DailyPnL, 1e-9)
	assert.Equal(t, 3, snap.TradesToday)
	assert.Equal(t, 1, snap.Wins)
	assert.Equal(t, 1, snap.Losses)
	assert.InDelta(t, 100, s.DailyPnL(), 1e-9)
}

func TestSessionRolloverAtUTCDayBoundary(t *testing.T) {
	s := NewSession()
	now := time.Date(2026, 8, 30, 23, 50, 0, 0, time.UTC)
	s.nowFn = func() time.Time { return now }
	s.day = dayOf(now)

	s.RecordFill(-200)
	assert.InDelta(t, -200, s.DailyPnL(), 1e-9)
	assert.False(t, s.Rollover())

	now = time.Date(2026, 8, 31, 0, 5, 0, 0, time.UTC)
	assert.True(t, s.Rollover())
	assert.False(t, s.Rollover())

	snap := s.Snapshot()
	assert.Zero(t, snap.DailyPnL)
	assert.Zero(t, snap.TradesToday)
	assert.Zero(t, snap.Wins)
	assert.Zero(t, snap.Losses)
	assert.False(t, snap.StartTime.IsZero())
}

func TestSessionReadsRollOverLazily(t *testing.T) {
	s := NewSession()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	s.nowFn = func() time.Time { return now }
	s.day = dayOf(now)

	s.RecordFill(500)
	now = now.Add(24 * time.Hour)

	// Reading across the boundary resets without an explicit Rollover call.
	assert.Zero(t, s.DailyPnL())
}
