package engine

import (
	"sync"
	"time"
)

// SessionSnapshot is the read-only view of the daily counters.
type SessionSnapshot struct {
	StartTime   time.Time `json:"start_time"`
	DailyPnL    float64   `json:"daily_pnl"`
	TradesToday int       `json:"trades_today"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
}

// Session aggregates per-day trading counters. Counters move only on
// realized fills (closes and reductions), never on entries, and reset at
// the UTC day boundary.
type Session struct {
	mu          sync.Mutex
	startTime   time.Time
	day         time.Time
	dailyPnL    float64
	tradesToday int
	wins        int
	losses      int
	nowFn       func() time.Time
}

func NewSession() *Session {
	s := &Session{nowFn: time.Now}
	now := s.nowFn().UTC()
	s.startTime = now
	s.day = dayOf(now)
	return s
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// RecordFill folds one realized fill into the counters. Flat closes count
// as trades but as neither wins nor losses, so they leave the win rate
// untouched.
func (s *Session) RecordFill(realized float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rolloverLocked(s.nowFn().UTC())
	s.dailyPnL += realized
	s.tradesToday++
	switch {
	case realized > 0:
		s.wins++
	case realized < 0:
		s.losses++
	}
}

// DailyPnL returns today's realized PnL.
func (s *Session) DailyPnL() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rolloverLocked(s.nowFn().UTC())
	return s.dailyPnL
}

// Rollover resets the counters when the UTC day has changed. Returns true
// when a reset happened.
func (s *Session) Rollover() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rolloverLocked(s.nowFn().UTC())
}

func (s *Session) rolloverLocked(now time.Time) bool {
	day := dayOf(now)
	if !day.After(s.day) {
		return false
	}
	s.day = day
	s.dailyPnL = 0
	s.tradesToday = 0
	s.wins = 0
	s.losses = 0
	return true
}

func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rolloverLocked(s.nowFn().UTC())
	return SessionSnapshot{
		StartTime:   s.startTime,
		DailyPnL:    s.dailyPnL,
		TradesToday: s.tradesToday,
		Wins:        s.wins,
		Losses:      s.losses,
	}
}
