package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"carve/internal/execution"
	"carve/internal/gateway/exchange"
	"carve/internal/ledger"
	"carve/internal/risk"
	"carve/internal/signal"
)

type fakeGateway struct {
	mu       sync.Mutex
	requests []exchange.Request
	submit   func(exchange.Request) (exchange.Fill, error)
}

func (g *fakeGateway) Submit(_ context.Context, req exchange.Request) (exchange.Fill, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	return g.submit(req)
}

func (g *fakeGateway) submitted() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type fakeSession struct {
	dailyPnL float64
	realized []float64
}

func (s *fakeSession) DailyPnL() float64 { return s.dailyPnL }

func (s *fakeSession) RecordFill(realized float64) { s.realized = append(s.realized, realized) }

type fixture struct {
	proc    *Processor
	book    *ledger.Ledger
	gw      *fakeGateway
	sched   *execution.Scheduler
	session *fakeSession
}

func newFixture(limits risk.Limits, submit func(exchange.Request) (exchange.Fill, error)) *fixture {
	if submit == nil {
		submit = func(req exchange.Request) (exchange.Fill, error) {
			return exchange.Fill{FilledQuantity: req.Quantity, FillPrice: req.Price}, nil
		}
	}
	gw := &fakeGateway{submit: submit}
	book := ledger.New()
	sched := execution.NewScheduler(execution.Config{TickInterval: time.Hour}, gw, nil, book)
	session := &fakeSession{}
	proc := New(risk.NewLimiter(limits), book, gw, sched, session)
	return &fixture{proc: proc, book: book, gw: gw, sched: sched, session: session}
}

func buySignal(qty, price float64) signal.Signal {
	return signal.New("ETHUSDT", signal.SideBuy, 0.9, price, qty, signal.SourceStrategy)
}

func TestProcessDropsInvalidSignals(t *testing.T) {
	f := newFixture(risk.Limits{}, nil)

	sig := buySignal(1, 100)
	sig.Symbol = ""
	f.proc.Process(sig)

	assert.Equal(t, uint64(1), f.proc.Stats().Invalid)
	assert.Zero(t, f.gw.submitted())
}

func TestProcessHoldIsANoOp(t *testing.T) {
	f := newFixture(risk.Limits{}, nil)
	f.proc.Process(signal.New("ETHUSDT", signal.SideHold, 1, 100, 1, signal.SourceStrategy))

	stats := f.proc.Stats()
	assert.Equal(t, uint64(1), stats.Processed)
	assert.Zero(t, stats.Invalid)
	assert.Zero(t, stats.Submitted)
	assert.Zero(t, f.gw.submitted())
}

func TestProcessHaltGate(t *testing.T) {
	f := newFixture(risk.Limits{}, nil)
	f.book.ApplyFill("ETHUSDT", true, 5, 100)
	f.proc.Halt()
	assert.True(t, f.proc.IsHalted())

	t.Run("external signals are dropped while halted", func(t *testing.T) {
		f.proc.Process(buySignal(1, 100))
		assert.Zero(t, f.gw.submitted())
	})

	t.Run("risk exits bypass the halt", func(t *testing.T) {
		exit := signal.New("ETHUSDT", signal.SideSell, 1, 95, 5, signal.SourceRisk)
		f.proc.Process(exit)
		assert.Equal(t, 1, f.gw.submitted())
		assert.Equal(t, 0, f.book.OpenCount())
	})

	t.Run("resume reopens the pipe", func(t *testing.T) {
		f.proc.Resume()
		f.proc.Process(buySignal(1, 100))
		assert.Equal(t, 2, f.gw.submitted())
	})
}

func TestProcessSellWithoutPositionDropped(t *testing.T) {
	f := newFixture(risk.Limits{}, nil)
	f.proc.Process(signal.New("ETHUSDT", signal.SideSell, 1, 100, 1, signal.SourceStrategy))

	assert.Equal(t, uint64(1), f.proc.Stats().Invalid)
	assert.Zero(t, f.gw.submitted())
}

func TestProcessRiskRejection(t *testing.T) {
	f := newFixture(risk.Limits{MaxRiskPerTrade: 50}, nil)
	f.session.dailyPnL = 0

	f.proc.Process(buySignal(1, 100))
	assert.Equal(t, uint64(1), f.proc.Stats().RiskRejected)
	assert.Zero(t, f.gw.submitted())
	assert.Equal(t, 0, f.book.OpenCount())
}

func TestProcessDailyLossGateReadsSession(t *testing.T) {
	f := newFixture(risk.Limits{MaxDailyLoss: 1000}, nil)
	f.session.dailyPnL = -1000

	f.proc.Process(buySignal(1, 100))
	assert.Equal(t, uint64(1), f.proc.Stats().RiskRejected)
}

func TestProcessDirectBuyAppliesActualFill(t *testing.T) {
	// Gateway fills at a slipped price; the ledger must carry the actual
	// fill, not the optimistic signal price.
	f := newFixture(risk.Limits{}, func(req exchange.Request) (exchange.Fill, error) {
		return exchange.Fill{FilledQuantity: req.Quantity, FillPrice: req.Price * 1.01}, nil
	})

	f.proc.Process(buySignal(10, 100))

	pos, ok := f.book.Position("ETHUSDT")
	assert.True(t, ok)
	assert.InDelta(t, 10, pos.Quantity, 1e-9)
	assert.InDelta(t, 101, pos.AveragePrice, 1e-9)
	assert.Equal(t, uint64(1), f.proc.Stats().Submitted)
}

func TestProcessDirectRevertsOnGatewayFailure(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"rejection", &exchange.RejectionError{Reason: "bad qty"}},
		{"timeout", context.DeadlineExceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(risk.Limits{}, func(exchange.Request) (exchange.Fill, error) {
				return exchange.Fill{}, tc.err
			})
			f.proc.Process(buySignal(10, 100))

			assert.Equal(t, 0, f.book.OpenCount())
			assert.Zero(t, f.proc.Stats().Submitted)
		})
	}
}

func TestProcessDirectKeepsConcurrentFills(t *testing.T) {
	// A scheduler worker can land fills on the book while submitDirect is
	// waiting on the gateway. Both the failure revert and the success
	// reconciliation must leave those fills intact.
	t.Run("gateway rejection", func(t *testing.T) {
		var book *ledger.Ledger
		f := newFixture(risk.Limits{}, func(exchange.Request) (exchange.Fill, error) {
			book.ApplyFill("BTCUSDT", false, 1, 50100)
			return exchange.Fill{}, &exchange.RejectionError{Reason: "bad qty"}
		})
		book = f.book
		book.ApplyFill("BTCUSDT", true, 1, 50000)

		f.proc.Process(buySignal(10, 100))

		_, ok := f.book.Position("ETHUSDT")
		assert.False(t, ok)
		assert.InDelta(t, 100, f.book.Snapshot().TotalRealizedPnL, 1e-9)
	})

	t.Run("confirmed fill", func(t *testing.T) {
		var book *ledger.Ledger
		f := newFixture(risk.Limits{}, func(req exchange.Request) (exchange.Fill, error) {
			book.ApplyFill("BTCUSDT", false, 1, 50100)
			return exchange.Fill{FilledQuantity: req.Quantity, FillPrice: req.Price}, nil
		})
		book = f.book
		book.ApplyFill("BTCUSDT", true, 1, 50000)

		f.proc.Process(buySignal(10, 100))

		pos, ok := f.book.Position("ETHUSDT")
		assert.True(t, ok)
		assert.InDelta(t, 10, pos.Quantity, 1e-9)
		assert.InDelta(t, 100, f.book.Snapshot().TotalRealizedPnL, 1e-9)
	})
}

func TestProcessDirectSellRecordsSessionFill(t *testing.T) {
	f := newFixture(risk.Limits{}, nil)
	f.book.ApplyFill("ETHUSDT", true, 10, 100)

	f.proc.Process(signal.New("ETHUSDT", signal.SideSell, 1, 110, 10, signal.SourceStrategy))

	assert.Equal(t, 0, f.book.OpenCount())
	assert.Len(t, f.session.realized, 1)
	assert.InDelta(t, 100, f.session.realized[0], 1e-9)
}

func TestProcessAlgorithmRoutesToScheduler(t *testing.T) {
	f := newFixture(risk.Limits{}, nil)
	defer f.sched.Stop()

	sig := buySignal(100, 100)
	sig.Algorithm = "TWAP"
	sig.Window = time.Hour
	f.proc.Process(sig)

	assert.Equal(t, uint64(1), f.proc.Stats().Sliced)
	assert.Equal(t, 1, f.sched.ActiveCount())
	// Nothing reaches the gateway until the scheduler ticks.
	assert.Zero(t, f.gw.submitted())
}

func TestProcessUnknownAlgorithmDropped(t *testing.T) {
	f := newFixture(risk.Limits{}, nil)
	sig := buySignal(100, 100)
	sig.Algorithm = "ICEBERG"
	f.proc.Process(sig)

	assert.Zero(t, f.proc.Stats().Sliced)
	assert.Equal(t, 0, f.sched.ActiveCount())
}
