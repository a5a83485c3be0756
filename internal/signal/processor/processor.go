// Package processor is the single ingestion path for trading signals.
// External signals, webhook signals and synthetic risk exits all pass
// through Process, which validates, risk-gates and then submits either
// directly through the gateway or sliced through the execution scheduler.
package processor

import (
	"context"
	"sync/atomic"
	"time"

	"carve/internal/execution"
	"carve/internal/gateway/exchange"
	"carve/internal/ledger"
	"carve/internal/logger"
	"carve/internal/risk"
	"carve/internal/signal"

	"github.com/google/uuid"
)

// Session is the daily counter sink. Implemented by the engine; consulted
// for the daily-loss gate and updated only on realized fills.
type Session interface {
	DailyPnL() float64
	RecordFill(realized float64)
}

// Stats are observability counters for the ingestion pipe.
type Stats struct {
	Processed    uint64 `json:"processed"`
	Invalid      uint64 `json:"invalid"`
	RiskRejected uint64 `json:"risk_rejected"`
	Submitted    uint64 `json:"submitted"`
	Sliced       uint64 `json:"sliced"`
}

// Processor consumes signals exactly once. Process never returns an error:
// a bad signal must not crash the engine, so every failure is logged and
// counted instead.
type Processor struct {
	limiter *risk.Limiter
	book    *ledger.Ledger
	gateway exchange.Gateway
	sched   *execution.Scheduler
	session Session

	submitTimeout time.Duration
	halted        atomic.Bool

	processed    atomic.Uint64
	invalid      atomic.Uint64
	riskRejected atomic.Uint64
	submitted    atomic.Uint64
	sliced       atomic.Uint64
}

func New(limiter *risk.Limiter, book *ledger.Ledger, gw exchange.Gateway, sched *execution.Scheduler, session Session) *Processor {
	return &Processor{
		limiter:       limiter,
		book:          book,
		gateway:       gw,
		sched:         sched,
		session:       session,
		submitTimeout: 5 * time.Second,
	}
}

// SetSubmitTimeout overrides the direct-submission deadline.
func (p *Processor) SetSubmitTimeout(d time.Duration) {
	if d > 0 {
		p.submitTimeout = d
	}
}

// Halt stops acceptance of new signals. Synthetic risk exits still pass so
// a drawdown close-all can unwind positions while halted.
func (p *Processor) Halt() { p.halted.Store(true) }

func (p *Processor) Resume() { p.halted.Store(false) }

func (p *Processor) IsHalted() bool { return p.halted.Load() }

func (p *Processor) Stats() Stats {
	return Stats{
		Processed:    p.processed.Load(),
		Invalid:      p.invalid.Load(),
		RiskRejected: p.riskRejected.Load(),
		Submitted:    p.submitted.Load(),
		Sliced:       p.sliced.Load(),
	}
}

// Process runs the pipeline: structural validation, risk gate, submission.
// Short-circuits on the first failure; every drop is logged with its cause.
func (p *Processor) Process(sig signal.Signal) {
	p.processed.Add(1)

	if err := sig.Validate(); err != nil {
		p.invalid.Add(1)
		logger.Warnf("Signal %s dropped: %v", sig.ID, err)
		return
	}
	if sig.Side == signal.SideHold {
		logger.Debugf("Signal %s: HOLD for %s, nothing to do", sig.ID, sig.Symbol)
		return
	}
	if p.halted.Load() && sig.Source != signal.SourceRisk {
		logger.Warnf("Signal %s dropped: engine halted", sig.ID)
		return
	}

	_, holds := p.book.Position(sig.Symbol)
	if sig.Side == signal.SideSell && !holds {
		p.invalid.Add(1)
		logger.Warnf("Signal %s dropped: SELL %s with no open position", sig.ID, sig.Symbol)
		return
	}

	state := risk.State{
		OpenPositions: p.book.OpenCount(),
		HoldsSymbol:   holds,
	}
	if p.session != nil {
		state.DailyPnL = p.session.DailyPnL()
	}
	if verdict := p.limiter.Check(sig, state); !verdict.Approved {
		p.riskRejected.Add(1)
		logger.Warnf("Signal %s dropped by risk limit: %s", sig.ID, verdict.Reason)
		return
	}

	if sig.Algorithm != "" {
		p.slice(sig)
		return
	}
	p.submitDirect(sig)
}

func (p *Processor) slice(sig signal.Signal) {
	id, err := p.sched.Submit(execution.SubmitRequest{
		Symbol:    sig.Symbol,
		Buy:       sig.Side == signal.SideBuy,
		Quantity:  sig.Quantity,
		Algorithm: sig.Algorithm,
		Window:    sig.Window,
	})
	if err != nil {
		logger.Warnf("Signal %s dropped: scheduler refused: %v", sig.ID, err)
		return
	}
	p.sliced.Add(1)
	logger.Infof("Signal %s: handed to %s execution %s", sig.ID, sig.Algorithm, id)
}

// submitDirect reserves the position optimistically at the signal price,
// submits, and reconciles against the actual fill. A gateway rejection or
// timeout rolls the reservation back.
func (p *Processor) submitDirect(sig signal.Signal) {
	buy := sig.Side == signal.SideBuy
	res, err := p.book.Reserve(sig.Symbol, buy, sig.Quantity, sig.Price)
	if err != nil {
		logger.Errorf("Signal %s: ledger refused optimistic %s: %v", sig.ID, sig.Side, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.submitTimeout)
	defer cancel()
	fill, err := p.gateway.Submit(ctx, exchange.Request{
		ClientOrderID: uuid.NewString(),
		Symbol:        sig.Symbol,
		Side:          string(sig.Side),
		Quantity:      sig.Quantity,
		Price:         sig.Price,
	})
	if err != nil {
		p.book.Revert(res)
		switch {
		case exchange.IsRejection(err):
			logger.Warnf("Signal %s: gateway rejected: %v", sig.ID, err)
		case exchange.IsTimeout(err):
			logger.Warnf("Signal %s: gateway timeout, order dropped", sig.ID)
		default:
			logger.Errorf("Signal %s: gateway error: %v", sig.ID, err)
		}
		return
	}

	// Swap the optimistic reservation for the confirmed fill; both are
	// deltas, so fills landing concurrently on other symbols are untouched.
	p.book.Revert(res)
	realized, err := p.book.ApplyFill(sig.Symbol, buy, fill.FilledQuantity, fill.FillPrice)
	if err != nil {
		logger.Errorf("Signal %s: ledger violation applying confirmed fill: %v", sig.ID, err)
		return
	}
	p.submitted.Add(1)
	logger.Infof("Signal %s: filled %s %s qty=%v price=%v", sig.ID, sig.Side, sig.Symbol, fill.FilledQuantity, fill.FillPrice)

	if !buy && p.session != nil {
		p.session.RecordFill(realized)
	}
}
