// Package engine is the composition root of the trading core. It owns the
// ledger, risk limiter, signal processor and execution scheduler, runs the
// periodic monitors and exposes read-only status snapshots.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"carve/internal/execution"
	"carve/internal/ledger"
	"carve/internal/logger"
	"carve/internal/market"
	"carve/internal/risk"
	"carve/internal/signal"
	"carve/internal/signal/processor"

	"golang.org/x/sync/errgroup"
)

// Config tunes monitor cadences and degradation thresholds.
type Config struct {
	PortfolioInterval   time.Duration
	RiskInterval        time.Duration
	PerformanceInterval time.Duration
	SignalPollInterval  time.Duration
	FeedTimeout         time.Duration
	DegradedThreshold   int
	InitialEquity       float64
}

func (c Config) withDefaults() Config {
	if c.PortfolioInterval <= 0 {
		c.PortfolioInterval = 5 * time.Second
	}
	if c.RiskInterval <= 0 {
		c.RiskInterval = time.Second
	}
	if c.PerformanceInterval <= 0 {
		c.PerformanceInterval = time.Hour
	}
	if c.SignalPollInterval <= 0 {
		c.SignalPollInterval = time.Minute
	}
	if c.FeedTimeout <= 0 {
		c.FeedTimeout = 3 * time.Second
	}
	if c.DegradedThreshold <= 0 {
		c.DegradedThreshold = 3
	}
	if c.InitialEquity <= 0 {
		c.InitialEquity = 100000
	}
	return c
}

// Notifier is a fire-and-forget event sink.
type Notifier interface {
	SendText(text string) error
}

// Status is the externally visible health view. Internal orders are not
// exposed.
type Status struct {
	Running          bool           `json:"running"`
	Halted           bool           `json:"halted"`
	Degraded         bool           `json:"degraded"`
	MonitorFailures  map[string]int `json:"monitor_failures"`
	OpenPositions    int            `json:"open_positions"`
	ActiveExecutions int            `json:"active_executions"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Metrics rolls up session counters, pipeline stats and PnL totals.
type Metrics struct {
	Session            SessionSnapshot `json:"session"`
	Pipeline           processor.Stats `json:"pipeline"`
	TotalRealizedPnL   float64         `json:"total_realized_pnl"`
	TotalUnrealizedPnL float64         `json:"total_unrealized_pnl"`
	Equity             float64         `json:"equity"`
	PeakEquity         float64         `json:"peak_equity"`
	Drawdown           float64         `json:"drawdown"`
}

// Engine wires the core components together and drives the monitors.
type Engine struct {
	cfg       Config
	limiter   *risk.Limiter
	book      *ledger.Ledger
	proc      *processor.Processor
	sched     *execution.Scheduler
	feed      market.Feed
	session   *Session
	notify    Notifier
	generator signal.Generator

	mu         sync.Mutex
	running    bool
	peakEquity float64
	equity     float64
	failures   map[string]int
}

func New(cfg Config, limiter *risk.Limiter, book *ledger.Ledger, proc *processor.Processor,
	sched *execution.Scheduler, feed market.Feed, session *Session) *Engine {
	final := cfg.withDefaults()
	return &Engine{
		cfg:        final,
		limiter:    limiter,
		book:       book,
		proc:       proc,
		sched:      sched,
		feed:       feed,
		session:    session,
		peakEquity: final.InitialEquity,
		equity:     final.InitialEquity,
		failures:   make(map[string]int),
	}
}

// SetNotifier wires the event sink.
func (e *Engine) SetNotifier(n Notifier) { e.notify = n }

// SetGenerator wires an optional signal generator polled on the signal
// cadence.
func (e *Engine) SetGenerator(g signal.Generator) { e.generator = g }

// Process forwards an external signal into the ingestion pipeline.
func (e *Engine) Process(sig signal.Signal) { e.proc.Process(sig) }

// Resume lifts a drawdown halt.
func (e *Engine) Resume() {
	e.proc.Resume()
	logger.Infof("Engine: signal acceptance resumed")
}

// Run drives the monitors until ctx is done. Each monitor runs on its own
// cadence and its failures never stop the others; they only feed the
// degraded flag.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	logger.Infof("Engine: monitors starting (portfolio=%s risk=%s performance=%s)",
		e.cfg.PortfolioInterval, e.cfg.RiskInterval, e.cfg.PerformanceInterval)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		e.monitorLoop(ctx, "portfolio", e.cfg.PortfolioInterval, e.portfolioTick)
		return nil
	})
	group.Go(func() error {
		e.monitorLoop(ctx, "risk", e.cfg.RiskInterval, e.riskTick)
		return nil
	})
	group.Go(func() error {
		e.monitorLoop(ctx, "performance", e.cfg.PerformanceInterval, e.performanceTick)
		return nil
	})
	if e.generator != nil {
		group.Go(func() error {
			e.monitorLoop(ctx, "signals", e.cfg.SignalPollInterval, e.signalTick)
			return nil
		})
	}

	err := group.Wait()
	e.sched.Stop()
	return err
}

func (e *Engine) monitorLoop(ctx context.Context, name string, interval time.Duration, tick func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runTick(ctx, name, tick)
		}
	}
}

// runTick isolates one monitor step: panics are recovered, failures are
// counted toward the degraded flag and cleared on the next success.
func (e *Engine) runTick(ctx context.Context, name string, tick func(context.Context) error) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Engine %s monitor panic: %v", name, r)
			debug.PrintStack()
			err = fmt.Errorf("panic: %v", r)
		}
		e.recordTick(name, err)
	}()
	err = tick(ctx)
}

func (e *Engine) recordTick(name string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.failures[name]++
		logger.Warnf("Engine %s monitor tick failed (%d consecutive): %v", name, e.failures[name], err)
		return
	}
	e.failures[name] = 0
}

// portfolioTick marks every open position to market and feeds breached
// stop-loss/take-profit exits back through the uniform ingestion path.
func (e *Engine) portfolioTick(ctx context.Context) error {
	snap := e.book.Snapshot()
	if len(snap.Positions) == 0 {
		return nil
	}

	var firstErr error
	for _, pos := range snap.Positions {
		fctx, cancel := context.WithTimeout(ctx, e.cfg.FeedTimeout)
		quote, err := e.feed.Latest(fctx, pos.Symbol)
		cancel()
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("latest %s: %w", pos.Symbol, err)
			}
			continue
		}
		e.book.MarkToMarket(pos.Symbol, quote.Price)
	}

	for _, exit := range e.limiter.EvaluatePositions(e.book.Snapshot().Positions) {
		reason, _ := exit.Metadata["reason"].(string)
		logger.Infof("Engine: %s exit for %s (qty=%v)", reason, exit.Symbol, exit.Quantity)
		e.proc.Process(exit)
	}
	return firstErr
}

// riskTick recomputes equity and drawdown; a breach closes everything and
// halts new signal acceptance until Resume.
func (e *Engine) riskTick(context.Context) error {
	snap := e.book.Snapshot()
	equity := e.cfg.InitialEquity + snap.TotalRealizedPnL + snap.TotalUnrealizedPnL

	e.mu.Lock()
	e.equity = equity
	if equity > e.peakEquity {
		e.peakEquity = equity
	}
	peak := e.peakEquity
	e.mu.Unlock()

	if !e.limiter.DrawdownBreached(peak, equity) {
		return nil
	}
	if e.proc.IsHalted() {
		return nil
	}

	logger.Errorf("Engine: max drawdown breached (peak=%.2f equity=%.2f), closing all positions", peak, equity)
	e.proc.Halt()
	e.send(fmt.Sprintf("max drawdown breached: peak=%.2f equity=%.2f, closing all positions", peak, equity))
	e.closeAll(snap.Positions)
	return nil
}

func (e *Engine) closeAll(positions []ledger.Position) {
	for _, pos := range positions {
		price := pos.CurrentPrice
		if price <= 0 {
			price = pos.AveragePrice
		}
		exit := signal.New(pos.Symbol, signal.SideSell, 1, price, pos.Quantity, signal.SourceRisk)
		exit.Metadata = map[string]any{"reason": risk.ExitReasonDrawdown}
		e.proc.Process(exit)
	}
}

// performanceTick logs the session rollup and resets counters at the day
// boundary.
func (e *Engine) performanceTick(context.Context) error {
	if e.session.Rollover() {
		logger.Infof("Engine: session counters reset at day boundary")
	}
	sess := e.session.Snapshot()
	logger.Infof("Engine performance: trades=%d wins=%d losses=%d dailyPnL=%.2f",
		sess.TradesToday, sess.Wins, sess.Losses, sess.DailyPnL)
	return nil
}

func (e *Engine) signalTick(ctx context.Context) error {
	sigs, err := e.generator.Generate(ctx)
	for _, sig := range sigs {
		e.proc.Process(sig)
	}
	return err
}

func (e *Engine) send(text string) {
	if e.notify == nil {
		return
	}
	go func() {
		if err := e.notify.SendText(text); err != nil {
			logger.Debugf("Engine notify failed: %v", err)
		}
	}()
}

// Status reports engine health without exposing internal orders.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	degraded := false
	fails := make(map[string]int, len(e.failures))
	for name, n := range e.failures {
		fails[name] = n
		if n >= e.cfg.DegradedThreshold {
			degraded = true
		}
	}
	return Status{
		Running:          e.running,
		Halted:           e.proc.IsHalted(),
		Degraded:         degraded,
		MonitorFailures:  fails,
		OpenPositions:    e.book.OpenCount(),
		ActiveExecutions: e.sched.ActiveCount(),
		UpdatedAt:        time.Now().UTC(),
	}
}

// Positions returns a copy of the open positions.
func (e *Engine) Positions() []ledger.Position {
	return e.book.Snapshot().Positions
}

// Executions returns snapshots of the active parent orders.
func (e *Engine) Executions() []execution.Snapshot {
	return e.sched.Active()
}

// Metrics returns the aggregate counters.
func (e *Engine) Metrics() Metrics {
	snap := e.book.Snapshot()

	e.mu.Lock()
	peak := e.peakEquity
	equity := e.equity
	e.mu.Unlock()

	drawdown := 0.0
	if peak > 0 && equity < peak {
		drawdown = (peak - equity) / peak
	}
	return Metrics{
		Session:            e.session.Snapshot(),
		Pipeline:           e.proc.Stats(),
		TotalRealizedPnL:   snap.TotalRealizedPnL,
		TotalUnrealizedPnL: snap.TotalUnrealizedPnL,
		Equity:             equity,
		PeakEquity:         peak,
		Drawdown:           drawdown,
	}
}
