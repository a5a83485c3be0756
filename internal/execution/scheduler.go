package execution

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"carve/internal/gateway/exchange"
	"carve/internal/ledger"
	"carve/internal/logger"
	"carve/internal/market"
	"carve/internal/pkg/circuit"

	"github.com/google/uuid"
)

// Config tunes the scheduler and its algorithms.
type Config struct {
	TickInterval        time.Duration
	SubmitTimeout       time.Duration
	FeedTimeout         time.Duration
	DefaultWindow       time.Duration
	VWAPLookback        int
	VWAPParticipation   float64
	PoVParticipationCap float64
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 5 * time.Second
	}
	if c.FeedTimeout <= 0 {
		c.FeedTimeout = 3 * time.Second
	}
	if c.DefaultWindow <= 0 {
		c.DefaultWindow = 5 * time.Minute
	}
	if c.VWAPLookback <= 0 {
		c.VWAPLookback = 20
	}
	if c.VWAPParticipation <= 0 {
		c.VWAPParticipation = 0.10
	}
	if c.PoVParticipationCap <= 0 || c.PoVParticipationCap > 0.30 {
		c.PoVParticipationCap = 0.30
	}
	return c
}

// SubmitRequest describes a parent order handed to an algorithm.
type SubmitRequest struct {
	Symbol     string
	Buy        bool
	Quantity   float64
	Algorithm  string
	Window     time.Duration
	LimitPrice float64 // 0 submits at market
}

// FillRecord is the audit view of one confirmed child fill.
type FillRecord struct {
	ExecutionID string    `json:"execution_id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	RealizedPnL float64   `json:"realized_pnl"`
	FilledAt    time.Time `json:"filled_at"`
}

// AuditSink receives best-effort persistence callbacks. Failures are logged
// and never affect scheduling.
type AuditSink interface {
	SaveExecution(ctx context.Context, snap Snapshot) error
	SaveFill(ctx context.Context, rec FillRecord) error
}

// Notifier is a fire-and-forget event sink.
type Notifier interface {
	SendText(text string) error
}

// Scheduler runs one worker goroutine per active parent order. Every tick
// the worker sizes a slice via the order's algorithm and submits it through
// the gateway; confirmed fills flow into the ledger in submission order.
type Scheduler struct {
	cfg     Config
	gateway exchange.Gateway
	feed    market.Feed
	book    *ledger.Ledger
	audit   AuditSink
	notify  Notifier
	onFill  func(FillRecord)

	feedBreaker *circuit.Breaker
	gwBreaker   *circuit.Breaker

	mu     sync.Mutex
	orders map[string]*managedOrder
	closed bool
	wg     sync.WaitGroup
}

type managedOrder struct {
	ord    *order
	algo   Algorithm
	cancel context.CancelFunc
}

func NewScheduler(cfg Config, gw exchange.Gateway, feed market.Feed, book *ledger.Ledger) *Scheduler {
	return &Scheduler{
		cfg:         cfg.withDefaults(),
		gateway:     gw,
		feed:        feed,
		book:        book,
		feedBreaker: circuit.NewBreaker("execution-feed", 5, 30*time.Second),
		gwBreaker:   circuit.NewBreaker("execution-gateway", 5, 30*time.Second),
		orders:      make(map[string]*managedOrder),
	}
}

// SetAudit wires the best-effort persistence sink.
func (s *Scheduler) SetAudit(audit AuditSink) { s.audit = audit }

// SetNotifier wires the fire-and-forget event sink.
func (s *Scheduler) SetNotifier(n Notifier) { s.notify = n }

// SetFillListener registers a callback invoked after every confirmed fill
// (session metrics). Must be set before the first Submit.
func (s *Scheduler) SetFillListener(fn func(FillRecord)) { s.onFill = fn }

// Submit registers a parent order and starts its tick worker. Returns the
// execution id.
func (s *Scheduler) Submit(req SubmitRequest) (string, error) {
	if strings.TrimSpace(req.Symbol) == "" {
		return "", fmt.Errorf("submit: symbol is required")
	}
	if req.Quantity <= 0 {
		return "", fmt.Errorf("submit: quantity must be > 0")
	}
	algo, err := NewAlgorithm(req.Algorithm, s.cfg)
	if err != nil {
		return "", err
	}
	window := req.Window
	if window <= 0 {
		window = s.cfg.DefaultWindow
	}

	now := time.Now().UTC()
	ord := &order{
		id:        uuid.NewString(),
		algorithm: algo.Name(),
		symbol:    strings.ToUpper(strings.TrimSpace(req.Symbol)),
		buy:       req.Buy,
		total:     req.Quantity,
		limit:     req.LimitPrice,
		start:     now,
		end:       now.Add(window),
		status:    StatusActive,
		updated:   now,
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &managedOrder{ord: ord, algo: algo, cancel: cancel}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return "", fmt.Errorf("submit: scheduler is stopped")
	}
	s.orders[ord.id] = m
	s.mu.Unlock()

	snap := ord.Snapshot()
	s.persist(snap)
	logger.Infof("Execution %s: %s %s %s qty=%v window=%s",
		snap.ID, snap.Algorithm, snap.Side, snap.Symbol, snap.TotalQuantity, window)

	s.wg.Add(1)
	go s.runOrder(ctx, m)
	return ord.id, nil
}

// Cancel transitions an ACTIVE order to CANCELLED before its next tick.
// Already-executed slices stay in the ledger. Cancelling a terminal or
// unknown order is a no-op.
func (s *Scheduler) Cancel(executionID string) {
	s.mu.Lock()
	m, ok := s.orders[executionID]
	s.mu.Unlock()
	if !ok {
		return
	}
	if m.ord.cancel() {
		m.cancel()
		logger.Infof("Execution %s: cancelled", executionID)
		s.persist(m.ord.Snapshot())
	}
}

// Get returns the snapshot for an execution id still in the registry.
// Terminal orders are removed when their worker exits; look them up in the
// audit store instead.
func (s *Scheduler) Get(executionID string) (Snapshot, bool) {
	s.mu.Lock()
	m, ok := s.orders[executionID]
	s.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return m.ord.Snapshot(), true
}

// Active returns snapshots of all ACTIVE orders, sorted by start time.
func (s *Scheduler) Active() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Snapshot, 0, len(s.orders))
	for _, m := range s.orders {
		snap := m.ord.Snapshot()
		if snap.Status == StatusActive {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// ActiveCount returns the number of ACTIVE orders.
func (s *Scheduler) ActiveCount() int {
	return len(s.Active())
}

// Stop cancels every worker and waits for them to drain. In-flight child
// submissions complete; their fills are applied.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	for _, m := range s.orders {
		m.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) runOrder(ctx context.Context, m *managedOrder) {
	defer s.wg.Done()
	defer s.remove(m.ord.id)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if s.tick(ctx, m, now.UTC()) {
				return
			}
		}
	}
}

// tick runs one scheduling step. Returns true when the order reached a
// terminal state and the worker should exit.
func (s *Scheduler) tick(ctx context.Context, m *managedOrder, now time.Time) bool {
	if ctx.Err() != nil {
		return true
	}
	snap := m.ord.Snapshot()
	if snap.Status != StatusActive {
		return true
	}

	// Deadline policy: never leave quantity pending past the window.
	if !now.Before(snap.EndTime) {
		return s.forceComplete(m, snap)
	}

	view, ok := s.marketView(ctx, m.algo, snap.Symbol)
	if !ok {
		return false
	}

	slice := m.algo.SliceSize(snap, view, now)
	if slice <= 0 {
		return false
	}

	fill, ok := s.submitSlice(ctx, snap, slice, view)
	if !ok {
		return false
	}

	snap = m.ord.recordFill(fill.FilledQuantity, fill.FillPrice)
	realized, err := s.book.ApplyFill(snap.Symbol, snap.Side == "BUY", fill.FilledQuantity, fill.FillPrice)
	if err != nil {
		// Ordering bug: fatal for this order, surfaced loudly, never
		// swallowed.
		logger.Errorf("Execution %s: ledger violation on %s fill qty=%v price=%v: %v",
			snap.ID, snap.Symbol, fill.FilledQuantity, fill.FillPrice, err)
		m.ord.cancel()
		s.persist(m.ord.Snapshot())
		s.send(fmt.Sprintf("execution %s cancelled: ledger violation: %v", snap.ID, err))
		return true
	}

	rec := FillRecord{
		ExecutionID: snap.ID,
		Symbol:      snap.Symbol,
		Side:        snap.Side,
		Quantity:    fill.FilledQuantity,
		Price:       fill.FillPrice,
		RealizedPnL: realized,
		FilledAt:    now,
	}
	s.recordFill(rec)

	if snap.RemainingQuantity <= 0 {
		if m.ord.complete() {
			logger.Infof("Execution %s: completed qty=%v avg=%v", snap.ID, snap.ExecutedQuantity, snap.AvgExecutionPrice)
			s.persist(m.ord.Snapshot())
		}
		return true
	}
	s.persist(snap)
	return false
}

func (s *Scheduler) forceComplete(m *managedOrder, snap Snapshot) bool {
	if !m.ord.complete() {
		return true
	}
	if snap.RemainingQuantity > 0 {
		logger.Warnf("Execution %s: partial fill at deadline, %s %v/%v filled",
			snap.ID, snap.Symbol, snap.ExecutedQuantity, snap.TotalQuantity)
		s.send(fmt.Sprintf("execution %s force-completed at deadline with %v of %v filled",
			snap.ID, snap.ExecutedQuantity, snap.TotalQuantity))
	}
	s.persist(m.ord.Snapshot())
	return true
}

// marketView fetches the observations the algorithm needs. A feed failure
// or open breaker means no slice this tick, never a halted order.
func (s *Scheduler) marketView(ctx context.Context, algo Algorithm, symbol string) (View, bool) {
	if !algo.NeedsMarketData() {
		return View{}, true
	}
	if s.feed == nil || !s.feedBreaker.Allow() {
		return View{}, false
	}

	fctx, cancel := context.WithTimeout(ctx, s.cfg.FeedTimeout)
	defer cancel()

	quote, err := s.feed.Latest(fctx, symbol)
	if err != nil {
		s.feedBreaker.RecordFailure()
		logger.Debugf("Execution feed: latest %s failed, skipping tick: %v", symbol, err)
		return View{}, false
	}
	view := View{Price: quote.Price, PeriodVolume: quote.Volume}

	if algo.Name() == AlgoVWAP {
		bars, err := s.feed.History(fctx, symbol, s.cfg.VWAPLookback)
		if err != nil {
			s.feedBreaker.RecordFailure()
			logger.Debugf("Execution feed: history %s failed, skipping tick: %v", symbol, err)
			return View{}, false
		}
		view.ReferenceVWAP = market.ReferenceVWAP(market.Tail(bars, s.cfg.VWAPLookback))
	}
	s.feedBreaker.RecordSuccess()
	return view, true
}

// submitSlice sends one child order. Timeouts are "no fill this tick";
// rejections are terminal for the slice only.
func (s *Scheduler) submitSlice(ctx context.Context, snap Snapshot, slice float64, view View) (exchange.Fill, bool) {
	if !s.gwBreaker.Allow() {
		return exchange.Fill{}, false
	}

	req := exchange.Request{
		ClientOrderID: uuid.NewString(),
		Symbol:        snap.Symbol,
		Side:          snap.Side,
		Quantity:      slice,
		Price:         s.slicePrice(snap, view),
	}
	sctx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
	defer cancel()

	fill, err := s.gateway.Submit(sctx, req)
	switch {
	case err == nil:
		s.gwBreaker.RecordSuccess()
		if fill.FilledQuantity <= 0 {
			return exchange.Fill{}, false
		}
		return fill, true
	case exchange.IsTimeout(err):
		s.gwBreaker.RecordFailure()
		logger.Warnf("Execution %s: gateway timeout on %s slice qty=%v, retrying next tick",
			snap.ID, snap.Symbol, slice)
		return exchange.Fill{}, false
	case exchange.IsRejection(err):
		logger.Warnf("Execution %s: slice rejected: %v", snap.ID, err)
		return exchange.Fill{}, false
	default:
		s.gwBreaker.RecordFailure()
		logger.Errorf("Execution %s: gateway error on %s tick at %s: %v",
			snap.ID, snap.Symbol, time.Now().UTC().Format(time.RFC3339), err)
		return exchange.Fill{}, false
	}
}

func (s *Scheduler) slicePrice(snap Snapshot, view View) float64 {
	// Limit price when configured, else market at the observed price.
	if limit := s.limitFor(snap.ID); limit > 0 {
		return limit
	}
	return view.Price
}

func (s *Scheduler) limitFor(executionID string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.orders[executionID]; ok {
		return m.ord.limit
	}
	return 0
}

func (s *Scheduler) recordFill(rec FillRecord) {
	if s.onFill != nil {
		s.onFill(rec)
	}
	if s.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.audit.SaveFill(ctx, rec); err != nil {
		logger.Warnf("Execution %s: fill audit failed: %v", rec.ExecutionID, err)
	}
}

func (s *Scheduler) persist(snap Snapshot) {
	if s.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.audit.SaveExecution(ctx, snap); err != nil {
		logger.Warnf("Execution %s: audit save failed: %v", snap.ID, err)
	}
}

func (s *Scheduler) send(text string) {
	if s.notify == nil {
		return
	}
	go func() {
		if err := s.notify.SendText(text); err != nil {
			logger.Debugf("Execution notify failed: %v", err)
		}
	}()
}

func (s *Scheduler) remove(executionID string) {
	s.mu.Lock()
	delete(s.orders, executionID)
	s.mu.Unlock()
}
