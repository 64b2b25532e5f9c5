// Package engine runs the market-making loop: one goroutine owning all
// trading state, driven by a tick timer and the exchange event stream.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"market-agent-go/exchange"
	"market-agent-go/infrastructure/logger"
	"market-agent-go/inventory"
	"market-agent-go/market"
	"market-agent-go/metrics"
	"market-agent-go/order"
	"market-agent-go/posttrade"
	"market-agent-go/quote"
	"market-agent-go/risk"
	"market-agent-go/signal"
)

// ErrFeedClosed reports that the event stream terminated for good. The loop
// treats it as fatal: cancel everything and return.
var ErrFeedClosed = errors.New("engine: event feed closed")

// State is the engine lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Instrument bundles the per-instrument pipeline: signal, risk band, quote
// construction and order reconciliation, plus the position it trades.
type Instrument struct {
	Spec       quote.InstrumentSpec
	Signals    *signal.Engine
	Builder    *quote.Builder
	Risk       *risk.Tracker
	Position   *inventory.Tracker
	Reconciler *order.Reconciler

	// WindowSize bounds the signal window when the shared cache holds more
	// history than this instrument wants. Zero means use everything cached.
	WindowSize int
}

// Config holds loop timing.
type Config struct {
	TickInterval time.Duration
	FeedTimeout  time.Duration
	// MarkoutRetention bounds how long sampled fills are kept for markout
	// statistics. Defaults to 10 minutes.
	MarkoutRetention time.Duration
}

// Components are the engine's dependencies, built once at startup.
type Components struct {
	Cache       *market.Cache
	Orders      *order.Manager
	Guard       risk.AggregateGuard
	Instruments map[string]*Instrument
	Events      <-chan exchange.Event
	Logger      *logger.Logger
	// Markouts is optional; when set, every fill is fed to it.
	Markouts *posttrade.Analyzer
}

// Statistics is a point-in-time snapshot of loop counters.
type Statistics struct {
	StartTime    time.Time
	TotalTicks   int64
	TotalQuotes  int64
	TotalFills   int64
	TotalErrors  int64
	LastTickTime time.Time
}

// Engine owns the trading loop. All market, position and order state is
// touched only from Run's goroutine; events arriving mid-tick wait in the
// queue until the next drain.
type Engine struct {
	cfg      Config
	cache    *market.Cache
	orders   *order.Manager
	guard    risk.AggregateGuard
	insts    map[string]*Instrument
	events   <-chan exchange.Event
	log      *logger.Logger
	markouts *posttrade.Analyzer

	mu    sync.RWMutex
	state State

	stopOnce sync.Once
	stopChan chan struct{}

	statsMu sync.RWMutex
	stats   Statistics

	guardTripped bool
}

// New validates the wiring and returns an idle engine.
func New(cfg Config, c Components) (*Engine, error) {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 250 * time.Millisecond
	}
	if cfg.FeedTimeout <= 0 {
		cfg.FeedTimeout = 5 * time.Second
	}
	if cfg.MarkoutRetention <= 0 {
		cfg.MarkoutRetention = 10 * time.Minute
	}
	if c.Cache == nil {
		return nil, errors.New("market cache is required")
	}
	if c.Orders == nil {
		return nil, errors.New("order manager is required")
	}
	if len(c.Instruments) == 0 {
		return nil, errors.New("at least one instrument is required")
	}
	if c.Events == nil {
		return nil, errors.New("event feed is required")
	}
	if c.Logger == nil {
		return nil, errors.New("logger is required")
	}
	for id, inst := range c.Instruments {
		if inst == nil || inst.Signals == nil || inst.Builder == nil ||
			inst.Risk == nil || inst.Position == nil || inst.Reconciler == nil {
			return nil, fmt.Errorf("instrument %s incompletely wired", id)
		}
	}
	return &Engine{
		cfg:      cfg,
		cache:    c.Cache,
		orders:   c.Orders,
		guard:    c.Guard,
		insts:    c.Instruments,
		events:   c.Events,
		log:      c.Logger,
		markouts: c.Markouts,
		state:    StateIdle,
		stopChan: make(chan struct{}),
	}, nil
}

// Stop asks Run to wind down. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopChan) })
}

// GetState returns the lifecycle phase.
func (e *Engine) GetState() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// GetStatistics returns a copy of the loop counters.
func (e *Engine) GetStatistics() Statistics {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return e.stats
}

// Run drives the loop until the context is cancelled, Stop is called, or the
// event feed dies. Every exit path cancels all resting orders before
// returning; a market maker must never leave quotes behind.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return errors.New("engine already running")
	}
	e.state = StateRunning
	e.mu.Unlock()

	e.statsMu.Lock()
	e.stats.StartTime = time.Now()
	e.statsMu.Unlock()

	e.log.Info("engine starting",
		zap.Duration("tick_interval", e.cfg.TickInterval),
		zap.Duration("feed_timeout", e.cfg.FeedTimeout),
		zap.Int("instruments", len(e.insts)))

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	defer e.windDown()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("context cancelled, stopping")
			return nil
		case <-e.stopChan:
			e.log.Info("stop requested")
			return nil
		case ev, ok := <-e.events:
			if !ok {
				e.log.Error("event feed closed")
				return ErrFeedClosed
			}
			e.applyEvent(ev)
		case <-ticker.C:
			if err := e.onTick(); err != nil {
				e.log.Error("fatal tick error", zap.Error(err))
				return err
			}
		}
	}
}

// windDown flattens the book on the way out.
func (e *Engine) windDown() {
	if err := e.orders.CancelAll(); err != nil {
		e.log.Error("cancel-all on shutdown incomplete", zap.Error(err))
	} else {
		e.log.Info("all resting orders cancelled")
	}
	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()
}

// drainEvents consumes everything queued without blocking, so each tick sees
// a consistent snapshot of the world.
func (e *Engine) drainEvents() error {
	for {
		select {
		case ev, ok := <-e.events:
			if !ok {
				return ErrFeedClosed
			}
			e.applyEvent(ev)
		default:
			return nil
		}
	}
}

func (e *Engine) applyEvent(ev exchange.Event) {
	switch ev.Type {
	case exchange.EventPrice:
		e.cache.Record(ev.Instrument, ev.Price, ev.Ts)

	case exchange.EventAck:
		if err := e.orders.Ack(ev.OrderID); err != nil {
			e.log.Warn("ack for unknown order", zap.String("order_id", ev.OrderID), zap.Error(err))
		}

	case exchange.EventFill:
		ord, err := e.orders.ApplyFill(ev.OrderID, ev.Qty)
		if err != nil {
			e.log.Warn("fill for unknown order", zap.String("order_id", ev.OrderID), zap.Error(err))
			return
		}
		price := ev.Price
		if price <= 0 {
			price = ord.Price
		}
		inst, ok := e.insts[ord.Instrument]
		if !ok {
			e.log.Warn("fill for untracked instrument", zap.String("instrument", ord.Instrument))
			return
		}
		inst.Position.OnFill(ord.Side, price, ev.Qty)
		if e.markouts != nil {
			e.markouts.OnFill(ev.OrderID, ord.Instrument, ord.Side, price)
		}
		snap := inst.Position.Snapshot()
		metrics.FillsTotal.WithLabelValues(ord.Instrument, ord.Side).Inc()
		metrics.Position.WithLabelValues(ord.Instrument).Set(snap.Qty)
		metrics.RealizedPnL.WithLabelValues(ord.Instrument).Set(snap.Realized)
		e.statsMu.Lock()
		e.stats.TotalFills++
		e.statsMu.Unlock()
		e.log.LogOrder("fill", ev.OrderID,
			zap.String("instrument", ord.Instrument),
			zap.String("side", ord.Side),
			zap.Float64("price", price),
			zap.Float64("qty", ev.Qty),
			zap.Float64("position", snap.Qty))

	case exchange.EventCancel:
		if ord, ok := e.orders.Lookup(ev.OrderID); ok {
			metrics.OrdersCancelled.WithLabelValues(ord.Instrument).Inc()
		}
		if err := e.orders.MarkCanceled(ev.OrderID); err != nil {
			e.log.Warn("cancel confirm for unknown order", zap.String("order_id", ev.OrderID), zap.Error(err))
		}

	case exchange.EventReject:
		if err := e.orders.MarkRejected(ev.OrderID, ev.Reason); err != nil {
			e.log.Warn("reject for unknown order", zap.String("order_id", ev.OrderID), zap.Error(err))
			return
		}
		metrics.OrdersRejected.WithLabelValues(ev.Instrument).Inc()
		e.log.LogOrder("reject", ev.OrderID, zap.String("reason", ev.Reason))
	}
}

// onTick runs one full pass: drain events, enforce the book-wide exposure
// caps, then quote every instrument. The caps run first so a breach stops
// new quotes on the same tick the offending fill is seen.
func (e *Engine) onTick() error {
	if err := e.drainEvents(); err != nil {
		return err
	}

	now := time.Now()
	e.statsMu.Lock()
	e.stats.TotalTicks++
	e.stats.LastTickTime = now
	e.statsMu.Unlock()
	metrics.TicksTotal.Inc()

	if e.markouts != nil {
		e.markouts.Prune(e.cfg.MarkoutRetention)
	}

	if e.enforceAggregate(e.currentHoldings()) {
		return nil
	}

	for id, inst := range e.insts {
		e.quoteInstrument(id, inst, now)
	}
	return nil
}

// Holdings marks every position at the latest observed price. Safe to call
// from other goroutines; the cache and trackers carry their own locks.
func (e *Engine) Holdings() []risk.Holding {
	return e.currentHoldings()
}

// ApplyBlock records a block trade executed outside the quoting loop, such
// as an accepted tender. The next tick then skews and caps against the real
// book instead of a stale one. Safe to call from other goroutines; the
// position tracker carries its own lock.
func (e *Engine) ApplyBlock(instrument, side string, price, qty float64) error {
	inst, ok := e.insts[instrument]
	if !ok {
		return fmt.Errorf("block for untracked instrument %s", instrument)
	}
	if qty <= 0 || price <= 0 {
		return fmt.Errorf("invalid block for %s: %.2f @ %.4f", instrument, qty, price)
	}
	inst.Position.OnFill(side, price, qty)
	snap := inst.Position.Snapshot()
	metrics.Position.WithLabelValues(instrument).Set(snap.Qty)
	metrics.RealizedPnL.WithLabelValues(instrument).Set(snap.Realized)
	e.statsMu.Lock()
	e.stats.TotalFills++
	e.statsMu.Unlock()
	e.log.LogOrder("block_fill", "",
		zap.String("instrument", instrument),
		zap.String("side", side),
		zap.Float64("price", price),
		zap.Float64("qty", qty),
		zap.Float64("position", snap.Qty))
	return nil
}

// currentHoldings marks every position at the latest observed price.
func (e *Engine) currentHoldings() []risk.Holding {
	holdings := make([]risk.Holding, 0, len(e.insts))
	for id, inst := range e.insts {
		last, ok := e.cache.Last(id)
		if !ok {
			continue
		}
		holdings = append(holdings, risk.Holding{
			Instrument: id,
			Qty:        inst.Position.NetExposure(),
			Mark:       last.Price,
		})
	}
	return holdings
}

// quoteInstrument runs the per-instrument pipeline.
func (e *Engine) quoteInstrument(id string, inst *Instrument, now time.Time) {
	// Stale feed: quoting against prices we no longer trust is worse than
	// not quoting. Pull both sides and wait for the feed to come back.
	if e.cache.Staleness(id, now) > e.cfg.FeedTimeout {
		metrics.FeedStale.WithLabelValues(id).Set(1)
		e.cancelSides(id)
		return
	}
	metrics.FeedStale.WithLabelValues(id).Set(0)

	last, ok := e.cache.Last(id)
	if !ok {
		return
	}

	win := e.cache.Window(id)
	if inst.WindowSize > 0 && len(win) > inst.WindowSize {
		win = win[len(win)-inst.WindowSize:]
	}
	sig, err := inst.Signals.Compute(id, win, now)
	if err != nil {
		if !errors.Is(err, signal.ErrInsufficientData) {
			e.recordError()
			e.log.Error("signal compute failed", zap.String("instrument", id), zap.Error(err))
		}
		// Not enough observations yet: hold off quoting rather than
		// trade on a meaningless statistic.
		return
	}
	metrics.ZScore.WithLabelValues(id).Set(sig.ZScore)

	pos := inst.Position.NetExposure()
	buys, sells := e.orders.RestingExposure(id)
	exp := risk.Exposure{
		Position:     pos,
		RestingBuys:  buys,
		RestingSells: sells,
	}
	assess := inst.Risk.Assess(exp)
	metrics.RiskState.WithLabelValues(id).Set(float64(assess.State))
	metrics.UnrealizedPnL.WithLabelValues(id).Set(inst.Position.UnrealizedAt(last.Price))
	if assess.State != risk.StateNormal {
		e.log.LogRisk("band",
			zap.String("instrument", id),
			zap.String("state", assess.State.String()),
			zap.Float64("position", pos),
			zap.Float64("resting_buys", buys),
			zap.Float64("resting_sells", sells))
	}

	q := inst.Builder.Build(last.Price, sig, assess, exp.Net(), now)
	metrics.QuotesBuilt.WithLabelValues(id).Inc()
	e.statsMu.Lock()
	e.stats.TotalQuotes++
	e.statsMu.Unlock()

	if _, err := inst.Reconciler.Reconcile(q); err != nil {
		e.recordError()
		e.log.Error("reconcile failed", zap.String("instrument", id), zap.Error(err))
	}
}

// cancelSides pulls any resting order on either side of one instrument.
func (e *Engine) cancelSides(id string) {
	for _, side := range []string{order.SideBuy, order.SideSell} {
		if ord, ok := e.orders.Resting(id, side); ok {
			if err := e.orders.Cancel(ord.ID); err != nil {
				e.recordError()
				e.log.Error("defensive cancel failed",
					zap.String("instrument", id),
					zap.String("order_id", ord.ID),
					zap.Error(err))
			}
		}
	}
}

// enforceAggregate checks book-wide gross and net caps. A breach flattens
// all resting orders and suppresses quoting; positions stay, and quoting
// resumes once the marked book is back inside the caps.
func (e *Engine) enforceAggregate(holdings []risk.Holding) bool {
	err := e.guard.Check(holdings)
	if err == nil {
		if e.guardTripped {
			e.log.LogRisk("aggregate_recovered")
			e.guardTripped = false
		}
		return false
	}
	if !e.guardTripped {
		e.log.LogRisk("aggregate_breach", zap.Error(err))
		e.guardTripped = true
	}
	if cErr := e.orders.CancelAll(); cErr != nil {
		e.recordError()
		e.log.Error("cancel-all after aggregate breach incomplete", zap.Error(cErr))
	}
	return true
}

func (e *Engine) recordError() {
	e.statsMu.Lock()
	e.stats.TotalErrors++
	e.statsMu.Unlock()
}
