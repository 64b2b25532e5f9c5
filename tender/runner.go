package tender

import (
	"context"
	"time"

	"go.uber.org/zap"

	"market-agent-go/exchange"
	"market-agent-go/infrastructure/logger"
	"market-agent-go/metrics"
	"market-agent-go/risk"
)

// Source is the slice of the exchange API the runner needs. *exchange.Client
// satisfies it.
type Source interface {
	Case() (exchange.Case, error)
	Tenders() ([]exchange.TenderOffer, error)
	Securities() ([]exchange.Security, error)
	AcceptTender(tenderID int64) error
	DeclineTender(tenderID int64) error
}

// Hooks connect the runner to live trading state. All fields are optional;
// missing hooks degrade the evaluation rather than break it.
type Hooks struct {
	// Holdings supplies the marked book so the evaluator can project the
	// block onto the exposure caps.
	Holdings func() []risk.Holding
	// History supplies recent trade prices for the volatility estimate.
	History func(instrument string) []float64
	// OnAccept is called after the exchange accepts a block, so the position
	// it creates reaches the quoting loop without waiting for a fill event.
	OnAccept func(instrument, action string, price, qty float64)
}

// Runner polls for tender offers and acts on the evaluator's verdicts.
// It runs beside the quoting loop; tenders arrive on their own schedule and
// must be answered before they expire, not on the next quote tick.
type Runner struct {
	src      Source
	eval     *Evaluator
	hooks    Hooks
	interval time.Duration
	log      *logger.Logger
	dryRun   bool
}

// NewRunner wires a polling runner.
func NewRunner(src Source, eval *Evaluator, hooks Hooks, interval time.Duration, log *logger.Logger, dryRun bool) *Runner {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Runner{src: src, eval: eval, hooks: hooks, interval: interval, log: log, dryRun: dryRun}
}

// Run polls until the context is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.poll()
		}
	}
}

func (r *Runner) poll() {
	offers, err := r.src.Tenders()
	if err != nil {
		r.log.Warn("tender poll failed", zap.Error(err))
		return
	}
	if len(offers) == 0 {
		return
	}
	secs, err := r.src.Securities()
	if err != nil {
		r.log.Warn("securities fetch failed", zap.Error(err))
		return
	}
	byTicker := make(map[string]exchange.Security, len(secs))
	for _, s := range secs {
		byTicker[s.Ticker] = s
	}

	var currentTick, totalTicks float64
	if cs, err := r.src.Case(); err != nil {
		// Without session timing the close-out gate is skipped; the offer is
		// still priced and checked against the caps.
		r.log.Warn("case fetch failed", zap.Error(err))
	} else {
		currentTick = float64(cs.Tick)
		totalTicks = float64(cs.TicksPerPd)
	}

	for _, offer := range offers {
		sec, ok := byTicker[offer.Ticker]
		if !ok {
			r.log.Warn("tender for unknown instrument", zap.String("ticker", offer.Ticker), zap.Int64("tender_id", offer.TenderID))
			continue
		}
		// Re-read the book per offer: a block accepted moments ago must count
		// against the caps for the next one.
		var book []risk.Holding
		if r.hooks.Holdings != nil {
			book = r.hooks.Holdings()
		}
		mctx := MarketContext{
			Liquidity:   sec.Volume,
			CurrentTick: currentTick,
			TotalTicks:  totalTicks,
		}
		if r.hooks.History != nil {
			mctx.Prices = r.hooks.History(offer.Ticker)
		}
		ev, fresh := r.eval.Evaluate(offer, sec, mctx, book)
		if !fresh {
			continue
		}
		r.act(ev)
	}
}

func (r *Runner) act(ev Evaluation) {
	fields := []zap.Field{
		zap.Int64("tender_id", ev.TenderID),
		zap.String("instrument", ev.Instrument),
		zap.String("action", ev.Action),
		zap.Float64("quantity", ev.Quantity),
		zap.Float64("price", ev.Price),
		zap.Float64("net_profit", ev.NetProfit),
		zap.Float64("unwind_seconds", ev.UnwindSeconds),
		zap.Float64("unwind_start", ev.UnwindStart),
		zap.String("decision", string(ev.Decision)),
		zap.String("reason", ev.Reason),
		zap.Bool("dry_run", r.dryRun),
	}
	r.log.Info("tender evaluated", fields...)
	metrics.TendersEvaluated.WithLabelValues(string(ev.Decision)).Inc()

	if r.dryRun {
		return
	}
	if ev.Decision != DecisionAccept {
		if err := r.src.DeclineTender(ev.TenderID); err != nil {
			r.log.Error("tender response failed", zap.Int64("tender_id", ev.TenderID), zap.Error(err))
		}
		return
	}
	if err := r.src.AcceptTender(ev.TenderID); err != nil {
		r.log.Error("tender response failed", zap.Int64("tender_id", ev.TenderID), zap.Error(err))
		return
	}
	// The block is a real position change executed outside the quoting loop;
	// feed it back so skew and the caps see it immediately.
	if r.hooks.OnAccept != nil {
		r.hooks.OnAccept(ev.Instrument, ev.Action, ev.Price, ev.Quantity)
	}
}
