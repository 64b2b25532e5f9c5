// Package tender evaluates institutional tender offers: block trades offered
// at a fixed price that must be accepted or declined before they expire.
package tender

import (
	"fmt"
	"math"
	"sync"

	"market-agent-go/exchange"
	"market-agent-go/risk"
)

// Decision is the verdict on a tender offer.
type Decision string

const (
	DecisionAccept  Decision = "ACCEPT"
	DecisionDecline Decision = "DECLINE"
)

// Evaluation is the full verdict for one offer, kept for the audit trail.
type Evaluation struct {
	TenderID       int64
	Instrument     string
	Action         string
	Quantity       float64
	Price          float64
	ProfitPerShare float64
	NetProfit      float64
	AdjustedVol    float64 // volatility estimate used to pace the unwind
	UnwindSeconds  float64 // estimated time to work the block off
	UnwindStart    float64 // tick by which unwinding must begin
	Decision       Decision
	Reason         string
}

// MarketContext is the market and session state the close-out gate works
// from. A zero TotalTicks disables the gate (session length unknown).
type MarketContext struct {
	Prices      []float64 // recent trade prices, oldest first
	Liquidity   float64   // observed traded volume per second
	CurrentTick float64
	TotalTicks  float64
}

// Config tunes the evaluator.
type Config struct {
	// CostPerShare is the commission per share per side. The round trip
	// (take the block, unwind it) pays it twice.
	CostPerShare float64
	// MaxUnwindSlice caps the size of each unwinding order. Zero means the
	// whole block in one order.
	MaxUnwindSlice float64
	// CloseOutBuffer is the safety margin, in ticks, between the end of the
	// estimated unwind and the end of the session.
	CloseOutBuffer float64
	// Guard enforces the aggregate exposure caps including the block.
	Guard risk.AggregateGuard
}

// Evaluator decides tender offers. Each offer is evaluated exactly once;
// repeated polls of the same offer are ignored.
type Evaluator struct {
	cfg  Config
	mu   sync.Mutex
	seen map[int64]struct{}
}

// NewEvaluator builds an evaluator with defaulted costs.
func NewEvaluator(cfg Config) *Evaluator {
	if cfg.CostPerShare <= 0 {
		cfg.CostPerShare = 0.02
	}
	if cfg.CloseOutBuffer <= 0 {
		cfg.CloseOutBuffer = 15
	}
	return &Evaluator{cfg: cfg, seen: make(map[int64]struct{})}
}

// Evaluate prices one offer against the current market and the book-wide
// exposure caps. ok is false when the offer was already evaluated or the
// market for it is unusable.
//
// A BUY tender hands us stock we unwind at the bid; a SELL tender takes
// stock we must buy back at the ask. Either way the unwind crosses the
// spread, so profit is measured against the far touch, not the mid.
func (e *Evaluator) Evaluate(offer exchange.TenderOffer, sec exchange.Security, mctx MarketContext, holdings []risk.Holding) (Evaluation, bool) {
	e.mu.Lock()
	if _, dup := e.seen[offer.TenderID]; dup {
		e.mu.Unlock()
		return Evaluation{}, false
	}
	e.seen[offer.TenderID] = struct{}{}
	e.mu.Unlock()

	ev := Evaluation{
		TenderID:   offer.TenderID,
		Instrument: offer.Ticker,
		Action:     offer.Action,
		Quantity:   offer.Quantity,
		Price:      offer.Price,
	}

	if offer.Quantity <= 0 || offer.Price <= 0 || sec.Bid <= 0 || sec.Ask <= 0 {
		ev.Decision = DecisionDecline
		ev.Reason = "unusable offer or market data"
		return ev, true
	}

	var signedQty float64
	switch offer.Action {
	case "BUY":
		ev.ProfitPerShare = sec.Bid - offer.Price
		signedQty = offer.Quantity
	case "SELL":
		ev.ProfitPerShare = offer.Price - sec.Ask
		signedQty = -offer.Quantity
	default:
		ev.Decision = DecisionDecline
		ev.Reason = fmt.Sprintf("unknown action %q", offer.Action)
		return ev, true
	}

	ev.NetProfit = ev.ProfitPerShare*offer.Quantity - e.cfg.CostPerShare*offer.Quantity*2

	if ev.NetProfit <= 0 {
		ev.Decision = DecisionDecline
		ev.Reason = "unprofitable after round-trip costs"
		return ev, true
	}

	// A profitable block is still a loser if it cannot be worked off before
	// the session ends. Volatile markets get smaller unwind slices, which
	// lengthens the estimate and tightens the gate.
	if mctx.TotalTicks > 0 {
		vol := AdjustedVolatility(mctx.Prices, mctx.Liquidity, mctx.CurrentTick, offer.Quantity, mctx.TotalTicks)
		slice := e.cfg.MaxUnwindSlice
		if slice <= 0 || slice > offer.Quantity {
			slice = offer.Quantity
		}
		est := EstimateCloseOut(offer.Quantity, mctx.Liquidity, slice/(1+vol))
		ev.AdjustedVol = vol
		ev.UnwindSeconds = est
		ev.UnwindStart = CloseStartTick(est, mctx.TotalTicks, e.cfg.CloseOutBuffer, mctx.CurrentTick)
		if math.IsInf(est, 1) || mctx.CurrentTick > mctx.TotalTicks-est-e.cfg.CloseOutBuffer {
			ev.Decision = DecisionDecline
			ev.Reason = "cannot be unwound before the session ends"
			return ev, true
		}
	}

	// The block only pays if we can actually carry it: project the book
	// with the tendered quantity and re-check the caps.
	mark := (sec.Bid + sec.Ask) / 2
	projected := append(append([]risk.Holding{}, holdings...), risk.Holding{
		Instrument: offer.Ticker,
		Qty:        signedQty,
		Mark:       mark,
	})
	if err := e.cfg.Guard.Check(projected); err != nil {
		ev.Decision = DecisionDecline
		ev.Reason = fmt.Sprintf("would breach exposure caps: %v", err)
		return ev, true
	}

	ev.Decision = DecisionAccept
	ev.Reason = fmt.Sprintf("positive edge of %.2f after costs", ev.NetProfit)
	return ev, true
}

// EstimateCloseOut estimates the seconds needed to unwind a block against
// observed liquidity, working in slices of at most maxOrderSize shares.
// Returns +Inf when the book shows no liquidity.
func EstimateCloseOut(blockSize, liquidity, maxOrderSize float64) float64 {
	if liquidity <= 0 {
		return math.Inf(1)
	}
	if maxOrderSize <= 0 || maxOrderSize > blockSize {
		maxOrderSize = blockSize
	}
	numOrders := math.Ceil(blockSize / maxOrderSize)
	timePerOrder := maxOrderSize / liquidity
	return numOrders*timePerOrder + numOrders
}

// CloseStartTick returns the session tick at which unwinding must begin so
// the block is flat before the session ends, with a safety buffer.
func CloseStartTick(estimatedCloseOut, sessionSeconds, buffer, currentTick float64) float64 {
	start := sessionSeconds - estimatedCloseOut - buffer
	if start < 0 {
		start = 0
	}
	if start < currentTick {
		start = currentTick
	}
	return math.Floor(start)
}

// AdjustedVolatility estimates price volatility for sizing a tender unwind:
// the stddev of simple returns, widened by the block's share of liquidity
// and decayed toward zero as the session runs out.
func AdjustedVolatility(prices []float64, liquidity, elapsed, blockSize, sessionSeconds float64) float64 {
	if len(prices) < 2 {
		return 0.05 // no usable history, assume medium-high volatility
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
		}
	}
	if len(returns) == 0 {
		return 0.05
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var sumSq float64
	for _, r := range returns {
		d := r - mean
		sumSq += d * d
	}
	baseline := math.Sqrt(sumSq / float64(len(returns)))

	impact := blockSize / (liquidity + 1)
	decay := 1 - elapsed/sessionSeconds
	if decay < 0 {
		decay = 0
	}
	return (baseline + impact) * decay
}
