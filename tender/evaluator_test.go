package tender

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"market-agent-go/exchange"
	"market-agent-go/risk"
)

func TestEvaluateBuyTenderProfit(t *testing.T) {
	e := NewEvaluator(Config{})
	offer := exchange.TenderOffer{TenderID: 1, Ticker: "ABC", Action: "BUY", Quantity: 10000, Price: 99.50}
	sec := exchange.Security{Ticker: "ABC", Bid: 99.98, Ask: 100.02}

	ev, ok := e.Evaluate(offer, sec, MarketContext{}, nil)
	assert.True(t, ok)
	// Edge per share against the bid, less 0.02/share each way.
	assert.InDelta(t, 0.48, ev.ProfitPerShare, 1e-9)
	assert.InDelta(t, 0.48*10000-0.02*10000*2, ev.NetProfit, 1e-6)
	assert.Equal(t, DecisionAccept, ev.Decision)
}

func TestEvaluateSellTenderAgainstAsk(t *testing.T) {
	e := NewEvaluator(Config{})
	offer := exchange.TenderOffer{TenderID: 2, Ticker: "ABC", Action: "SELL", Quantity: 5000, Price: 100.50}
	sec := exchange.Security{Ticker: "ABC", Bid: 99.98, Ask: 100.02}

	ev, ok := e.Evaluate(offer, sec, MarketContext{}, nil)
	assert.True(t, ok)
	assert.InDelta(t, 0.48, ev.ProfitPerShare, 1e-9)
	assert.Equal(t, DecisionAccept, ev.Decision)
}

func TestEvaluateDeclinesThinEdge(t *testing.T) {
	e := NewEvaluator(Config{})
	// 0.03/share edge does not cover the 0.04/share round trip.
	offer := exchange.TenderOffer{TenderID: 3, Ticker: "ABC", Action: "BUY", Quantity: 1000, Price: 99.95}
	sec := exchange.Security{Ticker: "ABC", Bid: 99.98, Ask: 100.02}

	ev, ok := e.Evaluate(offer, sec, MarketContext{}, nil)
	assert.True(t, ok)
	assert.Equal(t, DecisionDecline, ev.Decision)
	assert.Less(t, ev.NetProfit, 0.0)
}

func TestEvaluateDeclinesWhenCapsWouldBreach(t *testing.T) {
	e := NewEvaluator(Config{
		Guard: risk.AggregateGuard{GrossLimit: 250000, NetLimit: 150000},
	})
	// Profitable but 2000 shares near 100 on top of an existing 149k net
	// long blows the net cap.
	offer := exchange.TenderOffer{TenderID: 4, Ticker: "ABC", Action: "BUY", Quantity: 2000, Price: 99.00}
	sec := exchange.Security{Ticker: "ABC", Bid: 99.98, Ask: 100.02}
	book := []risk.Holding{{Instrument: "XYZ", Qty: 1490, Mark: 100}}

	ev, ok := e.Evaluate(offer, sec, MarketContext{}, book)
	assert.True(t, ok)
	assert.Equal(t, DecisionDecline, ev.Decision)
	assert.Contains(t, ev.Reason, "exposure caps")
}

func TestEvaluateDedupesByTenderID(t *testing.T) {
	e := NewEvaluator(Config{})
	offer := exchange.TenderOffer{TenderID: 5, Ticker: "ABC", Action: "BUY", Quantity: 100, Price: 99.00}
	sec := exchange.Security{Ticker: "ABC", Bid: 99.98, Ask: 100.02}

	_, first := e.Evaluate(offer, sec, MarketContext{}, nil)
	_, second := e.Evaluate(offer, sec, MarketContext{}, nil)
	assert.True(t, first)
	assert.False(t, second, "same tender id must not be evaluated twice")
}

func TestEvaluateUnknownAction(t *testing.T) {
	e := NewEvaluator(Config{})
	offer := exchange.TenderOffer{TenderID: 6, Ticker: "ABC", Action: "HOLD", Quantity: 100, Price: 99.00}
	sec := exchange.Security{Ticker: "ABC", Bid: 99.98, Ask: 100.02}

	ev, ok := e.Evaluate(offer, sec, MarketContext{}, nil)
	assert.True(t, ok)
	assert.Equal(t, DecisionDecline, ev.Decision)
}

func TestEvaluateCloseOutGate(t *testing.T) {
	e := NewEvaluator(Config{MaxUnwindSlice: 2000})
	sec := exchange.Security{Ticker: "ABC", Bid: 99.98, Ask: 100.02, Volume: 500}

	// Early in the session the same block clears the gate.
	early := MarketContext{Liquidity: 500, CurrentTick: 10, TotalTicks: 600}
	ev, ok := e.Evaluate(exchange.TenderOffer{TenderID: 7, Ticker: "ABC", Action: "BUY", Quantity: 10000, Price: 99.00}, sec, early, nil)
	assert.True(t, ok)
	assert.Equal(t, DecisionAccept, ev.Decision)
	assert.Greater(t, ev.UnwindSeconds, 0.0)
	assert.Greater(t, ev.UnwindStart, early.CurrentTick)

	// With the session nearly over there is no time left to work it off.
	late := MarketContext{Liquidity: 500, CurrentTick: 590, TotalTicks: 600}
	ev, ok = e.Evaluate(exchange.TenderOffer{TenderID: 8, Ticker: "ABC", Action: "BUY", Quantity: 10000, Price: 99.00}, sec, late, nil)
	assert.True(t, ok)
	assert.Equal(t, DecisionDecline, ev.Decision)
	assert.Contains(t, ev.Reason, "unwound")
}

func TestEvaluateDeclinesWithNoLiquidity(t *testing.T) {
	e := NewEvaluator(Config{})
	sec := exchange.Security{Ticker: "ABC", Bid: 99.98, Ask: 100.02}
	mctx := MarketContext{Liquidity: 0, CurrentTick: 0, TotalTicks: 600}

	ev, ok := e.Evaluate(exchange.TenderOffer{TenderID: 9, Ticker: "ABC", Action: "BUY", Quantity: 1000, Price: 99.00}, sec, mctx, nil)
	assert.True(t, ok)
	assert.Equal(t, DecisionDecline, ev.Decision, "a block with no observed liquidity cannot be unwound")
}

func TestEvaluateVolatilityTightensGate(t *testing.T) {
	// The same block at the same tick: calm prices clear the gate, a volatile
	// tape shrinks the unwind slices enough to miss the session end.
	offer := exchange.TenderOffer{Ticker: "ABC", Action: "BUY", Quantity: 1000, Price: 99.00}
	sec := exchange.Security{Ticker: "ABC", Bid: 99.98, Ask: 100.02, Volume: 10000}

	calm := MarketContext{
		Prices:      []float64{100, 100, 100, 100},
		Liquidity:   10000,
		CurrentTick: 0,
		TotalTicks:  150,
	}
	e := NewEvaluator(Config{MaxUnwindSlice: 10})
	offer.TenderID = 10
	ev, _ := e.Evaluate(offer, sec, calm, nil)
	assert.Equal(t, DecisionAccept, ev.Decision)

	wild := calm
	wild.Prices = []float64{100, 300, 50, 400}
	offer.TenderID = 11
	ev, _ = e.Evaluate(offer, sec, wild, nil)
	assert.Equal(t, DecisionDecline, ev.Decision)
	assert.Greater(t, ev.AdjustedVol, 1.0)
}

func TestEstimateCloseOut(t *testing.T) {
	// 10000 shares, 500/s liquidity, 2000-share slices: 5 orders of 4s each
	// plus 1s pacing per order.
	assert.InDelta(t, 25, EstimateCloseOut(10000, 500, 2000), 1e-9)
	assert.True(t, math.IsInf(EstimateCloseOut(10000, 0, 2000), 1))
}

func TestCloseStartTick(t *testing.T) {
	// 600s session, 25s unwind, 15s buffer: start by tick 560.
	assert.Equal(t, 560.0, CloseStartTick(25, 600, 15, 100))
	// Never before the current tick.
	assert.Equal(t, 580.0, CloseStartTick(25, 600, 15, 580))
	// Never negative even when the unwind cannot finish in time.
	assert.Equal(t, 100.0, CloseStartTick(1000, 600, 15, 100))
}

func TestAdjustedVolatility(t *testing.T) {
	// Too little history falls back to the conservative default.
	assert.InDelta(t, 0.05, AdjustedVolatility([]float64{100}, 500, 0, 1000, 600), 1e-9)

	// Zero elapsed time applies no decay; constant prices leave only the
	// liquidity impact term.
	flat := []float64{100, 100, 100, 100}
	got := AdjustedVolatility(flat, 999, 0, 1000, 600)
	assert.InDelta(t, 1000.0/1000.0, got, 1e-9)

	// Full elapsed time decays everything to zero.
	assert.InDelta(t, 0, AdjustedVolatility(flat, 999, 600, 1000, 600), 1e-9)
}
