// Package quote turns the mean-reversion signal and the risk assessment into
// a two-sided quote.
package quote

import (
	"errors"
	"fmt"
	"math"
	"time"

	"market-agent-go/risk"
	"market-agent-go/signal"
)

// InstrumentSpec is the immutable per-session instrument definition.
type InstrumentSpec struct {
	ID            string
	TickSize      float64
	MinOrderSize  float64
	MaxOrderSize  float64
	PositionLimit float64
}

// Config holds the quoting parameters.
type Config struct {
	BaseHalfSpread float64 // absolute half spread before volatility scaling
	VolFactor      float64 // extra half spread per unit of rolling stddev
	SkewFactor     float64 // inventory skew strength, 0..1
	ZBiasCap       float64 // z magnitude beyond which bias stops growing
	BiasFraction   float64 // max mean-reversion bias as fraction of half spread
	BaseSize       float64 // quoted size when exposure is flat
}

// Quote is one tick's desired two-sided market. Immutable once built; a new
// tick produces a new Quote. A zero size suppresses that side.
type Quote struct {
	Instrument string
	Bid        float64
	BidSize    float64
	Ask        float64
	AskSize    float64
	Ts         time.Time
}

// Builder constructs quotes for a single instrument.
type Builder struct {
	inst InstrumentSpec
	cfg  Config
}

// NewBuilder validates the parameters that the bid/ask ordering guarantee
// depends on.
func NewBuilder(inst InstrumentSpec, cfg Config) (*Builder, error) {
	if inst.TickSize <= 0 {
		return nil, errors.New("tick size must be > 0")
	}
	if cfg.BaseHalfSpread < inst.TickSize {
		return nil, errors.New("base half spread must be at least one tick")
	}
	if cfg.SkewFactor < 0 || cfg.SkewFactor > 1 {
		return nil, errors.New("skew factor must be in [0,1]")
	}
	if cfg.BiasFraction < 0 || cfg.BiasFraction > 1 {
		return nil, errors.New("bias fraction must be in [0,1]")
	}
	if cfg.ZBiasCap <= 0 {
		cfg.ZBiasCap = 3
	}
	if inst.PositionLimit <= 0 {
		return nil, errors.New("position limit must be > 0")
	}
	return &Builder{inst: inst, cfg: cfg}, nil
}

// Build produces the desired quote for this tick.
//
// The half spread starts from the configured base and widens with recent
// volatility. The midpoint is then shifted twice: away from the inventory
// (skew, encouraging reducing fills) and against the z-score (mean-reversion
// bias, capped). Risk suppression dominates: a breached side quotes zero
// size no matter what the signal says.
func (b *Builder) Build(mid float64, sig signal.Signal, assess risk.Assessment, exposure float64, ts time.Time) Quote {
	half := b.cfg.BaseHalfSpread + b.cfg.VolFactor*sig.StdDev

	// Inventory skew: long inventory pulls both prices down so sells fill
	// first, short inventory pushes them up. tanh keeps it bounded.
	ratio := clamp(exposure/b.inst.PositionLimit, -1, 1)
	shift := -b.cfg.SkewFactor * half * math.Tanh(ratio)

	// Mean-reversion bias: overbought (z > 0) biases the midpoint down to
	// favor selling, oversold biases it up. Capped at ZBiasCap.
	zEff := clamp(sig.ZScore, -b.cfg.ZBiasCap, b.cfg.ZBiasCap)
	shift -= (zEff / b.cfg.ZBiasCap) * b.cfg.BiasFraction * half

	// The combined shift moves both sides together, so it can never invert
	// the ordering; the clamp keeps quotes anchored to the observed market.
	shift = clamp(shift, -half, half)

	center := mid + shift
	bid := floorTick(center-half, b.inst.TickSize)
	ask := ceilTick(center+half, b.inst.TickSize)

	q := Quote{
		Instrument: b.inst.ID,
		Bid:        bid,
		BidSize:    b.sizeFor(assess.BuyState, assess.LongRoom),
		Ask:        ask,
		AskSize:    b.sizeFor(assess.SellState, assess.ShortRoom),
		Ts:         ts,
	}

	// bid < ask by at least one tick is a construction guarantee; breaking
	// it is a programming fault, not a market condition.
	if q.Ask-q.Bid < b.inst.TickSize-1e-9 {
		panic(fmt.Sprintf("quote ordering violated for %s: bid %.8f ask %.8f tick %.8f",
			b.inst.ID, q.Bid, q.Ask, b.inst.TickSize))
	}
	return q
}

// sizeFor scales the quoted size by remaining headroom and suppresses the
// side entirely once its band is breached.
func (b *Builder) sizeFor(st risk.State, room float64) float64 {
	if st == risk.StateBreached || room <= 0 {
		return 0
	}
	size := b.cfg.BaseSize * clamp(room/b.inst.PositionLimit, 0, 1)
	if size > room {
		size = room
	}
	if b.inst.MaxOrderSize > 0 && size > b.inst.MaxOrderSize {
		size = b.inst.MaxOrderSize
	}
	if size < b.inst.MinOrderSize {
		return 0
	}
	return size
}

func floorTick(price, tick float64) float64 {
	return math.Floor(price/tick+1e-9) * tick
}

func ceilTick(price, tick float64) float64 {
	return math.Ceil(price/tick-1e-9) * tick
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
