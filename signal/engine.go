// Package signal computes rolling mean-reversion statistics over cached
// market data.
package signal

import (
	"errors"
	"math"
	"time"

	"market-agent-go/market"
)

// ErrInsufficientData is reported until the window holds enough points.
// Callers must suppress quoting for the instrument while it persists.
var ErrInsufficientData = errors.New("insufficient market data")

// Classification buckets a z-score against the configured threshold.
type Classification int

const (
	Neutral Classification = iota
	Overbought
	Oversold
)

func (c Classification) String() string {
	switch c {
	case Overbought:
		return "OVERBOUGHT"
	case Oversold:
		return "OVERSOLD"
	default:
		return "NEUTRAL"
	}
}

// Signal is the per-tick output of the engine. It is derived state and is
// recomputed from the full window on every tick.
type Signal struct {
	Instrument string
	Mean       float64
	StdDev     float64
	ZScore     float64
	Class      Classification
	Ts         time.Time
}

// Engine computes signals. Safe for use from the single engine goroutine.
type Engine struct {
	minPoints int
	threshold float64
}

// NewEngine creates a signal engine. minPoints gates computation; threshold
// classifies the z-score.
func NewEngine(minPoints int, threshold float64) *Engine {
	if minPoints < 2 {
		minPoints = 2
	}
	return &Engine{minPoints: minPoints, threshold: threshold}
}

// Compute derives the signal for the window, oldest first. A window shorter
// than minPoints returns ErrInsufficientData. A flat window (zero variance)
// yields z = 0 by policy rather than a division failure.
func (e *Engine) Compute(instrument string, window []market.PricePoint, now time.Time) (Signal, error) {
	if len(window) < e.minPoints {
		return Signal{}, ErrInsufficientData
	}

	mean := 0.0
	for _, pt := range window {
		mean += pt.Price
	}
	mean /= float64(len(window))

	// Two-pass: squaring deviations from the mean keeps the sum well
	// conditioned for windows of near-equal prices.
	var sumSq float64
	for _, pt := range window {
		d := pt.Price - mean
		sumSq += d * d
	}
	stddev := math.Sqrt(sumSq / float64(len(window)))

	last := window[len(window)-1].Price
	z := 0.0
	if stddev > 0 {
		z = (last - mean) / stddev
	}

	class := Neutral
	switch {
	case z > e.threshold:
		class = Overbought
	case z < -e.threshold:
		class = Oversold
	}

	return Signal{
		Instrument: instrument,
		Mean:       mean,
		StdDev:     stddev,
		ZScore:     z,
		Class:      class,
		Ts:         now,
	}, nil
}

// FairValue returns the rolling mean, shared with the tender evaluator as the
// instrument's fair-value estimate.
func (s Signal) FairValue() float64 {
	return s.Mean
}
