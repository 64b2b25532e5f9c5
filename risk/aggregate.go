package risk

import (
	"errors"
	"fmt"
)

var (
	// ErrGrossExceeded reports the process-wide gross exposure cap.
	ErrGrossExceeded = errors.New("gross exposure exceeded")
	// ErrNetExceeded reports the process-wide net exposure cap.
	ErrNetExceeded = errors.New("net exposure exceeded")
)

// Holding is one instrument's marked position, used by the aggregate guard.
type Holding struct {
	Instrument string
	Qty        float64 // signed quantity
	Mark       float64 // price used to mark the position
}

// AggregateGuard caps notional exposure summed across instruments. It is the
// single cross-instrument serialization point and is evaluated once per tick
// after all per-instrument risk states are known. Zero limits disable the
// corresponding cap.
type AggregateGuard struct {
	GrossLimit float64
	NetLimit   float64
}

// Check sums marked exposure across holdings and returns an error naming the
// first violated cap.
func (g AggregateGuard) Check(holdings []Holding) error {
	if g.GrossLimit <= 0 && g.NetLimit <= 0 {
		return nil
	}
	var gross, net float64
	for _, h := range holdings {
		v := h.Qty * h.Mark
		net += v
		if v < 0 {
			v = -v
		}
		gross += v
	}
	if g.GrossLimit > 0 && gross > g.GrossLimit {
		return fmt.Errorf("%w: %.2f > %.2f", ErrGrossExceeded, gross, g.GrossLimit)
	}
	if g.NetLimit > 0 && abs(net) > g.NetLimit {
		return fmt.Errorf("%w: %.2f > %.2f", ErrNetExceeded, net, g.NetLimit)
	}
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
