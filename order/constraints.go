package order

import (
	"fmt"
	"math"
)

// Constraints describe an instrument's tick and size limits.
type Constraints struct {
	TickSize     float64
	MinOrderSize float64
	MaxOrderSize float64
}

// Validate checks that price and quantity are acceptable to the exchange.
func (c Constraints) Validate(price, qty float64) error {
	if price <= 0 {
		return fmt.Errorf("price %.8f must be > 0", price)
	}
	if c.TickSize > 0 && !isMultiple(price, c.TickSize) {
		return fmt.Errorf("price %.8f not aligned to tickSize %.8f", price, c.TickSize)
	}
	if qty <= 0 {
		return fmt.Errorf("qty %.8f must be > 0", qty)
	}
	if c.MinOrderSize > 0 && qty < c.MinOrderSize {
		return fmt.Errorf("qty %.8f < minOrderSize %.8f", qty, c.MinOrderSize)
	}
	if c.MaxOrderSize > 0 && qty > c.MaxOrderSize {
		return fmt.Errorf("qty %.8f > maxOrderSize %.8f", qty, c.MaxOrderSize)
	}
	return nil
}

func isMultiple(value, step float64) bool {
	if step <= 0 {
		return true
	}
	ratio := value / step
	return math.Abs(ratio-math.Round(ratio)) <= 1e-6
}
