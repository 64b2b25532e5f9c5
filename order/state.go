// Package order owns the execution side of the agent: resting-order state,
// submission and cancellation through the exchange gateway, and per-tick
// reconciliation of desired quotes against what is actually resting.
package order

import "time"

// Side of an order.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Status represents the order lifecycle.
type Status string

const (
	// StatusPending means submitted but not yet acknowledged.
	StatusPending Status = "PENDING"
	// StatusResting means acknowledged and waiting on the book.
	StatusResting Status = "RESTING"
	// StatusPartial means partially filled and still resting.
	StatusPartial Status = "PARTIAL"
	// StatusCancelRequested means a cancel is in flight but the exchange has
	// not confirmed it; the order can still fill until it does.
	StatusCancelRequested Status = "CANCEL_REQUESTED"
	// StatusFilled is terminal.
	StatusFilled Status = "FILLED"
	// StatusCanceled is terminal.
	StatusCanceled Status = "CANCELED"
	// StatusRejected is terminal.
	StatusRejected Status = "REJECTED"
	// StatusExpired is terminal.
	StatusExpired Status = "EXPIRED"
)

// Order is the controller's view of one exchange order.
type Order struct {
	ID         string // client id, assigned by the manager
	ExchangeID string
	Instrument string
	Side       string
	Price      float64
	Quantity   float64
	Filled     float64
	Status     Status
	PlacedAt   time.Time
	LastError  string
}

// Remaining is the unfilled quantity.
func (o Order) Remaining() float64 {
	r := o.Quantity - o.Filled
	if r < 0 {
		return 0
	}
	return r
}
