// Package exchange is the boundary to the trading simulator: a REST client
// for order entry and queries, and a websocket stream delivering market data
// and order events.
package exchange

import "time"

// Case describes the running simulation session.
type Case struct {
	Name         string `json:"name"`
	Period       int    `json:"period"`
	TotalPeriods int    `json:"total_periods"`
	Tick         int    `json:"tick"`
	TicksPerPd   int    `json:"ticks_per_period"`
	Status       string `json:"status"`
}

// Security is a tradable instrument snapshot from the simulator.
type Security struct {
	Ticker string  `json:"ticker"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
	Volume float64 `json:"volume"`
}

// OrderRequest is the order-entry payload.
type OrderRequest struct {
	Ticker   string  `json:"ticker"`
	Type     string  `json:"type"` // LIMIT or MARKET
	Action   string  `json:"action"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}

// OrderAck is the simulator's synchronous response to order entry.
type OrderAck struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// OpenOrder is a resting order as reported by the simulator.
type OpenOrder struct {
	OrderID  string  `json:"order_id"`
	Ticker   string  `json:"ticker"`
	Action   string  `json:"action"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Filled   float64 `json:"quantity_filled"`
	Status   string  `json:"status"`
}

// TenderOffer is a private liability offer delivered by the simulator.
type TenderOffer struct {
	TenderID int64   `json:"tender_id"`
	Ticker   string  `json:"ticker"`
	Action   string  `json:"action"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	Expires  int     `json:"expires"` // tick at which the offer lapses
}

// EventType discriminates boundary events on the stream.
type EventType int

const (
	// EventPrice is a market-data update.
	EventPrice EventType = iota
	// EventAck acknowledges a pending order as resting.
	EventAck
	// EventFill reports a partial or full fill.
	EventFill
	// EventCancel confirms a cancellation.
	EventCancel
	// EventReject reports an asynchronous rejection.
	EventReject
)

func (t EventType) String() string {
	switch t {
	case EventPrice:
		return "PRICE"
	case EventAck:
		return "ACK"
	case EventFill:
		return "FILL"
	case EventCancel:
		return "CANCEL"
	case EventReject:
		return "REJECT"
	default:
		return "UNKNOWN"
	}
}

// ParseEventType maps a wire type string to its EventType.
func ParseEventType(s string) (EventType, bool) {
	switch s {
	case "PRICE":
		return EventPrice, true
	case "ACK":
		return EventAck, true
	case "FILL":
		return EventFill, true
	case "CANCEL":
		return EventCancel, true
	case "REJECT":
		return EventReject, true
	default:
		return 0, false
	}
}

// Event is one boundary occurrence. Events are queued and drained at the
// start of each engine tick, never processed mid-tick.
type Event struct {
	Type       EventType
	Instrument string
	Price      float64
	Qty        float64
	OrderID    string
	Side       string
	Reason     string
	Ts         time.Time
}
