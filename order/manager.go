package order

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Gateway is the order-entry boundary. Place returns the exchange-assigned id;
// acknowledgment and fills are delivered later as boundary events, so a
// successful Place only means "accepted for processing".
type Gateway interface {
	Place(o Order) (string, error)
	Cancel(exchangeID string) error
}

// ErrUnknownOrder is returned for ids the manager never issued.
var ErrUnknownOrder = errors.New("unknown order")

// Manager tracks every order the session has issued and keeps at most one
// active order per instrument per side.
type Manager struct {
	gw Gateway
	sm *StateMachine

	mu          sync.RWMutex
	orders      map[string]*Order            // by client id
	byExchange  map[string]string            // exchange id -> client id
	active      map[string]map[string]string // instrument -> side -> client id
	constraints map[string]Constraints
	seq         uint64
	now         func() time.Time
}

// NewManager creates a manager submitting through gw.
func NewManager(gw Gateway) *Manager {
	return &Manager{
		gw:          gw,
		sm:          NewStateMachine(),
		orders:      make(map[string]*Order),
		byExchange:  make(map[string]string),
		active:      make(map[string]map[string]string),
		constraints: make(map[string]Constraints),
		now:         time.Now,
	}
}

// SetConstraints installs per-instrument validation limits.
func (m *Manager) SetConstraints(c map[string]Constraints) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.constraints = make(map[string]Constraints, len(c))
	for id, cc := range c {
		m.constraints[id] = cc
	}
}

// SetClock overrides the clock, for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Submit validates, registers and places an order. The returned order is
// PENDING until an acknowledgment event arrives.
func (m *Manager) Submit(o Order) (Order, error) {
	m.mu.Lock()
	if c, ok := m.constraints[o.Instrument]; ok {
		if err := c.Validate(o.Price, o.Quantity); err != nil {
			m.mu.Unlock()
			return Order{}, err
		}
	}
	m.seq++
	o.ID = fmt.Sprintf("%s-%s-%d", o.Instrument, o.Side, m.seq)
	o.Status = StatusPending
	o.PlacedAt = m.now()
	m.orders[o.ID] = &o
	m.setActive(o.Instrument, o.Side, o.ID)
	m.mu.Unlock()

	exchangeID, err := m.gw.Place(o)
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.orders[o.ID]
	if err != nil {
		stored.Status = StatusRejected
		stored.LastError = err.Error()
		m.clearActive(o.Instrument, o.Side, o.ID)
		return *stored, err
	}
	stored.ExchangeID = exchangeID
	m.byExchange[exchangeID] = o.ID
	return *stored, nil
}

// Cancel asks the exchange to pull the order and marks it cancel-requested.
// The order stays fill-eligible until the exchange confirms via MarkCanceled;
// a fill arriving in between is applied normally and wins the race.
func (m *Manager) Cancel(id string) error {
	m.mu.RLock()
	o, ok := m.resolve(id)
	m.mu.RUnlock()
	if !ok {
		return ErrUnknownOrder
	}
	if o.Status == StatusCancelRequested || !m.sm.IsActive(o.Status) {
		return nil
	}
	if err := m.gw.Cancel(o.ExchangeID); err != nil {
		return err
	}
	return m.transition(o.ID, StatusCancelRequested)
}

// Ack marks a pending order as resting on the book.
func (m *Manager) Ack(id string) error {
	return m.transition(id, StatusResting)
}

// MarkRejected records an asynchronous rejection.
func (m *Manager) MarkRejected(id, reason string) error {
	m.mu.Lock()
	if o, ok := m.resolve(id); ok {
		o.LastError = reason
	}
	m.mu.Unlock()
	return m.transition(id, StatusRejected)
}

// MarkCanceled records an exchange-confirmed cancel.
func (m *Manager) MarkCanceled(id string) error {
	return m.transition(id, StatusCanceled)
}

// ApplyFill records a (partial) fill and returns the updated order so the
// caller can apply it to the position.
func (m *Manager) ApplyFill(id string, qty float64) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.resolve(id)
	if !ok {
		return Order{}, ErrUnknownOrder
	}
	next := StatusPartial
	if o.Filled+qty >= o.Quantity-1e-9 {
		next = StatusFilled
	}
	if o.Status == StatusCancelRequested && next == StatusPartial {
		// A partial fill does not revive a cancel-requested order; the
		// pending cancel still applies to the remainder.
		next = StatusCancelRequested
	}
	if err := m.sm.Validate(o.Status, next); err != nil {
		return Order{}, err
	}
	o.Filled += qty
	o.Status = next
	if m.sm.IsTerminal(next) {
		m.clearActive(o.Instrument, o.Side, o.ID)
	}
	return *o, nil
}

// Resting returns the active order for the instrument side, if any. An order
// with a cancel in flight is not reported: it no longer represents the live
// quote, even though it may still fill.
func (m *Manager) Resting(instrument, side string) (Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sides, ok := m.active[instrument]
	if !ok {
		return Order{}, false
	}
	id, ok := sides[side]
	if !ok {
		return Order{}, false
	}
	o, ok := m.orders[id]
	if !ok || !m.sm.IsActive(o.Status) || o.Status == StatusCancelRequested {
		return Order{}, false
	}
	return *o, true
}

// ActiveOrders returns every order that may still fill.
func (m *Manager) ActiveOrders() []Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Order
	for _, o := range m.orders {
		if m.sm.IsActive(o.Status) {
			out = append(out, *o)
		}
	}
	return out
}

// RestingExposure sums the remaining sizes of active orders per side, feeding
// the committed-exposure calculation.
func (m *Manager) RestingExposure(instrument string) (buys, sells float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.orders {
		if o.Instrument != instrument || !m.sm.IsActive(o.Status) {
			continue
		}
		if o.Side == SideBuy {
			buys += o.Remaining()
		} else {
			sells += o.Remaining()
		}
	}
	return buys, sells
}

// CancelAll cancels every active order. It keeps going on individual errors
// and reports how many cancels failed; session shutdown depends on it.
func (m *Manager) CancelAll() error {
	var failed int
	for _, o := range m.ActiveOrders() {
		if err := m.Cancel(o.ID); err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("failed to cancel %d orders", failed)
	}
	return nil
}

// Lookup returns the order for a client or exchange id.
func (m *Manager) Lookup(id string) (Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.resolve(id)
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// resolve accepts either a client id or an exchange id. Callers hold m.mu.
func (m *Manager) resolve(id string) (*Order, bool) {
	if o, ok := m.orders[id]; ok {
		return o, true
	}
	if cid, ok := m.byExchange[id]; ok {
		return m.orders[cid], true
	}
	return nil, false
}

func (m *Manager) transition(id string, next Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.resolve(id)
	if !ok {
		return ErrUnknownOrder
	}
	if err := m.sm.Validate(o.Status, next); err != nil {
		return err
	}
	o.Status = next
	if m.sm.IsTerminal(next) {
		m.clearActive(o.Instrument, o.Side, o.ID)
	}
	return nil
}

func (m *Manager) setActive(instrument, side, id string) {
	sides, ok := m.active[instrument]
	if !ok {
		sides = make(map[string]string)
		m.active[instrument] = sides
	}
	sides[side] = id
}

func (m *Manager) clearActive(instrument, side, id string) {
	if sides, ok := m.active[instrument]; ok && sides[side] == id {
		delete(sides, side)
	}
}
