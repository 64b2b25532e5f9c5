package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"market-agent-go/metrics"
)

// Stream consumes the simulator's event feed over WebSocket and pushes
// decoded events onto a buffered channel. It reconnects with linear backoff
// and reports a fatal error once the retry budget is exhausted.
type Stream struct {
	Endpoint string
	APIKey   string
	Dialer   *websocket.Dialer

	log    *zap.Logger
	events chan Event
	conn   *websocket.Conn
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc

	onFatalError func(error)
	maxRetries   int
	retryBackoff time.Duration
	readTimeout  time.Duration
}

// NewStream builds a stream for the given endpoint. queueLen bounds the event
// channel so a stalled consumer cannot grow memory without limit.
func NewStream(endpoint, apiKey string, queueLen int, log *zap.Logger) *Stream {
	if queueLen <= 0 {
		queueLen = 4096
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Stream{
		Endpoint:     endpoint,
		APIKey:       apiKey,
		Dialer:       websocket.DefaultDialer,
		log:          log,
		events:       make(chan Event, queueLen),
		maxRetries:   5,
		retryBackoff: 3 * time.Second,
		readTimeout:  30 * time.Second,
	}
}

// Events exposes the decoded event channel. It is closed only when the
// stream gives up for good, which the consumer must treat as fatal.
func (s *Stream) Events() <-chan Event { return s.events }

// SetFatalErrorHandler registers a callback fired when reconnection fails
// past the retry budget, so the main loop can begin a graceful shutdown.
func (s *Stream) SetFatalErrorHandler(fn func(error)) { s.onFatalError = fn }

// Start launches the read loop in a background goroutine.
func (s *Stream) Start() error {
	if s.Endpoint == "" {
		return fmt.Errorf("stream endpoint required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.ctx = ctx
	s.cancel = cancel
	go s.run()
	return nil
}

// Stop tears down the connection and stops reconnecting.
func (s *Stream) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()
}

func (s *Stream) run() {
	defer close(s.events)
	retries := 0
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		header := map[string][]string{"X-API-Key": {s.APIKey}}
		conn, _, err := s.Dialer.Dial(s.Endpoint, header)
		if err != nil {
			if retries >= s.maxRetries {
				fatal := fmt.Errorf("stream reconnect failed after %d retries: %w", s.maxRetries, err)
				s.log.Error("event stream gave up", zap.Error(fatal))
				if s.onFatalError != nil {
					s.onFatalError(fatal)
				}
				return
			}
			retries++
			backoff := time.Duration(retries) * s.retryBackoff
			s.log.Warn("stream dial failed",
				zap.Int("attempt", retries),
				zap.Int("max", s.maxRetries),
				zap.Duration("backoff", backoff),
				zap.Error(err))
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.log.Info("event stream connected", zap.String("endpoint", s.Endpoint))
		retries = 0

		s.readLoop(conn)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		metrics.StreamReconnects.Inc()
		s.log.Warn("event stream disconnected, reconnecting")
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.retryBackoff):
		}
	}
}

func (s *Stream) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.ctx.Done():
			default:
				s.log.Warn("stream read error", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		s.dispatch(msg)
	}
}

func (s *Stream) dispatch(raw []byte) {
	var w struct {
		Type     string    `json:"type"`
		Ticker   string    `json:"ticker"`
		Price    float64   `json:"price"`
		Quantity float64   `json:"quantity"`
		OrderID  string    `json:"order_id"`
		Action   string    `json:"action"`
		Reason   string    `json:"reason"`
		Ts       time.Time `json:"ts"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		s.log.Warn("stream message unparseable", zap.Error(err))
		return
	}
	typ, ok := ParseEventType(w.Type)
	if !ok {
		s.log.Debug("ignoring unknown event type", zap.String("type", w.Type))
		return
	}
	ev := Event{
		Type:       typ,
		Instrument: w.Ticker,
		Price:      w.Price,
		Qty:        w.Quantity,
		OrderID:    w.OrderID,
		Side:       w.Action,
		Reason:     w.Reason,
		Ts:         w.Ts,
	}
	if ev.Ts.IsZero() {
		ev.Ts = time.Now()
	}
	select {
	case s.events <- ev:
	default:
		// Consumer is behind; dropping the oldest semantics would need a
		// ring buffer, so drop the newest and count it.
		metrics.StreamEventsDropped.Inc()
		s.log.Warn("event queue full, dropping event", zap.String("type", ev.Type.String()))
	}
}
