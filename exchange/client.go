package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"market-agent-go/metrics"
)

// Client talks to the simulator's REST API. HTTPClient can be injected for
// httptest-backed tests.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Limiter    RateLimiter
}

// NewDefaultHTTPClient returns an http.Client with a sane timeout.
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// Case fetches the active simulation session, used as a connectivity check.
func (c *Client) Case() (Case, error) {
	var out Case
	err := c.get("/v1/case", nil, &out)
	return out, err
}

// Securities lists every tradable instrument with current bid/ask/last.
func (c *Client) Securities() ([]Security, error) {
	var out []Security
	err := c.get("/v1/securities", nil, &out)
	return out, err
}

// PlaceOrder submits a limit or market order and returns the exchange id.
// the resting/fill lifecycle is delivered asynchronously on the stream.
func (c *Client) PlaceOrder(req OrderRequest) (OrderAck, error) {
	start := time.Now()
	defer func() { metrics.RESTLatency.WithLabelValues("place").Observe(time.Since(start).Seconds()) }()

	var ack OrderAck
	if err := c.post("/v1/orders", req, &ack); err != nil {
		return OrderAck{}, err
	}
	if ack.OrderID == "" {
		return OrderAck{}, fmt.Errorf("place order: empty order_id")
	}
	return ack, nil
}

// CancelOrder asks the simulator to pull a resting order.
func (c *Client) CancelOrder(orderID string) error {
	start := time.Now()
	defer func() { metrics.RESTLatency.WithLabelValues("cancel").Observe(time.Since(start).Seconds()) }()
	return c.do(http.MethodDelete, "/v1/orders/"+url.PathEscape(orderID), nil, nil)
}

// CancelAllOrders pulls every resting order in one request. Used for
// shutdown cleanup where per-order cancels would be too slow.
func (c *Client) CancelAllOrders() error {
	start := time.Now()
	defer func() { metrics.RESTLatency.WithLabelValues("cancel_all").Observe(time.Since(start).Seconds()) }()
	return c.post("/v1/commands/cancel", map[string]string{"all": "1"}, nil)
}

// OpenOrders lists every order currently resting for the trader.
func (c *Client) OpenOrders() ([]OpenOrder, error) {
	var out []OpenOrder
	err := c.get("/v1/orders", map[string]string{"status": "OPEN"}, &out)
	return out, err
}

// Tenders lists outstanding tender offers.
func (c *Client) Tenders() ([]TenderOffer, error) {
	var out []TenderOffer
	err := c.get("/v1/tenders", nil, &out)
	return out, err
}

// AcceptTender accepts a tender offer.
func (c *Client) AcceptTender(tenderID int64) error {
	return c.post(fmt.Sprintf("/v1/tenders/%d", tenderID), nil, nil)
}

// DeclineTender declines a tender offer.
func (c *Client) DeclineTender(tenderID int64) error {
	return c.do(http.MethodDelete, fmt.Sprintf("/v1/tenders/%d", tenderID), nil, nil)
}

func (c *Client) get(path string, params map[string]string, out interface{}) error {
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		path += "?" + q.Encode()
	}
	return c.do(http.MethodGet, path, nil, out)
}

func (c *Client) post(path string, body, out interface{}) error {
	return c.do(http.MethodPost, path, body, out)
}

func (c *Client) do(method, path string, body, out interface{}) error {
	if c == nil || c.HTTPClient == nil {
		return fmt.Errorf("http client not set")
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(context.Background()); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequest(method, c.BaseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-API-Key", c.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}
