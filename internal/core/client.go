// Package core talks to the core delivery service that owns restaurants,
// orders, drivers, tax and NFT data. The gateway passes responses through
// without interpreting them.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("not found upstream")
	ErrUpstream = errors.New("upstream request failed")
)

// Client is an HTTP client for the core delivery service.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient returns a client for baseURL, e.g. "http://core:9000".
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Restaurants lists restaurants, forwarding query filters unchanged.
func (c *Client) Restaurants(ctx context.Context, q url.Values) (json.RawMessage, error) {
	return c.getJSON(ctx, "/restaurants", q)
}

// Restaurant returns one restaurant.
func (c *Client) Restaurant(ctx context.Context, id string) (json.RawMessage, error) {
	return c.getJSON(ctx, "/restaurants/"+url.PathEscape(id), nil)
}

// Menu returns a restaurant's menu.
func (c *Client) Menu(ctx context.Context, restaurantID string) (json.RawMessage, error) {
	return c.getJSON(ctx, "/restaurants/"+url.PathEscape(restaurantID)+"/menu", nil)
}

// Order returns an order from the primary ordering path.
func (c *Client) Order(ctx context.Context, id string) (json.RawMessage, error) {
	return c.getJSON(ctx, "/orders/"+url.PathEscape(id), nil)
}

// Drivers lists drivers.
func (c *Client) Drivers(ctx context.Context, q url.Values) (json.RawMessage, error) {
	return c.getJSON(ctx, "/drivers", q)
}

// Tax returns a tax quote for the query.
func (c *Client) Tax(ctx context.Context, q url.Values) (json.RawMessage, error) {
	return c.getJSON(ctx, "/tax", q)
}

// NFTs lists minted NFTs.
func (c *Client) NFTs(ctx context.Context, q url.Values) (json.RawMessage, error) {
	return c.getJSON(ctx, "/nfts", q)
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values) (json.RawMessage, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if id := RequestIDFrom(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrUpstream, resp.StatusCode, body)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}
	return raw, nil
}

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// WithRequestID attaches a request ID that is forwarded upstream.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, id)
}

// RequestIDFrom returns the ID set by WithRequestID, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}
