package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// Client implements TradeFetcher against the exchange REST API.
type Client struct {
	baseURL     string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a new exchange REST client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     baseURL,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiError is the exchange error payload carried on non-2xx responses.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Msg)
}

// get performs a GET request with retries and exponential backoff.
// Rate limits and server errors are retried; other API errors are not.
func (c *Client) get(ctx context.Context, path string, query url.Values, result interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = min(time.Duration(float64(delay)*c.backoffMult), c.maxDelay)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		// Rate limiting: 429, and 418 after repeated violations
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot {
			lastErr = fmt.Errorf("rate limited (%d)", resp.StatusCode)
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		if resp.StatusCode != http.StatusOK {
			var apiErr apiError
			if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Code != 0 {
				// API errors are not retried
				return &apiErr
			}
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
		}

		if result != nil {
			if err := json.Unmarshal(respBody, result); err != nil {
				return fmt.Errorf("unmarshal response: %w", err)
			}
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// aggTradeJSON is the raw wire format of one aggregate trade.
// Price and quantity arrive as decimal strings.
type aggTradeJSON struct {
	AggID        int64  `json:"a"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TimestampMs  int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// AggTrades retrieves one page of aggregate trades for a symbol.
func (c *Client) AggTrades(ctx context.Context, symbol string, q AggTradesQuery) ([]Trade, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	if q.FromID > 0 {
		query.Set("fromId", strconv.FormatInt(q.FromID, 10))
	} else {
		if q.StartMs > 0 {
			query.Set("startTime", strconv.FormatInt(q.StartMs, 10))
		}
		if q.EndMs > 0 {
			query.Set("endTime", strconv.FormatInt(q.EndMs, 10))
		}
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}

	var raw []aggTradeJSON
	if err := c.get(ctx, "/api/v3/aggTrades", query, &raw); err != nil {
		return nil, err
	}

	trades := make([]Trade, 0, len(raw))
	for _, r := range raw {
		price, err := strconv.ParseFloat(r.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("parse price %q for trade %d: %w", r.Price, r.AggID, err)
		}
		qty, err := strconv.ParseFloat(r.Quantity, 64)
		if err != nil {
			return nil, fmt.Errorf("parse quantity %q for trade %d: %w", r.Quantity, r.AggID, err)
		}
		trades = append(trades, Trade{
			Symbol:       symbol,
			AggID:        r.AggID,
			Price:        price,
			Quantity:     qty,
			TimestampMs:  r.TimestampMs,
			IsBuyerMaker: r.IsBuyerMaker,
		})
	}

	return trades, nil
}

// ServerTime retrieves the exchange server time in milliseconds.
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	var result struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := c.get(ctx, "/api/v3/time", nil, &result); err != nil {
		return 0, err
	}
	return result.ServerTime, nil
}

var _ TradeFetcher = (*Client)(nil)
