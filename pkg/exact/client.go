// Package exact talks HTTP to the Exact Online API: authenticated requests
// with the 429 retry, response decoding, and cursor pagination.
package exact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/apierror"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/auth"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/metrics"
)

// Request describes one API call.
type Request struct {
	Method string
	// URI is a path below the base URL, or an absolute URL such as a page cursor.
	URI   string
	Body  map[string]any
	Query url.Values
	// Headers are added to the defaults.
	Headers map[string]string
	// RawBody is sent as-is with ContentType instead of the JSON body.
	RawBody     []byte
	ContentType string
	// DisableRetry turns off the wait-and-retry on HTTP 429.
	DisableRetry bool
}

// Response is a successful HTTP response with its body read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RateLimit returns the rate limit state reported by the response.
func (r *Response) RateLimit() RateLimit {
	return ParseRateLimit(r.Header)
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient uses client instead of asking the provider for one.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithSleep replaces the wait used for rate limiting.
func WithSleep(fn SleepFunc) Option {
	return func(c *Client) { c.sleep = fn }
}

// WithClock replaces the clock used to compute rate limit waits.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client is an Exact Online API client.
type Client struct {
	provider auth.Provider
	metrics  *metrics.Metrics
	logger   *slog.Logger
	sleep    SleepFunc
	now      func() time.Time

	mu         sync.Mutex
	httpClient *http.Client
}

// NewClient creates a client that authenticates through provider.
func NewClient(provider auth.Provider, opts ...Option) *Client {
	c := &Client{
		provider: provider,
		logger:   slog.Default(),
		sleep:    sleepContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root of the active authentication mode.
func (c *Client) BaseURL() string {
	return c.provider.BaseURL()
}

func (c *Client) client(ctx context.Context) (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.httpClient != nil {
		return c.httpClient, nil
	}
	hc, err := c.provider.Client(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate (%s): %w", c.provider.CredentialType(), err)
	}
	c.httpClient = hc
	return hc, nil
}

// Send performs req. An HTTP 429 is retried once after RetryWait unless
// req.DisableRetry is set; any other non-2xx status is a TransportError.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	hc, err := c.client(ctx)
	if err != nil {
		return nil, err
	}

	target, err := c.resolveURL(req.URI, req.Query)
	if err != nil {
		return nil, err
	}

	payload, contentType, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.do(ctx, hc, req, target, payload, contentType)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt == 0 && !req.DisableRetry {
			c.logger.Warn("rate limited, retrying once",
				"method", req.Method,
				"url", target,
				"wait", RetryWait,
			)
			c.metrics.ObserveRetry(RetryWait)
			if err := c.sleep(ctx, RetryWait); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &apierror.TransportError{
				Method:     req.Method,
				URL:        target,
				StatusCode: resp.StatusCode,
				Body:       string(resp.Body),
				Message:    errorMessage(resp.Body),
			}
		}
		return resp, nil
	}
}

func (c *Client) do(ctx context.Context, hc *http.Client, req Request, target string, payload []byte, contentType string) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	c.logger.Debug("sending request", "method", req.Method, "url", target)

	httpResp, err := hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.metrics.ObserveRequest(req.Method, httpResp.StatusCode)

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}

// resolveURL joins uri to the base URL and merges query into any query the
// uri already carries. Spaces are encoded as %20.
func (c *Client) resolveURL(uri string, query url.Values) (string, error) {
	raw := uri
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		if !strings.HasPrefix(uri, "/") {
			uri = "/" + uri
		}
		raw = strings.TrimSuffix(c.provider.BaseURL(), "/") + uri
	}
	if len(query) == 0 {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse request URL: %w", err)
	}
	merged := u.Query()
	for k, vs := range query {
		merged[k] = vs
	}
	u.RawQuery = strings.ReplaceAll(merged.Encode(), "+", "%20")
	return u.String(), nil
}

func encodeBody(req Request) ([]byte, string, error) {
	if req.RawBody != nil {
		return req.RawBody, req.ContentType, nil
	}
	if len(req.Body) == 0 {
		return nil, "", nil
	}
	data, err := json.Marshal(req.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request body: %w", err)
	}
	return data, "application/json", nil
}

// errorMessage extracts the text of an Exact OData error envelope.
func errorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message struct {
				Value string `json:"value"`
			} `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	return envelope.Error.Message.Value
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
