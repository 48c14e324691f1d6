// Package elastic is a small REST client for an Elasticsearch-compatible
// cluster. Requests are spread round-robin over the configured addresses,
// retried with backoff on transport errors and 5xx responses, and guarded by
// a circuit breaker.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/condition-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/resilience"
)

const maxErrorBody = 64 << 10

// Error is an error response returned by the cluster.
type Error struct {
	Status int
	Type   string
	Reason string
}

func (e *Error) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("elastic: status %d: %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("elastic: status %d: %s: %s", e.Status, e.Type, e.Reason)
}

// Unwrap maps the status onto the platform sentinels.
func (e *Error) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound:
		return apperrors.ErrDocumentNotFound
	case e.Status == http.StatusRequestTimeout || e.Status == http.StatusGatewayTimeout:
		return apperrors.ErrTimeout
	case e.Status == http.StatusTooManyRequests || e.Status >= 500:
		return apperrors.ErrBackendFailure
	case e.Status >= 400:
		return apperrors.ErrInvalidInput
	}
	return nil
}

func (e *Error) temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithStateHook is called whenever the circuit breaker changes state.
func WithStateHook(fn func(name string, to resilience.State)) Option {
	return func(c *Client) { c.onState = fn }
}

// WithRetryHook is called before each retry of a failed request.
func WithRetryHook(fn func(method string, attempt int, err error)) Option {
	return func(c *Client) { c.onRetry = fn }
}

// Client talks to the cluster over HTTP.
type Client struct {
	http      *http.Client
	addresses []string
	next      atomic.Uint64
	username  string
	password  string
	timeout   time.Duration
	retry     resilience.RetryConfig
	breaker   *resilience.CircuitBreaker
	onState   func(string, resilience.State)
	onRetry   func(string, int, error)
	logger    *slog.Logger
}

// New creates a Client for cfg.Addresses.
func New(cfg config.ElasticConfig, opts ...Option) (*Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("elastic: no addresses configured")
	}
	addresses := make([]string, len(cfg.Addresses))
	for i, addr := range cfg.Addresses {
		u, err := url.Parse(addr)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("elastic: invalid address %q", addr)
		}
		addresses[i] = strings.TrimRight(addr, "/")
	}

	c := &Client{
		http:      &http.Client{},
		addresses: addresses,
		username:  cfg.Username,
		password:  cfg.Password,
		timeout:   cfg.RequestTimeout,
		logger:    slog.Default().With("component", "elastic-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.retry = resilience.RetryConfig{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Retryable:    retryable,
	}
	c.breaker = resilience.NewCircuitBreaker("elastic", resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		ResetTimeout:     cfg.CircuitBreaker.ResetTimeout,
		OnStateChange:    c.onState,
		IsFailure:        retryable,
	})
	return c, nil
}

// Search runs POST /{index}/_search and returns the raw response body.
func (c *Client) Search(ctx context.Context, index string, params url.Values, body any) ([]byte, error) {
	return c.Perform(ctx, http.MethodPost, "/"+url.PathEscape(index)+"/_search", params, body)
}

// Count runs POST /{index}/_count.
func (c *Client) Count(ctx context.Context, index string, body any) ([]byte, error) {
	return c.Perform(ctx, http.MethodPost, "/"+url.PathEscape(index)+"/_count", nil, body)
}

// Get fetches GET /{index}/_doc/{id}. A missing document yields an *Error
// that unwraps to ErrDocumentNotFound.
func (c *Client) Get(ctx context.Context, index, id string, params url.Values) ([]byte, error) {
	return c.Perform(ctx, http.MethodGet, docPath(index, id), params, nil)
}

// Exists runs HEAD /{index}/_doc/{id}.
func (c *Client) Exists(ctx context.Context, index, id string) (bool, error) {
	_, err := c.Perform(ctx, http.MethodHead, docPath(index, id), nil, nil)
	var esErr *Error
	if errors.As(err, &esErr) && esErr.Status == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Ping checks that at least one node answers GET /.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Perform(ctx, http.MethodGet, "/", nil, nil)
	return err
}

// BreakerState reports the circuit breaker state.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.GetState()
}

// Perform sends one logical request, retrying temporary failures.
func (c *Client) Perform(ctx context.Context, method, path string, params url.Values, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s %s body: %w", method, path, err)
		}
		payload = data
	}

	var result []byte
	retry := c.retry
	if c.onRetry != nil {
		retry.OnRetry = func(attempt int, err error) { c.onRetry(method, attempt, err) }
	}
	err := resilience.Retry(ctx, method+" "+path, retry, func(ctx context.Context, _ int) error {
		return c.breaker.Execute(func() error {
			return resilience.WithTimeout(ctx, c.timeout, "elastic "+method, func(ctx context.Context) error {
				data, err := c.roundTrip(ctx, method, path, params, payload)
				if err != nil {
					return err
				}
				result = data
				return nil
			})
		})
	})
	if err == nil {
		return result, nil
	}

	var esErr *Error
	switch {
	case errors.As(err, &esErr):
		return nil, err
	case errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("%w: %s %s: %w", apperrors.ErrTimeout, method, path, err)
	default:
		return nil, fmt.Errorf("%w: %s %s: %w", apperrors.ErrBackendFailure, method, path, err)
	}
}

func (c *Client) roundTrip(ctx context.Context, method, path string, params url.Values, payload []byte) ([]byte, error) {
	address := c.addresses[c.next.Add(1)%uint64(len(c.addresses))]
	target := address + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("request failed", "method", method, "address", address, "path", path, "error", err)
		return nil, err
	}
	defer resp.Body.Close()

	c.logger.Debug("request completed",
		"method", method,
		"address", address,
		"path", path,
		"status", resp.StatusCode,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, decodeError(resp.StatusCode, data)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return data, nil
}

// decodeError understands both {"error": {"type", "reason"}} and
// {"error": "text"} bodies.
func decodeError(status int, data []byte) *Error {
	e := &Error{Status: status}
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || len(envelope.Error) == 0 {
		e.Reason = strings.TrimSpace(string(data))
		if e.Reason == "" {
			e.Reason = http.StatusText(status)
		}
		return e
	}
	var detail struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(envelope.Error, &detail); err == nil {
		e.Type, e.Reason = detail.Type, detail.Reason
		return e
	}
	var text string
	if err := json.Unmarshal(envelope.Error, &text); err == nil {
		e.Reason = text
	}
	return e
}

func retryable(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	var esErr *Error
	if errors.As(err, &esErr) {
		return esErr.temporary()
	}
	return true
}

func docPath(index, id string) string {
	return "/" + url.PathEscape(index) + "/_doc/" + url.PathEscape(id)
}
