package elastic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/condition-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/resilience"
)

func testConfig(addresses ...string) config.ElasticConfig {
	return config.ElasticConfig{
		Addresses:      addresses,
		RequestTimeout: time.Second,
		Retry: config.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
		},
		CircuitBreaker: config.CircuitBreakerConfig{
			FailureThreshold: 100,
			ResetTimeout:     time.Minute,
		},
	}
}

func TestSearchSendsBodyAndParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/articles/_search" {
			t.Errorf("request %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("size"); got != "5" {
			t.Errorf("size = %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		if _, ok := body["query"]; !ok {
			t.Errorf("body has no query: %v", body)
		}
		io.WriteString(w, `{"took":1,"hits":{"total":0,"hits":[]}}`)
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	data, err := c.Search(context.Background(), "articles", url.Values{"size": {"5"}},
		map[string]any{"query": map[string]any{"match_all": map[string]any{}}})
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(data) == 0 {
		t.Error("empty response body")
	}
}

func TestRoundRobin(t *testing.T) {
	var a, b atomic.Int32
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { a.Add(1) }))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { b.Add(1) }))
	defer srvB.Close()

	c, err := New(testConfig(srvA.URL, srvB.URL))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if err := c.Ping(context.Background()); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	}
	if a.Load() != 2 || b.Load() != 2 {
		t.Errorf("requests a=%d b=%d, want 2 each", a.Load(), b.Load())
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"count":3}`)
	}))
	defer srv.Close()

	var retries []string
	c, _ := New(testConfig(srv.URL), WithRetryHook(func(method string, _ int, _ error) {
		retries = append(retries, method)
	}))
	if _, err := c.Count(context.Background(), "idx", nil); err != nil {
		t.Fatalf("Count error: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if len(retries) != 2 || retries[0] != http.MethodPost {
		t.Errorf("retry hook calls = %v", retries)
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"type":"parsing_exception","reason":"unknown query [foo]"},"status":400}`)
	}))
	defer srv.Close()

	c, _ := New(testConfig(srv.URL))
	_, err := c.Search(context.Background(), "idx", nil, map[string]any{})
	var esErr *Error
	if !errors.As(err, &esErr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if esErr.Type != "parsing_exception" || esErr.Reason != "unknown query [foo]" {
		t.Errorf("decoded error = %+v", esErr)
	}
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("400 does not unwrap to ErrInvalidInput")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if c.BreakerState() != resilience.StateClosed {
		t.Errorf("client error tripped the breaker")
	}
}

func TestGetAndExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/idx/_doc/1" {
			if r.Method == http.MethodGet {
				io.WriteString(w, `{"_id":"1","found":true,"_source":{"a":1}}`)
			}
			return
		}
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"_id":"2","found":false}`)
	}))
	defer srv.Close()

	c, _ := New(testConfig(srv.URL))
	ctx := context.Background()
	if ok, err := c.Exists(ctx, "idx", "1"); err != nil || !ok {
		t.Errorf("Exists(1) = %v, %v", ok, err)
	}
	if ok, err := c.Exists(ctx, "idx", "2"); err != nil || ok {
		t.Errorf("Exists(2) = %v, %v", ok, err)
	}
	if _, err := c.Get(ctx, "idx", "2", nil); !errors.Is(err, apperrors.ErrDocumentNotFound) {
		t.Errorf("Get(2) error = %v, want ErrDocumentNotFound", err)
	}
}

func TestBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var opened atomic.Bool
	cfg := testConfig(srv.URL)
	cfg.Retry.MaxAttempts = 1
	cfg.CircuitBreaker.FailureThreshold = 2
	c, _ := New(cfg, WithStateHook(func(_ string, to resilience.State) {
		if to == resilience.StateOpen {
			opened.Store(true)
		}
	}))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := c.Ping(ctx); !errors.Is(err, apperrors.ErrBackendFailure) {
			t.Fatalf("Ping error = %v, want ErrBackendFailure", err)
		}
	}
	err := c.Ping(ctx)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("error = %v, want ErrCircuitOpen", err)
	}
	if !errors.Is(err, apperrors.ErrBackendFailure) {
		t.Errorf("open circuit does not map to ErrBackendFailure")
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if !opened.Load() {
		t.Error("state hook not called")
	}
}

func TestNewRejectsBadAddress(t *testing.T) {
	if _, err := New(config.ElasticConfig{}); err == nil {
		t.Error("expected error without addresses")
	}
	if _, err := New(config.ElasticConfig{Addresses: []string{"localhost:9200"}}); err == nil {
		t.Error("expected error for address without scheme")
	}
}
