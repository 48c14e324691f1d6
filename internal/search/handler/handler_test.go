package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/search/cache"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/search/filters"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/search/memory"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/condition-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const docs = `
{"_id":"1","_source":{"title":"Distributed systems in Go","status":"published","views":150}}
{"_id":"2","_source":{"title":"Parsing conditions","status":"draft","views":20}}
{"_id":"3","_source":{"title":"Go concurrency patterns","status":"published","views":900}}
`

type memFilters struct {
	mu      sync.Mutex
	filters map[string]filters.Filter
}

func (m *memFilters) Create(_ context.Context, f *filters.Filter) error {
	if err := f.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.filters[f.Name]; ok {
		return fmt.Errorf("%w: %s", apperrors.ErrFilterExists, f.Name)
	}
	m.filters[f.Name] = *f
	return nil
}

func (m *memFilters) Get(_ context.Context, name string) (*filters.Filter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.filters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrFilterNotFound, name)
	}
	return &f, nil
}

func (m *memFilters) List(context.Context) ([]filters.Filter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]filters.Filter, 0, len(m.filters))
	for _, f := range m.filters {
		out = append(out, f)
	}
	return out, nil
}

func (m *memFilters) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.filters[name]; !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrFilterNotFound, name)
	}
	delete(m.filters, name)
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []analytics.SearchEvent
}

func (e *eventLog) Track(ev analytics.SearchEvent) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

func (e *eventLog) last() analytics.SearchEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events[len(e.events)-1]
}

type fixture struct {
	h       *Handler
	events  *eventLog
	metrics *metrics.Metrics
	filters *memFilters
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	idx := memory.New()
	if _, err := idx.LoadNDJSON("articles", strings.NewReader(docs)); err != nil {
		t.Fatal(err)
	}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	f := &fixture{
		events:  &eventLog{},
		metrics: m,
		filters: &memFilters{filters: map[string]filters.Filter{}},
	}
	f.h = New(Options{
		Sink:              idx,
		Compiler:          cache.New(nil, 0, m),
		Filters:           f.filters,
		Events:            f.events,
		Metrics:           m,
		DefaultIndex:      "articles",
		Defaults:          config.DefaultsConfig{Limit: 10},
		MaxResults:        2,
		MaxConditionBytes: 64,
	})
	return f
}

func do(handler http.HandlerFunc, method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest(method, target, &buf))
	return rr
}

func ids(t *testing.T, rr *httptest.ResponseRecorder) (SearchResponse, string) {
	t.Helper()
	var resp SearchResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	out := make([]string, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		out = append(out, hit.ID)
	}
	return resp, strings.Join(out, ",")
}

func TestSearchPost(t *testing.T) {
	f := newFixture(t)
	rr := do(f.h.Search, http.MethodPost, "/api/v1/search", map[string]any{
		"condition": "status = 'published'",
		"sort":      "views:desc",
		"select":    []string{"title"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	resp, got := ids(t, rr)
	if got != "3,1" || resp.Total != 2 || resp.Index != "articles" || resp.Relation != "eq" {
		t.Errorf("response = %+v", resp)
	}
	var src map[string]any
	json.Unmarshal(resp.Hits[0].Source, &src)
	if len(src) != 1 {
		t.Errorf("source not projected: %v", src)
	}

	ev := f.events.last()
	if ev.Type != analytics.EventSearch || ev.TotalHits != 2 || ev.Returned != 2 || ev.ErrorKind != "" {
		t.Errorf("event = %+v", ev)
	}
	if got := testutil.ToFloat64(f.metrics.SearchQueriesTotal.WithLabelValues("hits")); got != 1 {
		t.Errorf("search_queries{hits} = %v", got)
	}
}

func TestSearchGetQueryParams(t *testing.T) {
	f := newFixture(t)
	rr := do(f.h.Search, http.MethodGet, "/api/v1/search?condition=views+%3E+10&sort=views&limit=50&offset=1&exact_total=true", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	resp, got := ids(t, rr)
	// limit is capped at MaxResults
	if got != "1,3" || resp.Total != 3 {
		t.Errorf("ids = %s total = %d", got, resp.Total)
	}

	rr = do(f.h.Search, http.MethodGet, "/api/v1/search?limit=many", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rr.Code)
	}
}

func TestSearchMatchAndZeroResults(t *testing.T) {
	f := newFixture(t)
	rr := do(f.h.Search, http.MethodPost, "/api/v1/search", map[string]any{
		"match":     "go",
		"fields":    []string{"title"},
		"condition": "views < 500",
	})
	if _, got := ids(t, rr); got != "1" {
		t.Errorf("match ids = %s", got)
	}

	rr = do(f.h.Search, http.MethodPost, "/api/v1/search", map[string]any{"condition": "status = 'gone'"})
	if resp, _ := ids(t, rr); resp.Total != 0 || resp.Hits == nil {
		t.Errorf("zero response = %+v", resp)
	}
	if got := testutil.ToFloat64(f.metrics.SearchQueriesTotal.WithLabelValues("zero")); got != 1 {
		t.Errorf("search_queries{zero} = %v", got)
	}
}

func TestSearchConditionErrors(t *testing.T) {
	tests := []struct {
		name      string
		condition string
		status    int
		kind      string
	}{
		{"mixed", "a = 1 and b = 2 or c = 3", http.StatusBadRequest, apperrors.Kind(apperrors.ErrMixedConjunction)},
		{"unbalanced", "(a = 1", http.StatusBadRequest, apperrors.Kind(apperrors.ErrUnbalancedParentheses)},
		{"too long", strings.Repeat("a = 1 and ", 10) + "a = 1", http.StatusBadRequest, "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rr := do(f.h.Search, http.MethodPost, "/api/v1/search", map[string]any{"condition": tt.condition})
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d", rr.Code, tt.status)
			}
			var body ErrorResponse
			json.NewDecoder(rr.Body).Decode(&body)
			if body.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", body.Kind, tt.kind)
			}
			if tt.name == "unbalanced" && body.Position == nil {
				t.Error("position missing")
			}
		})
	}
}

func TestSearchUnknownField(t *testing.T) {
	f := newFixture(t)
	rr := do(f.h.Search, http.MethodPost, "/api/v1/search", map[string]any{"conditon": "a = 1"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestCountAndCompile(t *testing.T) {
	f := newFixture(t)
	rr := do(f.h.Count, http.MethodPost, "/api/v1/count", map[string]any{"condition": "status = 'published'"})
	var count map[string]any
	json.NewDecoder(rr.Body).Decode(&count)
	if rr.Code != http.StatusOK || count["count"] != float64(2) {
		t.Errorf("count = %d %v", rr.Code, count)
	}

	rr = do(f.h.Compile, http.MethodPost, "/api/v1/compile", map[string]any{"condition": "a = 1"})
	var compiled struct {
		Query    map[string]any `json:"query"`
		CacheHit bool           `json:"cache_hit"`
	}
	json.NewDecoder(rr.Body).Decode(&compiled)
	if rr.Code != http.StatusOK || compiled.Query["bool"] == nil {
		t.Errorf("compile = %d %+v", rr.Code, compiled)
	}
	if ev := f.events.last(); ev.Type != analytics.EventCompile || ev.Condition != "a = 1" {
		t.Errorf("compile event = %+v", ev)
	}
}

func TestFilters(t *testing.T) {
	f := newFixture(t)
	rr := do(f.h.CreateFilter, http.MethodPost, "/api/v1/filters", map[string]any{
		"name":      "popular",
		"condition": "views > 100",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rr.Code, rr.Body)
	}
	rr = do(f.h.CreateFilter, http.MethodPost, "/api/v1/filters", map[string]any{
		"name":      "popular",
		"condition": "views > 100",
	})
	if rr.Code != http.StatusConflict {
		t.Errorf("duplicate = %d", rr.Code)
	}
	rr = do(f.h.CreateFilter, http.MethodPost, "/api/v1/filters", map[string]any{
		"name":      "broken",
		"condition": "views >",
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid condition = %d", rr.Code)
	}

	rr = do(f.h.Search, http.MethodPost, "/api/v1/search", map[string]any{
		"filter":    "popular",
		"condition": "status = 'published'",
		"sort":      "views",
	})
	resp, got := ids(t, rr)
	if got != "1,3" || resp.Condition != "(views > 100) and (status = 'published')" {
		t.Errorf("filtered search = %s %q", got, resp.Condition)
	}

	rr = do(f.h.Search, http.MethodPost, "/api/v1/search", map[string]any{"filter": "missing"})
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing filter = %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/filters/popular", nil)
	req.SetPathValue("name", "popular")
	rr = httptest.NewRecorder()
	f.h.DeleteFilter(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Errorf("delete = %d", rr.Code)
	}
}

func TestFiltersDisabled(t *testing.T) {
	h := New(Options{Compiler: cache.New(nil, 0, nil)})
	rr := do(h.ListFilters, http.MethodGet, "/api/v1/filters", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestDocuments(t *testing.T) {
	f := newFixture(t)
	get := func(method, id string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/api/v1/documents/articles/"+id+"?select=title", nil)
		req.SetPathValue("index", "articles")
		req.SetPathValue("id", id)
		rr := httptest.NewRecorder()
		if method == http.MethodHead {
			f.h.DocumentExists(rr, req)
		} else {
			f.h.GetDocument(rr, req)
		}
		return rr
	}

	rr := get(http.MethodGet, "2")
	var hit Hit
	json.NewDecoder(rr.Body).Decode(&hit)
	if rr.Code != http.StatusOK || hit.ID != "2" || !strings.Contains(string(hit.Source), "Parsing") {
		t.Errorf("get = %d %+v", rr.Code, hit)
	}
	if rr := get(http.MethodGet, "9"); rr.Code != http.StatusNotFound {
		t.Errorf("missing get = %d", rr.Code)
	}
	if rr := get(http.MethodHead, "3"); rr.Code != http.StatusOK || rr.Body.Len() != 0 {
		t.Errorf("head = %d", rr.Code)
	}
	if rr := get(http.MethodHead, "9"); rr.Code != http.StatusNotFound {
		t.Errorf("missing head = %d", rr.Code)
	}
}

func TestCacheEndpoints(t *testing.T) {
	f := newFixture(t)
	for range 2 {
		do(f.h.Compile, http.MethodPost, "/api/v1/compile", map[string]any{"condition": "a = 1"})
	}
	rr := do(f.h.CacheStats, http.MethodGet, "/api/v1/cache/stats", nil)
	var stats map[string]any
	json.NewDecoder(rr.Body).Decode(&stats)
	// without a store every compile is a miss
	if stats["misses"] != float64(2) || stats["hit_rate"] != "0.0%" {
		t.Errorf("stats = %v", stats)
	}

	rr = do(f.h.CacheInvalidate, http.MethodPost, "/api/v1/cache/invalidate", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("invalidate = %d", rr.Code)
	}
}
