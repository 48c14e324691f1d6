// Package handler serves the condition search HTTP API: searching and
// counting with a condition, compiling a condition without running it,
// saved filters, document lookups and the condition cache.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/condition/compiler"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/search/filters"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/search/finder"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/search/response"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/search/sink"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/condition-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/tracing"
)

const maxBodyBytes = 1 << 20

// Compiler turns condition text into compiled buckets, reporting cache hits.
type Compiler interface {
	Compile(ctx context.Context, condition string) (*compiler.Buckets, bool, error)
	Invalidate(ctx context.Context) (int64, error)
	Stats() (hits, misses int64)
}

type FilterStore interface {
	Create(ctx context.Context, f *filters.Filter) error
	Get(ctx context.Context, name string) (*filters.Filter, error)
	List(ctx context.Context) ([]filters.Filter, error)
	Delete(ctx context.Context, name string) error
}

type EventTracker interface {
	Track(event analytics.SearchEvent)
}

// Options wires the handler. Filters, Events, Tracer and Metrics may be nil.
type Options struct {
	Sink              sink.Sink
	Compiler          Compiler
	Filters           FilterStore
	Events            EventTracker
	Tracer            *tracing.Tracer
	Metrics           *metrics.Metrics
	DefaultIndex      string
	Defaults          config.DefaultsConfig
	MaxResults        int
	MaxConditionBytes int
}

type Handler struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options) *Handler {
	return &Handler{
		opts:   opts,
		logger: slog.Default().With("component", "search-handler"),
	}
}

// SearchRequest is the body of POST /api/v1/search and /api/v1/count.
type SearchRequest struct {
	Index     string         `json:"index"`
	Condition string         `json:"condition"`
	Filter    string         `json:"filter"`
	Match     string         `json:"match"`
	Fields    []string       `json:"fields"`
	Select    []string       `json:"select"`
	NoSource  bool           `json:"no_source"`
	Limit     *int           `json:"limit"`
	Offset    *int           `json:"offset"`
	Sort      string         `json:"sort"`
	Query     map[string]any `json:"query"`
	// ExactTotal runs a count next to the search so Total is exact even
	// when the cluster caps hits.total.
	ExactTotal bool `json:"exact_total"`
}

type Hit struct {
	ID        string              `json:"id"`
	Index     string              `json:"index,omitempty"`
	Score     *float64            `json:"score,omitempty"`
	Source    json.RawMessage     `json:"source,omitempty"`
	Highlight map[string][]string `json:"highlight,omitempty"`
}

type SearchResponse struct {
	Index     string `json:"index"`
	Condition string `json:"condition"`
	Total     int64  `json:"total"`
	Relation  string `json:"relation"`
	Hits      []Hit  `json:"hits"`
	TookMs    int64  `json:"took_ms"`
	LatencyMs int64  `json:"latency_ms"`
	CacheHit  bool   `json:"cache_hit"`
	TimedOut  bool   `json:"timed_out,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error    string `json:"error"`
	Kind     string `json:"kind"`
	Position *int   `json:"position,omitempty"`
}

// Search runs a condition search. POST takes a SearchRequest body; GET reads
// the same fields from query parameters.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	req, err := h.decodeSearch(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx, span := h.opts.Tracer.Start(ctx, "search", middleware.GetRequestID(ctx))
	defer h.opts.Tracer.Finish(span)

	event := analytics.SearchEvent{
		Type:      analytics.EventSearch,
		Filter:    req.Filter,
		Match:     req.Match,
		RequestID: middleware.GetRequestID(ctx),
	}
	res, total, p, err := h.runSearch(ctx, req)
	event.Index, event.Condition, event.CacheHit = p.index, p.condition, p.cacheHit
	event.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		event.ErrorKind = apperrors.Code(err)
		h.track(event)
		h.observeSearch("error", p.cacheHit, start, -1)
		span.SetAttr("error", event.ErrorKind)
		log.Warn("search failed", "index", p.index, "condition", p.condition, "kind", event.ErrorKind, "error", err)
		h.writeError(w, r, err)
		return
	}

	out := SearchResponse{
		Index:     p.index,
		Condition: p.condition,
		Total:     total,
		Relation:  res.Hits.Total.Relation,
		Hits:      make([]Hit, 0, len(res.Hits.Hits)),
		TookMs:    res.Took,
		LatencyMs: time.Since(start).Milliseconds(),
		CacheHit:  p.cacheHit,
		TimedOut:  res.TimedOut,
	}
	if out.Relation == "" {
		out.Relation = "eq"
	}
	for _, hit := range res.Hits.Hits {
		out.Hits = append(out.Hits, Hit{
			ID:        hit.ID,
			Index:     hit.Index,
			Score:     hit.Score,
			Source:    hit.Source,
			Highlight: hit.Highlight,
		})
	}

	resultType := "hits"
	if total == 0 {
		resultType = "zero"
	}
	h.observeSearch(resultType, p.cacheHit, start, len(out.Hits))
	event.TotalHits, event.Returned, event.TookMs = total, len(out.Hits), res.Took
	h.track(event)
	span.SetAttr("total", total)

	log.Info("search completed",
		"index", p.index,
		"condition", p.condition,
		"total_hits", total,
		"returned", len(out.Hits),
		"cache_hit", p.cacheHit,
		"latency_ms", out.LatencyMs,
	)
	h.writeJSON(w, http.StatusOK, out)
}

// Count returns the number of documents matching a SearchRequest.
func (h *Handler) Count(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := h.decodeSearch(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx, span := h.opts.Tracer.Start(ctx, "count", middleware.GetRequestID(ctx))
	defer h.opts.Tracer.Finish(span)

	f, p, err := h.prepare(ctx, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	n, err := f.Count(ctx)
	h.observeBackend("count", err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"index":     p.index,
		"condition": p.condition,
		"count":     n,
		"cache_hit": p.cacheHit,
	})
}

type compileRequest struct {
	Condition string `json:"condition"`
}

// Compile returns the query document for a condition without running it.
func (h *Handler) Compile(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	var req compileRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.checkConditionSize(req.Condition); err != nil {
		h.writeError(w, r, err)
		return
	}

	event := analytics.SearchEvent{
		Type:      analytics.EventCompile,
		Condition: req.Condition,
		RequestID: middleware.GetRequestID(ctx),
	}
	buckets, hit, err := h.opts.Compiler.Compile(ctx, req.Condition)
	event.CacheHit = hit
	event.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		event.ErrorKind = apperrors.Code(err)
		h.track(event)
		h.writeError(w, r, err)
		return
	}
	q := query.New()
	if err := q.AppendAll(buckets.Params()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.track(event)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"condition": req.Condition,
		"query":     q.Build(),
		"cache_hit": hit,
	})
}

// params records what a search resolved to, for events and logs.
type params struct {
	index     string
	condition string
	cacheHit  bool
}

func (h *Handler) runSearch(ctx context.Context, req *SearchRequest) (*response.Search, int64, params, error) {
	f, p, err := h.prepare(ctx, req)
	if err != nil {
		return nil, 0, p, err
	}

	ctx, span := tracing.StartChildSpan(ctx, "execute")
	defer span.End()
	if req.ExactTotal {
		res, total, err := f.AllWithCount(ctx)
		h.observeBackend("search", err)
		return res, total, p, err
	}
	res, err := f.All(ctx)
	h.observeBackend("search", err)
	if err != nil {
		return nil, 0, p, err
	}
	return res, res.Total(), p, nil
}

// prepare resolves the saved filter, compiles the condition and builds a
// finder carrying every request option.
func (h *Handler) prepare(ctx context.Context, req *SearchRequest) (*finder.Finder, params, error) {
	p := params{index: req.Index, condition: req.Condition}
	if req.Filter != "" {
		saved, err := h.savedFilter(ctx, req.Filter)
		if err != nil {
			return nil, p, err
		}
		if p.index == "" {
			p.index = saved.Index
		}
		p.condition = filters.Combine(saved.Condition, req.Condition)
	}
	if p.index == "" {
		p.index = h.opts.DefaultIndex
	}
	if err := h.checkConditionSize(p.condition); err != nil {
		return nil, p, err
	}

	_, span := tracing.StartChildSpan(ctx, "compile")
	buckets, hit, err := h.opts.Compiler.Compile(ctx, p.condition)
	span.SetAttr("cache_hit", hit)
	span.End()
	p.cacheHit = hit
	if err != nil {
		return nil, p, err
	}

	f := finder.New(h.opts.Sink, p.index, h.opts.Defaults).WhereBuckets(buckets)
	if req.Match != "" {
		f.Match(req.Match, req.Fields...)
	}
	switch {
	case req.NoSource:
		f.SelectNone()
	case len(req.Select) > 0:
		f.Select(req.Select...)
	}
	if req.Limit != nil {
		limit := *req.Limit
		if h.opts.MaxResults > 0 && limit > h.opts.MaxResults {
			limit = h.opts.MaxResults
		}
		f.Limit(limit)
	}
	if req.Offset != nil {
		f.Offset(*req.Offset)
	}
	if req.Sort != "" {
		f.Sort(req.Sort)
	}
	if req.Query != nil {
		f.Query(req.Query)
	}
	return f, p, f.Err()
}

func (h *Handler) savedFilter(ctx context.Context, name string) (*filters.Filter, error) {
	if h.opts.Filters == nil {
		return nil, errFiltersDisabled
	}
	return h.opts.Filters.Get(ctx, name)
}

var errFiltersDisabled = apperrors.New(apperrors.ErrInternal, http.StatusServiceUnavailable, "saved filters are disabled")

func (h *Handler) checkConditionSize(condition string) error {
	if limit := h.opts.MaxConditionBytes; limit > 0 && len(condition) > limit {
		return fmt.Errorf("%w: condition is %d bytes, limit is %d", apperrors.ErrInvalidInput, len(condition), limit)
	}
	return nil
}

func (h *Handler) decodeSearch(w http.ResponseWriter, r *http.Request) (*SearchRequest, error) {
	var req SearchRequest
	if r.Method != http.MethodGet {
		if err := decodeBody(w, r, &req); err != nil {
			return nil, err
		}
		return &req, nil
	}

	q := r.URL.Query()
	req.Index = q.Get("index")
	req.Condition = q.Get("condition")
	req.Filter = q.Get("filter")
	req.Match = q.Get("match")
	req.Sort = q.Get("sort")
	req.Fields = splitList(q.Get("fields"))
	req.Select = splitList(q.Get("select"))
	req.ExactTotal = q.Get("exact_total") == "true"
	for name, dst := range map[string]**int{"limit": &req.Limit, "offset": &req.Offset} {
		s := q.Get(name)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be an integer", apperrors.ErrInvalidInput, name)
		}
		*dst = &n
	}
	return &req, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: decoding request body: %w", apperrors.ErrInvalidInput, err)
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetDocument returns one document; ?select=a,b limits the source.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	f := finder.New(h.opts.Sink, r.PathValue("index"), h.opts.Defaults)
	if fields := splitList(r.URL.Query().Get("select")); len(fields) > 0 {
		f.Select(fields...)
	}
	doc, err := f.Get(r.Context(), r.PathValue("id"))
	h.observeBackend("get", err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !doc.Found {
		h.writeError(w, r, fmt.Errorf("%w: %s", apperrors.ErrDocumentNotFound, r.PathValue("id")))
		return
	}
	h.writeJSON(w, http.StatusOK, Hit{ID: doc.ID, Index: doc.Index, Source: doc.Source})
}

// DocumentExists answers HEAD with 200 or 404 and no body.
func (h *Handler) DocumentExists(w http.ResponseWriter, r *http.Request) {
	ok, err := finder.New(h.opts.Sink, r.PathValue("index"), h.opts.Defaults).Exists(r.Context(), r.PathValue("id"))
	h.observeBackend("exists", err)
	switch {
	case err != nil:
		w.WriteHeader(apperrors.HTTPStatusCode(err))
	case ok:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) ListFilters(w http.ResponseWriter, r *http.Request) {
	if h.opts.Filters == nil {
		h.writeError(w, r, errFiltersDisabled)
		return
	}
	list, err := h.opts.Filters.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) CreateFilter(w http.ResponseWriter, r *http.Request) {
	if h.opts.Filters == nil {
		h.writeError(w, r, errFiltersDisabled)
		return
	}
	var f filters.Filter
	if err := decodeBody(w, r, &f); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.checkConditionSize(f.Condition); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.opts.Filters.Create(r.Context(), &f); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, f)
}

func (h *Handler) GetFilter(w http.ResponseWriter, r *http.Request) {
	f, err := h.savedFilter(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, f)
}

func (h *Handler) DeleteFilter(w http.ResponseWriter, r *http.Request) {
	if h.opts.Filters == nil {
		h.writeError(w, r, errFiltersDisabled)
		return
	}
	if err := h.opts.Filters.Delete(r.Context(), r.PathValue("name")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	hits, misses := h.opts.Compiler.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.opts.Compiler.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) track(event analytics.SearchEvent) {
	if h.opts.Events != nil {
		h.opts.Events.Track(event)
	}
}

func (h *Handler) observeSearch(resultType string, cacheHit bool, start time.Time, returned int) {
	m := h.opts.Metrics
	if m == nil {
		return
	}
	status := "miss"
	if cacheHit {
		status = "hit"
	}
	m.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	m.SearchLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
	if returned >= 0 {
		m.SearchResultsCount.Observe(float64(returned))
	}
}

func (h *Handler) observeBackend(operation string, err error) {
	if h.opts.Metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = apperrors.Code(err)
	}
	h.opts.Metrics.BackendRequestsTotal.WithLabelValues(operation, outcome).Inc()
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError maps err to a status and an ErrorResponse. Server-side failures
// are logged and answered with the bare status text.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		status = http.StatusRequestEntityTooLarge
	}
	body := ErrorResponse{Error: err.Error(), Kind: apperrors.Code(err)}
	if pos, ok := apperrors.Position(err); ok {
		body.Position = &pos
	}
	var appErr *apperrors.AppError
	if status >= http.StatusInternalServerError && !errors.As(err, &appErr) {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		body.Error = strings.ToLower(http.StatusText(status))
	}
	h.writeJSON(w, status, body)
}
