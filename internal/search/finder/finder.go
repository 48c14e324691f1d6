// Package finder assembles a search request step by step and executes it on
// a sink. A Finder is bound to one index and is not safe for concurrent use.
//
//	res, err := finder.New(s, "articles", defaults).
//		Where("status = 'published' and views > 100").
//		Match("go", "title").
//		Limit(20).
//		All(ctx)
//
// The first invalid call is remembered and returned by the executing call.
package finder

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/condition/builder"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/condition/compiler"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/search/response"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/search/sink"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/condition-search/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const allFields = "_all"

type Finder struct {
	index    string
	sink     sink.Sink
	defaults config.DefaultsConfig
	query    *query.Query
	logger   *slog.Logger

	source any
	size   *int
	from   *int
	sort   string
	raw    any
	err    error
}

func New(s sink.Sink, index string, defaults config.DefaultsConfig) *Finder {
	return &Finder{
		index:    index,
		sink:     s,
		defaults: defaults,
		query:    query.New(),
		logger:   slog.Default().With("component", "finder", "index", index),
	}
}

var errNoIndex = fmt.Errorf("%w: index name is required", apperrors.ErrInvalidInput)

// Err returns the first error recorded since the last execution.
func (f *Finder) Err() error {
	return f.err
}

func (f *Finder) fail(err error) *Finder {
	if f.err == nil {
		f.err = err
	}
	return f
}

// Select limits the returned source to fields. No fields returns the whole
// document.
func (f *Finder) Select(fields ...string) *Finder {
	for _, field := range fields {
		if strings.TrimSpace(field) == "" {
			return f.fail(fmt.Errorf("%w: select: empty field name", apperrors.ErrInvalidInput))
		}
	}
	if len(fields) == 0 {
		f.source = nil
		return f
	}
	f.source = fields
	return f
}

// SelectNone drops document sources from the results.
func (f *Finder) SelectNone() *Finder {
	f.source = false
	return f
}

func (f *Finder) Limit(n int) *Finder {
	if n < 0 {
		return f.fail(fmt.Errorf("%w: limit must not be negative, got %d", apperrors.ErrInvalidInput, n))
	}
	f.size = &n
	return f
}

func (f *Finder) Offset(n int) *Finder {
	if n < 0 {
		return f.fail(fmt.Errorf("%w: offset must not be negative, got %d", apperrors.ErrInvalidInput, n))
	}
	f.from = &n
	return f
}

// Sort sets the sort order as "field" or "field:asc|desc", comma separated.
func (f *Finder) Sort(field string) *Finder {
	if field == "" || strings.ContainsAny(field, " \t\n") {
		return f.fail(fmt.Errorf("%w: invalid sort %q", apperrors.ErrInvalidInput, field))
	}
	f.sort = field
	return f
}

// Match adds a full-text query. One field produces match, several produce
// multi_match and none searches every field.
func (f *Finder) Match(text string, fields ...string) *Finder {
	if f.err != nil {
		return f
	}
	var err error
	switch len(fields) {
	case 0:
		err = f.query.SetParam("match", map[string]any{allFields: text})
	case 1:
		err = f.query.SetParam("match", map[string]any{fields[0]: text})
	default:
		err = f.query.SetParam("multi_match", map[string]any{
			"query":  text,
			"fields": fields,
		})
	}
	if err != nil {
		return f.fail(err)
	}
	return f
}

// Where compiles condition and adds its clauses to the query. Successive
// calls are conjoined: once the query holds clauses, each further condition
// is nested as a single bool clause under must.
func (f *Finder) Where(condition string) *Finder {
	if f.err != nil {
		return f
	}
	b, err := builder.Compile(condition)
	if err != nil {
		return f.fail(err)
	}
	return f.WhereBuckets(b)
}

// WhereBuckets adds already compiled clauses, conjoined like Where.
func (f *Finder) WhereBuckets(b *compiler.Buckets) *Finder {
	if f.err != nil || b == nil || b.Empty() {
		return f
	}
	var err error
	if f.query.Empty() {
		err = f.query.AppendAll(b.Params())
	} else {
		err = f.query.AppendParam(query.Must, compiler.Clause{query.BoolQuery: b})
	}
	if err != nil {
		return f.fail(err)
	}
	return f
}

// Query replaces the built query with raw for the next execution.
func (f *Finder) Query(raw map[string]any) *Finder {
	if len(raw) == 0 {
		return f.fail(fmt.Errorf("%w: raw query is empty", apperrors.ErrInvalidInput))
	}
	f.raw = raw
	return f
}

// Body returns the search body the next All would send, defaults included.
func (f *Finder) Body() (map[string]any, error) {
	req, err := f.request()
	if err != nil {
		return nil, err
	}
	return req.Body, nil
}

// All runs the search.
func (f *Finder) All(ctx context.Context) (*response.Search, error) {
	req, err := f.request()
	f.reset()
	if err != nil {
		return nil, err
	}
	res, err := f.sink.Search(ctx, f.index, req)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("search executed", "total", res.Total(), "took_ms", res.Took)
	return res, nil
}

// Count counts matching documents. Paging and sorting are ignored.
func (f *Finder) Count(ctx context.Context) (int64, error) {
	req, err := f.request()
	f.reset()
	if err != nil {
		return 0, err
	}
	return f.sink.Count(ctx, f.index, countRequest(req))
}

// AllWithCount runs the search and an exact count concurrently.
func (f *Finder) AllWithCount(ctx context.Context) (*response.Search, int64, error) {
	req, err := f.request()
	f.reset()
	if err != nil {
		return nil, 0, err
	}

	var (
		res   *response.Search
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		res, err = f.sink.Search(gctx, f.index, req)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = f.sink.Count(gctx, f.index, countRequest(req))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return res, total, nil
}

// Get fetches one document by id, honoring Select.
func (f *Finder) Get(ctx context.Context, id string) (*response.Document, error) {
	err := f.checkID(id)
	f.reset()
	if err != nil {
		return nil, err
	}
	return f.sink.Get(ctx, f.index, id, f.source)
}

func (f *Finder) Exists(ctx context.Context, id string) (bool, error) {
	err := f.checkID(id)
	f.reset()
	if err != nil {
		return false, err
	}
	return f.sink.Exists(ctx, f.index, id)
}

func (f *Finder) checkID(id string) error {
	if f.err != nil {
		return f.err
	}
	if f.index == "" {
		return errNoIndex
	}
	if id == "" {
		return fmt.Errorf("%w: document id is required", apperrors.ErrInvalidInput)
	}
	return nil
}

func (f *Finder) request() (sink.Request, error) {
	if f.err != nil {
		return sink.Request{}, f.err
	}
	if f.index == "" {
		return sink.Request{}, errNoIndex
	}
	var q any = f.raw
	if q == nil {
		q = f.query.Build()
	}
	req := sink.Request{
		Source: f.source,
		Body:   map[string]any{"query": q},
		Size:   f.size,
		From:   f.from,
		Sort:   f.sort,
	}
	f.applyDefaults(&req)
	return req, nil
}

// applyDefaults fills sort, size and highlight the caller left unset.
func (f *Finder) applyDefaults(req *sink.Request) {
	d := f.defaults
	if req.Sort == "" && d.Sort != "" {
		req.Sort = d.Sort
	}
	if req.Size == nil && d.Limit > 0 {
		limit := d.Limit
		req.Size = &limit
	}
	h := d.Highlight
	if h == nil || !h.Enabled {
		return
	}
	highlight := map[string]any{}
	if len(h.Fields) > 0 {
		highlight["fields"] = maps.Clone(h.Fields)
	} else {
		highlight["fields"] = map[string]any{"*": map[string]any{"number_of_fragments": 0}}
	}
	if len(h.PreTags) > 0 {
		highlight["pre_tags"] = h.PreTags
	}
	if len(h.PostTags) > 0 {
		highlight["post_tags"] = h.PostTags
	}
	req.Body["highlight"] = highlight
}

// reset clears the query, the raw override and any recorded error. Paging,
// sorting and field selection stay.
func (f *Finder) reset() {
	f.query.Reset()
	f.raw = nil
	f.err = nil
}

func countRequest(req sink.Request) sink.Request {
	return sink.Request{Body: map[string]any{"query": req.Query()}}
}
