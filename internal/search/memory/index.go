// Package memory is an in-process search backend. It stores JSON documents
// per index and evaluates the query documents produced by the condition
// compiler (bool, term, terms, range, match, multi_match, match_all,
// exists). It backs tests and single-node deployments without a cluster.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/search/response"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/search/sink"
	apperrors "github.com/Adithya-Monish-Kumar-K/condition-search/pkg/errors"
)

const defaultSize = 10

type document struct {
	id     string
	seq    int
	source map[string]any
}

// Index holds documents for any number of named indices.
type Index struct {
	mu      sync.RWMutex
	indices map[string]map[string]*document
	seq     int
	logger  *slog.Logger
}

var _ sink.Sink = (*Index)(nil)

// New returns an empty Index.
func New() *Index {
	return &Index{
		indices: make(map[string]map[string]*document),
		logger:  slog.Default().With("component", "memory-index"),
	}
}

// Put stores source under id, replacing any previous version. source must
// encode to a JSON object.
func (m *Index) Put(index, id string, source any) error {
	if index == "" || id == "" {
		return fmt.Errorf("%w: index and id are required", apperrors.ErrInvalidInput)
	}
	normalized, err := normalize(source)
	if err != nil {
		return err
	}
	obj, ok := normalized.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: document %s is not a JSON object", apperrors.ErrInvalidInput, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	docs, exists := m.indices[index]
	if !exists {
		docs = make(map[string]*document)
		m.indices[index] = docs
	}
	seq := m.seq
	if prev, exists := docs[id]; exists {
		seq = prev.seq
	} else {
		m.seq++
	}
	docs[id] = &document{id: id, seq: seq, source: obj}
	return nil
}

// Delete removes a document and reports whether it existed.
func (m *Index) Delete(index, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.indices[index][id]; !exists {
		return false
	}
	delete(m.indices[index], id)
	return true
}

// DocCount returns the number of documents in index.
func (m *Index) DocCount(index string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.indices[index])
}

type scored struct {
	doc   *document
	score float64
}

func (m *Index) Search(ctx context.Context, index string, req sink.Request) (*response.Search, error) {
	start := time.Now()
	matches, err := m.match(ctx, index, req.Query())
	if err != nil {
		return nil, err
	}
	if err := sortMatches(matches, req.Sort); err != nil {
		return nil, err
	}

	total := len(matches)
	from, size := 0, defaultSize
	if req.From != nil {
		from = *req.From
	}
	if req.Size != nil {
		size = *req.Size
	}
	if from > len(matches) {
		from = len(matches)
	}
	end := min(from+size, len(matches))
	page := matches[from:end]

	res := &response.Search{
		Shards: response.Shards{Total: 1, Successful: 1},
		Hits: response.Hits{
			Total: response.Total{Value: int64(total), Relation: "eq"},
			Hits:  make([]response.Hit, 0, len(page)),
		},
	}
	var maxScore float64
	for _, match := range matches {
		maxScore = max(maxScore, match.score)
	}
	if total > 0 {
		res.Hits.MaxScore = &maxScore
	}
	for _, match := range page {
		source, err := project(match.doc.source, req.Source)
		if err != nil {
			return nil, err
		}
		score := match.score
		res.Hits.Hits = append(res.Hits.Hits, response.Hit{
			Index:  index,
			ID:     match.doc.id,
			Score:  &score,
			Source: source,
		})
	}
	res.Took = time.Since(start).Milliseconds()
	return res, nil
}

func (m *Index) Count(ctx context.Context, index string, req sink.Request) (int64, error) {
	matches, err := m.match(ctx, index, req.Query())
	if err != nil {
		return 0, err
	}
	return int64(len(matches)), nil
}

func (m *Index) Get(_ context.Context, index, id string, source any) (*response.Document, error) {
	m.mu.RLock()
	doc, exists := m.indices[index][id]
	m.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s/%s", apperrors.ErrDocumentNotFound, index, id)
	}
	raw, err := project(doc.source, source)
	if err != nil {
		return nil, err
	}
	return &response.Document{Index: index, ID: id, Found: true, Source: raw}, nil
}

func (m *Index) Exists(_ context.Context, index, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.indices[index][id]
	return exists, nil
}

func (m *Index) match(ctx context.Context, index string, q any) ([]scored, error) {
	var clause any = map[string]any{"match_all": map[string]any{}}
	if q != nil {
		normalized, err := normalize(q)
		if err != nil {
			return nil, err
		}
		clause = normalized
	}

	m.mu.RLock()
	docs := make([]*document, 0, len(m.indices[index]))
	for _, doc := range m.indices[index] {
		docs = append(docs, doc)
	}
	m.mu.RUnlock()

	matches := make([]scored, 0)
	for i, doc := range docs {
		if i%1024 == 0 && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrTimeout, ctx.Err())
		}
		ok, score, err := evaluate(clause, doc.source)
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, scored{doc: doc, score: score})
		}
	}
	return matches, nil
}

// sortMatches orders by the comma-separated "field[:asc|desc]" list in sortBy,
// then by score and insertion order. An empty sortBy sorts by score.
func sortMatches(matches []scored, sortBy string) error {
	type key struct {
		field string
		desc  bool
	}
	var keys []key
	for _, part := range strings.Split(sortBy, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		field, order, _ := strings.Cut(part, ":")
		switch order {
		case "", "asc":
			keys = append(keys, key{field: field, desc: field == "_score"})
		case "desc":
			keys = append(keys, key{field: field, desc: true})
		default:
			return fmt.Errorf("%w: invalid sort order %q", apperrors.ErrInvalidInput, order)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		for _, k := range keys {
			var c int
			if k.field == "_score" {
				c = compareFloat(a.score, b.score)
			} else {
				c = compareSortValues(first(lookup(a.doc.source, k.field)), first(lookup(b.doc.source, k.field)))
			}
			if c == 0 {
				continue
			}
			if k.desc {
				return c > 0
			}
			return c < 0
		}
		if a.score != b.score {
			return a.score > b.score
		}
		return a.doc.seq < b.doc.seq
	})
	return nil
}

// project applies _source filtering: nil or true keeps everything, false
// drops the source and a list keeps the named fields.
func project(source map[string]any, selector any) (json.RawMessage, error) {
	var fields []string
	switch s := selector.(type) {
	case nil:
	case bool:
		if !s {
			return nil, nil
		}
	case []string:
		fields = s
	case string:
		if s != "" {
			fields = strings.Split(s, ",")
		}
	default:
		return nil, fmt.Errorf("%w: unsupported _source selector %T", apperrors.ErrInvalidInput, selector)
	}
	out := source
	if len(fields) > 0 {
		out = make(map[string]any, len(fields))
		for _, field := range fields {
			field = strings.TrimSpace(field)
			if v, ok := source[field]; ok {
				out[field] = v
				continue
			}
			if values := lookup(source, field); len(values) > 0 {
				out[field] = values[0]
			}
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encoding source: %w", err)
	}
	return data, nil
}

// normalize turns any JSON-encodable value into plain maps, slices and
// json.Number so the evaluator sees exactly what a cluster would receive.
func normalize(v any) (any, error) {
	var data []byte
	switch raw := v.(type) {
	case json.RawMessage:
		data = raw
	case []byte:
		data = raw
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding query: %w", apperrors.ErrInvalidInput, err)
		}
		data = encoded
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding document: %w", apperrors.ErrInvalidInput, err)
	}
	return out, nil
}
