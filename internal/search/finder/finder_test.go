package finder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/condition/builder"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/search/memory"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/search/response"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/search/sink"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/condition-search/pkg/errors"
)

// recorder captures the last request of each kind.
type recorder struct {
	mu     sync.Mutex
	search sink.Request
	count  sink.Request
	source any
}

func (r *recorder) Search(_ context.Context, _ string, req sink.Request) (*response.Search, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.search = req
	return &response.Search{}, nil
}

func (r *recorder) Count(_ context.Context, _ string, req sink.Request) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count = req
	return 3, nil
}

func (r *recorder) Get(_ context.Context, index, id string, source any) (*response.Document, error) {
	r.source = source
	return &response.Document{Index: index, ID: id, Found: true}, nil
}

func (r *recorder) Exists(context.Context, string, string) (bool, error) {
	return true, nil
}

func jsonOf(t *testing.T, v any) string {
	t.Helper()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		t.Fatal(err)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func TestAllBuildsQuery(t *testing.T) {
	rec := &recorder{}
	f := New(rec, "articles", config.DefaultsConfig{})
	_, err := f.Where("status = 'published'").Match("go", "title").Limit(5).Offset(10).Sort("views:desc").Select("title").All(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := `{"query":{"bool":{"must":[{"match":{"title":"go"}},{"term":{"status":"published"}}]}}}`
	if got := jsonOf(t, rec.search.Body); got != want {
		t.Errorf("body = %s\nwant   %s", got, want)
	}
	if *rec.search.Size != 5 || *rec.search.From != 10 || rec.search.Sort != "views:desc" {
		t.Errorf("paging = %d/%d/%s", *rec.search.Size, *rec.search.From, rec.search.Sort)
	}
	if jsonOf(t, rec.search.Source) != `["title"]` {
		t.Errorf("source = %v", rec.search.Source)
	}
}

func TestWhereChainsConjoin(t *testing.T) {
	body, err := New(&recorder{}, "articles", config.DefaultsConfig{}).
		Where("a = 1 or b = 2").
		Where("c = 3 or d = 4").
		Body()
	if err != nil {
		t.Fatal(err)
	}
	want := `{"query":{"bool":{"minimum_should_match":1,` +
		`"must":[{"bool":{"should":[{"term":{"c":3}},{"term":{"d":4}}],"minimum_should_match":1}}],` +
		`"should":[{"term":{"a":1}},{"term":{"b":2}}]}}}`
	if got := jsonOf(t, body); got != want {
		t.Errorf("body = %s\nwant   %s", got, want)
	}

	idx := memory.New()
	for id, doc := range map[string]map[string]any{
		"1": {"a": 1, "c": 3},
		"2": {"a": 1},
		"3": {"d": 4},
		"4": {"b": 2, "d": 4},
	} {
		if err := idx.Put("docs", id, doc); err != nil {
			t.Fatal(err)
		}
	}
	n, err := New(idx, "docs", config.DefaultsConfig{}).
		Where("a = 1 or b = 2").
		Where("c = 3 or d = 4").
		Count(context.Background())
	if err != nil || n != 2 {
		t.Errorf("Count = %d, %v; want 2", n, err)
	}

	n, err = New(idx, "docs", config.DefaultsConfig{}).Where("").Where("d = 4").Count(context.Background())
	if err != nil || n != 2 {
		t.Errorf("blank then d = 4: Count = %d, %v; want 2", n, err)
	}
}

func TestMatchShapes(t *testing.T) {
	tests := []struct {
		name   string
		fields []string
		want   string
	}{
		{"all fields", nil, `{"match":{"_all":"q"}}`},
		{"one field", []string{"title"}, `{"match":{"title":"q"}}`},
		{"many fields", []string{"title", "body^2"}, `{"multi_match":{"fields":["title","body^2"],"query":"q"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := New(&recorder{}, "i", config.DefaultsConfig{}).Match("q", tt.fields...).Body()
			if err != nil {
				t.Fatal(err)
			}
			if got := jsonOf(t, body["query"]); got != tt.want {
				t.Errorf("query = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDefaultsApplied(t *testing.T) {
	defaults := config.DefaultsConfig{
		Limit: 25,
		Sort:  "date:desc",
		Highlight: &config.HighlightConfig{
			Enabled:  true,
			PreTags:  []string{"<b>"},
			PostTags: []string{"</b>"},
		},
	}
	rec := &recorder{}
	if _, err := New(rec, "i", defaults).All(context.Background()); err != nil {
		t.Fatal(err)
	}
	if *rec.search.Size != 25 || rec.search.Sort != "date:desc" {
		t.Errorf("defaults not applied: size=%v sort=%q", rec.search.Size, rec.search.Sort)
	}
	want := `{"fields":{"*":{"number_of_fragments":0}},"post_tags":["</b>"],"pre_tags":["<b>"]}`
	if got := jsonOf(t, rec.search.Body["highlight"]); got != want {
		t.Errorf("highlight = %s", got)
	}
	if got := jsonOf(t, rec.search.Body["query"]); got != `{"match_all":{}}` {
		t.Errorf("empty query = %s", got)
	}

	if _, err := New(rec, "i", defaults).Limit(0).Sort("id").All(context.Background()); err != nil {
		t.Fatal(err)
	}
	if *rec.search.Size != 0 || rec.search.Sort != "id" {
		t.Errorf("explicit values overridden: size=%d sort=%q", *rec.search.Size, rec.search.Sort)
	}
}

func TestCountDropsPaging(t *testing.T) {
	rec := &recorder{}
	n, err := New(rec, "i", config.DefaultsConfig{Limit: 10, Sort: "x"}).Where("a = 1").Limit(3).Count(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("Count = %d, %v", n, err)
	}
	if rec.count.Size != nil || rec.count.Sort != "" || len(rec.count.Body) != 1 {
		t.Errorf("count request = %+v", rec.count)
	}
}

func TestRawQueryOverride(t *testing.T) {
	rec := &recorder{}
	f := New(rec, "i", config.DefaultsConfig{})
	raw := map[string]any{"term": map[string]any{"id": 7}}
	f.Where("a = 1").Query(raw).All(context.Background())
	if got := jsonOf(t, rec.search.Body["query"]); got != `{"term":{"id":7}}` {
		t.Errorf("query = %s", got)
	}

	// the override and the accumulated query are gone after execution
	f.All(context.Background())
	if got := jsonOf(t, rec.search.Body["query"]); got != `{"match_all":{}}` {
		t.Errorf("query after reset = %s", got)
	}
}

func TestStickyError(t *testing.T) {
	rec := &recorder{}
	f := New(rec, "i", config.DefaultsConfig{})
	f.Where("a = 1 b = 2").Limit(-1)
	_, err := f.All(context.Background())
	if !errors.Is(err, apperrors.ErrInvalidInput) || !errors.Is(err, apperrors.ErrMissingConjunction) {
		t.Errorf("error = %v, want the first (missing conjunction) error", err)
	}
	if f.Err() != nil {
		t.Errorf("error survived execution: %v", f.Err())
	}
	if _, err := f.All(context.Background()); err != nil {
		t.Errorf("finder unusable after failed execution: %v", err)
	}
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	cases := map[string]func() error{
		"no index": func() error { _, err := New(rec, "", config.DefaultsConfig{}).All(ctx); return err },
		"negative offset": func() error {
			_, err := New(rec, "i", config.DefaultsConfig{}).Offset(-2).All(ctx)
			return err
		},
		"sort with spaces": func() error {
			_, err := New(rec, "i", config.DefaultsConfig{}).Sort("a b").All(ctx)
			return err
		},
		"empty select": func() error {
			_, err := New(rec, "i", config.DefaultsConfig{}).Select("").All(ctx)
			return err
		},
		"empty raw": func() error {
			_, err := New(rec, "i", config.DefaultsConfig{}).Query(nil).All(ctx)
			return err
		},
		"missing id": func() error { _, err := New(rec, "i", config.DefaultsConfig{}).Get(ctx, ""); return err },
		"match after match_all": func() error {
			raw := New(rec, "i", config.DefaultsConfig{})
			raw.query.SetParam("match_all", map[string]any{})
			_, err := raw.Match("x").All(ctx)
			return err
		},
	}
	for name, run := range cases {
		t.Run(name, func(t *testing.T) {
			if err := run(); !errors.Is(err, apperrors.ErrInvalidInput) {
				t.Errorf("error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestGetHonorsSelect(t *testing.T) {
	rec := &recorder{}
	f := New(rec, "i", config.DefaultsConfig{})
	if _, err := f.SelectNone().Get(context.Background(), "1"); err != nil {
		t.Fatal(err)
	}
	if rec.source != false {
		t.Errorf("source = %v, want false", rec.source)
	}
	ok, err := f.Exists(context.Background(), "1")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v", ok, err)
	}
}

func TestAgainstMemoryIndex(t *testing.T) {
	idx := memory.New()
	for id, doc := range map[string]map[string]any{
		"1": {"title": "go generics", "year": 2022, "lang": "go"},
		"2": {"title": "rust traits", "year": 2021, "lang": "rust"},
		"3": {"title": "go channels", "year": 2015, "lang": "go"},
	} {
		if err := idx.Put("books", id, doc); err != nil {
			t.Fatal(err)
		}
	}
	buckets, err := builder.Compile("lang = 'go' or year > 2020")
	if err != nil {
		t.Fatal(err)
	}
	res, total, err := New(idx, "books", config.DefaultsConfig{Limit: 2, Sort: "year"}).
		WhereBuckets(buckets).
		AllWithCount(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(res.Hits.Hits) != 2 {
		t.Fatalf("total=%d hits=%d", total, len(res.Hits.Hits))
	}
	if res.Hits.Hits[0].ID != "3" || res.Hits.Hits[1].ID != "2" {
		t.Errorf("order = %s,%s", res.Hits.Hits[0].ID, res.Hits.Hits[1].ID)
	}

	n, err := New(idx, "books", config.DefaultsConfig{}).Match("channels", "title").Where("year < 2020").Count(context.Background())
	if err != nil || n != 1 {
		t.Errorf("Count = %d, %v", n, err)
	}
}
