package builder

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/condition-search/pkg/errors"
)

func render(t *testing.T, doc map[string]any) string {
	t.Helper()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

func TestDocument(t *testing.T) {
	tests := []struct {
		condition string
		want      string
	}{
		{"", `{"match_all":{}}`},
		{"   ", `{"match_all":{}}`},
		{"a = 1 and b = 2", `{"bool":{"must":[{"term":{"a":1}},{"term":{"b":2}}]}}`},
		{"a != 1 and b = 2", `{"bool":{"must":[{"term":{"b":2}}],"must_not":[{"term":{"a":1}}]}}`},
		{"a = 1 or b = 2", `{"bool":{"minimum_should_match":1,"should":[{"term":{"a":1}},{"term":{"b":2}}]}}`},
		{"(a=1 or b=2) and c=3",
			`{"bool":{"must":[{"bool":{"should":[{"term":{"a":1}},{"term":{"b":2}}],"minimum_should_match":1}},{"term":{"c":3}}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.condition, func(t *testing.T) {
			doc, err := Document(tt.condition)
			if err != nil {
				t.Fatalf("Document(%q) error: %v", tt.condition, err)
			}
			if got := render(t, doc); got != tt.want {
				t.Errorf("Document(%q) =\n%s\nwant\n%s", tt.condition, got, tt.want)
			}
		})
	}
}

func TestBuildCombinesWithLeaf(t *testing.T) {
	q := query.New()
	if err := q.SetParam("match", map[string]any{"title": "go"}); err != nil {
		t.Fatal(err)
	}
	if err := Build(q, "year >= 2020"); err != nil {
		t.Fatalf("Build error: %v", err)
	}
	want := `{"bool":{"must":[{"match":{"title":"go"}},{"range":{"year":{"gte":2020}}}]}}`
	if got := render(t, q.Build()); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestBuildLeavesQueryUntouchedOnError(t *testing.T) {
	q := query.New()
	for _, condition := range []string{
		"a = 1 and",
		"a = 1 or b != 2",
		"a = 1 b = 2",
		"a in 1",
	} {
		err := Build(q, condition)
		if err == nil {
			t.Errorf("Build(%q) succeeded", condition)
			continue
		}
		if !errors.Is(err, apperrors.ErrInvalidInput) {
			t.Errorf("Build(%q) error %v does not wrap ErrInvalidInput", condition, err)
		}
	}
	if !q.Empty() {
		t.Errorf("query modified by failed builds: %s", render(t, q.Build()))
	}
}

func TestBuildRejectsExclusiveQuery(t *testing.T) {
	q := query.New()
	if err := q.SetParam(query.MatchAllQuery, map[string]any{}); err != nil {
		t.Fatal(err)
	}
	if err := Build(q, "a = 1"); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Errorf("error = %v, want ErrInvalidState", err)
	}
	if err := Build(q, ""); err != nil {
		t.Errorf("blank condition on exclusive query: %v", err)
	}
}
