// Package response decodes search backend responses.
package response

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
)

// Total is the hit count. Older clusters report a bare number, newer ones
// an object with a relation ("eq" or "gte").
type Total struct {
	Value    int64  `json:"value"`
	Relation string `json:"relation"`
}

func (t *Total) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '{' {
		if string(data) == "null" {
			return nil
		}
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("decoding hits.total: %w", err)
		}
		t.Value, t.Relation = n, "eq"
		return nil
	}
	type plain Total
	return json.Unmarshal(data, (*plain)(t))
}

// Shards summarises how many shards answered.
type Shards struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

type Hit struct {
	Index     string              `json:"_index"`
	ID        string              `json:"_id"`
	Score     *float64            `json:"_score"`
	Source    json.RawMessage     `json:"_source,omitempty"`
	Highlight map[string][]string `json:"highlight,omitempty"`
	Sort      []any               `json:"sort,omitempty"`
}

type Hits struct {
	Total    Total    `json:"total"`
	MaxScore *float64 `json:"max_score"`
	Hits     []Hit    `json:"hits"`
}

// Search is the decoded body of a _search call.
type Search struct {
	Took         int64                      `json:"took"`
	TimedOut     bool                       `json:"timed_out"`
	Shards       Shards                     `json:"_shards"`
	Hits         Hits                       `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations,omitempty"`
}

// Decode parses a _search response body.
func Decode(data []byte) (*Search, error) {
	var s Search
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	if s.Hits.Hits == nil {
		s.Hits.Hits = []Hit{}
	}
	return &s, nil
}

// IsSuccessful reports whether no shard failed.
func (s *Search) IsSuccessful() bool {
	return s.Shards.Failed == 0
}

// Total returns the hit count.
func (s *Search) Total() int64 {
	return s.Hits.Total.Value
}

// Sources iterates over hit IDs and their raw sources, in rank order.
func (s *Search) Sources() iter.Seq2[string, json.RawMessage] {
	return func(yield func(string, json.RawMessage) bool) {
		for _, hit := range s.Hits.Hits {
			if !yield(hit.ID, hit.Source) {
				return
			}
		}
	}
}

// DecodeSources unmarshals every hit source into T.
func DecodeSources[T any](s *Search) ([]T, error) {
	out := make([]T, 0, len(s.Hits.Hits))
	for id, source := range s.Sources() {
		var v T
		if err := json.Unmarshal(source, &v); err != nil {
			return nil, fmt.Errorf("decoding source of hit %s: %w", id, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Count is the decoded body of a _count call.
type Count struct {
	Count  int64  `json:"count"`
	Shards Shards `json:"_shards"`
}

// Document is the decoded body of a get call.
type Document struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Found  bool            `json:"found"`
	Source json.RawMessage `json:"_source,omitempty"`
}
