// Package analytics collects search and compile events, ships them to Kafka
// in batches and aggregates them into usage statistics: popular conditions,
// failing condition kinds, zero-result conditions and latency percentiles.
package analytics

import "time"

type EventType string

const (
	EventSearch  EventType = "search"
	EventCompile EventType = "compile"
)

// SearchEvent describes one search or compile request. ErrorKind is empty
// on success and otherwise names the error kind, e.g. "mixed conjunction".
type SearchEvent struct {
	Type      EventType `json:"type"`
	Index     string    `json:"index,omitempty"`
	Condition string    `json:"condition"`
	Filter    string    `json:"filter,omitempty"`
	Match     string    `json:"match,omitempty"`
	TotalHits int64     `json:"total_hits"`
	Returned  int       `json:"returned"`
	TookMs    int64     `json:"took_ms"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// Failed reports whether the request ended in an error.
func (e SearchEvent) Failed() bool {
	return e.ErrorKind != ""
}
