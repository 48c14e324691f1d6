// Package tracing keeps a per-request span tree in the context. The search
// handler opens a root span per request and child spans for compile and
// execute; a finished tree is written as one structured log record with the
// children nested as groups.
package tracing

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/config"
)

type spanKey struct{}

// Span is one timed step. Children and Attrs are guarded by mu.
type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Children  []*Span
	Attrs     map[string]any
	mu        sync.Mutex
}

// Tracer decides which finished traces get logged.
type Tracer struct {
	enabled    bool
	sampleRate float64
	slow       time.Duration
	logger     *slog.Logger
}

func NewTracer(cfg config.TracingConfig) *Tracer {
	return &Tracer{
		enabled:    cfg.Enabled,
		sampleRate: cfg.SampleRate,
		slow:       cfg.SlowThreshold,
		logger:     slog.Default().With("component", "tracing"),
	}
}

// Start opens a root span; pair it with Finish.
func (t *Tracer) Start(ctx context.Context, name, traceID string) (context.Context, *Span) {
	return StartSpan(ctx, name, traceID)
}

// Finish ends span and logs the tree if it is sampled or slower than the
// slow threshold. A nil or disabled tracer only ends the span.
func (t *Tracer) Finish(span *Span) {
	span.End()
	if t == nil || !t.enabled || span == nil {
		return
	}
	slow := t.slow > 0 && span.Duration >= t.slow
	if !slow && t.sampleRate < 1 && rand.Float64() >= t.sampleRate {
		return
	}
	level := slog.LevelInfo
	if slow {
		level = slog.LevelWarn
	}
	t.logger.Log(context.Background(), level, "trace",
		"trace_id", span.TraceID,
		"slow", slow,
		span.group(),
	)
}

func newSpan(name, traceID string) *Span {
	return &Span{
		Name:      name,
		TraceID:   traceID,
		StartTime: time.Now(),
		Attrs:     make(map[string]any),
	}
}

// StartSpan stores a new root span in the returned context.
func StartSpan(ctx context.Context, name string, traceID string) (context.Context, *Span) {
	span := newSpan(name, traceID)
	return context.WithValue(ctx, spanKey{}, span), span
}

// StartChildSpan attaches a span under the one in ctx. Without a parent the
// span is detached and never logged.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := SpanFromContext(ctx)
	var traceID string
	if parent != nil {
		traceID = parent.TraceID
	}
	child := newSpan(name, traceID)
	if parent != nil {
		parent.mu.Lock()
		parent.Children = append(parent.Children, child)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, spanKey{}, child), child
}

// End records the end time once; later calls are no-ops.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EndTime.IsZero() {
		s.EndTime = time.Now()
		s.Duration = s.EndTime.Sub(s.StartTime)
	}
}

func (s *Span) SetAttr(key string, value any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.Attrs[key] = value
	s.mu.Unlock()
}

// SpanFromContext returns the innermost span in ctx, or nil.
func SpanFromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(spanKey{}).(*Span)
	return span
}

// group renders the span and its children as nested slog groups. Repeated
// child names get a numeric suffix.
func (s *Span) group() slog.Attr {
	s.mu.Lock()
	args := make([]any, 0, 2+2*len(s.Attrs)+len(s.Children))
	args = append(args, "duration_ms", float64(s.Duration.Microseconds())/1000)
	for k, v := range s.Attrs {
		args = append(args, k, v)
	}
	children := append([]*Span(nil), s.Children...)
	s.mu.Unlock()

	seen := make(map[string]int, len(children))
	for _, child := range children {
		g := child.group()
		if n := seen[child.Name]; n > 0 {
			g.Key += "_" + strconv.Itoa(n+1)
		}
		seen[child.Name]++
		args = append(args, g)
	}
	return slog.Group(s.Name, args...)
}
