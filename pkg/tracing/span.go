// Package tracing records a span tree per pipeline run: one root span for the
// run and one child per stage. Spans travel in the context and the finished
// tree is written to slog.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type spanKey struct{}

// Span is a timed operation within a run. Attributes keep insertion order.
type Span struct {
	Name    string
	TraceID string
	Start   time.Time

	mu       sync.Mutex
	duration time.Duration
	attrs    []slog.Attr
	children []*Span
}

// StartSpan creates a root span keyed by traceID (the run ID).
func StartSpan(ctx context.Context, name, traceID string) (context.Context, *Span) {
	s := &Span{Name: name, TraceID: traceID, Start: time.Now()}
	return context.WithValue(ctx, spanKey{}, s), s
}

// StartChildSpan creates a span under the one in ctx. Without a parent the
// child is a detached root with no trace ID.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	s := &Span{Name: name, Start: time.Now()}
	if parent := SpanFromContext(ctx); parent != nil {
		s.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.children = append(parent.children, s)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, spanKey{}, s), s
}

func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

func (s *Span) End() {
	s.mu.Lock()
	s.duration = time.Since(s.Start)
	s.mu.Unlock()
}

func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, slog.Any(key, value))
	s.mu.Unlock()
}

func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// Log writes the tree depth-first, one line per span.
func (s *Span) Log(logger *slog.Logger) {
	s.log(logger, 0)
}

func (s *Span) log(logger *slog.Logger, depth int) {
	s.mu.Lock()
	attrs := make([]slog.Attr, 0, 4+len(s.attrs))
	attrs = append(attrs,
		slog.String("trace_id", s.TraceID),
		slog.String("span", s.Name),
		slog.Int64("duration_ms", s.duration.Milliseconds()),
		slog.Int("depth", depth),
	)
	attrs = append(attrs, s.attrs...)
	s.mu.Unlock()

	logger.LogAttrs(context.Background(), slog.LevelInfo, "span", attrs...)
	for _, child := range s.Children() {
		child.log(logger, depth+1)
	}
}
