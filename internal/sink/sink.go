package sink

import (
	"context"
	"fmt"
)

// Sink is the external collaborator spec.md §6.3 describes: it accepts
// the three batch shapes and reports success or failure synchronously.
// The core never depends on which outbound transport a concrete Sink
// uses (spec.md §1 "Deliberately out of scope").
type Sink interface {
	SendLogs(ctx context.Context, batch LogsBatch) error
	SendSpans(ctx context.Context, batch SpansBatch) error
	SendMetrics(ctx context.Context, batch MetricsBatch) error
}

// Multi fans every batch out to all of its member sinks, returning the
// first error encountered (and still attempting the remaining sinks, so
// one slow/broken backend does not silently swallow delivery to the
// others).
type Multi struct {
	Sinks []Sink
}

func (m Multi) SendLogs(ctx context.Context, batch LogsBatch) error {
	var firstErr error
	for _, s := range m.Sinks {
		if err := s.SendLogs(ctx, batch); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sink: send logs: %w", err)
		}
	}
	return firstErr
}

func (m Multi) SendSpans(ctx context.Context, batch SpansBatch) error {
	var firstErr error
	for _, s := range m.Sinks {
		if err := s.SendSpans(ctx, batch); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sink: send spans: %w", err)
		}
	}
	return firstErr
}

func (m Multi) SendMetrics(ctx context.Context, batch MetricsBatch) error {
	var firstErr error
	for _, s := range m.Sinks {
		if err := s.SendMetrics(ctx, batch); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sink: send metrics: %w", err)
		}
	}
	return firstErr
}
