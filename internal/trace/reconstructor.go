// Package trace reassembles span lifecycles from the partial SpanEvent
// stream (spec.md §4.D): a span is emitted by the producer as a start
// event, zero or more name/attribute/link updates, and exactly one end
// event, and the reconstructor assembles the final span on the collector
// side.
package trace

import (
	"time"

	"github.com/ClusterCockpit/otlpshm/pkg/log"
	"github.com/ClusterCockpit/otlpshm/pkg/shmfile"
)

// spanKey is the 24-byte (trace-id, span-id) tuple spans are keyed by.
type spanKey struct {
	traceID [16]byte
	spanID  [8]byte
}

// partialSpan is the in-progress representation of a span between its
// start and end events (spec.md glossary "Partial span").
type partialSpan struct {
	scopeRef      int64
	name          string
	kind          int32
	startUnixNano uint64
	attributes    []shmfile.KeyValueRef
	lastSeen      time.Time
}

// CompletedSpan is the fully assembled result of one span's lifecycle,
// ready for export-side grouping and dictionary resolution.
type CompletedSpan struct {
	TraceID       [16]byte
	SpanID        [8]byte
	ScopeRef      int64
	Name          string
	Kind          int32
	StartUnixNano uint64
	EndUnixNano   uint64
	Attributes    []shmfile.KeyValueRef
	HasStatus     bool
	Status        shmfile.Status
}

// Reconstructor owns the single collector worker's in-flight span state
// (spec.md §4.D "State"). It is not safe for concurrent use; the export
// pipeline that drives it is the only caller (spec.md §5 "Shared-resource
// policy" — reconstructor state is owned by the single collector worker).
type Reconstructor struct {
	open       map[spanKey]*partialSpan
	orphans    uint64
	logicErrs  uint64
	now        func() time.Time
}

// NewReconstructor creates an empty reconstructor.
func NewReconstructor() *Reconstructor {
	return &Reconstructor{open: make(map[spanKey]*partialSpan), now: time.Now}
}

// Orphans returns the count of End/Name/Attributes/Link events observed for a
// key with no open partial span (spec.md §4.D, §8.3 property 10).
func (r *Reconstructor) Orphans() uint64 { return r.orphans }

// Apply feeds one SpanEvent into the state machine. It returns a non-nil
// CompletedSpan exactly when the event was an End that matched an open
// partial span.
func (r *Reconstructor) Apply(ev shmfile.SpanEvent) *CompletedSpan {
	key := spanKey{traceID: ev.TraceID, spanID: ev.SpanID}

	switch ev.Kind {
	case shmfile.SpanEventStart:
		// Restart: an existing entry for this key is overwritten rather
		// than merged (spec.md §4.D "Start").
		if _, exists := r.open[key]; exists {
			log.WarnLog.Printf("trace: span %x/%x restarted before a prior End", ev.TraceID, ev.SpanID)
		}
		r.open[key] = &partialSpan{
			scopeRef:      ev.ScopeRef,
			name:          ev.Name,
			kind:          ev.SpanKind,
			startUnixNano: ev.StartUnixNano,
			lastSeen:      r.now(),
		}
		return nil

	case shmfile.SpanEventName:
		p, ok := r.open[key]
		if !ok {
			r.orphans++
			return nil
		}
		p.name = ev.Name
		p.lastSeen = r.now()
		return nil

	case shmfile.SpanEventAttributes:
		p, ok := r.open[key]
		if !ok {
			r.orphans++
			return nil
		}
		p.attributes = append(p.attributes, ev.Attributes...)
		p.lastSeen = r.now()
		return nil

	case shmfile.SpanEventLink:
		// Reserved: links are observed but not yet resolved into the
		// completed span (spec.md §4.D "Link").
		if _, ok := r.open[key]; !ok {
			r.orphans++
		}
		return nil

	case shmfile.SpanEventEnd:
		p, ok := r.open[key]
		if !ok {
			r.orphans++
			return nil
		}
		delete(r.open, key)
		return &CompletedSpan{
			TraceID:       ev.TraceID,
			SpanID:        ev.SpanID,
			ScopeRef:      p.scopeRef,
			Name:          p.name,
			Kind:          p.kind,
			StartUnixNano: p.startUnixNano,
			EndUnixNano:   ev.EndUnixNano,
			Attributes:    p.attributes,
			HasStatus:     ev.HasStatus,
			Status:        ev.Status,
		}

	default:
		r.logicErrs++
		log.WarnLog.Printf("trace: span %x/%x carried an unknown SpanEvent kind %d", ev.TraceID, ev.SpanID, ev.Kind)
		return nil
	}
}

// OpenCount returns the number of spans currently awaiting an End event.
// Spans whose End is lost live here forever (spec.md §4.D "Garbage
// collection" — an open issue the source does not resolve; see
// DESIGN.md for the decision taken here).
func (r *Reconstructor) OpenCount() int { return len(r.open) }

// EvictOlderThan removes partial spans whose last-seen timestamp is older
// than maxAge, returning how many were evicted. This is the eviction
// policy spec.md §4.D describes as intended-but-unimplemented in the
// source; it is opt-in (callers that never call it reproduce the
// source's "live forever" behavior exactly).
func (r *Reconstructor) EvictOlderThan(maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)
	evicted := 0
	for k, p := range r.open {
		if p.lastSeen.Before(cutoff) {
			delete(r.open, k)
			evicted++
		}
	}
	return evicted
}
