package export

import (
	"context"
	"errors"
	"time"

	"github.com/ClusterCockpit/otlpshm/internal/health"
	"github.com/ClusterCockpit/otlpshm/internal/sink"
	"github.com/ClusterCockpit/otlpshm/internal/trace"
	"github.com/ClusterCockpit/otlpshm/pkg/shmfile"
)

const ringNameSpans = "spans"

// SpansPipeline drives the spans ring through the reconstructor (spec.md
// §4.D), groups completed spans by resource → scope, and flushes batches
// of up to MaxBatchSize or every BatchTimeout (spec.md §4.F "Spans"). Like
// LogsPipeline, it is driven by Driver's single cooperative loop in
// production; Run below is for standalone use and tests.
type SpansPipeline struct {
	File         *shmfile.File
	Sink         sink.Sink
	MaxBatchSize int
	BatchTimeout time.Duration
	Metrics      *health.Metrics

	warn        *warnLimiter
	recon       *trace.Reconstructor
	group       *resourceGrouper
	deadline    time.Time
	lastOrphans uint64
	evictAt     time.Time
}

// spanEvictionAge bounds how long a partial span may sit without a
// matching End before the reconstructor drops it (spec.md §4.D "Garbage
// collection").
const spanEvictionAge = 10 * time.Minute

// spanEvictionInterval is how often pollOnce sweeps for stale partial
// spans; eviction does not need to run every poll.
const spanEvictionInterval = time.Minute

func (p *SpansPipeline) init() {
	if p.warn == nil {
		p.warn = newWarnLimiter(5, 10)
	}
	if p.recon == nil {
		p.recon = trace.NewReconstructor()
	}
	if p.group == nil {
		p.group = newResourceGrouper(p.File.Dictionary)
	}
	if p.deadline.IsZero() {
		p.deadline = time.Now().Add(p.BatchTimeout)
	}
	if p.evictAt.IsZero() {
		p.evictAt = time.Now().Add(spanEvictionInterval)
	}
}

// Run blocks until ctx is cancelled or a terminal error occurs. Standalone
// driver of this one pipeline, used by tests; see LogsPipeline.Run.
func (p *SpansPipeline) Run(ctx context.Context) error {
	p.init()
	var b backoffAwait

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if p.File.HasChanged() {
			return ErrFileOutOfDate
		}

		progressed, err := p.pollOnce()
		if err != nil {
			return err
		}
		if err := p.maybeFlush(ctx, time.Now()); err != nil {
			return err
		}

		if progressed {
			b.reset()
			continue
		}
		p.Metrics.IncWouldBlockSpins()
		if !b.wait(ctx.Done()) {
			return ctx.Err()
		}
	}
}

// pollOnce attempts a single non-blocking read from the spans ring and
// sweeps the reconstructor for stale partial spans on a fixed interval.
func (p *SpansPipeline) pollOnce() (bool, error) {
	p.init()

	if now := time.Now(); !now.Before(p.evictAt) {
		if evicted := p.recon.EvictOlderThan(spanEvictionAge); evicted > 0 {
			p.warn.Printf("spans pipeline: evicted %d stale partial span(s)", evicted)
		}
		p.evictAt = now.Add(spanEvictionInterval)
	}

	raw, err := p.File.Spans.TryRead()
	switch err {
	case nil:
		ev, decodeErr := shmfile.UnmarshalSpanEvent(raw)
		if decodeErr != nil {
			p.Metrics.IncDecodeErrors(ringNameSpans)
			p.Metrics.IncRecordsDropped(ringNameSpans, "decode")
			p.warn.Printf("spans pipeline: decode error, dropping record: %v", decodeErr)
			return true, nil
		}
		completed := p.recon.Apply(ev)
		if orphans := p.recon.Orphans(); orphans != p.lastOrphans {
			for ; p.lastOrphans < orphans; p.lastOrphans++ {
				p.Metrics.IncOrphanSpans()
			}
		}
		if completed != nil {
			rec, resolveErr := resolveSpanRecord(p.File.Dictionary, *completed)
			if resolveErr != nil {
				if errors.Is(resolveErr, shmfile.ErrNotFoundInDictionary) {
					p.Metrics.IncNotFoundErrors()
				}
				p.Metrics.IncRecordsDropped(ringNameSpans, "resolve")
				p.warn.Printf("spans pipeline: resolve error, dropping record: %v", resolveErr)
				return true, nil
			}
			p.group.addSpan(completed.ScopeRef, rec)
		}
		return true, nil
	case shmfile.ErrEmpty:
		return false, nil
	default:
		return false, err
	}
}

// maybeFlush flushes and sends the current batch if it has reached
// MaxBatchSize or BatchTimeout has elapsed since the last flush.
func (p *SpansPipeline) maybeFlush(ctx context.Context, now time.Time) error {
	p.init()

	if p.group.spanCount < p.MaxBatchSize && (p.group.spanCount == 0 || !now.After(p.deadline)) {
		return nil
	}

	batch, err := p.group.flushSpans()
	if err != nil {
		return err
	}
	start := time.Now()
	if err := p.Sink.SendSpans(ctx, batch); err != nil {
		return err
	}
	p.Metrics.ObserveSendLatency("spans", time.Since(start))
	p.Metrics.IncBatchesSent("spans")
	p.deadline = time.Now().Add(p.BatchTimeout)
	return nil
}

func resolveSpanRecord(dict *shmfile.Dictionary, c trace.CompletedSpan) (sink.SpanRecord, error) {
	attrs, err := resolveAttributes(dict, c.Attributes)
	if err != nil {
		return sink.SpanRecord{}, err
	}
	rec := sink.SpanRecord{
		TraceID:       c.TraceID,
		SpanID:        c.SpanID,
		Name:          c.Name,
		Kind:          c.Kind,
		StartUnixNano: c.StartUnixNano,
		EndUnixNano:   c.EndUnixNano,
		Attributes:    attrs,
		HasStatus:     c.HasStatus,
	}
	if c.HasStatus {
		rec.StatusCode = c.Status.Code
		rec.StatusMessage = c.Status.Message
	}
	return rec, nil
}
