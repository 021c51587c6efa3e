package export

import (
	"context"
	"errors"
	"time"

	"github.com/ClusterCockpit/otlpshm/internal/health"
	"github.com/ClusterCockpit/otlpshm/internal/sink"
	"github.com/ClusterCockpit/otlpshm/pkg/shmfile"
)

const ringNameEvents = "events"

// LogsPipeline drives the events ring: pull, resolve dictionary
// references, group by (resource → scope → log records), and flush
// batches of up to MaxBatchSize or every BatchTimeout (spec.md §4.F
// "Logs"). A LogsPipeline never runs its poll loop on its own goroutine in
// the collector proper: spec.md §5 mandates a single cooperative worker
// hosting all three pipelines, so Driver calls pollOnce/maybeFlush from its
// own round-robin loop (Run below exists for standalone use and tests).
type LogsPipeline struct {
	File         *shmfile.File
	Sink         sink.Sink
	MaxBatchSize int
	BatchTimeout time.Duration
	Metrics      *health.Metrics

	warn     *warnLimiter
	group    *resourceGrouper
	deadline time.Time
}

func (p *LogsPipeline) init() {
	if p.warn == nil {
		p.warn = newWarnLimiter(5, 10)
	}
	if p.group == nil {
		p.group = newResourceGrouper(p.File.Dictionary)
	}
	if p.deadline.IsZero() {
		p.deadline = time.Now().Add(p.BatchTimeout)
	}
}

// Run blocks until ctx is cancelled or a terminal error occurs (file
// replaced, transport failure). It is a standalone driver of this one
// pipeline only, used by tests; the collector's own entry point drives
// LogsPipeline through Driver's combined single-threaded loop instead.
func (p *LogsPipeline) Run(ctx context.Context) error {
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

// pollOnce attempts a single non-blocking read from the events ring,
// returning progressed=true if a record was consumed (successfully or
// not — a dropped malformed record still counts as progress for backoff
// purposes).
func (p *LogsPipeline) pollOnce() (bool, error) {
	p.init()

	raw, err := p.File.Events.TryRead()
	switch err {
	case nil:
		ev, decodeErr := shmfile.UnmarshalEvent(raw)
		if decodeErr != nil {
			p.Metrics.IncDecodeErrors(ringNameEvents)
			p.Metrics.IncRecordsDropped(ringNameEvents, "decode")
			p.warn.Printf("logs pipeline: decode error, dropping record: %v", decodeErr)
			return true, nil
		}
		rec, resolveErr := resolveLogRecord(p.File.Dictionary, ev)
		if resolveErr != nil {
			if errors.Is(resolveErr, shmfile.ErrNotFoundInDictionary) {
				p.Metrics.IncNotFoundErrors()
			}
			p.Metrics.IncRecordsDropped(ringNameEvents, "resolve")
			p.warn.Printf("logs pipeline: resolve error, dropping record: %v", resolveErr)
			return true, nil
		}
		p.group.addLog(ev.ScopeRef, rec)
		return true, nil
	case shmfile.ErrEmpty:
		return false, nil
	case shmfile.ErrDecode:
		p.Metrics.IncDecodeErrors(ringNameEvents)
		p.Metrics.IncRecordsDropped(ringNameEvents, "decode")
		p.warn.Printf("logs pipeline: malformed slot, dropping record: %v", err)
		return true, nil
	default:
		return false, err
	}
}

// maybeFlush flushes and sends the current batch if it has reached
// MaxBatchSize or BatchTimeout has elapsed since the last flush.
func (p *LogsPipeline) maybeFlush(ctx context.Context, now time.Time) error {
	p.init()

	if p.group.logCount < p.MaxBatchSize && (p.group.logCount == 0 || !now.After(p.deadline)) {
		return nil
	}

	batch, err := p.group.flushLogs()
	if err != nil {
		return err
	}
	start := time.Now()
	if err := p.Sink.SendLogs(ctx, batch); err != nil {
		return err
	}
	p.Metrics.ObserveSendLatency("logs", time.Since(start))
	p.Metrics.IncBatchesSent("logs")
	p.deadline = time.Now().Add(p.BatchTimeout)
	return nil
}

func resolveLogRecord(dict *shmfile.Dictionary, ev shmfile.Event) (sink.LogRecord, error) {
	attrs, err := resolveAttributes(dict, ev.Attributes)
	if err != nil {
		return sink.LogRecord{}, err
	}
	eventName := ""
	if ev.EventNameRef != 0 {
		eventName, _ = dict.ReadString(ev.EventNameRef)
	}
	body, err := shmfile.ResolveValueRef(dict, ev.Body)
	if err != nil {
		body = ev.Body
	}
	return sink.LogRecord{
		TimeUnixNano:   ev.TimeUnixNano,
		SeverityNumber: ev.SeverityNumber,
		SeverityText:   ev.SeverityText,
		Body:           body,
		EventName:      eventName,
		Attributes:     attrs,
		HasSpanContext: ev.HasSpanContext,
		TraceID:        ev.TraceID,
		SpanID:         ev.SpanID,
	}, nil
}
