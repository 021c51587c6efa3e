package export

import (
	"context"
	"time"

	"github.com/ClusterCockpit/otlpshm/internal/health"
	"github.com/ClusterCockpit/otlpshm/internal/metric"
	"github.com/ClusterCockpit/otlpshm/internal/sink"
	"github.com/ClusterCockpit/otlpshm/pkg/shmfile"
)

const ringNameMeasurements = "measurements"

// MetricsPipeline drives the measurements ring through the aggregator
// registry (spec.md §4.E), and on every ReportInterval calls Collect on
// every tracked metric and emits a single batch (spec.md §4.F "Metrics").
// Like the other two pipelines, the report tick is just another deadline
// checked from Driver's single cooperative poll loop (spec.md §5) — it is
// not a separate scheduled goroutine; Run below is for standalone use and
// tests only.
type MetricsPipeline struct {
	File           *shmfile.File
	Sink           sink.Sink
	ReportInterval time.Duration
	Metrics        *health.Metrics

	warn       *warnLimiter
	registry   *metric.Registry
	nextReport time.Time
}

func (p *MetricsPipeline) init() {
	if p.warn == nil {
		p.warn = newWarnLimiter(5, 10)
	}
	if p.registry == nil {
		p.registry = metric.NewRegistry(p.File.Dictionary)
	}
	if p.nextReport.IsZero() {
		p.nextReport = time.Now().Add(p.ReportInterval)
	}
}

// Run blocks until ctx is cancelled or a terminal error occurs. Standalone
// driver of this one pipeline, used by tests; see LogsPipeline.Run.
func (p *MetricsPipeline) Run(ctx context.Context) error {
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

// pollOnce attempts a single non-blocking read from the measurements ring.
func (p *MetricsPipeline) pollOnce() (bool, error) {
	p.init()

	raw, err := p.File.Measurements.TryRead()
	switch err {
	case nil:
		m, decodeErr := shmfile.UnmarshalMeasurement(raw)
		if decodeErr != nil {
			p.Metrics.IncDecodeErrors(ringNameMeasurements)
			p.Metrics.IncRecordsDropped(ringNameMeasurements, "decode")
			p.warn.Printf("metrics pipeline: decode error, dropping record: %v", decodeErr)
			return true, nil
		}
		if err := p.record(m); err != nil {
			p.Metrics.IncRecordsDropped(ringNameMeasurements, "record")
			p.warn.Printf("metrics pipeline: %v", err)
		}
		return true, nil
	case shmfile.ErrEmpty:
		return false, nil
	default:
		return false, err
	}
}

// maybeFlush collects and sends a metrics batch once ReportInterval has
// elapsed since the last report.
func (p *MetricsPipeline) maybeFlush(ctx context.Context, now time.Time) error {
	p.init()

	if now.Before(p.nextReport) {
		return nil
	}

	batch, err := p.collect()
	if err != nil {
		return err
	}
	start := time.Now()
	if err := p.Sink.SendMetrics(ctx, batch); err != nil {
		return err
	}
	p.Metrics.ObserveSendLatency("metrics", time.Since(start))
	p.Metrics.IncBatchesSent("metrics")
	p.nextReport = time.Now().Add(p.ReportInterval)
	return nil
}

func (p *MetricsPipeline) record(m shmfile.Measurement) error {
	agg, err := p.registry.AggregatorFor(m.MetricRef)
	if err != nil {
		return err
	}
	id, err := metric.NewTimeSeriesIdentity(p.File.Dictionary, m.Attributes)
	if err != nil {
		return err
	}
	agg.Record(id, m.AsLong, m.AsDouble, m.ValueKind == shmfile.MeasurementAsDouble)
	return nil
}

func (p *MetricsPipeline) collect() (sink.MetricsBatch, error) {
	collectCtx := metric.CollectionContext{
		StartUnixNano:   uint64(p.File.Header.StartTimeUnixNano()),
		CurrentUnixNano: uint64(time.Now().UnixNano()),
	}

	group := newResourceGrouper(p.File.Dictionary)
	for _, agg := range p.registry.All() {
		ref := agg.Ref()
		for _, dp := range agg.Collect(collectCtx) {
			series := sink.MetricSeries{
				MetricName:        ref.Name,
				MetricDescription: ref.Description,
				MetricUnit:        ref.Unit,
				Point:             dp,
			}
			group.addSeries(ref.ScopeRef, series)
		}
	}
	return group.flushMetrics()
}
