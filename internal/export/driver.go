package export

import (
	"context"
	"time"

	"github.com/ClusterCockpit/otlpshm/internal/health"
	"github.com/ClusterCockpit/otlpshm/internal/sink"
	"github.com/ClusterCockpit/otlpshm/pkg/log"
	"github.com/ClusterCockpit/otlpshm/pkg/shmfile"
)

// Config controls the batching/reporting knobs shared by the three export
// pipelines (spec.md §4.F).
type Config struct {
	LogsMaxBatchSize  int
	LogsBatchTimeout  time.Duration
	SpansMaxBatchSize int
	SpansBatchTimeout time.Duration
	ReportInterval    time.Duration
}

func (c Config) normalized() Config {
	if c.LogsMaxBatchSize <= 0 {
		c.LogsMaxBatchSize = 512
	}
	if c.LogsBatchTimeout <= 0 {
		c.LogsBatchTimeout = 5 * time.Second
	}
	if c.SpansMaxBatchSize <= 0 {
		c.SpansMaxBatchSize = 512
	}
	if c.SpansBatchTimeout <= 0 {
		c.SpansBatchTimeout = 5 * time.Second
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = 10 * time.Second
	}
	return c
}

// Driver runs the logs, spans and metrics pipelines on one cooperative,
// single-threaded poll loop against one open shmfile.File (spec.md §5: "The
// collector runs a cooperative single-threaded event loop hosting the
// three export pipelines... driven on the same worker to avoid cross-CPU
// cache bouncing on the shared-memory atomics; this is an explicit
// decision, not an incidental one"). It reopens the file when a pipeline
// observes it has been replaced (spec.md §4.F: "A pipeline that observes
// start_time_unix_nano change ... terminates; the surrounding driver may
// reopen").
type Driver struct {
	Path    string
	Sink    sink.Sink
	Config  Config
	Metrics *health.Metrics
}

// Run polls for the file's existence once per second (spec.md §6.2), then
// repeatedly opens it and runs the single poll loop until ctx is
// cancelled.
func (d *Driver) Run(ctx context.Context) error {
	cfg := d.Config.normalized()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		file, err := d.awaitFile(ctx)
		if err != nil {
			return err
		}

		err = d.runOnce(ctx, file, cfg)
		file.Close()

		if err == ErrFileOutOfDate {
			log.NoteLog.Printf("export driver: file %s replaced, reopening", d.Path)
			continue
		}
		return err
	}
}

func (d *Driver) awaitFile(ctx context.Context) (*shmfile.File, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if file, err := shmfile.Open(d.Path); err == nil {
			return file, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// runOnce is the single cooperative worker: every turn it polls all three
// rings once each (no blocking, no goroutines) and lets each pipeline flush
// if its threshold or deadline has passed. Only when none of the three
// rings yielded a record does it back off, so a burst on any one ring is
// drained promptly without starving the others.
func (d *Driver) runOnce(ctx context.Context, file *shmfile.File, cfg Config) error {
	logs := &LogsPipeline{File: file, Sink: d.Sink, MaxBatchSize: cfg.LogsMaxBatchSize, BatchTimeout: cfg.LogsBatchTimeout, Metrics: d.Metrics}
	spans := &SpansPipeline{File: file, Sink: d.Sink, MaxBatchSize: cfg.SpansMaxBatchSize, BatchTimeout: cfg.SpansBatchTimeout, Metrics: d.Metrics}
	metrics := &MetricsPipeline{File: file, Sink: d.Sink, ReportInterval: cfg.ReportInterval, Metrics: d.Metrics}
	logs.init()
	spans.init()
	metrics.init()

	var b backoffAwait

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if file.HasChanged() {
			return ErrFileOutOfDate
		}

		d.Metrics.ObserveRing(ringNameEvents, file.Events)
		d.Metrics.ObserveRing(ringNameSpans, file.Spans)
		d.Metrics.ObserveRing(ringNameMeasurements, file.Measurements)

		logProgress, err := logs.pollOnce()
		if err != nil {
			return err
		}
		spanProgress, err := spans.pollOnce()
		if err != nil {
			return err
		}
		metricProgress, err := metrics.pollOnce()
		if err != nil {
			return err
		}

		now := time.Now()
		if err := logs.maybeFlush(ctx, now); err != nil {
			return err
		}
		if err := spans.maybeFlush(ctx, now); err != nil {
			return err
		}
		if err := metrics.maybeFlush(ctx, now); err != nil {
			return err
		}

		if logProgress || spanProgress || metricProgress {
			b.reset()
			continue
		}
		d.Metrics.IncWouldBlockSpins()
		if !b.wait(ctx.Done()) {
			return ctx.Err()
		}
	}
}
