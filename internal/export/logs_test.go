package export

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/otlpshm/internal/sink"
	"github.com/ClusterCockpit/otlpshm/pkg/shmfile"
)

// captureSink records every batch handed to it, for assertions.
type captureSink struct {
	logs    []sink.LogsBatch
	spans   []sink.SpansBatch
	metrics []sink.MetricsBatch
}

func (c *captureSink) SendLogs(_ context.Context, b sink.LogsBatch) error {
	c.logs = append(c.logs, b)
	return nil
}

func (c *captureSink) SendSpans(_ context.Context, b sink.SpansBatch) error {
	c.spans = append(c.spans, b)
	return nil
}

func (c *captureSink) SendMetrics(_ context.Context, b sink.MetricsBatch) error {
	c.metrics = append(c.metrics, b)
	return nil
}

func testSizing() shmfile.Sizing {
	return shmfile.Sizing{
		EventsCapacity:       16,
		EventsSlotSize:       256,
		SpansCapacity:        16,
		SpansSlotSize:        256,
		MeasurementsCapacity: 16,
		MeasurementsSlotSize: 256,
	}
}

func newTestFileAt(t *testing.T, path string) *shmfile.File {
	t.Helper()
	f, err := shmfile.Create(path, testSizing(), 1)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func newTestFile(t *testing.T) *shmfile.File {
	t.Helper()
	return newTestFileAt(t, filepath.Join(t.TempDir(), "test.shm"))
}

func internResourceAndScope(t *testing.T, f *shmfile.File) int64 {
	t.Helper()
	resourceMsg := shmfile.Resource{}.Marshal()
	resourceRef, err := f.Dictionary.Append(resourceMsg)
	require.NoError(t, err)

	nameRef, err := f.Dictionary.AppendString("test-scope")
	require.NoError(t, err)

	scopeMsg := shmfile.InstrumentationScope{NameRef: nameRef, ResourceRef: resourceRef}.Marshal()
	scopeRef, err := f.Dictionary.Append(scopeMsg)
	require.NoError(t, err)
	return scopeRef
}

func TestLogsPipelineFlushesOnMaxBatchSize(t *testing.T) {
	f := newTestFile(t)
	scopeRef := internResourceAndScope(t, f)

	ev := shmfile.Event{
		ScopeRef:       scopeRef,
		TimeUnixNano:   1000,
		SeverityNumber: 9,
		Body:           shmfile.AnyValue{Kind: shmfile.AnyValueString, Str: "hello"},
	}
	require.NoError(t, f.Events.Publish(ev.Marshal()))

	snk := &captureSink{}
	p := &LogsPipeline{File: f, Sink: snk, MaxBatchSize: 1, BatchTimeout: time.Minute}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, snk.logs, 1)
	require.Len(t, snk.logs[0].Resources, 1)
	require.Len(t, snk.logs[0].Resources[0].Scopes, 1)
	require.Equal(t, "hello", snk.logs[0].Resources[0].Scopes[0].Records[0].Body.Str)
}

func TestLogsPipelineReturnsErrFileOutOfDateAfterRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.shm")
	producer, err := shmfile.Create(path, testSizing(), 1)
	require.NoError(t, err)

	collector, err := shmfile.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { collector.Close() })

	snk := &captureSink{}
	p := &LogsPipeline{File: collector, Sink: snk, MaxBatchSize: 1000, BatchTimeout: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// Simulate the producer restarting: Create truncates and rewrites the
	// header of the same inode the collector already has mapped, bumping
	// start_time_unix_nano.
	time.Sleep(20 * time.Millisecond)
	_ = producer.Close()
	recreated, err := shmfile.Create(path, testSizing(), 2)
	require.NoError(t, err)
	defer recreated.Close()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrFileOutOfDate)
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("pipeline did not observe file restart in time")
	}
}
