package export

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/otlpshm/pkg/shmfile"
)

func TestSpansPipelineFlushesCompletedSpan(t *testing.T) {
	f := newTestFile(t)
	scopeRef := internResourceAndScope(t, f)

	traceID := [16]byte{1, 2, 3}
	spanID := [8]byte{4, 5, 6}

	start := shmfile.SpanEvent{
		TraceID: traceID, SpanID: spanID, ScopeRef: scopeRef, Kind: shmfile.SpanEventStart,
		Name: "work", StartUnixNano: 100,
	}
	end := shmfile.SpanEvent{
		TraceID: traceID, SpanID: spanID, ScopeRef: scopeRef, Kind: shmfile.SpanEventEnd,
		EndUnixNano: 200,
	}
	require.NoError(t, f.Spans.Publish(start.Marshal()))
	require.NoError(t, f.Spans.Publish(end.Marshal()))

	snk := &captureSink{}
	p := &SpansPipeline{File: f, Sink: snk, MaxBatchSize: 1, BatchTimeout: time.Minute}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, snk.spans, 1)
	require.Len(t, snk.spans[0].Resources, 1)
	rec := snk.spans[0].Resources[0].Scopes[0].Spans[0]
	require.Equal(t, "work", rec.Name)
	require.Equal(t, uint64(100), rec.StartUnixNano)
	require.Equal(t, uint64(200), rec.EndUnixNano)
}
