package export

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/otlpshm/pkg/shmfile"
)

func internGaugeMetric(t *testing.T, f *shmfile.File, scopeRef int64, name string) int64 {
	t.Helper()
	ref := shmfile.MetricRef{
		Name:        name,
		ScopeRef:    scopeRef,
		Aggregation: shmfile.AggregationGauge,
	}
	off, err := f.Dictionary.Append(ref.Marshal())
	require.NoError(t, err)
	return off
}

func TestMetricsPipelineEmitsOnReportInterval(t *testing.T) {
	f := newTestFile(t)
	scopeRef := internResourceAndScope(t, f)
	metricRef := internGaugeMetric(t, f, scopeRef, "requests_total")

	m := shmfile.Measurement{
		MetricRef: metricRef,
		ValueKind: shmfile.MeasurementAsDouble,
		AsDouble:  42.0,
	}
	require.NoError(t, f.Measurements.Publish(m.Marshal()))

	snk := &captureSink{}
	p := &MetricsPipeline{File: f, Sink: snk, ReportInterval: 30 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotEmpty(t, snk.metrics)

	last := snk.metrics[len(snk.metrics)-1]
	require.Len(t, last.Resources, 1)
	series := last.Resources[0].Scopes[0].Series[0]
	require.Equal(t, "requests_total", series.MetricName)
	require.Equal(t, 42.0, series.Point.GaugeValue)
}
