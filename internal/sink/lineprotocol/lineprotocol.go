// Package lineprotocol is a Sink (spec.md §6.3) that encodes each batch
// as InfluxDB line protocol and writes it to an io.Writer (typically a
// UDP/TCP connection to an InfluxDB-compatible listener). Grounded on
// github.com/influxdata/line-protocol/v2/lineprotocol, the encode-side
// counterpart of the teacher's inbound decoder in pkg/nats/influxDecoder.go.
package lineprotocol

import (
	"context"
	"fmt"
	"io"
	"time"

	influx "github.com/influxdata/line-protocol/v2/lineprotocol"

	"github.com/ClusterCockpit/otlpshm/internal/sink"
)

// Sink writes line-protocol-encoded batches to W.
type Sink struct {
	W io.Writer
}

// New creates a Sink writing to w.
func New(w io.Writer) *Sink { return &Sink{W: w} }

func tagValue(a sink.Attribute) string {
	if a.Value.Str != "" {
		return a.Value.Str
	}
	return fmt.Sprintf("%v", a.Value.Int)
}

func (s *Sink) write(enc *influx.Encoder) error {
	if err := enc.Err(); err != nil {
		return fmt.Errorf("lineprotocol sink: encode: %w", err)
	}
	_, err := s.W.Write(enc.Bytes())
	return err
}

func (s *Sink) SendLogs(_ context.Context, batch sink.LogsBatch) error {
	var enc influx.Encoder
	enc.SetPrecision(influx.Nanosecond)
	for _, res := range batch.Resources {
		for _, scope := range res.Scopes {
			for _, rec := range scope.Records {
				enc.StartLine("log")
				for _, a := range res.ResourceAttributes {
					enc.AddTag([]byte(a.Key), []byte(tagValue(a)))
				}
				enc.AddTag([]byte("scope"), []byte(scope.ScopeName))
				enc.AddTag([]byte("severity"), []byte(rec.SeverityText))
				enc.AddField([]byte("body"), influx.StringValue(rec.Body.Str))
				enc.EndLine(time.Unix(0, int64(rec.TimeUnixNano)))
			}
		}
	}
	return s.write(&enc)
}

func (s *Sink) SendSpans(_ context.Context, batch sink.SpansBatch) error {
	var enc influx.Encoder
	enc.SetPrecision(influx.Nanosecond)
	for _, res := range batch.Resources {
		for _, scope := range res.Scopes {
			for _, sp := range scope.Spans {
				enc.StartLine("span")
				for _, a := range res.ResourceAttributes {
					enc.AddTag([]byte(a.Key), []byte(tagValue(a)))
				}
				enc.AddTag([]byte("name"), []byte(sp.Name))
				durationNanos := int64(sp.EndUnixNano - sp.StartUnixNano)
				enc.AddField([]byte("duration_ns"), influx.IntValue(durationNanos))
				enc.EndLine(time.Unix(0, int64(sp.EndUnixNano)))
			}
		}
	}
	return s.write(&enc)
}

func (s *Sink) SendMetrics(_ context.Context, batch sink.MetricsBatch) error {
	var enc influx.Encoder
	enc.SetPrecision(influx.Nanosecond)
	for _, res := range batch.Resources {
		for _, scope := range res.Scopes {
			for _, series := range scope.Series {
				enc.StartLine(series.MetricName)
				for _, a := range res.ResourceAttributes {
					enc.AddTag([]byte(a.Key), []byte(tagValue(a)))
				}
				enc.AddField([]byte("value"), influx.FloatValue(series.Point.ScalarValue()))
				enc.EndLine(time.Unix(0, int64(series.Point.TimeUnixNano)))
			}
		}
	}
	return s.write(&enc)
}
