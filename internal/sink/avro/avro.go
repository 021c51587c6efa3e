// Package avro is a file-based Sink (spec.md §6.3) that appends each
// batch as Avro object-container-file records, one file per batch kind.
// Grounded on the teacher's internal/memorystore/avroCheckpoint.go OCF
// writer usage (goavro.NewCodec + goavro.NewOCFWriter with deflate
// compression, appending record maps to a growing file).
package avro

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/linkedin/goavro/v2"

	"github.com/ClusterCockpit/otlpshm/internal/sink"
)

const (
	logsSchema = `{
		"type": "record", "name": "LogRecord", "fields": [
			{"name": "resource_attrs", "type": {"type": "map", "values": "string"}},
			{"name": "scope_name", "type": "string"},
			{"name": "time_unix_nano", "type": "long"},
			{"name": "severity_text", "type": "string"},
			{"name": "body", "type": "string"}
		]
	}`
	spansSchema = `{
		"type": "record", "name": "SpanRecord", "fields": [
			{"name": "resource_attrs", "type": {"type": "map", "values": "string"}},
			{"name": "scope_name", "type": "string"},
			{"name": "trace_id", "type": "string"},
			{"name": "span_id", "type": "string"},
			{"name": "name", "type": "string"},
			{"name": "start_unix_nano", "type": "long"},
			{"name": "end_unix_nano", "type": "long"}
		]
	}`
	metricsSchema = `{
		"type": "record", "name": "MetricSeries", "fields": [
			{"name": "resource_attrs", "type": {"type": "map", "values": "string"}},
			{"name": "scope_name", "type": "string"},
			{"name": "metric_name", "type": "string"},
			{"name": "time_unix_nano", "type": "long"},
			{"name": "value", "type": "double"}
		]
	}`
)

// Sink writes each batch kind to its own append-only .avro file under Dir.
type Sink struct {
	Dir string

	mu       sync.Mutex
	codecs   map[string]*goavro.Codec
}

// New creates a Sink writing under dir, creating it if necessary.
func New(dir string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("avro sink: create %q: %w", dir, err)
	}
	logsCodec, err := goavro.NewCodec(logsSchema)
	if err != nil {
		return nil, err
	}
	spansCodec, err := goavro.NewCodec(spansSchema)
	if err != nil {
		return nil, err
	}
	metricsCodec, err := goavro.NewCodec(metricsSchema)
	if err != nil {
		return nil, err
	}
	return &Sink{
		Dir: dir,
		codecs: map[string]*goavro.Codec{
			"logs":    logsCodec,
			"spans":   spansCodec,
			"metrics": metricsCodec,
		},
	}, nil
}

func attrMap(attrs []sink.Attribute) map[string]any {
	m := make(map[string]any, len(attrs))
	for _, a := range attrs {
		m[a.Key] = a.Value.Str
	}
	return m
}

func (s *Sink) appendRecords(kind string, records []map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	codec := s.codecs[kind]
	path := filepath.Join(s.Dir, kind+".avro")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("avro sink: open %q: %w", path, err)
	}
	defer f.Close()

	writer, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W: f, Codec: codec, CompressionName: goavro.CompressionDeflateLabel,
	})
	if err != nil {
		return fmt.Errorf("avro sink: new OCF writer: %w", err)
	}
	if err := writer.Append(records); err != nil {
		return fmt.Errorf("avro sink: append %s records: %w", kind, err)
	}
	return nil
}

func (s *Sink) SendLogs(_ context.Context, batch sink.LogsBatch) error {
	var records []map[string]any
	for _, res := range batch.Resources {
		resAttrs := attrMap(res.ResourceAttributes)
		for _, scope := range res.Scopes {
			for _, rec := range scope.Records {
				records = append(records, map[string]any{
					"resource_attrs": resAttrs,
					"scope_name":     scope.ScopeName,
					"time_unix_nano": int64(rec.TimeUnixNano),
					"severity_text":  rec.SeverityText,
					"body":           rec.Body.Str,
				})
			}
		}
	}
	if len(records) == 0 {
		return nil
	}
	return s.appendRecords("logs", records)
}

func (s *Sink) SendSpans(_ context.Context, batch sink.SpansBatch) error {
	var records []map[string]any
	for _, res := range batch.Resources {
		resAttrs := attrMap(res.ResourceAttributes)
		for _, scope := range res.Scopes {
			for _, sp := range scope.Spans {
				records = append(records, map[string]any{
					"resource_attrs":  resAttrs,
					"scope_name":      scope.ScopeName,
					"trace_id":        fmt.Sprintf("%x", sp.TraceID),
					"span_id":         fmt.Sprintf("%x", sp.SpanID),
					"name":            sp.Name,
					"start_unix_nano": int64(sp.StartUnixNano),
					"end_unix_nano":   int64(sp.EndUnixNano),
				})
			}
		}
	}
	if len(records) == 0 {
		return nil
	}
	return s.appendRecords("spans", records)
}

func (s *Sink) SendMetrics(_ context.Context, batch sink.MetricsBatch) error {
	var records []map[string]any
	for _, res := range batch.Resources {
		resAttrs := attrMap(res.ResourceAttributes)
		for _, scope := range res.Scopes {
			for _, series := range scope.Series {
				value := series.Point.ScalarValue()
				records = append(records, map[string]any{
					"resource_attrs": resAttrs,
					"scope_name":     scope.ScopeName,
					"metric_name":    series.MetricName,
					"time_unix_nano": int64(series.Point.TimeUnixNano),
					"value":          value,
				})
			}
		}
	}
	if len(records) == 0 {
		return nil
	}
	return s.appendRecords("metrics", records)
}
