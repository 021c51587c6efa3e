// Package sink defines the external sink contract of spec.md §6.3: three
// methods, each taking a grouped batch (resource → scope → records) and
// returning success or a transport error, awaited synchronously by the
// pipeline before it pulls the next batch.
package sink

import (
	"github.com/ClusterCockpit/otlpshm/internal/metric"
	"github.com/ClusterCockpit/otlpshm/pkg/shmfile"
)

// Attribute is a resolved (key, value) pair attached to a resource, scope,
// log record, or span.
type Attribute struct {
	Key   string
	Value shmfile.AnyValue
}

// LogRecord is one resolved Event, grouped under its owning scope.
type LogRecord struct {
	TimeUnixNano   uint64
	SeverityNumber int32
	SeverityText   string
	Body           shmfile.AnyValue
	EventName      string
	Attributes     []Attribute

	HasSpanContext bool
	TraceID        [16]byte
	SpanID         [8]byte
}

// ScopeLogs is every LogRecord produced under one instrumentation scope.
type ScopeLogs struct {
	ScopeName    string
	ScopeVersion string
	Records      []LogRecord
}

// ResourceLogs is every ScopeLogs produced under one resource.
type ResourceLogs struct {
	ResourceAttributes []Attribute
	Scopes             []ScopeLogs
}

// LogsBatch is the unit delivered to Sink.SendLogs.
type LogsBatch struct {
	Resources []ResourceLogs
}

// SpanRecord is one completed span, resolved and grouped under its scope.
type SpanRecord struct {
	TraceID       [16]byte
	SpanID        [8]byte
	Name          string
	Kind          int32
	StartUnixNano uint64
	EndUnixNano   uint64
	Attributes    []Attribute
	HasStatus     bool
	StatusCode    int32
	StatusMessage string
}

// ScopeSpans is every SpanRecord produced under one instrumentation scope.
type ScopeSpans struct {
	ScopeName    string
	ScopeVersion string
	Spans        []SpanRecord
}

// ResourceSpans is every ScopeSpans produced under one resource.
type ResourceSpans struct {
	ResourceAttributes []Attribute
	Scopes             []ScopeSpans
}

// SpansBatch is the unit delivered to Sink.SendSpans.
type SpansBatch struct {
	Resources []ResourceSpans
}

// MetricSeries pairs an aggregated data point with the metric definition
// it belongs to.
type MetricSeries struct {
	MetricName        string
	MetricDescription string
	MetricUnit        string
	Point             metric.DataPoint
}

// ScopeMetrics is every MetricSeries produced under one instrumentation
// scope.
type ScopeMetrics struct {
	ScopeName    string
	ScopeVersion string
	Series       []MetricSeries
}

// ResourceMetrics is every ScopeMetrics produced under one resource.
type ResourceMetrics struct {
	ResourceAttributes []Attribute
	Scopes             []ScopeMetrics
}

// MetricsBatch is the unit delivered to Sink.SendMetrics.
type MetricsBatch struct {
	Resources []ResourceMetrics
}
