package export

import (
	"errors"

	"github.com/ClusterCockpit/otlpshm/internal/sink"
	"github.com/ClusterCockpit/otlpshm/pkg/shmfile"
)

// ErrFileOutOfDate is surfaced when a pipeline observes start_time_unix_nano
// change on the header (spec.md §4.F).
var ErrFileOutOfDate = errors.New("export: file out of date")

func resolveAttributes(dict *shmfile.Dictionary, kvs []shmfile.KeyValueRef) ([]sink.Attribute, error) {
	out := make([]sink.Attribute, 0, len(kvs))
	for _, kv := range kvs {
		key, err := dict.ReadString(kv.KeyRef)
		if err != nil {
			// Missing attribute keys are locally substituted, not fatal
			// (spec.md §7 "Propagation policy").
			key = "<not found>"
		}
		val, err := shmfile.ResolveValueRef(dict, kv.Value)
		if err != nil {
			val = kv.Value
		}
		out = append(out, sink.Attribute{Key: key, Value: val})
	}
	return out, nil
}

func resolveScope(dict *shmfile.Dictionary, scopeRef int64) (name, version string, resourceRef int64, err error) {
	raw, err := dict.ReadMessage(scopeRef)
	if err != nil {
		return "", "", 0, err
	}
	scope, err := shmfile.UnmarshalInstrumentationScope(raw)
	if err != nil {
		return "", "", 0, err
	}
	name, _ = dict.ReadString(scope.NameRef)
	version, _ = dict.ReadString(scope.VersionRef)
	return name, version, scope.ResourceRef, nil
}

func resolveResourceAttrs(dict *shmfile.Dictionary, resourceRef int64) ([]sink.Attribute, error) {
	raw, err := dict.ReadMessage(resourceRef)
	if err != nil {
		return nil, err
	}
	res, err := shmfile.UnmarshalResource(raw)
	if err != nil {
		return nil, err
	}
	return resolveAttributes(dict, res.Attributes)
}

// scopeBucket accumulates records for one scope, pending flush.
type scopeBucket struct {
	name, version string
	resourceRef   int64
	logs          []sink.LogRecord
	spans         []sink.SpanRecord
	series        []sink.MetricSeries
}

// resourceGrouper groups records by (resource_ref → scope_ref → records)
// for all three export pipelines (spec.md §4.F), resolving dictionary
// references for resource/scope attributes lazily, once per scope.
type resourceGrouper struct {
	dict     *shmfile.Dictionary
	scopes   map[int64]*scopeBucket
	logCount int
	spanCount int
	seriesCount int
}

func newResourceGrouper(dict *shmfile.Dictionary) *resourceGrouper {
	return &resourceGrouper{dict: dict, scopes: make(map[int64]*scopeBucket)}
}

func (g *resourceGrouper) bucket(scopeRef int64) (*scopeBucket, error) {
	if b, ok := g.scopes[scopeRef]; ok {
		return b, nil
	}
	name, version, resourceRef, err := resolveScope(g.dict, scopeRef)
	if err != nil {
		// Resource/scope resolution failures are pipeline-level and
		// surfaced, not locally substituted (spec.md §7).
		return nil, err
	}
	b := &scopeBucket{name: name, version: version, resourceRef: resourceRef}
	g.scopes[scopeRef] = b
	return b, nil
}

func (g *resourceGrouper) addLog(scopeRef int64, rec sink.LogRecord) {
	b, err := g.bucket(scopeRef)
	if err != nil {
		return
	}
	b.logs = append(b.logs, rec)
	g.logCount++
}

func (g *resourceGrouper) addSpan(scopeRef int64, rec sink.SpanRecord) {
	b, err := g.bucket(scopeRef)
	if err != nil {
		return
	}
	b.spans = append(b.spans, rec)
	g.spanCount++
}

func (g *resourceGrouper) addSeries(scopeRef int64, series sink.MetricSeries) {
	b, err := g.bucket(scopeRef)
	if err != nil {
		return
	}
	b.series = append(b.series, series)
	g.seriesCount++
}

func (g *resourceGrouper) byResource() (map[int64][]*scopeBucket, error) {
	byResource := make(map[int64][]*scopeBucket)
	for _, b := range g.scopes {
		byResource[b.resourceRef] = append(byResource[b.resourceRef], b)
	}
	return byResource, nil
}

func (g *resourceGrouper) flushLogs() (sink.LogsBatch, error) {
	byResource, _ := g.byResource()
	var batch sink.LogsBatch
	for resourceRef, buckets := range byResource {
		resAttrs, err := resolveResourceAttrs(g.dict, resourceRef)
		if err != nil {
			return sink.LogsBatch{}, err
		}
		rl := sink.ResourceLogs{ResourceAttributes: resAttrs}
		for _, b := range buckets {
			if len(b.logs) == 0 {
				continue
			}
			rl.Scopes = append(rl.Scopes, sink.ScopeLogs{ScopeName: b.name, ScopeVersion: b.version, Records: b.logs})
		}
		if len(rl.Scopes) > 0 {
			batch.Resources = append(batch.Resources, rl)
		}
	}
	g.reset()
	return batch, nil
}

func (g *resourceGrouper) flushSpans() (sink.SpansBatch, error) {
	byResource, _ := g.byResource()
	var batch sink.SpansBatch
	for resourceRef, buckets := range byResource {
		resAttrs, err := resolveResourceAttrs(g.dict, resourceRef)
		if err != nil {
			return sink.SpansBatch{}, err
		}
		rs := sink.ResourceSpans{ResourceAttributes: resAttrs}
		for _, b := range buckets {
			if len(b.spans) == 0 {
				continue
			}
			rs.Scopes = append(rs.Scopes, sink.ScopeSpans{ScopeName: b.name, ScopeVersion: b.version, Spans: b.spans})
		}
		if len(rs.Scopes) > 0 {
			batch.Resources = append(batch.Resources, rs)
		}
	}
	g.reset()
	return batch, nil
}

func (g *resourceGrouper) flushMetrics() (sink.MetricsBatch, error) {
	byResource, _ := g.byResource()
	var batch sink.MetricsBatch
	for resourceRef, buckets := range byResource {
		resAttrs, err := resolveResourceAttrs(g.dict, resourceRef)
		if err != nil {
			return sink.MetricsBatch{}, err
		}
		rm := sink.ResourceMetrics{ResourceAttributes: resAttrs}
		for _, b := range buckets {
			if len(b.series) == 0 {
				continue
			}
			rm.Scopes = append(rm.Scopes, sink.ScopeMetrics{ScopeName: b.name, ScopeVersion: b.version, Series: b.series})
		}
		if len(rm.Scopes) > 0 {
			batch.Resources = append(batch.Resources, rm)
		}
	}
	g.reset()
	return batch, nil
}

func (g *resourceGrouper) reset() {
	g.scopes = make(map[int64]*scopeBucket)
	g.logCount = 0
	g.spanCount = 0
	g.seriesCount = 0
}
