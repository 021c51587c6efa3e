package metric

import (
	"sync"

	"github.com/ClusterCockpit/otlpshm/pkg/shmfile"
)

// cellEntry pairs a resolved TimeSeriesIdentity with its aggregation
// state, so Collect can iterate in map order without re-resolving
// attributes.
type cellEntry struct {
	id   TimeSeriesIdentity
	cell Aggregation
}

// MetricAggregator owns the aggregation state for one interned metric
// (spec.md §4.E "Topology"): a map from TimeSeriesIdentity to the
// per-series cell, keyed by the identity's cheap hash.
type MetricAggregator struct {
	mu  sync.Mutex
	ref shmfile.MetricRef

	cells map[uint64]*cellEntry
}

// NewMetricAggregator creates the aggregator for one interned metric
// definition. The aggregation kind and its configuration (temporality,
// monotonic flag, bucket boundaries, exponential-histogram sizing) are
// fixed for the aggregator's lifetime, taken from the MetricRef.
func NewMetricAggregator(ref shmfile.MetricRef) *MetricAggregator {
	return &MetricAggregator{ref: ref, cells: make(map[uint64]*cellEntry)}
}

func (a *MetricAggregator) newCell() Aggregation {
	switch a.ref.Aggregation {
	case shmfile.AggregationGauge:
		return &Gauge{}
	case shmfile.AggregationSum:
		return &Sum{Monotonic: a.ref.SumMonotonic, Temporality: a.ref.SumTemporality}
	case shmfile.AggregationHistogram:
		return &Histogram{Boundaries: a.ref.HistogramBoundaries, Temporality: a.ref.HistogramTemporality}
	case shmfile.AggregationExponentialHistogram:
		maxSize := a.ref.ExpHistMaxBuckets
		if maxSize <= 0 {
			maxSize = 160
		}
		return &ExpHistogram{MaxSize: maxSize, MaxScale: a.ref.ExpHistMaxScale, Temporality: a.ref.ExpHistTemporality}
	default:
		return nil
	}
}

// Record folds one measurement into the series identified by id. It is
// synchronous with ring-buffer consumption (spec.md §4.E "Ordering &
// delivery"): the single collector worker calls this directly, so the
// mutex here only guards against a future multi-worker export driver and
// is never contended in the documented topology.
func (a *MetricAggregator) Record(id TimeSeriesIdentity, asLong int64, asDouble float64, isDouble bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.cells[id.Key()]
	if !ok {
		cell := a.newCell()
		if cell == nil {
			return
		}
		entry = &cellEntry{id: id, cell: cell}
		a.cells[id.Key()] = entry
	}
	entry.cell.Record(asLong, asDouble, isDouble)
}

// Collect produces one data point per tracked series (spec.md §4.E
// "collect(t0, t1)"), called by the metric export pipeline on every
// report_interval. Delta-temporality cells reset their state as part of
// collection; cumulative cells do not.
func (a *MetricAggregator) Collect(ctx CollectionContext) []DataPoint {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]DataPoint, 0, len(a.cells))
	for _, entry := range a.cells {
		out = append(out, entry.cell.Collect(entry.id, ctx))
	}
	return out
}

// Ref returns the interned metric definition this aggregator was built
// from.
func (a *MetricAggregator) Ref() shmfile.MetricRef { return a.ref }

// Registry maps metric-ref dictionary offsets to their aggregator,
// created lazily the first time a Measurement references that offset.
type Registry struct {
	mu    sync.Mutex
	dict  *shmfile.Dictionary
	byRef map[int64]*MetricAggregator
}

// NewRegistry creates a registry resolving MetricRef entries through the
// given dictionary.
func NewRegistry(dict *shmfile.Dictionary) *Registry {
	return &Registry{dict: dict, byRef: make(map[int64]*MetricAggregator)}
}

// AggregatorFor returns the aggregator for the metric at metricRef,
// resolving and caching the MetricRef the first time it is seen.
func (r *Registry) AggregatorFor(metricRef int64) (*MetricAggregator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if agg, ok := r.byRef[metricRef]; ok {
		return agg, nil
	}

	raw, err := r.dict.ReadMessage(metricRef)
	if err != nil {
		return nil, err
	}
	ref, err := shmfile.UnmarshalMetricRef(raw)
	if err != nil {
		return nil, err
	}
	agg := NewMetricAggregator(ref)
	r.byRef[metricRef] = agg
	return agg, nil
}

// All returns every aggregator created so far, for the collection pass.
func (r *Registry) All() []*MetricAggregator {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*MetricAggregator, 0, len(r.byRef))
	for _, agg := range r.byRef {
		out = append(out, agg)
	}
	return out
}
