package metric

import "github.com/ClusterCockpit/otlpshm/pkg/shmfile"

// CollectionContext supplies the two timestamps an aggregation needs to
// emit a data point (spec.md §4.E "Collection context"): the file's
// producer start-time (used as the cumulative start) and the moment
// collection runs.
type CollectionContext struct {
	StartUnixNano   uint64
	CurrentUnixNano uint64
}

// DataPoint is the emitted result of one aggregation cell's collect call.
// Exactly one of the typed fields is meaningful, selected by Kind.
type DataPoint struct {
	Kind   shmfile.AggregationKind
	Series TimeSeriesIdentity

	StartUnixNano uint64
	TimeUnixNano  uint64

	GaugeValue float64

	SumValue      float64
	SumMonotonic  bool
	SumTemporality shmfile.Temporality

	HistCount       uint64
	HistSum         float64
	HistMin         float64
	HistMax         float64
	HistBounds      []float64
	HistBucketCount []uint64
	HistTemporality shmfile.Temporality

	ExpScale      int32
	ExpZeroCount  uint64
	ExpPosOffset  int32
	ExpPosCounts  []uint64
	ExpNegOffset  int32
	ExpNegCounts  []uint64
	ExpTemporality shmfile.Temporality
}

// ScalarValue collapses a DataPoint to a single representative number for
// sinks (like line protocol) that have no native notion of buckets: the
// gauge/sum value, or the mean of a histogram's sum/count.
func (dp DataPoint) ScalarValue() float64 {
	switch dp.Kind {
	case shmfile.AggregationGauge:
		return dp.GaugeValue
	case shmfile.AggregationSum:
		return dp.SumValue
	case shmfile.AggregationHistogram, shmfile.AggregationExponentialHistogram:
		if dp.HistCount == 0 {
			return 0
		}
		return dp.HistSum / float64(dp.HistCount)
	default:
		return 0
	}
}

// Aggregation is the sum type over the four cell kinds described in
// spec.md §4.E, realized as an interface satisfied by four concrete cell
// types (Gauge, Sum, Histogram, ExpHistogram). MetricAggregator picks the
// concrete type once per series from the MetricRef's aggregation kind;
// Record on each of them does not allocate.
type Aggregation interface {
	// Record folds one measurement into the cell's state.
	Record(asLong int64, asDouble float64, isDouble bool)
	// Collect produces the OTLP-shaped data point for the current state,
	// and resets internal state if the configured temporality is delta.
	Collect(id TimeSeriesIdentity, ctx CollectionContext) DataPoint
}
