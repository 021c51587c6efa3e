package metric

import "github.com/ClusterCockpit/otlpshm/pkg/shmfile"

// Histogram is the explicit-bucket aggregation cell of spec.md §4.E.
// Boundaries partition the real line into len(Boundaries)+1 buckets;
// BucketCounts[i] counts values in (Boundaries[i-1], Boundaries[i]],
// with the first and last buckets open-ended.
//
// spec.md §9 open question 6 notes the source routes this kind's
// aggregation through the exponential-histogram code path, calling it a
// likely bug; this implementation keeps the two kinds separate
// (MetricAggregator.newCell builds a Histogram for this kind).
type Histogram struct {
	Boundaries  []float64
	Temporality shmfile.Temporality

	count   uint64
	sum     float64
	min     float64
	max     float64
	seen    bool
	buckets []uint64
}

func (h *Histogram) ensure() {
	if h.buckets == nil {
		h.buckets = make([]uint64, len(h.Boundaries)+1)
	}
}

func (h *Histogram) Record(asLong int64, asDouble float64, isDouble bool) {
	h.ensure()
	v := asDouble
	if !isDouble {
		v = float64(asLong)
	}
	h.count++
	h.sum += v
	if !h.seen || v < h.min {
		h.min = v
	}
	if !h.seen || v > h.max {
		h.max = v
	}
	h.seen = true

	idx := len(h.Boundaries)
	for i, b := range h.Boundaries {
		if v <= b {
			idx = i
			break
		}
	}
	h.buckets[idx]++
}

func (h *Histogram) Collect(id TimeSeriesIdentity, ctx CollectionContext) DataPoint {
	h.ensure()
	counts := make([]uint64, len(h.buckets))
	copy(counts, h.buckets)
	bounds := make([]float64, len(h.Boundaries))
	copy(bounds, h.Boundaries)

	dp := DataPoint{
		Kind:            shmfile.AggregationHistogram,
		Series:          id,
		StartUnixNano:   ctx.StartUnixNano,
		TimeUnixNano:    ctx.CurrentUnixNano,
		HistCount:       h.count,
		HistSum:         h.sum,
		HistMin:         h.min,
		HistMax:         h.max,
		HistBounds:      bounds,
		HistBucketCount: counts,
		HistTemporality: h.Temporality,
	}
	if h.Temporality == shmfile.TemporalityDelta {
		h.count = 0
		h.sum = 0
		h.seen = false
		for i := range h.buckets {
			h.buckets[i] = 0
		}
	}
	return dp
}
