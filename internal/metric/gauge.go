package metric

import "github.com/ClusterCockpit/otlpshm/pkg/shmfile"

// Gauge holds the last recorded value (spec.md §4.E): record overwrites,
// collect emits a single point at the collection timestamp.
type Gauge struct {
	value float64
	set   bool
}

func (g *Gauge) Record(asLong int64, asDouble float64, isDouble bool) {
	if isDouble {
		g.value = asDouble
	} else {
		g.value = float64(asLong)
	}
	g.set = true
}

func (g *Gauge) Collect(id TimeSeriesIdentity, ctx CollectionContext) DataPoint {
	return DataPoint{
		Kind:          shmfile.AggregationGauge,
		Series:        id,
		StartUnixNano: ctx.StartUnixNano,
		TimeUnixNano:  ctx.CurrentUnixNano,
		GaugeValue:    g.value,
	}
}

// Sum holds a running total (spec.md §4.E). Record always adds: the
// monotonic flag is carried through to the emitted data point but is not
// enforced against record (spec.md §9 open question 5 — the source
// ignores monotonic on record, and this implementation matches that).
// Collect resets the total only when Temporality is delta.
type Sum struct {
	Monotonic   bool
	Temporality shmfile.Temporality

	total float64
}

func (s *Sum) Record(asLong int64, asDouble float64, isDouble bool) {
	if isDouble {
		s.total += asDouble
	} else {
		s.total += float64(asLong)
	}
}

func (s *Sum) Collect(id TimeSeriesIdentity, ctx CollectionContext) DataPoint {
	dp := DataPoint{
		Kind:           shmfile.AggregationSum,
		Series:         id,
		StartUnixNano:  ctx.StartUnixNano,
		TimeUnixNano:   ctx.CurrentUnixNano,
		SumValue:       s.total,
		SumMonotonic:   s.Monotonic,
		SumTemporality: s.Temporality,
	}
	if s.Temporality == shmfile.TemporalityDelta {
		s.total = 0
	}
	return dp
}
