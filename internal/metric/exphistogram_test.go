package metric

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ClusterCockpit/otlpshm/pkg/shmfile"
)

func TestExpHistogramSubnormal(t *testing.T) {
	h := &ExpHistogram{MaxSize: 4, MaxScale: 20}
	minPositive := math.Ldexp(1, -1022) // smallest normal float64
	for i := 0; i < 3; i++ {
		h.Record(0, minPositive, true)
	}
	dp := h.Collect(TimeSeriesIdentity{}, CollectionContext{})
	assert.Equal(t, int32(-1071644673), dp.ExpPosOffset)
	assert.Equal(t, []uint64{3}, dp.ExpPosCounts)
	assert.Equal(t, int32(20), dp.ExpScale)
}

func TestExpHistogramLargeValue(t *testing.T) {
	h := &ExpHistogram{MaxSize: 4, MaxScale: 20}
	h.Record(0, math.MaxFloat64, true)
	dp := h.Collect(TimeSeriesIdentity{}, CollectionContext{})
	assert.Equal(t, int32(1073741823), dp.ExpPosOffset)
}

func TestExpHistogramBoundIsRespected(t *testing.T) {
	h := &ExpHistogram{MaxSize: 4, MaxScale: 20}
	for i := 1; i <= 1000; i++ {
		h.Record(0, float64(i), true)
	}
	dp := h.Collect(TimeSeriesIdentity{}, CollectionContext{})
	span := int32(len(dp.ExpPosCounts))
	assert.LessOrEqual(t, span, int32(4))
}

func TestExpHistogramDownscaleEquivalence(t *testing.T) {
	values := []float64{2.0, 2.0, 2.0, 1.0, 8.0, 0.5, 3.3, 17.0, 0.01}

	hi := &ExpHistogram{MaxSize: 4, MaxScale: 10}
	for _, v := range values {
		hi.Record(0, v, true)
	}
	dpHi := hi.Collect(TimeSeriesIdentity{}, CollectionContext{})

	lo := &ExpHistogram{MaxSize: 4, MaxScale: 4}
	for _, v := range values {
		lo.Record(0, v, true)
	}
	dpLo := lo.Collect(TimeSeriesIdentity{}, CollectionContext{})

	downscaled := &expoBuckets{startBin: dpHi.ExpPosOffset, counts: append([]uint64(nil), dpHi.ExpPosCounts...)}
	downscaled.downscale(uint32(dpHi.ExpScale - dpLo.ExpScale))

	assert.Equal(t, dpLo.ExpPosOffset, downscaled.startBin)
	assert.Equal(t, dpLo.ExpPosCounts, downscaled.counts)
}

func TestMetricAggregationScenarioS5(t *testing.T) {
	ref := shmfile.MetricRef{
		Aggregation:        shmfile.AggregationExponentialHistogram,
		ExpHistMaxBuckets:  4,
		ExpHistMaxScale:    20,
		ExpHistTemporality: shmfile.TemporalityCumulative,
	}
	agg := NewMetricAggregator(ref)
	id := TimeSeriesIdentity{}
	for _, v := range []float64{2.0, 2.0, 2.0, 1.0, 8.0, 0.5} {
		agg.Record(id, 0, v, true)
	}
	dps := agg.Collect(CollectionContext{})
	assert.Len(t, dps, 1)
	dp := dps[0]
	assert.EqualValues(t, 6, dp.HistCount)
	assert.Equal(t, 15.5, dp.HistSum)
	assert.Equal(t, int32(-1), dp.ExpScale)
	assert.Equal(t, int32(-1), dp.ExpPosOffset)
	assert.Equal(t, []uint64{2, 3, 1}, dp.ExpPosCounts)
}
