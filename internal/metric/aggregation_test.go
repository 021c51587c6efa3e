package metric

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ClusterCockpit/otlpshm/pkg/shmfile"
)

func TestGaugeOverwritesAndEmitsOnePoint(t *testing.T) {
	g := &Gauge{}
	g.Record(0, 1.5, true)
	g.Record(0, 2.5, true)
	dp := g.Collect(TimeSeriesIdentity{}, CollectionContext{CurrentUnixNano: 10})
	assert.Equal(t, 2.5, dp.GaugeValue)
	assert.Equal(t, uint64(10), dp.TimeUnixNano)
}

func TestSumCumulativeDoesNotReset(t *testing.T) {
	s := &Sum{Temporality: shmfile.TemporalityCumulative}
	s.Record(0, 1, true)
	s.Record(0, 2, true)
	dp1 := s.Collect(TimeSeriesIdentity{}, CollectionContext{})
	assert.Equal(t, 3.0, dp1.SumValue)
	dp2 := s.Collect(TimeSeriesIdentity{}, CollectionContext{})
	assert.Equal(t, 3.0, dp2.SumValue)
}

func TestSumDeltaResetsAfterCollect(t *testing.T) {
	s := &Sum{Temporality: shmfile.TemporalityDelta}
	s.Record(0, 5, true)
	dp1 := s.Collect(TimeSeriesIdentity{}, CollectionContext{})
	assert.Equal(t, 5.0, dp1.SumValue)
	dp2 := s.Collect(TimeSeriesIdentity{}, CollectionContext{})
	assert.Equal(t, 0.0, dp2.SumValue)
}

func TestHistogramClassifiesIntoBuckets(t *testing.T) {
	h := &Histogram{Boundaries: []float64{1, 5, 10}}
	for _, v := range []float64{0.5, 1, 4, 5, 7, 11} {
		h.Record(0, v, true)
	}
	dp := h.Collect(TimeSeriesIdentity{}, CollectionContext{})
	assert.EqualValues(t, 6, dp.HistCount)
	assert.Equal(t, []uint64{2, 2, 1, 1}, dp.HistBucketCount)
	assert.Equal(t, 0.5, dp.HistMin)
	assert.Equal(t, 11.0, dp.HistMax)
}

func TestTimeSeriesIdentitySortsByKeyAndHashIsOrderIndependent(t *testing.T) {
	f, err := shmfile.Create(t.TempDir()+"/t.shm", shmfile.Sizing{
		EventsCapacity: 2, EventsSlotSize: 64,
		SpansCapacity: 2, SpansSlotSize: 64,
		MeasurementsCapacity: 2, MeasurementsSlotSize: 64,
	}, 1)
	assert.NoError(t, err)

	bRef, err := f.Dictionary.AppendString("b")
	assert.NoError(t, err)
	aRef, err := f.Dictionary.AppendString("a")
	assert.NoError(t, err)

	kvsInOrder := []shmfile.KeyValueRef{
		{KeyRef: aRef, Value: shmfile.AnyValue{Kind: shmfile.AnyValueInt, Int: 1}},
		{KeyRef: bRef, Value: shmfile.AnyValue{Kind: shmfile.AnyValueInt, Int: 2}},
	}
	kvsReversed := []shmfile.KeyValueRef{
		{KeyRef: bRef, Value: shmfile.AnyValue{Kind: shmfile.AnyValueInt, Int: 2}},
		{KeyRef: aRef, Value: shmfile.AnyValue{Kind: shmfile.AnyValueInt, Int: 1}},
	}

	id1, err := NewTimeSeriesIdentity(f.Dictionary, kvsInOrder)
	assert.NoError(t, err)
	id2, err := NewTimeSeriesIdentity(f.Dictionary, kvsReversed)
	assert.NoError(t, err)

	assert.Equal(t, "a", id1.Attributes()[0].Key)
	assert.Equal(t, "b", id1.Attributes()[1].Key)
	assert.Equal(t, id1.Key(), id2.Key())
}
