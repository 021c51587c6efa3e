package metric

import (
	"math"
	"sync"

	"github.com/ClusterCockpit/otlpshm/pkg/shmfile"
)

// expoMaxScale and expoMinScale bound the scale a bucket vector may be
// recorded at (spec.md §4.E step 4).
const (
	expoMaxScale int32 = 20
	expoMinScale int32 = -10
)

const log2E = 1.4426950408889634

var (
	scaleFactorsOnce sync.Once
	scaleFactors     [21]float64
)

// scaleFactor returns the constant used by getBin to turn a base-2
// exponent into a logarithm index at a given positive scale.
func scaleFactor(scale int32) float64 {
	scaleFactorsOnce.Do(func() {
		for i := range scaleFactors {
			scaleFactors[i] = log2E * math.Pow(2, float64(i))
		}
	})
	return scaleFactors[scale]
}

// expoBuckets is one sign's bucket vector: a run of counts starting at
// startBin, each index i holding the count for bin startBin+i.
type expoBuckets struct {
	startBin int32
	counts   []uint64
}

// record increments the count for bin, expanding the slice as needed.
// Size changes (downscale) must already have been applied by the caller.
func (b *expoBuckets) record(bin int32) {
	if len(b.counts) == 0 {
		b.counts = []uint64{1}
		b.startBin = bin
		return
	}

	endBin := b.startBin + int32(len(b.counts)) - 1

	if bin >= b.startBin && bin <= endBin {
		b.counts[bin-b.startBin]++
		return
	}

	if bin < b.startBin {
		newLen := endBin - bin + 1
		zeroes := make([]uint64, newLen)
		shift := b.startBin - bin
		copy(zeroes[shift:], b.counts)
		b.counts = zeroes
		b.counts[0] = 1
		b.startBin = bin
		return
	}

	// bin > endBin
	newLen := bin - b.startBin + 1
	grown := make([]uint64, newLen)
	copy(grown, b.counts)
	grown[newLen-1] = 1
	b.counts = grown
}

// downscale shrinks the bucket vector by a factor of 2^delta, summing
// counts into the correspondingly coarser bucket (spec.md §4.E "Bucket
// downscale by δ").
func (b *expoBuckets) downscale(delta uint32) {
	if len(b.counts) <= 1 || delta < 1 {
		b.startBin >>= delta
		return
	}

	steps := int32(1) << delta
	offset := b.startBin % steps
	offset = (offset + steps) % steps

	for i := 1; i < len(b.counts); i++ {
		idx := int32(i) + offset
		target := idx / steps
		if idx%steps == 0 {
			b.counts[target] = b.counts[i]
		} else {
			b.counts[target] += b.counts[i]
		}
	}

	lastIdx := (int32(len(b.counts)-1) + offset) / steps
	b.counts = b.counts[:lastIdx+1]
	b.startBin >>= delta
}

// scaleChange computes the minimum δ ≥ 0 such that inserting bin into a
// vector currently spanning [startBin, startBin+length-1] (length may be
// 0 for an empty vector) keeps the occupied span ≤ maxSize (spec.md §4.E
// step 4).
func scaleChange(maxSize int32, bin, startBin, length int32) uint32 {
	low := startBin
	high := startBin
	if length != 0 {
		low = min32(startBin, bin)
		high = max32(startBin+length-1, bin)
	} else {
		low = bin
		high = bin
	}

	var count uint32
	for high-low >= maxSize {
		low >>= 1
		high >>= 1
		count++
		if count > uint32(expoMaxScale-expoMinScale) {
			return count
		}
	}
	return count
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

// frexp breaks x into a normalized fraction in [0.5, 1) and a base-2
// exponent such that x == frac * 2^exp, matching the subnormal handling
// spec.md requires of get_bin (ground truth: the producer SDK's own
// frexp re-implementation, since host languages do not all expose one).
func frexp(x float64) (float64, int32) {
	f, e := math.Frexp(x)
	return f, int32(e)
}

// getBin computes the bucket index for |v| at the given scale (spec.md
// §4.E step 3): frexp-based for scale ≤ 0, scale-factor-table-based
// (natural log of the fraction) for scale > 0.
func getBin(v float64, scale int32) int32 {
	frac, exp := frexp(v)
	if scale <= 0 {
		c := int32(1)
		if frac == 0.5 {
			c = 2
		}
		return (exp - c) >> uint(-scale)
	}
	return int32(math.Ceil(math.Log(frac)*scaleFactor(scale))) + (exp << uint(scale)) - 1
}

// ExpHistogram is the exponential-histogram aggregation cell of spec.md
// §4.E, grounded on the producer SDK's Rust implementation (positive and
// negative bucket vectors, scale, zero-count, sum, min, max).
type ExpHistogram struct {
	MaxSize     int32
	MaxScale    int32
	Temporality shmfile.Temporality

	count      uint64
	sum        float64
	min        float64
	max        float64
	seen       bool
	zeroCount  uint64
	scale      int32
	scaleSet   bool
	pos        expoBuckets
	neg        expoBuckets
}

func (e *ExpHistogram) Record(asLong int64, asDouble float64, isDouble bool) {
	v := asDouble
	if !isDouble {
		v = float64(asLong)
	}
	if !e.scaleSet {
		e.scale = e.MaxScale
		e.scaleSet = true
	}

	prevMin, prevMax, prevSeen := e.min, e.max, e.seen
	e.count++
	e.sum += v
	if !e.seen || v < e.min {
		e.min = v
	}
	if !e.seen || v > e.max {
		e.max = v
	}
	e.seen = true

	if v == 0 {
		e.zeroCount++
		return
	}

	bucket := &e.pos
	abs := v
	if v < 0 {
		bucket = &e.neg
		abs = -v
	}

	bin := getBin(abs, e.scale)

	length := int32(len(bucket.counts))
	delta := scaleChange(e.MaxSize, bin, bucket.startBin, length)
	if delta > 0 {
		if e.scale-int32(delta) < expoMinScale {
			// Cannot fit even at the minimum scale; drop the measurement
			// (spec.md §4.E step 4).
			e.count--
			e.sum -= v
			e.min, e.max, e.seen = prevMin, prevMax, prevSeen
			return
		}
		e.pos.downscale(delta)
		e.neg.downscale(delta)
		e.scale -= int32(delta)
		bin = getBin(abs, e.scale)
	}

	bucket.record(bin)
}

func (e *ExpHistogram) Collect(id TimeSeriesIdentity, ctx CollectionContext) DataPoint {
	posCounts := make([]uint64, len(e.pos.counts))
	copy(posCounts, e.pos.counts)
	negCounts := make([]uint64, len(e.neg.counts))
	copy(negCounts, e.neg.counts)

	dp := DataPoint{
		Kind:           shmfile.AggregationExponentialHistogram,
		Series:         id,
		StartUnixNano:  ctx.StartUnixNano,
		TimeUnixNano:   ctx.CurrentUnixNano,
		HistCount:      e.count,
		HistSum:        e.sum,
		HistMin:        e.min,
		HistMax:        e.max,
		ExpScale:       e.scale,
		ExpZeroCount:   e.zeroCount,
		ExpPosOffset:   e.pos.startBin,
		ExpPosCounts:   posCounts,
		ExpNegOffset:   e.neg.startBin,
		ExpNegCounts:   negCounts,
		ExpTemporality: e.Temporality,
	}
	if e.Temporality == shmfile.TemporalityDelta {
		e.count, e.sum, e.seen, e.zeroCount = 0, 0, false, 0
		e.scale = e.MaxScale
		e.pos = expoBuckets{}
		e.neg = expoBuckets{}
	}
	return dp
}
