// Package metric implements the per-metric, per-series aggregation state
// machine of spec.md §4.E: converting raw Measurement records into OTLP
// data points (gauge, sum, explicit-bucket histogram, exponential
// histogram), collected on the export pipeline's timer.
package metric

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/ClusterCockpit/otlpshm/pkg/shmfile"
)

func doubleBits(f float64) uint64 { return math.Float64bits(f) }

// Attribute is a single resolved (key, value) pair used to build a
// TimeSeriesIdentity. Values are compared by their encoded bytes, not
// deep-equal, so two AnyValues that encode identically compare equal.
type Attribute struct {
	Key   string
	Value shmfile.AnyValue
}

// TimeSeriesIdentity is the canonical attribute set that disambiguates one
// metric series from another (spec.md glossary). It is built by resolving
// a Measurement's attribute key/value refs through the dictionary and
// sorting by key; duplicate keys are kept as-is and are not deduplicated
// (spec.md §9 open question 3 — ordering is stable only because keys are
// sorted).
type TimeSeriesIdentity struct {
	attrs []Attribute
	hash  uint64
}

// NewTimeSeriesIdentity resolves the given attributes, sorts them by key,
// and computes a cheap hash for map-keying.
func NewTimeSeriesIdentity(dict *shmfile.Dictionary, kvs []shmfile.KeyValueRef) (TimeSeriesIdentity, error) {
	attrs := make([]Attribute, len(kvs))
	for i, kv := range kvs {
		key, err := dict.ReadString(kv.KeyRef)
		if err != nil {
			key = "<not found>"
		}
		val, err := shmfile.ResolveValueRef(dict, kv.Value)
		if err != nil {
			val = kv.Value
		}
		attrs[i] = Attribute{Key: key, Value: val}
	}
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].Key < attrs[j].Key })

	h := xxhash.New()
	for _, a := range attrs {
		_, _ = h.WriteString(a.Key)
		_, _ = h.Write([]byte{0})
		writeAnyValueHash(h, a.Value)
		_, _ = h.Write([]byte{0})
	}
	return TimeSeriesIdentity{attrs: attrs, hash: h.Sum64()}, nil
}

func writeAnyValueHash(h *xxhash.Digest, v shmfile.AnyValue) {
	var buf [9]byte
	buf[0] = byte(v.Kind)
	switch v.Kind {
	case shmfile.AnyValueString:
		_, _ = h.Write(buf[:1])
		_, _ = h.WriteString(v.Str)
	case shmfile.AnyValueBool:
		if v.Bool {
			buf[1] = 1
		}
		_, _ = h.Write(buf[:2])
	case shmfile.AnyValueInt:
		binary.LittleEndian.PutUint64(buf[1:9], uint64(v.Int))
		_, _ = h.Write(buf[:9])
	case shmfile.AnyValueDouble:
		binary.LittleEndian.PutUint64(buf[1:9], doubleBits(v.Double))
		_, _ = h.Write(buf[:9])
	case shmfile.AnyValueBytes:
		_, _ = h.Write(buf[:1])
		_, _ = h.Write(v.Bytes)
	default:
		_, _ = h.Write(v.Marshal())
	}
}

// Attributes returns the sorted, resolved attribute set.
func (t TimeSeriesIdentity) Attributes() []Attribute { return t.attrs }

// Key returns a value usable as a Go map key for this identity.
func (t TimeSeriesIdentity) Key() uint64 { return t.hash }
