// This file implements the dictionary value shapes and ring-buffer record
// kinds of spec.md §3.4/§3.5 as hand-written protowire codecs: no .proto
// files or generated stubs, just field-tagged varint/fixed64/bytes framing
// via google.golang.org/protobuf/encoding/protowire, in the spirit of real
// OTLP wire messages without carrying a full protobuf-generated surface.
package shmfile

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// AnyValueKind tags the union described in spec.md §3.5.
type AnyValueKind uint8

const (
	AnyValueString AnyValueKind = iota
	AnyValueBool
	AnyValueInt
	AnyValueDouble
	AnyValueBytes
	AnyValueArray
	AnyValueKVList
	AnyValueRef // value-ref: offset to another AnyValue entry in the dictionary
)

// maxValueRefDepth bounds AnyValue.ValueRef chain resolution to guard
// against cycles induced by a malicious or buggy producer (spec.md §9
// "Cyclic references").
const maxValueRefDepth = 16

// AnyValue is the tagged union of spec.md §3.5.
type AnyValue struct {
	Kind     AnyValueKind
	Str      string
	Bool     bool
	Int      int64
	Double   float64
	Bytes    []byte
	Array    []AnyValue
	KVList   []KeyValueRef
	ValueRef int64
}

// KeyValueRef pairs a dictionary string offset (the key) with an AnyValue.
type KeyValueRef struct {
	KeyRef int64
	Value  AnyValue
}

// Resource is an interned set of resource attributes (spec.md §3.5).
type Resource struct {
	Attributes             []KeyValueRef
	DroppedAttributesCount uint32
}

// InstrumentationScope is an interned scope, referencing its owning
// resource by dictionary offset.
type InstrumentationScope struct {
	NameRef                 int64
	VersionRef              int64
	Attributes              []KeyValueRef
	DroppedAttributesCount  uint32
	ResourceRef             int64
}

// Temporality mirrors OTLP's cumulative/delta distinction.
type Temporality int32

const (
	TemporalityUnspecified Temporality = iota
	TemporalityDelta
	TemporalityCumulative
)

// AggregationKind tags the Aggregation one-of in MetricRef.
type AggregationKind uint8

const (
	AggregationNone AggregationKind = iota
	AggregationGauge
	AggregationSum
	AggregationHistogram
	AggregationExponentialHistogram
)

// MetricRef is the interned metric definition of spec.md §3.5.
type MetricRef struct {
	Name        string
	Description string
	Unit        string
	ScopeRef    int64

	Aggregation AggregationKind

	// Sum
	SumTemporality Temporality
	SumMonotonic   bool

	// Histogram (explicit bucket)
	HistogramTemporality Temporality
	HistogramBoundaries  []float64

	// ExponentialHistogram
	ExpHistTemporality Temporality
	ExpHistMaxBuckets  int32
	ExpHistMaxScale    int32
}

// --- protowire field numbers ---
//
// Numbers are chosen per-type, starting at 1, matching the field order in
// spec.md §3.5/§3.4. They only need to be stable within one build of this
// module; the dictionary does not promise cross-version compatibility
// (spec.md treats version as a whole-file compatibility gate, §4.A).
const (
	fAnyValueKind   = 1
	fAnyValueStr    = 2
	fAnyValueBool   = 3
	fAnyValueInt    = 4
	fAnyValueDouble = 5
	fAnyValueBytes  = 6
	fAnyValueArray  = 7
	fAnyValueKVList = 8
	fAnyValueRef    = 9

	fKVKeyRef = 1
	fKVValue  = 2

	fResourceAttrs   = 1
	fResourceDropped = 2

	fScopeNameRef    = 1
	fScopeVersionRef = 2
	fScopeAttrs      = 3
	fScopeDropped    = 4
	fScopeResRef     = 5

	fMetricName        = 1
	fMetricDescription = 2
	fMetricUnit        = 3
	fMetricScopeRef    = 4
	fMetricAggKind     = 5
	fMetricSumTempo    = 6
	fMetricSumMono     = 7
	fMetricHistTempo   = 8
	fMetricHistBounds  = 9
	fMetricExpTempo    = 10
	fMetricExpMaxBkt   = 11
	fMetricExpMaxScale = 12
)

func appendAnyValue(b []byte, v AnyValue) []byte {
	b = protowire.AppendTag(b, fAnyValueKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v.Kind))
	switch v.Kind {
	case AnyValueString:
		b = protowire.AppendTag(b, fAnyValueStr, protowire.BytesType)
		b = protowire.AppendString(b, v.Str)
	case AnyValueBool:
		b = protowire.AppendTag(b, fAnyValueBool, protowire.VarintType)
		bit := uint64(0)
		if v.Bool {
			bit = 1
		}
		b = protowire.AppendVarint(b, bit)
	case AnyValueInt:
		b = protowire.AppendTag(b, fAnyValueInt, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.Int))
	case AnyValueDouble:
		b = protowire.AppendTag(b, fAnyValueDouble, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, float64bits(v.Double))
	case AnyValueBytes:
		b = protowire.AppendTag(b, fAnyValueBytes, protowire.BytesType)
		b = protowire.AppendBytes(b, v.Bytes)
	case AnyValueArray:
		for _, el := range v.Array {
			b = protowire.AppendTag(b, fAnyValueArray, protowire.BytesType)
			b = protowire.AppendBytes(b, appendAnyValue(nil, el))
		}
	case AnyValueKVList:
		for _, kv := range v.KVList {
			b = protowire.AppendTag(b, fAnyValueKVList, protowire.BytesType)
			b = protowire.AppendBytes(b, appendKeyValueRef(nil, kv))
		}
	case AnyValueRef:
		b = protowire.AppendTag(b, fAnyValueRef, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.ValueRef))
	}
	return b
}

func consumeAnyValue(b []byte) (AnyValue, error) {
	var v AnyValue
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return v, ErrDecode
		}
		b = b[n:]
		switch num {
		case fAnyValueKind:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return v, ErrDecode
			}
			v.Kind = AnyValueKind(val)
			b = b[n:]
		case fAnyValueStr:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return v, ErrDecode
			}
			v.Str = s
			b = b[n:]
		case fAnyValueBool:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return v, ErrDecode
			}
			v.Bool = val != 0
			b = b[n:]
		case fAnyValueInt:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return v, ErrDecode
			}
			v.Int = int64(val)
			b = b[n:]
		case fAnyValueDouble:
			val, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return v, ErrDecode
			}
			v.Double = float64frombits(val)
			b = b[n:]
		case fAnyValueBytes:
			bs, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return v, ErrDecode
			}
			v.Bytes = append([]byte(nil), bs...)
			b = b[n:]
		case fAnyValueArray:
			bs, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return v, ErrDecode
			}
			el, err := consumeAnyValue(bs)
			if err != nil {
				return v, err
			}
			v.Array = append(v.Array, el)
			b = b[n:]
		case fAnyValueKVList:
			bs, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return v, ErrDecode
			}
			kv, err := consumeKeyValueRef(bs)
			if err != nil {
				return v, err
			}
			v.KVList = append(v.KVList, kv)
			b = b[n:]
		case fAnyValueRef:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return v, ErrDecode
			}
			v.ValueRef = int64(val)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return v, ErrDecode
			}
			b = b[n:]
		}
	}
	return v, nil
}

func appendKeyValueRef(b []byte, kv KeyValueRef) []byte {
	b = protowire.AppendTag(b, fKVKeyRef, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(kv.KeyRef))
	b = protowire.AppendTag(b, fKVValue, protowire.BytesType)
	b = protowire.AppendBytes(b, appendAnyValue(nil, kv.Value))
	return b
}

func consumeKeyValueRef(b []byte) (KeyValueRef, error) {
	var kv KeyValueRef
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return kv, ErrDecode
		}
		b = b[n:]
		switch num {
		case fKVKeyRef:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return kv, ErrDecode
			}
			kv.KeyRef = int64(val)
			b = b[n:]
		case fKVValue:
			bs, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return kv, ErrDecode
			}
			v, err := consumeAnyValue(bs)
			if err != nil {
				return kv, err
			}
			kv.Value = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return kv, ErrDecode
			}
			b = b[n:]
		}
	}
	return kv, nil
}

// Marshal encodes an AnyValue for dictionary storage.
func (v AnyValue) Marshal() []byte { return appendAnyValue(nil, v) }

// UnmarshalAnyValue decodes an AnyValue dictionary entry.
func UnmarshalAnyValue(b []byte) (AnyValue, error) { return consumeAnyValue(b) }

// Marshal encodes a Resource for dictionary storage.
func (r Resource) Marshal() []byte {
	var b []byte
	for _, kv := range r.Attributes {
		b = protowire.AppendTag(b, fResourceAttrs, protowire.BytesType)
		b = protowire.AppendBytes(b, appendKeyValueRef(nil, kv))
	}
	if r.DroppedAttributesCount != 0 {
		b = protowire.AppendTag(b, fResourceDropped, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.DroppedAttributesCount))
	}
	return b
}

// UnmarshalResource decodes a Resource dictionary entry.
func UnmarshalResource(b []byte) (Resource, error) {
	var r Resource
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, ErrDecode
		}
		b = b[n:]
		switch num {
		case fResourceAttrs:
			bs, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return r, ErrDecode
			}
			kv, err := consumeKeyValueRef(bs)
			if err != nil {
				return r, err
			}
			r.Attributes = append(r.Attributes, kv)
			b = b[n:]
		case fResourceDropped:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, ErrDecode
			}
			r.DroppedAttributesCount = uint32(val)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, ErrDecode
			}
			b = b[n:]
		}
	}
	return r, nil
}

// Marshal encodes an InstrumentationScope for dictionary storage.
func (s InstrumentationScope) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fScopeNameRef, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.NameRef))
	b = protowire.AppendTag(b, fScopeVersionRef, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.VersionRef))
	for _, kv := range s.Attributes {
		b = protowire.AppendTag(b, fScopeAttrs, protowire.BytesType)
		b = protowire.AppendBytes(b, appendKeyValueRef(nil, kv))
	}
	if s.DroppedAttributesCount != 0 {
		b = protowire.AppendTag(b, fScopeDropped, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(s.DroppedAttributesCount))
	}
	b = protowire.AppendTag(b, fScopeResRef, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.ResourceRef))
	return b
}

// UnmarshalInstrumentationScope decodes an InstrumentationScope entry.
func UnmarshalInstrumentationScope(b []byte) (InstrumentationScope, error) {
	var s InstrumentationScope
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return s, ErrDecode
		}
		b = b[n:]
		switch num {
		case fScopeNameRef:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return s, ErrDecode
			}
			s.NameRef = int64(val)
			b = b[n:]
		case fScopeVersionRef:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return s, ErrDecode
			}
			s.VersionRef = int64(val)
			b = b[n:]
		case fScopeAttrs:
			bs, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return s, ErrDecode
			}
			kv, err := consumeKeyValueRef(bs)
			if err != nil {
				return s, err
			}
			s.Attributes = append(s.Attributes, kv)
			b = b[n:]
		case fScopeDropped:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return s, ErrDecode
			}
			s.DroppedAttributesCount = uint32(val)
			b = b[n:]
		case fScopeResRef:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return s, ErrDecode
			}
			s.ResourceRef = int64(val)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return s, ErrDecode
			}
			b = b[n:]
		}
	}
	return s, nil
}

// Marshal encodes a MetricRef for dictionary storage.
func (m MetricRef) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fMetricName, protowire.BytesType)
	b = protowire.AppendString(b, m.Name)
	b = protowire.AppendTag(b, fMetricDescription, protowire.BytesType)
	b = protowire.AppendString(b, m.Description)
	b = protowire.AppendTag(b, fMetricUnit, protowire.BytesType)
	b = protowire.AppendString(b, m.Unit)
	b = protowire.AppendTag(b, fMetricScopeRef, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.ScopeRef))
	b = protowire.AppendTag(b, fMetricAggKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Aggregation))

	switch m.Aggregation {
	case AggregationSum:
		b = protowire.AppendTag(b, fMetricSumTempo, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.SumTemporality))
		b = protowire.AppendTag(b, fMetricSumMono, protowire.VarintType)
		mono := uint64(0)
		if m.SumMonotonic {
			mono = 1
		}
		b = protowire.AppendVarint(b, mono)
	case AggregationHistogram:
		b = protowire.AppendTag(b, fMetricHistTempo, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.HistogramTemporality))
		for _, bound := range m.HistogramBoundaries {
			b = protowire.AppendTag(b, fMetricHistBounds, protowire.Fixed64Type)
			b = protowire.AppendFixed64(b, float64bits(bound))
		}
	case AggregationExponentialHistogram:
		b = protowire.AppendTag(b, fMetricExpTempo, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.ExpHistTemporality))
		b = protowire.AppendTag(b, fMetricExpMaxBkt, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.ExpHistMaxBuckets))
		b = protowire.AppendTag(b, fMetricExpMaxScale, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(m.ExpHistMaxScale)))
	}
	return b
}

// UnmarshalMetricRef decodes a MetricRef dictionary entry.
func UnmarshalMetricRef(b []byte) (MetricRef, error) {
	var m MetricRef
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, ErrDecode
		}
		b = b[n:]
		switch num {
		case fMetricName:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return m, ErrDecode
			}
			m.Name = s
			b = b[n:]
		case fMetricDescription:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return m, ErrDecode
			}
			m.Description = s
			b = b[n:]
		case fMetricUnit:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return m, ErrDecode
			}
			m.Unit = s
			b = b[n:]
		case fMetricScopeRef:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, ErrDecode
			}
			m.ScopeRef = int64(val)
			b = b[n:]
		case fMetricAggKind:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, ErrDecode
			}
			m.Aggregation = AggregationKind(val)
			b = b[n:]
		case fMetricSumTempo:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, ErrDecode
			}
			m.SumTemporality = Temporality(val)
			b = b[n:]
		case fMetricSumMono:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, ErrDecode
			}
			m.SumMonotonic = val != 0
			b = b[n:]
		case fMetricHistTempo:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, ErrDecode
			}
			m.HistogramTemporality = Temporality(val)
			b = b[n:]
		case fMetricHistBounds:
			val, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return m, ErrDecode
			}
			m.HistogramBoundaries = append(m.HistogramBoundaries, float64frombits(val))
			b = b[n:]
		case fMetricExpTempo:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, ErrDecode
			}
			m.ExpHistTemporality = Temporality(val)
			b = b[n:]
		case fMetricExpMaxBkt:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, ErrDecode
			}
			m.ExpHistMaxBuckets = int32(val)
			b = b[n:]
		case fMetricExpMaxScale:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, ErrDecode
			}
			m.ExpHistMaxScale = int32(uint32(val))
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, ErrDecode
			}
			b = b[n:]
		}
	}
	return m, nil
}


// ResolveValueRef follows an AnyValue's value-ref chain through the
// dictionary, bounded to maxValueRefDepth hops (spec.md §9).
func ResolveValueRef(dict *Dictionary, v AnyValue) (AnyValue, error) {
	depth := 0
	for v.Kind == AnyValueRef {
		depth++
		if depth > maxValueRefDepth {
			return AnyValue{}, fmt.Errorf("shmfile: value-ref chain exceeds depth %d", maxValueRefDepth)
		}
		b, err := dict.ReadMessage(v.ValueRef)
		if err != nil {
			return AnyValue{}, err
		}
		next, err := UnmarshalAnyValue(b)
		if err != nil {
			return AnyValue{}, err
		}
		v = next
	}
	return v, nil
}
