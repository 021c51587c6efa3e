// This file implements the three ring-buffer record kinds of spec.md §3.4:
// Event (log record), SpanEvent (one of Start/Name/Attributes/Link/End),
// and Measurement. Like records.go, these are hand-written protowire
// codecs; there is no .proto source and no generated stub.
package shmfile

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// SpanEventKind tags the one-of carried by a SpanEvent (spec.md §3.4).
type SpanEventKind uint8

const (
	SpanEventStart SpanEventKind = iota
	SpanEventName
	SpanEventAttributes
	SpanEventLink
	SpanEventEnd
)

// Status mirrors OTLP's span status (code + message).
type Status struct {
	Code    int32
	Message string
}

// Event is a log record (spec.md §3.4): scope-ref, timestamp, severity,
// body, attributes, event-name-ref, and an optional SpanContext linking
// the log line back to the span it was emitted from.
type Event struct {
	ScopeRef       int64
	TimeUnixNano   uint64
	SeverityNumber int32
	SeverityText   string
	Body           AnyValue
	Attributes     []KeyValueRef
	EventNameRef   int64

	HasSpanContext bool
	TraceID        [16]byte
	SpanID         [8]byte
}

// SpanEvent is one partial-span transition (spec.md §3.4/§4.D): a
// (trace-id, span-id) keyed Start, Name, Attributes, Link, or End event.
// Only the fields relevant to Kind are populated.
type SpanEvent struct {
	TraceID  [16]byte
	SpanID   [8]byte
	ScopeRef int64
	Kind     SpanEventKind

	// Start
	Name          string
	SpanKind      int32
	StartUnixNano uint64

	// Name (reuses Name above)

	// Attributes (reuses Attributes below)
	Attributes []KeyValueRef

	// Link
	LinkTraceID [16]byte
	LinkSpanID  [8]byte

	// End
	EndUnixNano uint64
	Status      Status
	HasStatus   bool
}

// MeasurementValueKind tags Measurement.Value's one-of.
type MeasurementValueKind uint8

const (
	MeasurementAsLong MeasurementValueKind = iota
	MeasurementAsDouble
)

// Measurement is a single raw metric observation (spec.md §3.4): a
// metric-ref, its attribute set, a timestamp, an optional SpanContext
// (exemplar linkage), and a long or double value.
type Measurement struct {
	MetricRef    int64
	Attributes   []KeyValueRef
	TimeUnixNano uint64

	HasSpanContext bool
	TraceID        [16]byte
	SpanID         [8]byte

	ValueKind MeasurementValueKind
	AsLong    int64
	AsDouble  float64
}

const (
	fEventScopeRef     = 1
	fEventTime         = 2
	fEventSeverityNum  = 3
	fEventSeverityText = 4
	fEventBody         = 5
	fEventAttr         = 6
	fEventNameRef      = 7
	fEventTraceID      = 8
	fEventSpanID       = 9

	fSpanEventTraceID  = 1
	fSpanEventSpanID   = 2
	fSpanEventScopeRef = 3
	fSpanEventKind     = 4
	fSpanEventName     = 5
	fSpanEventSpanKind = 6
	fSpanEventStart    = 7
	fSpanEventAttr     = 8
	fSpanEventLinkTID  = 9
	fSpanEventLinkSID  = 10
	fSpanEventEnd      = 11
	fSpanEventStatCode = 12
	fSpanEventStatMsg  = 13

	fMeasMetricRef = 1
	fMeasAttr      = 2
	fMeasTime      = 3
	fMeasTraceID   = 4
	fMeasSpanID    = 5
	fMeasAsLong    = 6
	fMeasAsDouble  = 7
)

// Marshal encodes an Event for ring-buffer publication.
func (e Event) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fEventScopeRef, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.ScopeRef))
	b = protowire.AppendTag(b, fEventTime, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, e.TimeUnixNano)
	b = protowire.AppendTag(b, fEventSeverityNum, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(uint32(e.SeverityNumber)))
	if e.SeverityText != "" {
		b = protowire.AppendTag(b, fEventSeverityText, protowire.BytesType)
		b = protowire.AppendString(b, e.SeverityText)
	}
	b = protowire.AppendTag(b, fEventBody, protowire.BytesType)
	b = protowire.AppendBytes(b, appendAnyValue(nil, e.Body))
	for _, kv := range e.Attributes {
		b = protowire.AppendTag(b, fEventAttr, protowire.BytesType)
		b = protowire.AppendBytes(b, appendKeyValueRef(nil, kv))
	}
	if e.EventNameRef != 0 {
		b = protowire.AppendTag(b, fEventNameRef, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.EventNameRef))
	}
	if e.HasSpanContext {
		b = protowire.AppendTag(b, fEventTraceID, protowire.BytesType)
		b = protowire.AppendBytes(b, e.TraceID[:])
		b = protowire.AppendTag(b, fEventSpanID, protowire.BytesType)
		b = protowire.AppendBytes(b, e.SpanID[:])
	}
	return b
}

// UnmarshalEvent decodes an Event from ring-buffer bytes.
func UnmarshalEvent(b []byte) (Event, error) {
	var e Event
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return e, ErrDecode
		}
		b = b[n:]
		switch num {
		case fEventScopeRef:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return e, ErrDecode
			}
			e.ScopeRef = int64(v)
			b = b[n:]
		case fEventTime:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return e, ErrDecode
			}
			e.TimeUnixNano = v
			b = b[n:]
		case fEventSeverityNum:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return e, ErrDecode
			}
			e.SeverityNumber = int32(uint32(v))
			b = b[n:]
		case fEventSeverityText:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return e, ErrDecode
			}
			e.SeverityText = v
			b = b[n:]
		case fEventBody:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return e, ErrDecode
			}
			body, err := consumeAnyValue(v)
			if err != nil {
				return e, err
			}
			e.Body = body
			b = b[n:]
		case fEventAttr:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return e, ErrDecode
			}
			kv, err := consumeKeyValueRef(v)
			if err != nil {
				return e, err
			}
			e.Attributes = append(e.Attributes, kv)
			b = b[n:]
		case fEventNameRef:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return e, ErrDecode
			}
			e.EventNameRef = int64(v)
			b = b[n:]
		case fEventTraceID:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 || len(v) != 16 {
				return e, ErrDecode
			}
			e.HasSpanContext = true
			copy(e.TraceID[:], v)
			b = b[n:]
		case fEventSpanID:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 || len(v) != 8 {
				return e, ErrDecode
			}
			copy(e.SpanID[:], v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return e, ErrDecode
			}
			b = b[n:]
		}
	}
	return e, nil
}

// Marshal encodes a SpanEvent for ring-buffer publication.
func (s SpanEvent) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fSpanEventTraceID, protowire.BytesType)
	b = protowire.AppendBytes(b, s.TraceID[:])
	b = protowire.AppendTag(b, fSpanEventSpanID, protowire.BytesType)
	b = protowire.AppendBytes(b, s.SpanID[:])
	b = protowire.AppendTag(b, fSpanEventScopeRef, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.ScopeRef))
	b = protowire.AppendTag(b, fSpanEventKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Kind))

	switch s.Kind {
	case SpanEventStart:
		b = protowire.AppendTag(b, fSpanEventName, protowire.BytesType)
		b = protowire.AppendString(b, s.Name)
		b = protowire.AppendTag(b, fSpanEventSpanKind, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(s.SpanKind)))
		b = protowire.AppendTag(b, fSpanEventStart, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, s.StartUnixNano)
	case SpanEventName:
		b = protowire.AppendTag(b, fSpanEventName, protowire.BytesType)
		b = protowire.AppendString(b, s.Name)
	case SpanEventAttributes:
		for _, kv := range s.Attributes {
			b = protowire.AppendTag(b, fSpanEventAttr, protowire.BytesType)
			b = protowire.AppendBytes(b, appendKeyValueRef(nil, kv))
		}
	case SpanEventLink:
		b = protowire.AppendTag(b, fSpanEventLinkTID, protowire.BytesType)
		b = protowire.AppendBytes(b, s.LinkTraceID[:])
		b = protowire.AppendTag(b, fSpanEventLinkSID, protowire.BytesType)
		b = protowire.AppendBytes(b, s.LinkSpanID[:])
	case SpanEventEnd:
		b = protowire.AppendTag(b, fSpanEventEnd, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, s.EndUnixNano)
		if s.HasStatus {
			b = protowire.AppendTag(b, fSpanEventStatCode, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(uint32(s.Status.Code)))
			b = protowire.AppendTag(b, fSpanEventStatMsg, protowire.BytesType)
			b = protowire.AppendString(b, s.Status.Message)
		}
	}
	return b
}

// UnmarshalSpanEvent decodes a SpanEvent from ring-buffer bytes.
func UnmarshalSpanEvent(b []byte) (SpanEvent, error) {
	var s SpanEvent
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return s, ErrDecode
		}
		b = b[n:]
		switch num {
		case fSpanEventTraceID:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 || len(v) != 16 {
				return s, ErrDecode
			}
			copy(s.TraceID[:], v)
			b = b[n:]
		case fSpanEventSpanID:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 || len(v) != 8 {
				return s, ErrDecode
			}
			copy(s.SpanID[:], v)
			b = b[n:]
		case fSpanEventScopeRef:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return s, ErrDecode
			}
			s.ScopeRef = int64(v)
			b = b[n:]
		case fSpanEventKind:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return s, ErrDecode
			}
			s.Kind = SpanEventKind(v)
			b = b[n:]
		case fSpanEventName:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return s, ErrDecode
			}
			s.Name = v
			b = b[n:]
		case fSpanEventSpanKind:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return s, ErrDecode
			}
			s.SpanKind = int32(uint32(v))
			b = b[n:]
		case fSpanEventStart:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return s, ErrDecode
			}
			s.StartUnixNano = v
			b = b[n:]
		case fSpanEventAttr:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return s, ErrDecode
			}
			kv, err := consumeKeyValueRef(v)
			if err != nil {
				return s, err
			}
			s.Attributes = append(s.Attributes, kv)
			b = b[n:]
		case fSpanEventLinkTID:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 || len(v) != 16 {
				return s, ErrDecode
			}
			copy(s.LinkTraceID[:], v)
			b = b[n:]
		case fSpanEventLinkSID:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 || len(v) != 8 {
				return s, ErrDecode
			}
			copy(s.LinkSpanID[:], v)
			b = b[n:]
		case fSpanEventEnd:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return s, ErrDecode
			}
			s.EndUnixNano = v
			b = b[n:]
		case fSpanEventStatCode:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return s, ErrDecode
			}
			s.HasStatus = true
			s.Status.Code = int32(uint32(v))
			b = b[n:]
		case fSpanEventStatMsg:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return s, ErrDecode
			}
			s.HasStatus = true
			s.Status.Message = v
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

// Marshal encodes a Measurement for ring-buffer publication.
func (m Measurement) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fMeasMetricRef, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.MetricRef))
	for _, kv := range m.Attributes {
		b = protowire.AppendTag(b, fMeasAttr, protowire.BytesType)
		b = protowire.AppendBytes(b, appendKeyValueRef(nil, kv))
	}
	b = protowire.AppendTag(b, fMeasTime, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, m.TimeUnixNano)
	if m.HasSpanContext {
		b = protowire.AppendTag(b, fMeasTraceID, protowire.BytesType)
		b = protowire.AppendBytes(b, m.TraceID[:])
		b = protowire.AppendTag(b, fMeasSpanID, protowire.BytesType)
		b = protowire.AppendBytes(b, m.SpanID[:])
	}
	switch m.ValueKind {
	case MeasurementAsLong:
		b = protowire.AppendTag(b, fMeasAsLong, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.AsLong))
	case MeasurementAsDouble:
		b = protowire.AppendTag(b, fMeasAsDouble, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, float64bits(m.AsDouble))
	}
	return b
}

// UnmarshalMeasurement decodes a Measurement from ring-buffer bytes.
func UnmarshalMeasurement(b []byte) (Measurement, error) {
	var m Measurement
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, ErrDecode
		}
		b = b[n:]
		switch num {
		case fMeasMetricRef:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, ErrDecode
			}
			m.MetricRef = int64(v)
			b = b[n:]
		case fMeasAttr:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, ErrDecode
			}
			kv, err := consumeKeyValueRef(v)
			if err != nil {
				return m, err
			}
			m.Attributes = append(m.Attributes, kv)
			b = b[n:]
		case fMeasTime:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return m, ErrDecode
			}
			m.TimeUnixNano = v
			b = b[n:]
		case fMeasTraceID:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 || len(v) != 16 {
				return m, ErrDecode
			}
			m.HasSpanContext = true
			copy(m.TraceID[:], v)
			b = b[n:]
		case fMeasSpanID:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 || len(v) != 8 {
				return m, ErrDecode
			}
			copy(m.SpanID[:], v)
			b = b[n:]
		case fMeasAsLong:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, ErrDecode
			}
			m.ValueKind = MeasurementAsLong
			m.AsLong = int64(v)
			b = b[n:]
		case fMeasAsDouble:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return m, ErrDecode
			}
			m.ValueKind = MeasurementAsDouble
			m.AsDouble = float64frombits(v)
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
