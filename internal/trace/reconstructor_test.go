package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ClusterCockpit/otlpshm/pkg/shmfile"
)

func traceSpanIDs() ([16]byte, [8]byte) {
	var tid [16]byte
	var sid [8]byte
	for i := range tid {
		tid[i] = byte(i)
	}
	for i := range sid {
		sid[i] = byte(i)
	}
	return tid, sid
}

func TestSpanAssemblyScenarioS2(t *testing.T) {
	tid, sid := traceSpanIDs()
	r := NewReconstructor()

	completed := r.Apply(shmfile.SpanEvent{
		TraceID: tid, SpanID: sid, Kind: shmfile.SpanEventStart,
		Name: "op", SpanKind: 1, StartUnixNano: 1,
	})
	assert.Nil(t, completed)

	completed = r.Apply(shmfile.SpanEvent{
		TraceID: tid, SpanID: sid, Kind: shmfile.SpanEventAttributes,
		Attributes: []shmfile.KeyValueRef{{KeyRef: 100, Value: shmfile.AnyValue{Kind: shmfile.AnyValueInt, Int: 42}}},
	})
	assert.Nil(t, completed)

	completed = r.Apply(shmfile.SpanEvent{
		TraceID: tid, SpanID: sid, Kind: shmfile.SpanEventEnd,
		EndUnixNano: 10, HasStatus: true, Status: shmfile.Status{Code: 2, Message: "fail"},
	})
	assert.NotNil(t, completed)
	assert.Equal(t, "op", completed.Name)
	assert.Equal(t, uint64(10), completed.EndUnixNano)
	assert.Len(t, completed.Attributes, 1)
	assert.EqualValues(t, 42, completed.Attributes[0].Value.Int)
	assert.Equal(t, int32(2), completed.Status.Code)
	assert.Equal(t, "fail", completed.Status.Message)
	assert.Equal(t, 0, r.OpenCount())
}

func TestOrphanEndEmitsNothing(t *testing.T) {
	tid, sid := traceSpanIDs()
	r := NewReconstructor()

	completed := r.Apply(shmfile.SpanEvent{TraceID: tid, SpanID: sid, Kind: shmfile.SpanEventEnd, EndUnixNano: 5})
	assert.Nil(t, completed)
	assert.EqualValues(t, 1, r.Orphans())
}

func TestCompletionUsesLastSeenNameAndAccumulatedAttributes(t *testing.T) {
	tid, sid := traceSpanIDs()
	r := NewReconstructor()

	r.Apply(shmfile.SpanEvent{TraceID: tid, SpanID: sid, Kind: shmfile.SpanEventStart, Name: "first"})
	r.Apply(shmfile.SpanEvent{TraceID: tid, SpanID: sid, Kind: shmfile.SpanEventAttributes,
		Attributes: []shmfile.KeyValueRef{{KeyRef: 1}}})
	r.Apply(shmfile.SpanEvent{TraceID: tid, SpanID: sid, Kind: shmfile.SpanEventName, Name: "renamed"})
	r.Apply(shmfile.SpanEvent{TraceID: tid, SpanID: sid, Kind: shmfile.SpanEventAttributes,
		Attributes: []shmfile.KeyValueRef{{KeyRef: 2}}})
	completed := r.Apply(shmfile.SpanEvent{TraceID: tid, SpanID: sid, Kind: shmfile.SpanEventEnd, EndUnixNano: 99})

	assert.NotNil(t, completed)
	assert.Equal(t, "renamed", completed.Name)
	assert.Len(t, completed.Attributes, 2)
}

func TestRestartOverwritesOpenSpan(t *testing.T) {
	tid, sid := traceSpanIDs()
	r := NewReconstructor()

	r.Apply(shmfile.SpanEvent{TraceID: tid, SpanID: sid, Kind: shmfile.SpanEventStart, Name: "first"})
	r.Apply(shmfile.SpanEvent{TraceID: tid, SpanID: sid, Kind: shmfile.SpanEventStart, Name: "second"})
	completed := r.Apply(shmfile.SpanEvent{TraceID: tid, SpanID: sid, Kind: shmfile.SpanEventEnd, EndUnixNano: 1})

	assert.NotNil(t, completed)
	assert.Equal(t, "second", completed.Name)
}

func TestEvictOlderThanRemovesStaleOpenSpans(t *testing.T) {
	tid, sid := traceSpanIDs()
	r := NewReconstructor()
	r.Apply(shmfile.SpanEvent{TraceID: tid, SpanID: sid, Kind: shmfile.SpanEventStart, Name: "leaked"})
	assert.Equal(t, 1, r.OpenCount())

	evicted := r.EvictOlderThan(0)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 0, r.OpenCount())
}
