package shmfile

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func newDictTestFile(t *testing.T) *File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dict.shm")
	f, err := Create(path, Sizing{
		EventsCapacity: 4, EventsSlotSize: 64,
		SpansCapacity: 4, SpansSlotSize: 64,
		MeasurementsCapacity: 4, MeasurementsSlotSize: 64,
		DictionaryInitialSize: 4096,
	}, 1)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

// Property 6: round-trip for messages and strings.
func TestDictionaryRoundTrip(t *testing.T) {
	f := newDictTestFile(t)
	d := f.Dictionary

	msg := Resource{Attributes: nil, DroppedAttributesCount: 3}.Marshal()
	off, err := d.Append(msg)
	require.NoError(t, err)
	got, err := d.ReadMessage(off)
	require.NoError(t, err)
	require.Equal(t, msg, got)

	sOff, err := d.AppendString("hello, world")
	require.NoError(t, err)
	s, err := d.ReadString(sOff)
	require.NoError(t, err)
	require.Equal(t, "hello, world", s)
}

// Property 7: disjointness of concurrent appends.
func TestDictionaryConcurrentAppendsAreDisjoint(t *testing.T) {
	f := newDictTestFile(t)
	d := f.Dictionary

	const n = 200
	offsets := make([]int64, n)
	lengths := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := []byte(fmt.Sprintf("payload-%d-%d", i, i*i))
			off, err := d.Append(payload)
			require.NoError(t, err)
			offsets[i] = off
			lengths[i] = protowire.SizeVarint(uint64(len(payload))) + len(payload)
		}(i)
	}
	wg.Wait()

	type span struct{ start, end int64 }
	spans := make([]span, n)
	for i := range offsets {
		spans[i] = span{offsets[i], offsets[i] + int64(lengths[i])}
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			overlap := spans[i].start < spans[j].end && spans[j].start < spans[i].end
			require.Falsef(t, overlap, "entries %d and %d overlap: %+v vs %+v", i, j, spans[i], spans[j])
		}
	}
}

// Property 8: out-of-range reads report not-found.
func TestDictionaryOutOfRangeReads(t *testing.T) {
	f := newDictTestFile(t)
	d := f.Dictionary

	_, err := d.ReadMessage(d.Base() - 1)
	require.ErrorIs(t, err, ErrNotFoundInDictionary)

	_, err = d.ReadMessage(d.End() + 1000)
	require.ErrorIs(t, err, ErrNotFoundInDictionary)

	off, err := d.AppendString("x")
	require.NoError(t, err)
	_, err = d.ReadMessage(off)
	require.NoError(t, err)
	_, err = d.ReadMessage(d.End())
	require.ErrorIs(t, err, ErrNotFoundInDictionary)
}
