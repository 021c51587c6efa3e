package shmfile

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newRingTestFile(t *testing.T, capacity, slotSize int64) *File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ring.shm")
	f, err := Create(path, Sizing{
		EventsCapacity:       capacity,
		EventsSlotSize:       slotSize,
		SpansCapacity:        4,
		SpansSlotSize:        64,
		MeasurementsCapacity: 4,
		MeasurementsSlotSize: 64,
	}, 1)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

// Property 4 (full-ring backpressure) and scenario S6.
func TestRingBufferFullRingBackpressureThenRecover(t *testing.T) {
	f := newRingTestFile(t, 4, 64)
	r := f.Events

	for i := 0; i < 4; i++ {
		require.NoError(t, r.Publish([]byte(fmt.Sprintf("m%d", i))))
	}

	err := r.Publish([]byte("m4"))
	require.ErrorIs(t, err, ErrWouldBlock)

	_, err = r.TryRead()
	require.NoError(t, err)

	require.NoError(t, r.Publish([]byte("m4")))
}

// Property 3 (no torn reads) and property 2 (no reordering).
func TestRingBufferPreservesOrderAndContent(t *testing.T) {
	f := newRingTestFile(t, 32, 64)
	r := f.Events

	want := make([]string, 20)
	for i := range want {
		want[i] = fmt.Sprintf("record-%02d", i)
		require.NoError(t, r.Publish([]byte(want[i])))
	}

	for i := range want {
		rec, err := r.TryRead()
		require.NoError(t, err)
		require.Equal(t, want[i], string(rec))
	}

	_, err := r.TryRead()
	require.ErrorIs(t, err, ErrEmpty)
}

// Property 1 & 5: MPSC stress with generation discrimination across a full
// wrap, scenario S3 scaled down for a fast unit test.
func TestRingBufferMPSCStressNoLostOrTornWrites(t *testing.T) {
	const (
		writers    = 8
		perWriter  = 500
		ringSize   = 64
	)
	f := newRingTestFile(t, ringSize, 64)
	r := f.Events

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				msg := []byte(fmt.Sprintf("w%d-%04d", w, i))
				for {
					err := r.Publish(msg)
					if err == nil {
						break
					}
					require.ErrorIs(t, err, ErrWouldBlock)
				}
			}
		}(w)
	}

	received := make(map[string]int)
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		defer close(done)
		count := 0
		for count < writers*perWriter {
			rec, err := r.TryRead()
			if err == ErrEmpty {
				continue
			}
			require.NoError(t, err)
			mu.Lock()
			received[string(rec)]++
			mu.Unlock()
			count++
		}
	}()

	wg.Wait()
	<-done

	require.Len(t, received, writers*perWriter)
	for msg, n := range received {
		require.Equalf(t, 1, n, "message %q delivered %d times", msg, n)
	}
}

func TestRingBufferRecordTooLargeRejected(t *testing.T) {
	f := newRingTestFile(t, 4, 8)
	r := f.Events
	err := r.Publish(make([]byte, 64))
	require.ErrorIs(t, err, ErrRecordTooLarge)
}
