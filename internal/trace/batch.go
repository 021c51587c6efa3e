package trace

import (
	"context"
	"time"

	"github.com/ClusterCockpit/otlpshm/pkg/shmfile"
)

// Puller abstracts the ring buffer's reader side so CollectBatch can be
// tested without a real mmap file.
type Puller interface {
	TryRead() ([]byte, error)
}

// CollectBatch pulls span-events from ring in a loop, feeding each into
// r, until either max completed spans have been collected or timeout has
// elapsed since the call began (spec.md §4.D "Batching"). Partial spans
// never appear in the returned batch. It returns early if ctx is done.
func CollectBatch(ctx context.Context, r *Reconstructor, ring Puller, max int, timeout time.Duration) ([]CompletedSpan, error) {
	deadline := time.Now().Add(timeout)
	batch := make([]CompletedSpan, 0, max)

	var spin int
	for len(batch) < max && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return batch, ctx.Err()
		default:
		}

		raw, err := ring.TryRead()
		if err == shmfile.ErrEmpty {
			spin = backoffSleep(spin)
			continue
		}
		if err != nil {
			return batch, err
		}
		spin = 0

		ev, err := shmfile.UnmarshalSpanEvent(raw)
		if err != nil {
			// Decode errors are local and never fatal (spec.md §7): the
			// record is skipped. CollectBatch keeps no count of them.
			continue
		}
		if completed := r.Apply(ev); completed != nil {
			batch = append(batch, *completed)
		}
	}
	return batch, nil
}

const (
	backoffSpinLimit = 10
	backoffCap       = time.Second
)

// backoffSleep implements the same 10-spins-then-exponential-backoff
// policy described for ring readers in spec.md §4.B, for callers (like
// CollectBatch) that poll TryRead directly; the ring itself has no
// blocking read.
func backoffSleep(spin int) int {
	if spin < backoffSpinLimit {
		return spin + 1
	}
	delay := time.Millisecond << uint(spin-backoffSpinLimit)
	if delay > backoffCap || delay <= 0 {
		delay = backoffCap
	}
	time.Sleep(delay)
	return spin + 1
}
