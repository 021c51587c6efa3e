package export

import (
	"runtime"
	"time"
)

// backoffAwait implements the same 10-spins-then-exponential-backoff
// policy the ring buffer documents in spec.md §4.B, for pipelines polling
// TryRead directly. shmfile itself has no backoff: its TryRead and
// Publish never wait, so the waiting policy lives here, beside the poll
// loop that owns the cancellation point.
type backoffAwait struct {
	spins int
	delay time.Duration
}

const (
	spinLimit    = 10
	initialDelay = time.Millisecond
	maxDelay     = time.Second
)

func (b *backoffAwait) reset() {
	b.spins = 0
	b.delay = 0
}

func (b *backoffAwait) wait(done <-chan struct{}) bool {
	if b.spins < spinLimit {
		b.spins++
		runtime.Gosched()
		return true
	}
	if b.delay == 0 {
		b.delay = initialDelay
	} else {
		b.delay *= 2
		if b.delay > maxDelay {
			b.delay = maxDelay
		}
	}
	t := time.NewTimer(b.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-done:
		return false
	}
}
