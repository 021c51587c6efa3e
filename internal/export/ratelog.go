package export

import (
	"golang.org/x/time/rate"

	"github.com/ClusterCockpit/otlpshm/pkg/log"
)

// warnLimiter rate-limits the "decode error" / "resolve error" warnings a
// pipeline logs when it drops a malformed or oversized record, so a
// misbehaving producer can't flood the collector's own log output. The
// teacher's go.mod carries golang.org/x/time as a direct dependency without
// a source site of its own to ground this on; the limiter below follows the
// package's own documented token-bucket idiom.
type warnLimiter struct {
	limiter *rate.Limiter
}

// newWarnLimiter allows up to burst warnings immediately, then one every
// 1/perSecond thereafter.
func newWarnLimiter(perSecond float64, burst int) *warnLimiter {
	return &warnLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (w *warnLimiter) Printf(format string, args ...any) {
	if w.limiter.Allow() {
		log.WarnLog.Printf(format, args...)
	}
}
