package dynfilter

import (
	"time"

	"github.com/joeycumines/go-catrate"
)

// diagWarnRate bounds each distinct diagnostic (keyed by region and kind) to
// a handful of log lines per minute, so a pathological region that keeps
// failing the same check (an unresolved call site, a failed mprotect)
// cannot flood stderr once per call.
var diagWarnRate = map[time.Duration]int{
	time.Minute: 3,
}

// diagnostics rate-limits repeated warnings per (region, kind) pair and
// forwards the survivors to the configured logger. It exists because the
// statistics engine's hot path can re-evaluate the same condition (an
// optimized-out call site, say) on every single call of a hot region.
type diagnostics struct {
	limiter *catrate.Limiter
	log     *Logger
}

// diagKey is the category go-catrate keys its sliding windows on.
type diagKey struct {
	region RegionID
	kind   string
}

func newDiagnostics(log *Logger) *diagnostics {
	return &diagnostics{
		limiter: catrate.NewLimiter(diagWarnRate),
		log:     log,
	}
}

// warn emits msg for (region, kind) at most diagWarnRate times per window.
// Subsequent calls within the window are silently dropped: the condition is
// still true, it's just no longer news.
func (d *diagnostics) warn(region RegionID, kind, msg string, fields map[string]any) {
	if d == nil {
		return
	}
	if _, ok := d.limiter.Allow(diagKey{region: region, kind: kind}); !ok {
		return
	}
	if d.log == nil {
		return
	}
	b := d.log.Warning()
	for k, v := range fields {
		b = b.Any(k, v)
	}
	b.Int64("region_id", int64(region)).Log(msg)
}
