package monitoring

import (
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
// Replace it before starting any servers; it is not synchronized.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Throttle rate limits a noisy log site, e.g. a write error that repeats on
// every frame while a peer is gone. Suppressed messages are counted and the
// count is reported with the next message that gets through.
type Throttle struct {
	limiter *rate.Limiter

	mu         sync.Mutex
	suppressed int
}

// NewThrottle allows one message per interval with a burst of burst.
func NewThrottle(interval time.Duration, burst int) *Throttle {
	if burst < 1 {
		burst = 1
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Every(interval), burst)}
}

// Logf logs the message if the limiter allows it.
func (t *Throttle) Logf(format string, v ...interface{}) {
	if !t.limiter.Allow() {
		t.mu.Lock()
		t.suppressed++
		t.mu.Unlock()
		return
	}
	t.mu.Lock()
	n := t.suppressed
	t.suppressed = 0
	t.mu.Unlock()
	if n > 0 {
		Logf(format+" (%d similar suppressed)", append(v, n)...)
		return
	}
	Logf(format, v...)
}
