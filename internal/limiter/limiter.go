// Package limiter defines interfaces and implementations for per-identity request rate limiting.
package limiter

import (
	"context"
	"time"

	"github.com/sasha-s/go-deadlock"
	"golang.org/x/time/rate"
)

// Limiter decides whether a caller may issue another request.
type Limiter interface {
	// Allow reports whether a request for key is allowed now and, if not, when to retry.
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// Local is an in-process token bucket per key.
type Local struct {
	mu       deadlock.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	maxKeys  int
}

// NewLocal constructs a limiter allowing rps requests per second with the given burst.
func NewLocal(rps float64, burst int) *Local {
	if burst < 1 {
		burst = 1
	}
	return &Local{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
		maxKeys:  100_000,
	}
}

func (l *Local) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= l.maxKeys {
			l.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

// Allow consumes one token for key.
func (l *Local) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	r := l.get(key).Reserve()
	if d := r.Delay(); d > 0 {
		r.Cancel()
		return false, d, nil
	}
	return true, 0, nil
}
