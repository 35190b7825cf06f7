package ratelimit

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is acquired before every outbound request.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// Gate enforces a minimum interval between requests to one external service.
// It is safe for concurrent use and is the single shared point all callers of
// that service go through.
type Gate struct {
	limiter *rate.Limiter
}

// NewGate allows one request per interval with the given burst. A non-positive
// interval disables limiting.
func NewGate(interval time.Duration, burst int) *Gate {
	if burst < 1 {
		burst = 1
	}

	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}

	return &Gate{limiter: rate.NewLimiter(limit, burst)}
}

func (g *Gate) Wait(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}

// SimpleRateLimiter spaces actions by a random delay in [minDelay, maxDelay).
// Used for page scraping where a little jitter keeps request timing less regular.
type SimpleRateLimiter struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
	jitter     bool
}

func NewSimpleRateLimiter(minDelay, maxDelay time.Duration) *SimpleRateLimiter {
	return &SimpleRateLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
		jitter:   true,
	}
}

func (r *SimpleRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.lastAction.IsZero() {
		elapsed := time.Since(r.lastAction)
		delay := r.calculateDelay()

		if elapsed < delay {
			timer := time.NewTimer(delay - elapsed)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	r.lastAction = time.Now()
	return nil
}

func (r *SimpleRateLimiter) calculateDelay() time.Duration {
	if !r.jitter || r.maxDelay <= r.minDelay {
		return r.minDelay
	}

	delta := r.maxDelay - r.minDelay
	jitter := time.Duration(rand.Int63n(int64(delta)))
	return r.minDelay + jitter
}

// Backoff is the retry schedule for transient search failures. Rate-limit
// responses use their own, steeper base and factor.
type Backoff struct {
	MaxAttempts     int
	Base            time.Duration
	Factor          float64
	RateLimitBase   time.Duration
	RateLimitFactor float64
	Max             time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts:     3,
		Base:            500 * time.Millisecond,
		Factor:          2,
		RateLimitBase:   2 * time.Second,
		RateLimitFactor: 4,
		Max:             30 * time.Second,
	}
}

// Delay returns how long to wait after the given failed attempt (1-based).
func (b Backoff) Delay(attempt int, rateLimited bool) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base, factor := b.Base, b.Factor
	if rateLimited {
		base, factor = b.RateLimitBase, b.RateLimitFactor
	}
	if factor < 1 {
		factor = 1
	}

	d := time.Duration(float64(base) * math.Pow(factor, float64(attempt-1)))
	if b.Max > 0 && (d > b.Max || d < 0) {
		d = b.Max
	}
	return d
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
