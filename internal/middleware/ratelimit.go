package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/unrolled/render"

	"github.com/aaron/tierhub/internal/metrics"
)

// LimiterOptions configures a Limiter. Zero values select the defaults.
type LimiterOptions struct {
	Requests       int           // tokens per window, default 60
	Per            time.Duration // window, default 1m
	RetryAfterSec  int           // Retry-After sent with 429, default 60
	MaxStale       time.Duration // idle time after which a bucket may be evicted, default 5m
	EvictThreshold int           // bucket count above which eviction runs, default 100
	Clock          clockwork.Clock
}

// Limiter implements a static per-IP rate limit using a token bucket.
type Limiter struct {
	opts    LimiterOptions
	clock   clockwork.Clock
	render  *render.Render
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens   int
	lastFill time.Time
	lastSeen time.Time
}

func NewLimiter(opts LimiterOptions) *Limiter {
	if opts.Requests <= 0 {
		opts.Requests = 60
	}
	if opts.Per <= 0 {
		opts.Per = time.Minute
	}
	if opts.RetryAfterSec <= 0 {
		opts.RetryAfterSec = 60
	}
	if opts.MaxStale <= 0 {
		opts.MaxStale = 5 * time.Minute
	}
	if opts.EvictThreshold <= 0 {
		opts.EvictThreshold = 100
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Limiter{
		opts:    opts,
		clock:   opts.Clock,
		render:  render.New(),
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether a request from ip may proceed and takes a token if so.
func (l *Limiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if len(l.buckets) > l.opts.EvictThreshold {
		l.evictStale(now)
	}

	b, ok := l.buckets[ip]
	if !ok {
		l.buckets[ip] = &bucket{tokens: l.opts.Requests - 1, lastFill: now, lastSeen: now}
		return true
	}
	b.lastSeen = now

	// One token per Per/Requests elapsed.
	interval := l.opts.Per.Nanoseconds() / int64(l.opts.Requests)
	if interval <= 0 {
		interval = 1
	}
	if refill := int(now.Sub(b.lastFill).Nanoseconds() / interval); refill > 0 {
		b.tokens = min(b.tokens+refill, l.opts.Requests)
		b.lastFill = now
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

func (l *Limiter) evictStale(now time.Time) {
	for ip, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.opts.MaxStale {
			delete(l.buckets, ip)
		}
	}
}

func (l *Limiter) bucketCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Middleware rate limits by client IP. Put chi's RealIP in front of it when
// running behind a proxy.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientIP(r)) {
			metrics.Inbound429.Add(1)
			metrics.RecordInboundRetryAfter(l.opts.RetryAfterSec)
			w.Header().Set("Retry-After", strconv.Itoa(l.opts.RetryAfterSec))
			_ = l.render.JSON(w, http.StatusTooManyRequests, map[string]string{
				"code":  "RATE_LIMITED",
				"error": "rate limited",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
