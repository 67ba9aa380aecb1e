package metrics

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/unrolled/render"
)

var (
	RequestsTotal atomic.Uint64
	RequestsOK    atomic.Uint64
	Inbound429    atomic.Uint64

	QueriesTotal  atomic.Uint64
	ServedCache   atomic.Uint64
	ServedAPI     atomic.Uint64
	ServedSample  atomic.Uint64
	StaleServes   atomic.Uint64
	QueryFailures atomic.Uint64

	UpstreamFetches  atomic.Uint64
	UpstreamFailures atomic.Uint64
	Upstream429      atomic.Uint64
	CoalescedJoins   atomic.Uint64
	DiscardedWrites  atomic.Uint64

	LastInboundRetryAfter  atomic.Uint64 // seconds we sent on our 429
	LastUpstreamRetryAfter atomic.Uint64 // ms the rankings API told us to wait
)

// RecordInboundRetryAfter records the Retry-After we sent (seconds).
func RecordInboundRetryAfter(sec int) {
	LastInboundRetryAfter.Store(uint64(sec))
}

// RecordUpstreamRetryAfter records the Retry-After we received upstream (ms).
func RecordUpstreamRetryAfter(ms int) {
	LastUpstreamRetryAfter.Store(uint64(ms))
}

// RecordServed counts a successful query by the data source that answered it.
func RecordServed(source string) {
	QueriesTotal.Add(1)
	switch source {
	case "cache":
		ServedCache.Add(1)
	case "api":
		ServedAPI.Add(1)
	case "sample":
		ServedSample.Add(1)
	}
}

const historySize = 120 // 2 min at 1 sample/sec

type sample struct {
	T                 int64  `json:"t"`
	Requests          uint64 `json:"req"`
	OK                uint64 `json:"ok"`
	Inbound429        uint64 `json:"inbound_429"`
	UpstreamFetches   uint64 `json:"upstream_fetches"`
	UpstreamFailures  uint64 `json:"upstream_failures"`
	Upstream429       uint64 `json:"upstream_429"`
	UpstreamRetryMs   uint64 `json:"upstream_retry_after_ms"`
	InboundRetryAfter uint64 `json:"inbound_retry_after_s"`
}

var (
	history       [historySize]sample
	historyIdx    int
	historyMu     sync.Mutex
	lastTotal     uint64
	lastOK        uint64
	lastInbound   uint64
	lastFetches   uint64
	lastFailures  uint64
	lastUpstream4 uint64
)

// Run samples the counters once per second on clock until ctx is done.
func Run(ctx context.Context, clock clockwork.Clock) {
	ticker := clock.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.Chan():
			recordSample(now)
		}
	}
}

func recordSample(now time.Time) {
	total := RequestsTotal.Load()
	ok := RequestsOK.Load()
	inbound := Inbound429.Load()
	fetches := UpstreamFetches.Load()
	failures := UpstreamFailures.Load()
	up429 := Upstream429.Load()

	historyMu.Lock()
	defer historyMu.Unlock()

	history[historyIdx] = sample{
		T:                 now.Unix(),
		Requests:          total - lastTotal,
		OK:                ok - lastOK,
		Inbound429:        inbound - lastInbound,
		UpstreamFetches:   fetches - lastFetches,
		UpstreamFailures:  failures - lastFailures,
		Upstream429:       up429 - lastUpstream4,
		UpstreamRetryMs:   LastUpstreamRetryAfter.Load(),
		InboundRetryAfter: LastInboundRetryAfter.Load(),
	}
	historyIdx = (historyIdx + 1) % historySize
	lastTotal, lastOK, lastInbound = total, ok, inbound
	lastFetches, lastFailures, lastUpstream4 = fetches, failures, up429
}

// Stats returns current counters and recent history for graphing.
func Stats() map[string]interface{} {
	historyMu.Lock()
	samples := make([]sample, historySize)
	n := 0
	for i := 0; i < historySize; i++ {
		idx := (historyIdx + i) % historySize
		if history[idx].T != 0 {
			samples[n] = history[idx]
			n++
		}
	}
	historyMu.Unlock()
	samples = samples[:n]

	return map[string]interface{}{
		"total": map[string]interface{}{
			"requests":                RequestsTotal.Load(),
			"ok":                      RequestsOK.Load(),
			"inbound_429":             Inbound429.Load(),
			"queries":                 QueriesTotal.Load(),
			"served_cache":            ServedCache.Load(),
			"served_api":              ServedAPI.Load(),
			"served_sample":           ServedSample.Load(),
			"stale_serves":            StaleServes.Load(),
			"query_failures":          QueryFailures.Load(),
			"upstream_fetches":        UpstreamFetches.Load(),
			"upstream_failures":       UpstreamFailures.Load(),
			"upstream_429":            Upstream429.Load(),
			"coalesced_joins":         CoalescedJoins.Load(),
			"discarded_writes":        DiscardedWrites.Load(),
			"inbound_retry_after_s":   LastInboundRetryAfter.Load(),
			"upstream_retry_after_ms": LastUpstreamRetryAfter.Load(),
		},
		"history": samples,
	}
}

var jsonRender = render.New()

// ServeJSON writes stats as JSON.
func ServeJSON(w http.ResponseWriter, r *http.Request) {
	_ = jsonRender.JSON(w, http.StatusOK, Stats())
}

// responseRecorder captures status for metrics.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	if code == http.StatusOK {
		RequestsOK.Add(1)
	}
	r.ResponseWriter.WriteHeader(code)
}

// paths excluded from main traffic metrics (monitoring endpoints)
var excludedPaths = map[string]bool{"/stats": true, "/health": true, "/metrics": true}

// Middleware wraps a handler to count total requests and OK responses.
// Monitoring endpoints are excluded so the counters reflect only API traffic.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if excludedPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		RequestsTotal.Add(1)
		rec := &responseRecorder{ResponseWriter: w, status: 0}
		next.ServeHTTP(rec, r)
	})
}
