// Package acquisition serves the best available player list per key:
// cache first, then the live rankings source, then the bundled sample.
package acquisition

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/aaron/tierhub/internal/apperr"
	"github.com/aaron/tierhub/internal/freshness"
	"github.com/aaron/tierhub/internal/metrics"
	"github.com/aaron/tierhub/internal/player"
	"github.com/aaron/tierhub/internal/schedule"
)

const (
	DefaultFetchTimeout       = 10 * time.Second
	DefaultFailureCooldown    = 30 * time.Second
	DefaultRefreshConcurrency = 4
)

// Source is the external rankings provider.
type Source interface {
	// FetchPlayers returns the live ranked list for key. It must honour ctx.
	FetchPlayers(ctx context.Context, key player.Key) ([]player.Record, error)
	// SampleFallback returns a static bundled list and never blocks.
	SampleFallback(pos player.Position) []player.Record
}

type WarningCode string

const (
	WarningStaleServe     WarningCode = "stale-serve"
	WarningSampleFallback WarningCode = "sample-fallback"
)

// Warning is a non-fatal condition attached to a served result.
type Warning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

// Result is the answer to a query.
type Result struct {
	Key         player.Key       `json:"-"`
	Players     []player.Record  `json:"players"`
	DataSource  freshness.Source `json:"data_source"`
	CacheStatus freshness.Status `json:"cache_status"`
	LastUpdated time.Time        `json:"last_updated,omitzero"`
	Checksum    string           `json:"checksum"`
	Warning     *Warning         `json:"warning,omitempty"`
}

// Options configures an Orchestrator. Zero values select the defaults.
type Options struct {
	// FetchTimeout bounds one upstream fetch, including retries.
	FetchTimeout time.Duration
	// FailureCooldown is how long after a failed fetch a query for a missing
	// key is answered from the sample without waiting on a new fetch.
	FailureCooldown time.Duration
	// RefreshIntervals is the auto-refresh period per data class.
	RefreshIntervals map[player.DataClass]time.Duration
	// WarmKeys are refreshed by Warm and always watched by auto-refresh.
	WarmKeys           []player.Key
	RefreshConcurrency int
	Clock              clockwork.Clock
	Logger             logrus.FieldLogger
	Tracer             trace.Tracer
}

func DefaultRefreshIntervals() map[player.DataClass]time.Duration {
	return map[player.DataClass]time.Duration{
		player.ClassPosition:  5 * time.Minute,
		player.ClassAggregate: 10 * time.Minute,
	}
}

type failure struct {
	err error
	at  time.Time
}

// Orchestrator answers player queries and keeps the cache eventually fresh.
// Upstream fetches are coalesced per key: concurrent callers and background
// refreshes share one in-flight call.
type Orchestrator struct {
	cache  *freshness.Cache
	source Source

	clock           clockwork.Clock
	log             logrus.FieldLogger
	tracer          trace.Tracer
	fetchTimeout    time.Duration
	failureCooldown time.Duration
	intervals       map[player.DataClass]time.Duration
	concurrency     int
	warm            []player.Key

	group singleflight.Group

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       sync.Mutex
	watched  map[player.Key]struct{}
	failures map[player.Key]failure
	tasks    []*schedule.Task
}

func New(cache *freshness.Cache, source Source, opts Options) *Orchestrator {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.FailureCooldown <= 0 {
		opts.FailureCooldown = DefaultFailureCooldown
	}
	if opts.RefreshConcurrency <= 0 {
		opts.RefreshConcurrency = DefaultRefreshConcurrency
	}
	intervals := DefaultRefreshIntervals()
	for class, d := range opts.RefreshIntervals {
		if d > 0 {
			intervals[class] = d
		}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/aaron/tierhub/internal/acquisition")
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cache:           cache,
		source:          source,
		clock:           opts.Clock,
		log:             opts.Logger.WithField("component", "acquisition"),
		tracer:          opts.Tracer,
		fetchTimeout:    opts.FetchTimeout,
		failureCooldown: opts.FailureCooldown,
		intervals:       intervals,
		concurrency:     opts.RefreshConcurrency,
		warm:            make([]player.Key, 0, len(opts.WarmKeys)),
		baseCtx:         ctx,
		baseCancel:      cancel,
		watched:         make(map[player.Key]struct{}),
		failures:        make(map[player.Key]failure),
	}
	for _, k := range opts.WarmKeys {
		k = k.Normalize()
		o.warm = append(o.warm, k)
		o.watched[k] = struct{}{}
	}
	return o
}

// Query returns the best currently available player list for key.
//
// A fresh cache entry is served as is. A stale entry is served immediately
// while a refresh runs in the background. A missing or expired entry waits
// for a live fetch and falls back to the bundled sample if it fails. The
// only error besides a canceled ctx is Unavailable, when no data at all
// can be produced.
func (o *Orchestrator) Query(ctx context.Context, key player.Key) (Result, error) {
	key = key.Normalize()
	o.watch(key)

	if entry, ok := o.cache.Get(key); ok && o.cache.Usable(entry) {
		res := o.fromEntry(entry, freshness.SourceCache)
		if res.CacheStatus != freshness.StatusFresh {
			o.refreshAsync(key)
			if f, failed := o.lastFailure(key); failed {
				res.Warning = staleWarning(f.err)
				metrics.StaleServes.Add(1)
			}
		}
		metrics.RecordServed(string(res.DataSource))
		return res, nil
	}

	if f, failed := o.lastFailure(key); failed && o.clock.Since(f.at) < o.failureCooldown {
		o.refreshAsync(key)
		return o.fallback(key, f.err)
	}

	select {
	case r := <-o.refreshChan(key):
		if r.Err == nil {
			res := o.fromEntry(r.Val.(*freshness.Entry), freshness.SourceAPI)
			metrics.RecordServed(string(res.DataSource))
			return res, nil
		}
		return o.fallback(key, r.Err)
	case <-ctx.Done():
		return o.fallback(key, ctx.Err())
	}
}

// Refresh forces a live fetch for key, joining one already in flight. On
// failure it degrades exactly like Query.
func (o *Orchestrator) Refresh(ctx context.Context, key player.Key) (Result, error) {
	key = key.Normalize()
	o.watch(key)
	select {
	case r := <-o.refreshChan(key):
		if r.Shared {
			metrics.CoalescedJoins.Add(1)
		}
		if r.Err != nil {
			return o.fallback(key, r.Err)
		}
		res := o.fromEntry(r.Val.(*freshness.Entry), freshness.SourceAPI)
		metrics.RecordServed(string(res.DataSource))
		return res, nil
	case <-ctx.Done():
		return o.fallback(key, ctx.Err())
	}
}

// Invalidate drops the cached entry for key.
func (o *Orchestrator) Invalidate(key player.Key) bool {
	key = key.Normalize()
	removed := o.cache.Remove(key)
	o.log.WithFields(logrus.Fields{"key": key.String(), "removed": removed}).Info("cache entry invalidated")
	return removed
}

// ClearCache invalidates key and then forces a refresh.
func (o *Orchestrator) ClearCache(ctx context.Context, key player.Key) (Result, error) {
	key = key.Normalize()
	o.Invalidate(key)
	return o.Refresh(ctx, key)
}

// Status returns the presentational freshness state for key.
func (o *Orchestrator) Status(key player.Key) freshness.Display {
	key = key.Normalize()
	return o.cache.StatusDisplay(key)
}

// CacheStats returns the freshness cache counters.
func (o *Orchestrator) CacheStats() freshness.Stats {
	return o.cache.Stats()
}

func (o *Orchestrator) fromEntry(e *freshness.Entry, source freshness.Source) Result {
	return Result{
		Key:         e.Key,
		Players:     player.CloneRecords(e.Data),
		DataSource:  source,
		CacheStatus: o.cache.StateOf(e),
		LastUpdated: e.Timestamp,
		Checksum:    e.Checksum,
	}
}

// fallback serves a usable cache entry with a stale-serve warning, or the
// bundled sample with a sample-fallback warning.
func (o *Orchestrator) fallback(key player.Key, cause error) (Result, error) {
	if entry, ok := o.cache.Get(key); ok && o.cache.Usable(entry) {
		res := o.fromEntry(entry, freshness.SourceCache)
		res.Warning = staleWarning(cause)
		metrics.StaleServes.Add(1)
		metrics.RecordServed(string(res.DataSource))
		return res, nil
	}

	sample := o.source.SampleFallback(key.Position)
	if len(sample) == 0 {
		metrics.QueryFailures.Add(1)
		return Result{}, apperr.Wrap(apperr.CodeUnavailable, "no cached, live or sample data for "+key.String(), cause)
	}
	o.log.WithFields(logrus.Fields{"key": key.String(), "players": len(sample)}).WithError(cause).Warn("serving sample data")
	metrics.RecordServed(string(freshness.SourceSample))
	return Result{
		Key:         key,
		Players:     sample,
		DataSource:  freshness.SourceSample,
		CacheStatus: o.cache.State(key),
		Checksum:    player.Checksum(sample),
		Warning: &Warning{
			Code:    WarningSampleFallback,
			Message: "live rankings unavailable, showing sample data: " + errMessage(cause),
		},
	}, nil
}

func staleWarning(cause error) *Warning {
	return &Warning{
		Code:    WarningStaleServe,
		Message: "live rankings unavailable, showing cached data: " + errMessage(cause),
	}
}

func errMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// refreshChan starts or joins the in-flight fetch for key.
func (o *Orchestrator) refreshChan(key player.Key) <-chan singleflight.Result {
	return o.group.DoChan(key.String(), func() (interface{}, error) {
		return o.fetch(key)
	})
}

// refreshAsync starts or joins a fetch without waiting for it. DoChan's
// channel is buffered, so dropping it leaks nothing.
func (o *Orchestrator) refreshAsync(key player.Key) {
	_ = o.refreshChan(key)
}

var errEmptyUpstream = errors.New("rankings source returned no players")

// fetch performs one upstream call on a context detached from any caller,
// so a canceled request does not abort a fetch other callers share. The
// capture time is taken before the call; Store discards the result if a
// newer entry landed meanwhile.
func (o *Orchestrator) fetch(key player.Key) (*freshness.Entry, error) {
	ctx, cancel := context.WithTimeout(o.baseCtx, o.fetchTimeout)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "rankings.FetchPlayers",
		trace.WithAttributes(attribute.String("tierhub.key", key.String())))
	defer span.End()

	log := o.log.WithField("key", key.String())
	captured := o.cache.Now()
	metrics.UpstreamFetches.Add(1)

	players, err := o.source.FetchPlayers(ctx, key)
	if err == nil && len(players) == 0 {
		err = errEmptyUpstream
	}
	if err != nil {
		metrics.UpstreamFailures.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		o.recordFailure(key, err)
		log.WithError(err).Warn("rankings fetch failed")
		return nil, apperr.Wrap(apperr.CodeUpstreamUnavailable, "fetch "+key.String(), err)
	}

	entry, applied := o.cache.Store(key, players, freshness.SourceAPI, captured)
	if !applied {
		metrics.DiscardedWrites.Add(1)
		log.Debug("discarded fetch result older than cached entry")
	}
	o.clearFailure(key)
	span.SetAttributes(attribute.Int("tierhub.players", len(players)))
	log.WithFields(logrus.Fields{
		"players":  len(players),
		"duration": o.clock.Since(captured).String(),
	}).Info("rankings refreshed")
	return entry, nil
}

func (o *Orchestrator) watch(key player.Key) {
	o.mu.Lock()
	o.watched[key] = struct{}{}
	o.mu.Unlock()
}

func (o *Orchestrator) watchedKeys(class player.DataClass) []player.Key {
	o.mu.Lock()
	defer o.mu.Unlock()
	keys := make([]player.Key, 0, len(o.watched))
	for k := range o.watched {
		if k.Class() == class {
			keys = append(keys, k)
		}
	}
	return keys
}

func (o *Orchestrator) recordFailure(key player.Key, err error) {
	o.mu.Lock()
	o.failures[key] = failure{err: err, at: o.clock.Now()}
	o.mu.Unlock()
}

func (o *Orchestrator) clearFailure(key player.Key) {
	o.mu.Lock()
	delete(o.failures, key)
	o.mu.Unlock()
}

func (o *Orchestrator) lastFailure(key player.Key) (failure, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, ok := o.failures[key]
	return f, ok
}
