// Package freshness holds the most recent known-good player list per
// (position, scoring format) key and answers freshness queries.
package freshness

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/jonboulle/clockwork"

	"github.com/aaron/tierhub/internal/player"
)

// Source tags where an entry's data came from.
type Source string

const (
	SourceCache  Source = "cache"
	SourceAPI    Source = "api"
	SourceSample Source = "sample"
)

// Entry is one cached player list. Entries are immutable after insertion;
// a refresh swaps in a new *Entry and never modifies an existing one.
type Entry struct {
	Key       player.Key
	Data      []player.Record
	Timestamp time.Time
	Source    Source
	Checksum  string
}

// Age returns how old the entry is at now.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.Timestamp)
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

type shard struct {
	mu        sync.Mutex
	policy    Policy
	lru       *simplelru.LRU[player.Key, *Entry]
	hits      uint64
	misses    uint64
	evictions uint64
}

// Cache is a keyed store of immutable entries. Keys of different data
// classes live in separate LRU shards with their own locks and capacities.
type Cache struct {
	clock  clockwork.Clock
	shards map[player.DataClass]*shard
}

// New creates a cache. Classes missing from policies use DefaultPolicies.
func New(clock clockwork.Clock, policies map[player.DataClass]Policy) (*Cache, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	defaults := DefaultPolicies()
	c := &Cache{clock: clock, shards: make(map[player.DataClass]*shard, len(defaults))}
	for class, def := range defaults {
		p, ok := policies[class]
		if !ok {
			p = def
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%s policy: %w", class, err)
		}
		lru, err := simplelru.NewLRU[player.Key, *Entry](p.MaxEntries, nil)
		if err != nil {
			return nil, fmt.Errorf("%s lru: %w", class, err)
		}
		c.shards[class] = &shard{policy: p, lru: lru}
	}
	return c, nil
}

func (c *Cache) shardFor(key player.Key) *shard {
	return c.shards[key.Class()]
}

// Now returns the cache clock's current time.
func (c *Cache) Now() time.Time {
	return c.clock.Now()
}

// Policy returns the policy applied to key.
func (c *Cache) Policy(key player.Key) Policy {
	return c.shardFor(key).policy
}

// Get returns the entry for key and marks it recently used. Absence is
// reported through ok, never as an error.
func (c *Cache) Get(key player.Key) (*Entry, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lru.Get(key)
	if ok {
		s.hits++
	} else {
		s.misses++
	}
	return e, ok
}

func (c *Cache) peek(key player.Key) (*Entry, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Peek(key)
}

// Set inserts a new entry for key stamped with the current time.
func (c *Cache) Set(key player.Key, data []player.Record, source Source) *Entry {
	e, _ := c.Store(key, data, source, c.clock.Now())
	return e
}

// Store inserts a new entry captured at capturedAt. If the current entry is
// newer, the new data is discarded and the current entry is returned with
// applied=false. When the shard is full the least recently used key is
// evicted.
func (c *Cache) Store(key player.Key, data []player.Record, source Source, capturedAt time.Time) (entry *Entry, applied bool) {
	e := &Entry{
		Key:       key,
		Data:      player.CloneRecords(data),
		Timestamp: capturedAt,
		Source:    source,
		Checksum:  player.Checksum(data),
	}

	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.lru.Peek(key); ok && cur.Timestamp.After(capturedAt) {
		s.lru.Get(key)
		return cur, false
	}
	if evicted := s.lru.Add(key, e); evicted {
		s.evictions++
	}
	return e, true
}

// Remove drops the entry for key. It reports whether an entry existed.
func (c *Cache) Remove(key player.Key) bool {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Remove(key)
}

// State classifies the entry for key without touching recency.
func (c *Cache) State(key player.Key) Status {
	e, ok := c.peek(key)
	if !ok {
		return StatusMissing
	}
	return c.StateOf(e)
}

// StateOf classifies e against its key's policy.
func (c *Cache) StateOf(e *Entry) Status {
	return c.Policy(e.Key).state(e.Age(c.clock.Now()))
}

// IsFresh reports whether key holds an entry younger than its fresh window.
func (c *Cache) IsFresh(key player.Key) bool {
	return c.State(key) == StatusFresh
}

// NeedsRefresh reports whether key is missing, stale or expired.
func (c *Cache) NeedsRefresh(key player.Key) bool {
	return c.State(key) != StatusFresh
}

// Usable reports whether e may still be served, i.e. it is not past the
// hard expiry.
func (c *Cache) Usable(e *Entry) bool {
	if e == nil {
		return false
	}
	st := c.StateOf(e)
	return st == StatusFresh || st == StatusStale
}

// Keys returns the cached keys of every shard, least recently used first.
func (c *Cache) Keys() []player.Key {
	var keys []player.Key
	for _, class := range []player.DataClass{player.ClassPosition, player.ClassAggregate} {
		s := c.shards[class]
		s.mu.Lock()
		keys = append(keys, s.lru.Keys()...)
		s.mu.Unlock()
	}
	return keys
}

// Stats returns counters summed over all shards.
func (c *Cache) Stats() Stats {
	var st Stats
	for _, s := range c.shards {
		s.mu.Lock()
		st.Size += s.lru.Len()
		st.MaxSize += s.policy.MaxEntries
		st.Hits += s.hits
		st.Misses += s.misses
		st.Evictions += s.evictions
		s.mu.Unlock()
	}
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	return st
}
