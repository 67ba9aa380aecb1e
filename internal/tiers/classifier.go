package tiers

import (
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/jonboulle/clockwork"

	"github.com/aaron/tierhub/internal/player"
)

const (
	DefaultMemoSize = 100
	DefaultMemoTTL  = 30 * time.Minute
)

// Options configures a Classifier. Zero values select the defaults.
type Options struct {
	MaxSize int
	TTL     time.Duration
	Clock   clockwork.Clock
}

// Stats is a snapshot of the memo counters.
type Stats struct {
	Size         int    `json:"size"`
	MaxSize      int    `json:"max_size"`
	Hits         uint64 `json:"hits"`
	Misses       uint64 `json:"misses"`
	Computations uint64 `json:"computations"`
}

type memoEntry struct {
	groups     []Group
	computedAt time.Time
}

// Classifier memoizes Partition results keyed by the player list checksum,
// tier count and scoring format. Memo entries expire after the TTL and are
// evicted least-recently-used first.
type Classifier struct {
	mu    sync.Mutex
	memo  *simplelru.LRU[string, memoEntry]
	ttl   time.Duration
	max   int
	clock clockwork.Clock

	hits         uint64
	misses       uint64
	computations uint64
}

func NewClassifier(opts Options) (*Classifier, error) {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMemoSize
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultMemoTTL
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	memo, err := simplelru.NewLRU[string, memoEntry](opts.MaxSize, nil)
	if err != nil {
		return nil, fmt.Errorf("tier memo: %w", err)
	}
	return &Classifier{memo: memo, ttl: opts.TTL, max: opts.MaxSize, clock: opts.Clock}, nil
}

func memoKey(players []player.Record, tierCount int, format player.ScoringFormat) string {
	return player.Checksum(players) + "#" + strconv.Itoa(tierCount) + "#" + string(format)
}

// Classify returns the tiers for players. Identical inputs within the TTL
// are served from the memo without recomputation. format may be empty.
func (c *Classifier) Classify(players []player.Record, tierCount int, format player.ScoringFormat) ([]Group, error) {
	if tierCount <= 0 {
		return Partition(players, tierCount)
	}
	key := memoKey(players, tierCount, format)
	now := c.clock.Now()

	c.mu.Lock()
	if m, ok := c.memo.Get(key); ok {
		if now.Sub(m.computedAt) < c.ttl {
			c.hits++
			c.mu.Unlock()
			return cloneGroups(m.groups), nil
		}
		c.memo.Remove(key)
	}
	c.misses++
	c.mu.Unlock()

	groups, err := Partition(players, tierCount)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.computations++
	c.memo.Add(key, memoEntry{groups: groups, computedAt: now})
	c.mu.Unlock()
	return cloneGroups(groups), nil
}

func cloneGroups(groups []Group) []Group {
	out := slices.Clone(groups)
	for i := range out {
		out[i].Players = player.CloneRecords(out[i].Players)
	}
	return out
}

// Stats returns the memo counters.
func (c *Classifier) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:         c.memo.Len(),
		MaxSize:      c.max,
		Hits:         c.hits,
		Misses:       c.misses,
		Computations: c.computations,
	}
}

// Purge drops every memoized result.
func (c *Classifier) Purge() {
	c.mu.Lock()
	c.memo.Purge()
	c.mu.Unlock()
}
