package freshness

import (
	"errors"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/aaron/tierhub/internal/player"
)

// Policy is the freshness configuration for one data class.
type Policy struct {
	// FreshWindow is how long an entry is served without a refresh.
	FreshWindow time.Duration
	// HardExpiry is the age after which an entry must not be served at all.
	HardExpiry time.Duration
	// MaxEntries bounds the class's LRU shard.
	MaxEntries int
}

// DefaultPolicies returns the built-in per-class policies. Aggregate views
// are costlier to rebuild upstream, so they stay fresh longer.
func DefaultPolicies() map[player.DataClass]Policy {
	return map[player.DataClass]Policy{
		player.ClassPosition:  {FreshWindow: 5 * time.Minute, HardExpiry: 24 * time.Hour, MaxEntries: 64},
		player.ClassAggregate: {FreshWindow: 10 * time.Minute, HardExpiry: 24 * time.Hour, MaxEntries: 16},
	}
}

func (p Policy) Validate() error {
	if p.FreshWindow <= 0 {
		return errors.New("fresh window must be positive")
	}
	if p.HardExpiry < p.FreshWindow {
		return errors.New("hard expiry must not be shorter than the fresh window")
	}
	if p.MaxEntries <= 0 {
		return errors.New("max entries must be positive")
	}
	return nil
}

func (p Policy) state(age time.Duration) Status {
	switch {
	case age < p.FreshWindow:
		return StatusFresh
	case age < p.HardExpiry:
		return StatusStale
	default:
		return StatusExpired
	}
}

// Status is the freshness state of a key.
type Status string

const (
	StatusFresh   Status = "fresh"
	StatusStale   Status = "stale"
	StatusMissing Status = "missing"
	StatusExpired Status = "expired"
)

// Display is a presentational label for a key's freshness.
type Display struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
	Color   string `json:"color"`
}

var statusColors = map[Status]string{
	StatusFresh:   "#16a34a",
	StatusStale:   "#d97706",
	StatusMissing: "#6b7280",
	StatusExpired: "#dc2626",
}

// StatusDisplay maps the freshness state of key to a label.
func (c *Cache) StatusDisplay(key player.Key) Display {
	e, ok := c.peek(key)
	if !ok {
		return Display{Status: StatusMissing, Message: "No data loaded", Color: statusColors[StatusMissing]}
	}
	now := c.clock.Now()
	st := c.StateOf(e)
	when := humanize.RelTime(e.Timestamp, now, "ago", "from now")

	var msg string
	switch st {
	case StatusFresh:
		msg = "Up to date, updated " + when
	case StatusStale:
		msg = "Showing cached data from " + when
	default:
		msg = "Data from " + when + " is too old to use"
	}
	if e.Source == SourceSample {
		msg += " (sample data)"
	}
	return Display{Status: st, Message: msg, Color: statusColors[st]}
}
