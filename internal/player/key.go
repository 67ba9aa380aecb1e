package player

import (
	"strings"

	"github.com/aaron/tierhub/internal/apperr"
)

// DataClass groups keys that share a freshness policy.
type DataClass string

const (
	ClassPosition  DataClass = "position"
	ClassAggregate DataClass = "aggregate"
)

// Key identifies one cached player list.
type Key struct {
	Position Position
	Format   ScoringFormat
}

// NewKey validates and normalizes a (position, scoring format) pair.
func NewKey(pos, format string) (Key, error) {
	p, err := ParsePosition(pos)
	if err != nil {
		return Key{}, err
	}
	f, err := ParseScoringFormat(format)
	if err != nil {
		return Key{}, err
	}
	return Key{Position: p, Format: f}, nil
}

// ParseKey parses the String form, e.g. "qb:ppr".
func ParseKey(s string) (Key, error) {
	pos, format, ok := strings.Cut(s, ":")
	if !ok {
		return Key{}, apperr.InvalidArgument("malformed key: " + s)
	}
	return NewKey(pos, format)
}

// Normalize returns k in canonical form. Keys that do not parse are
// returned unchanged.
func (k Key) Normalize() Key {
	n, err := NewKey(string(k.Position), string(k.Format))
	if err != nil {
		return k
	}
	return n
}

func (k Key) String() string {
	return strings.ToLower(string(k.Position) + ":" + string(k.Format))
}

func (k Key) Class() DataClass {
	if k.Position.Aggregate() {
		return ClassAggregate
	}
	return ClassPosition
}
