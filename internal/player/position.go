package player

import (
	"strings"

	"github.com/aaron/tierhub/internal/apperr"
)

type Position string

const (
	POS_QB      Position = "QB"
	POS_RB      Position = "RB"
	POS_WR      Position = "WR"
	POS_TE      Position = "TE"
	POS_K       Position = "K"
	POS_DST     Position = "DST"
	POS_FLEX    Position = "FLEX"
	POS_OVERALL Position = "OVERALL"
)

// Positions lists every position in display order.
var Positions = []Position{POS_QB, POS_RB, POS_WR, POS_TE, POS_K, POS_DST, POS_FLEX, POS_OVERALL}

// ParsePosition normalizes s to a Position. Common aliases like "d/st" and
// "all" are accepted.
func ParsePosition(s string) (Position, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "qb":
		return POS_QB, nil
	case "rb":
		return POS_RB, nil
	case "wr":
		return POS_WR, nil
	case "te":
		return POS_TE, nil
	case "k", "pk":
		return POS_K, nil
	case "dst", "d/st", "def", "defense":
		return POS_DST, nil
	case "flex":
		return POS_FLEX, nil
	case "overall", "all", "ovr":
		return POS_OVERALL, nil
	default:
		return "", apperr.InvalidArgument("unknown position: " + s)
	}
}

// Aggregate reports whether the position is a view over several positions.
func (p Position) Aggregate() bool {
	return p == POS_FLEX || p == POS_OVERALL
}

// FlexEligible reports whether a player at p can fill a FLEX slot.
func (p Position) FlexEligible() bool {
	return p == POS_RB || p == POS_WR || p == POS_TE
}

// relaxedNames reports whether name lookups at p use substring matching.
func (p Position) relaxedNames() bool {
	return p == POS_DST || p == POS_OVERALL
}

type ScoringFormat string

const (
	FORMAT_STD  ScoringFormat = "STD"
	FORMAT_HALF ScoringFormat = "HALF"
	FORMAT_PPR  ScoringFormat = "PPR"
)

var ScoringFormats = []ScoringFormat{FORMAT_STD, FORMAT_HALF, FORMAT_PPR}

func ParseScoringFormat(s string) (ScoringFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "std", "standard":
		return FORMAT_STD, nil
	case "half", "half-ppr", "half_ppr", "0.5ppr":
		return FORMAT_HALF, nil
	case "ppr", "full-ppr":
		return FORMAT_PPR, nil
	default:
		return "", apperr.InvalidArgument("unknown scoring format: " + s)
	}
}
