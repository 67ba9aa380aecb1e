package player

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/aaron/tierhub/internal/apperr"
)

type ConsensusLevel string

const (
	CONSENSUS_HIGH    ConsensusLevel = "high"
	CONSENSUS_MEDIUM  ConsensusLevel = "medium"
	CONSENSUS_LOW     ConsensusLevel = "low"
	CONSENSUS_UNKNOWN ConsensusLevel = "unknown"
)

// Spread thresholds for ConsensusFor, in rank positions of standard deviation.
const (
	highConsensusMaxStdDev   = 2.0
	mediumConsensusMaxStdDev = 5.0
)

// Record is one ranked player. Records are values and are never modified
// after construction; the cache and classifier only copy them.
type Record struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Team        string         `json:"team"`
	Position    Position       `json:"position"`
	AverageRank float64        `json:"average_rank"`
	StdDev      float64        `json:"std_dev"`
	BestRank    int            `json:"best_rank,omitempty"`
	WorstRank   int            `json:"worst_rank,omitempty"`
	ExpertRanks []float64      `json:"expert_ranks,omitempty"`
	ExpertCount int            `json:"expert_count"`
	Consensus   ConsensusLevel `json:"consensus"`
	ByeWeek     int            `json:"bye_week,omitempty"`
}

// Normalize returns a copy of r with derived fields filled in.
func (r Record) Normalize() Record {
	if r.ExpertCount == 0 {
		r.ExpertCount = len(r.ExpertRanks)
	}
	if r.StdDev == 0 && len(r.ExpertRanks) > 1 {
		r.StdDev = stdDev(r.ExpertRanks)
	}
	if r.Consensus == "" {
		r.Consensus = ConsensusFor(r.StdDev, r.ExpertCount)
	}
	if r.Position != "" {
		r.Position = Position(strings.ToUpper(string(r.Position)))
	}
	return r
}

// CloneRecords returns a deep copy of records.
func CloneRecords(records []Record) []Record {
	if records == nil {
		return nil
	}
	out := make([]Record, len(records))
	for i, r := range records {
		r.ExpertRanks = slices.Clone(r.ExpertRanks)
		out[i] = r
	}
	return out
}

// Validate reports whether r satisfies the record invariants.
func (r Record) Validate() error {
	if r.ID == "" {
		return apperr.InvalidArgument("player id is required")
	}
	if math.IsNaN(r.AverageRank) || r.AverageRank < 0 {
		return apperr.InvalidArgument(fmt.Sprintf("player %s: average rank must be non-negative, got %v", r.ID, r.AverageRank))
	}
	if math.IsNaN(r.StdDev) || r.StdDev < 0 {
		return apperr.InvalidArgument(fmt.Sprintf("player %s: std dev must be non-negative, got %v", r.ID, r.StdDev))
	}
	return nil
}

// ConsensusFor derives a consensus level from the expert rank spread.
func ConsensusFor(stdDev float64, expertCount int) ConsensusLevel {
	switch {
	case expertCount == 0 && stdDev == 0:
		return CONSENSUS_UNKNOWN
	case stdDev <= highConsensusMaxStdDev:
		return CONSENSUS_HIGH
	case stdDev <= mediumConsensusMaxStdDev:
		return CONSENSUS_MEDIUM
	default:
		return CONSENSUS_LOW
	}
}

// MatchesName reports whether the record answers to the given name. Suffixes
// and case are ignored. DST and OVERALL records also match on substrings and,
// for DST, on the team code.
func (r Record) MatchesName(name string) bool {
	q := strings.ToLower(TrimNameSuffix(name))
	if q == "" {
		return false
	}
	n := strings.ToLower(TrimNameSuffix(r.Name))
	if n == q {
		return true
	}
	if !r.Position.relaxedNames() {
		return false
	}
	if r.Position == POS_DST && strings.EqualFold(r.Team, q) {
		return true
	}
	return strings.Contains(n, q)
}

// Take a full name, like "Deebo Samuel Sr." and return "Deebo Samuel".
func TrimNameSuffix(fullName string) string {
	suffixList := []string{
		"Jr.",
		"Sr.",
		"III",
		"II",
		"IV",
	}

	fullName = strings.TrimSpace(fullName)
	for _, s := range suffixList {
		fullName = strings.TrimSuffix(fullName, " "+s)
	}

	return strings.TrimSpace(fullName)
}

// FilterByName returns the records matching name, in input order.
func FilterByName(records []Record, name string) []Record {
	out := make([]Record, 0)
	for _, r := range records {
		if r.MatchesName(name) {
			out = append(out, r)
		}
	}
	return out
}

func stdDev(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return math.Sqrt(sq / float64(len(xs)))
}
