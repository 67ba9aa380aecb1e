// Package tiers partitions a ranked player list into ordered tiers.
package tiers

import (
	"slices"

	"github.com/aaron/tierhub/internal/apperr"
	"github.com/aaron/tierhub/internal/player"
)

// Group is one tier: a contiguous rank band of players.
type Group struct {
	Tier    int             `json:"tier"`
	Players []player.Record `json:"players"`
	// MinRank and MaxRank are 1-based positions in the sorted input.
	MinRank int     `json:"min_rank"`
	MaxRank int     `json:"max_rank"`
	AvgRank float64 `json:"avg_rank"`
	Label   string  `json:"label"`
	Color   string  `json:"color"`
}

var tierLabels = []string{
	"Elite",
	"Excellent",
	"Very Good",
	"Good",
	"Solid",
	"Serviceable",
	"Depth",
	"Flier",
	"Deep Sleeper",
	"Waiver Wire",
}

var tierColors = []string{
	"#7c3aed",
	"#2563eb",
	"#0891b2",
	"#059669",
	"#65a30d",
	"#ca8a04",
	"#ea580c",
	"#dc2626",
	"#be185d",
	"#6b7280",
}

// Label returns the label for a 1-based tier number. Tiers beyond the table
// reuse the last label.
func Label(tier int) string {
	return tierLabels[paletteIndex(tier, len(tierLabels))]
}

// Color returns the color for a 1-based tier number, clamped like Label.
func Color(tier int) string {
	return tierColors[paletteIndex(tier, len(tierColors))]
}

func paletteIndex(tier, n int) int {
	switch {
	case tier < 1:
		return 0
	case tier > n:
		return n - 1
	default:
		return tier - 1
	}
}

// Partition sorts players by average rank and splits them into at most
// tierCount contiguous groups of ceil(n/tierCount) players. Ties keep input
// order. The input slice is not modified.
func Partition(players []player.Record, tierCount int) ([]Group, error) {
	if tierCount <= 0 {
		return nil, apperr.InvalidArgument("tier count must be at least 1")
	}
	if len(players) == 0 {
		return []Group{}, nil
	}

	sorted := player.CloneRecords(players)
	slices.SortStableFunc(sorted, func(a, b player.Record) int {
		switch {
		case a.AverageRank < b.AverageRank:
			return -1
		case a.AverageRank > b.AverageRank:
			return 1
		default:
			return 0
		}
	})

	n := len(sorted)
	per := (n + tierCount - 1) / tierCount
	groups := make([]Group, 0, min(tierCount, n))
	for start := 0; start < n; start += per {
		end := min(start+per, n)
		members := sorted[start:end:end]

		var sum float64
		for _, p := range members {
			sum += p.AverageRank
		}
		tier := len(groups) + 1
		groups = append(groups, Group{
			Tier:    tier,
			Players: members,
			MinRank: start + 1,
			MaxRank: end,
			AvgRank: sum / float64(len(members)),
			Label:   Label(tier),
			Color:   Color(tier),
		})
	}
	return groups, nil
}
