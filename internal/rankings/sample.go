package rankings

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"

	"github.com/aaron/tierhub/internal/player"
)

//go:embed sample_players.json
var samplePlayersJSON []byte

type sampleRow struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Team     string  `json:"team"`
	Position string  `json:"position"`
	Rank     float64 `json:"rank"`
	Overall  float64 `json:"overall"`
	Std      float64 `json:"std"`
	Bye      int     `json:"bye"`
}

var sampleRows = mustDecodeSample(samplePlayersJSON)

func decodeSample(data []byte) ([]sampleRow, error) {
	var rows []sampleRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode sample players: %w", err)
	}
	if len(rows) == 0 {
		return nil, errors.New("decode sample players: no rows")
	}
	return rows, nil
}

// mustDecodeSample panics because the sample is compiled into the binary.
func mustDecodeSample(data []byte) []sampleRow {
	rows, err := decodeSample(data)
	if err != nil {
		panic(err)
	}
	return rows
}

// Sample returns the bundled rankings for pos, sorted by average rank.
// Single positions use positional ranks; FLEX and OVERALL use overall ranks.
// The result is a fresh slice on every call.
func Sample(pos player.Position) []player.Record {
	if p, err := player.ParsePosition(string(pos)); err == nil {
		pos = p
	}
	out := make([]player.Record, 0, len(sampleRows))
	for _, r := range sampleRows {
		p, err := player.ParsePosition(r.Position)
		if err != nil {
			continue
		}
		rank := r.Rank
		switch {
		case pos == player.POS_OVERALL:
			rank = r.Overall
		case pos == player.POS_FLEX && p.FlexEligible():
			rank = r.Overall
		case p != pos:
			continue
		}
		out = append(out, player.Record{
			ID:          r.ID,
			Name:        r.Name,
			Team:        r.Team,
			Position:    p,
			AverageRank: rank,
			StdDev:      r.Std,
			ByeWeek:     r.Bye,
		}.Normalize())
	}
	slices.SortStableFunc(out, func(a, b player.Record) int {
		switch {
		case a.AverageRank < b.AverageRank:
			return -1
		case a.AverageRank > b.AverageRank:
			return 1
		default:
			return 0
		}
	})
	return out
}
