package rankings

import (
	"bytes"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/aaron/tierhub/internal/player"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// wirePlayer is one row of the rankings API response.
type wirePlayer struct {
	ID          flexString  `json:"player_id"`
	Name        string      `json:"player_name"`
	Team        string      `json:"player_team_id"`
	Position    string      `json:"player_position_id"`
	RankAvg     flexFloat   `json:"rank_ave"`
	RankStd     flexFloat   `json:"rank_std"`
	RankMin     flexFloat   `json:"rank_min"`
	RankMax     flexFloat   `json:"rank_max"`
	ByeWeek     flexFloat   `json:"player_bye_week"`
	ExpertRanks []flexFloat `json:"expert_ranks"`
	ExpertCount int         `json:"expert_count"`
}

// flexFloat accepts both JSON numbers and numeric strings, which the
// rankings API mixes freely.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	*s = flexString(strings.Trim(string(bytes.TrimSpace(b)), `"`))
	return nil
}

type decodeError struct {
	err error
}

func (e *decodeError) Error() string { return "decode rankings page: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func decodePage(body []byte) ([]wirePlayer, error) {
	var page []wirePlayer
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, &decodeError{err: err}
	}
	return page, nil
}

// toRecords converts wire rows into normalized records, dropping rows that
// fail validation. Rows without a position take the requested one.
func toRecords(rows []wirePlayer, requested player.Position, log logrus.FieldLogger) []player.Record {
	out := make([]player.Record, 0, len(rows))
	for _, w := range rows {
		pos := requested
		if w.Position != "" {
			if p, err := player.ParsePosition(w.Position); err == nil {
				pos = p
			}
		}
		experts := make([]float64, len(w.ExpertRanks))
		for i, r := range w.ExpertRanks {
			experts[i] = float64(r)
		}
		rec := player.Record{
			ID:          string(w.ID),
			Name:        strings.TrimSpace(w.Name),
			Team:        strings.ToUpper(w.Team),
			Position:    pos,
			AverageRank: float64(w.RankAvg),
			StdDev:      float64(w.RankStd),
			BestRank:    int(w.RankMin),
			WorstRank:   int(w.RankMax),
			ExpertRanks: experts,
			ExpertCount: w.ExpertCount,
			ByeWeek:     int(w.ByeWeek),
		}.Normalize()
		if err := rec.Validate(); err != nil {
			log.WithError(err).Debug("skipping invalid ranking row")
			continue
		}
		out = append(out, rec)
	}
	return out
}
