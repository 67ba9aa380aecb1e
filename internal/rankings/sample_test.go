package rankings

import (
	"testing"

	"github.com/aaron/tierhub/internal/player"
)

func TestSample_EveryPosition(t *testing.T) {
	for _, pos := range player.Positions {
		players := Sample(pos)
		if len(players) == 0 {
			t.Errorf("%s: empty sample", pos)
			continue
		}
		for i := 1; i < len(players); i++ {
			if players[i].AverageRank < players[i-1].AverageRank {
				t.Errorf("%s: sample not sorted at %d", pos, i)
				break
			}
		}
		for _, p := range players {
			if err := p.Validate(); err != nil {
				t.Errorf("%s: invalid sample record: %v", pos, err)
			}
			if !pos.Aggregate() && p.Position != pos {
				t.Errorf("%s: sample contains %s", pos, p.Position)
			}
		}
	}
}

func TestSample_FlexHoldsOnlyFlexPositions(t *testing.T) {
	flex := Sample(player.POS_FLEX)
	want := len(Sample(player.POS_RB)) + len(Sample(player.POS_WR)) + len(Sample(player.POS_TE))
	if len(flex) != want {
		t.Errorf("want %d flex players, got %d", want, len(flex))
	}
	for _, p := range flex {
		if !p.Position.FlexEligible() {
			t.Errorf("flex sample contains %s %s", p.Position, p.Name)
		}
	}
	if len(Sample(player.POS_OVERALL)) <= len(flex) {
		t.Error("overall sample should include every position")
	}
}

func TestSample_ReturnsFreshSlice(t *testing.T) {
	a := Sample(player.POS_QB)
	a[0].Name = "changed"
	if Sample(player.POS_QB)[0].Name == "changed" {
		t.Error("Sample must not share its backing array between calls")
	}
}

func TestDecodeSample_Errors(t *testing.T) {
	if _, err := decodeSample([]byte(`{not json`)); err == nil {
		t.Error("want error for malformed sample")
	}
	if _, err := decodeSample([]byte(`[]`)); err == nil {
		t.Error("want error for empty sample")
	}
	defer func() {
		if recover() == nil {
			t.Error("mustDecodeSample should panic on a bad sample")
		}
	}()
	mustDecodeSample([]byte(`{not json`))
}

func TestSample_AcceptsUnnormalizedPosition(t *testing.T) {
	if got, want := len(Sample("qb")), len(Sample(player.POS_QB)); got != want || got == 0 {
		t.Errorf("lowercase position: got %d players, want %d", got, want)
	}
}
