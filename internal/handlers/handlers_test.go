package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/aaron/tierhub/internal/acquisition"
	"github.com/aaron/tierhub/internal/apperr"
	"github.com/aaron/tierhub/internal/freshness"
	"github.com/aaron/tierhub/internal/player"
	"github.com/aaron/tierhub/internal/rankings"
	"github.com/aaron/tierhub/internal/tiers"
)

// stubPlayers answers every key with the same result or error.
type stubPlayers struct {
	result      acquisition.Result
	err         error
	refreshed   []player.Key
	invalidated []player.Key
}

func (s *stubPlayers) Query(ctx context.Context, key player.Key) (acquisition.Result, error) {
	return s.result, s.err
}

func (s *stubPlayers) Refresh(ctx context.Context, key player.Key) (acquisition.Result, error) {
	s.refreshed = append(s.refreshed, key)
	return s.result, s.err
}

func (s *stubPlayers) Invalidate(key player.Key) bool {
	s.invalidated = append(s.invalidated, key)
	return true
}

func (s *stubPlayers) ClearCache(ctx context.Context, key player.Key) (acquisition.Result, error) {
	s.Invalidate(key)
	return s.Refresh(ctx, key)
}

func (s *stubPlayers) Status(key player.Key) freshness.Display {
	return freshness.Display{Status: freshness.StatusFresh, Message: "Up to date", Color: "#16a34a"}
}

func (s *stubPlayers) CacheStats() freshness.Stats {
	return freshness.Stats{Size: 1, MaxSize: 80}
}

func rankedPlayers(n int) []player.Record {
	out := make([]player.Record, n)
	for i := range out {
		out[i] = player.Record{
			ID:          fmt.Sprintf("p%d", i+1),
			Name:        fmt.Sprintf("Player %d", i+1),
			Position:    player.POS_WR,
			AverageRank: float64(i + 1),
		}
	}
	return out
}

func newTestServer(t *testing.T, players *stubPlayers) http.Handler {
	t.Helper()
	classifier, err := tiers.NewClassifier(tiers.Options{})
	if err != nil {
		t.Fatal(err)
	}
	logger, _ := test.NewNullLogger()
	return New(players, classifier, 4, logger).Routes()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("want 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type: want application/json, got %q", ct)
	}
	body := strings.TrimSpace(rec.Body.String())
	if body != `{"status":"ok"}` {
		t.Errorf("body: want %q, got %q", `{"status":"ok"}`, body)
	}
}

func TestGetPlayers(t *testing.T) {
	updated := time.Date(2025, 9, 7, 12, 0, 0, 0, time.UTC)
	players := &stubPlayers{result: acquisition.Result{
		Players:     rankedPlayers(3),
		DataSource:  freshness.SourceCache,
		CacheStatus: freshness.StatusFresh,
		LastUpdated: updated,
	}}
	rec := do(t, newTestServer(t, players), http.MethodGet, "/players/wr/half", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Position    string          `json:"position"`
		Format      string          `json:"format"`
		Count       int             `json:"count"`
		Players     []player.Record `json:"players"`
		DataSource  string          `json:"data_source"`
		LastUpdated time.Time       `json:"last_updated"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Position != "WR" || body.Format != "HALF" || body.Count != 3 || body.DataSource != "cache" {
		t.Errorf("unexpected body %+v", body)
	}
	if !body.LastUpdated.Equal(updated) {
		t.Errorf("want last_updated %v, got %v", updated, body.LastUpdated)
	}
}

func TestGetPlayers_NameFilter(t *testing.T) {
	players := &stubPlayers{result: acquisition.Result{Players: rankedPlayers(12)}}
	rec := do(t, newTestServer(t, players), http.MethodGet, "/players/wr/ppr?name=Player+11", "")

	var body struct {
		Players []player.Record `json:"players"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(body.Players) != 1 || body.Players[0].ID != "p11" {
		t.Errorf("want only p11, got %+v", body.Players)
	}
}

func TestGetPlayers_SampleWarning(t *testing.T) {
	players := &stubPlayers{result: acquisition.Result{
		Players:    rankedPlayers(2),
		DataSource: freshness.SourceSample,
		Warning:    &acquisition.Warning{Code: acquisition.WarningSampleFallback, Message: "down"},
	}}
	rec := do(t, newTestServer(t, players), http.MethodGet, "/players/qb/ppr", "")
	if !strings.Contains(rec.Body.String(), `"code":"sample-fallback"`) {
		t.Errorf("want sample-fallback warning, got %s", rec.Body.String())
	}
}

func TestGetTiers(t *testing.T) {
	players := &stubPlayers{result: acquisition.Result{Players: rankedPlayers(12), DataSource: freshness.SourceAPI}}
	h := newTestServer(t, players)

	rec := do(t, h, http.MethodGet, "/players/wr/ppr/tiers?count=3", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body tiersResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.TierCount != 3 || len(body.Tiers) != 3 {
		t.Fatalf("want 3 tiers, got %d", len(body.Tiers))
	}
	for i, g := range body.Tiers {
		if len(g.Players) != 4 || g.MinRank != i*4+1 || g.MaxRank != i*4+4 {
			t.Errorf("tier %d: unexpected group %+v", i+1, g)
		}
	}

	// Default count.
	rec = do(t, h, http.MethodGet, "/players/wr/ppr/tiers", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.TierCount != 4 {
		t.Errorf("want default 4 tiers, got %d", body.TierCount)
	}
}

func TestBadRequests(t *testing.T) {
	h := newTestServer(t, &stubPlayers{result: acquisition.Result{Players: rankedPlayers(3)}})
	tests := map[string]struct {
		method, path, body string
	}{
		"unknown position":  {method: http.MethodGet, path: "/players/lb/ppr"},
		"unknown format":    {method: http.MethodGet, path: "/players/qb/dynasty"},
		"zero tier count":   {method: http.MethodGet, path: "/players/qb/ppr/tiers?count=0"},
		"text tier count":   {method: http.MethodGet, path: "/players/qb/ppr/tiers?count=many"},
		"malformed body":    {method: http.MethodPost, path: "/tiers", body: "{"},
		"bad posted format": {method: http.MethodPost, path: "/tiers", body: `{"players":[],"format":"dynasty"}`},
		"negative count":    {method: http.MethodPost, path: "/tiers", body: `{"players":[],"tier_count":-1}`},
		"invalid player":    {method: http.MethodPost, path: "/tiers", body: `{"players":[{"name":"No ID","average_rank":1}]}`},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			rec := do(t, h, tc.method, tc.path, tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("want 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), `"code":"INVALID_ARGUMENT"`) {
				t.Errorf("want INVALID_ARGUMENT code, got %s", rec.Body.String())
			}
		})
	}
}

func TestUnavailable(t *testing.T) {
	players := &stubPlayers{err: apperr.New(apperr.CodeUnavailable, "no data")}
	rec := do(t, newTestServer(t, players), http.MethodGet, "/players/k/std", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("want 503, got %d", rec.Code)
	}
}

func TestRefreshClearInvalidate(t *testing.T) {
	players := &stubPlayers{result: acquisition.Result{Players: rankedPlayers(1), DataSource: freshness.SourceAPI}}
	h := newTestServer(t, players)

	if rec := do(t, h, http.MethodPost, "/players/te/ppr/refresh", ""); rec.Code != http.StatusOK {
		t.Errorf("refresh: want 200, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/players/te/ppr/clear", ""); rec.Code != http.StatusOK {
		t.Errorf("clear: want 200, got %d", rec.Code)
	}
	rec := do(t, h, http.MethodDelete, "/players/te/ppr", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"removed":true`) {
		t.Errorf("delete: want removed, got %d %s", rec.Code, rec.Body.String())
	}

	te := player.Key{Position: player.POS_TE, Format: player.FORMAT_PPR}
	if len(players.refreshed) != 2 || players.refreshed[0] != te {
		t.Errorf("want 2 refreshes of %v, got %v", te, players.refreshed)
	}
	if len(players.invalidated) != 2 {
		t.Errorf("want 2 invalidations, got %v", players.invalidated)
	}
}

func TestGetStatus(t *testing.T) {
	rec := do(t, newTestServer(t, &stubPlayers{}), http.MethodGet, "/players/overall/ppr/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"key":"overall:ppr"`) || !strings.Contains(body, `"status":"fresh"`) {
		t.Errorf("unexpected body %s", body)
	}
}

func TestClassifyPosted(t *testing.T) {
	h := newTestServer(t, &stubPlayers{})
	count := 3
	payload, _ := json.Marshal(classifyRequest{Players: rankedPlayers(10), TierCount: &count, Format: "ppr"})

	rec := do(t, h, http.MethodPost, "/tiers", string(payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		TierCount int           `json:"tier_count"`
		Tiers     []tiers.Group `json:"tiers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	sizes := make([]int, len(body.Tiers))
	for i, g := range body.Tiers {
		sizes[i] = len(g.Players)
	}
	if fmt.Sprint(sizes) != "[4 4 2]" {
		t.Errorf("want sizes [4 4 2], got %v", sizes)
	}
	if body.Tiers[0].Players[0].Consensus == "" {
		t.Error("posted players should be normalized")
	}
}

func TestClassifyPosted_TierCount(t *testing.T) {
	players, _ := json.Marshal(rankedPlayers(12))
	tests := map[string]struct {
		field      string
		wantStatus int
		wantTiers  int
	}{
		"omitted uses default": {field: "", wantStatus: http.StatusOK, wantTiers: 4},
		"explicit count":       {field: `,"tier_count":3`, wantStatus: http.StatusOK, wantTiers: 3},
		"explicit zero":        {field: `,"tier_count":0`, wantStatus: http.StatusBadRequest},
		"negative":             {field: `,"tier_count":-2`, wantStatus: http.StatusBadRequest},
		"too many":             {field: `,"tier_count":51`, wantStatus: http.StatusBadRequest},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			h := newTestServer(t, &stubPlayers{})
			rec := do(t, h, http.MethodPost, "/tiers", `{"players":`+string(players)+tc.field+`}`)
			if rec.Code != tc.wantStatus {
				t.Fatalf("want %d, got %d: %s", tc.wantStatus, rec.Code, rec.Body.String())
			}
			if tc.wantStatus != http.StatusOK {
				return
			}
			var body struct {
				TierCount int `json:"tier_count"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if body.TierCount != tc.wantTiers {
				t.Errorf("want %d tiers, got %d", tc.wantTiers, body.TierCount)
			}
		})
	}
}

func TestStats(t *testing.T) {
	rec := do(t, newTestServer(t, &stubPlayers{}), http.MethodGet, "/stats", "")
	var body map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	for _, k := range []string{"cache", "tiers", "metrics"} {
		if _, ok := body[k]; !ok {
			t.Errorf("stats missing %q", k)
		}
	}
}

func TestWriteError_UpstreamRateLimitIsUnavailable(t *testing.T) {
	h := New(&stubPlayers{}, nil, 0, nil)
	w := httptest.NewRecorder()
	cause := fmt.Errorf("fetch: %w", &rankings.ErrRateLimited{RetryAfterMs: 500})
	h.writeError(w, apperr.Wrap(apperr.CodeUnavailable, "no player data", cause))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("want 503, got %d", w.Code)
	}
	if retry := w.Header().Get("Retry-After"); retry != "" {
		t.Errorf("want no Retry-After, got %q", retry)
	}
}

func TestWriteError_Unknown(t *testing.T) {
	logger, hook := test.NewNullLogger()
	h := New(&stubPlayers{}, nil, 0, logger)
	w := httptest.NewRecorder()
	h.writeError(w, errors.New("boom"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("want 500, got %d", w.Code)
	}
	if len(hook.Entries) != 1 {
		t.Errorf("want server error logged once, got %d entries", len(hook.Entries))
	}
}
