package rankings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aaron/tierhub/internal/player"
)

var qbPPR = player.Key{Position: player.POS_QB, Format: player.FORMAT_PPR}

func TestGetAllPages_ContinuesPastFullPage(t *testing.T) {
	// Simulate the rankings API: first page returns 50 (full), second returns 15.
	// We must request skip=50 and stop when len < take.
	var requestCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		if got := r.URL.Query().Get("position"); got != "QB" {
			t.Errorf("position param: want QB, got %q", got)
		}
		if got := r.URL.Query().Get("scoring"); got != "PPR" {
			t.Errorf("scoring param: want PPR, got %q", got)
		}
		if got := r.Header.Get("x-api-key"); got != "test-secret" {
			t.Errorf("api key header: got %q", got)
		}
		skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
		take, _ := strconv.Atoi(r.URL.Query().Get("take"))
		// Total 65 items: skip 0 -> 50, skip 50 -> 15
		end := min(skip+take, 65)
		var items []map[string]interface{}
		for i := skip; i < end; i++ {
			items = append(items, map[string]interface{}{
				"player_id":   i + 1,
				"player_name": fmt.Sprintf("Player %d", i+1),
				"rank_ave":    fmt.Sprintf("%d.50", i+1),
				"rank_std":    1.25,
			})
		}
		if err := json.NewEncoder(w).Encode(items); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}))
	defer server.Close()

	client := NewClientWithURL("test-secret", server.URL)
	players, err := client.FetchPlayers(context.Background(), qbPPR)
	if err != nil {
		t.Fatal(err)
	}

	if len(players) != 65 {
		t.Errorf("got %d items, want 65 (pagination truncated)", len(players))
	}
	if n := requestCount.Load(); n != 2 {
		t.Errorf("got %d requests, want 2 (second request needed when first returns exactly 50)", n)
	}
	first := players[0]
	if first.ID != "1" || first.AverageRank != 1.5 || first.StdDev != 1.25 || first.Position != player.POS_QB {
		t.Errorf("unexpected first record: %+v", first)
	}
	if first.Consensus != player.CONSENSUS_HIGH {
		t.Errorf("want derived consensus high, got %s", first.Consensus)
	}
}

func TestGet_OutboundRateLimit(t *testing.T) {
	// Server returns 429 with Retry-After: 50ms.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "50")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limited"))
	}))
	defer server.Close()

	client := NewClientWithURL("test-secret", server.URL)
	ctx := context.Background()

	// First request: gets 429, sets backoff
	_, _, err := client.Get(ctx, "/test")
	if err == nil {
		t.Fatal("want ErrRateLimited, got nil")
	}
	if _, ok := err.(*ErrRateLimited); !ok {
		t.Fatalf("want ErrRateLimited, got %T", err)
	}

	// Second request: must wait ~50ms (backoff) before sending
	start := time.Now()
	_, _, err = client.Get(ctx, "/test")
	if err == nil {
		t.Fatal("want ErrRateLimited, got nil")
	}
	elapsed := time.Since(start)

	// Allow 5ms tolerance
	if elapsed < 45*time.Millisecond {
		t.Errorf("outbound backoff: elapsed %v, want >= 45ms (should wait Retry-After)", elapsed)
	}
}

func TestGet_BackoffHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5000")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClientWithURL("k", server.URL)
	_, _, _ = client.Get(context.Background(), "/test")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := client.Get(ctx, "/test")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("want deadline exceeded while backing off, got %v", err)
	}
}

func TestFetchPlayers_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[{"player_id":"7","player_name":"Joe Burrow","rank_ave":4}]`))
	}))
	defer server.Close()

	client := NewClient(Options{BaseURL: server.URL, MaxRetries: 2})
	players, err := client.FetchPlayers(context.Background(), qbPPR)
	if err != nil {
		t.Fatalf("want success after retry, got %v", err)
	}
	if len(players) != 1 || players[0].Name != "Joe Burrow" {
		t.Errorf("unexpected players: %+v", players)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("want 2 calls, got %d", n)
	}
}

func TestFetchPlayers_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(Options{BaseURL: server.URL, MaxRetries: 3})
	_, err := client.FetchPlayers(context.Background(), qbPPR)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Fatalf("want StatusError 401, got %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("4xx must not be retried: got %d calls", n)
	}
}

func TestFetchPlayers_SkipsInvalidRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"player_id":"1","player_name":"Bijan Robinson","player_position_id":"RB","rank_ave":"1.2","expert_ranks":[1,1,2]},
			{"player_id":"","player_name":"No Id","rank_ave":"3"},
			{"player_id":"3","player_name":"Negative","rank_ave":"-4"}
		]`))
	}))
	defer server.Close()

	client := NewClientWithURL("k", server.URL)
	players, err := client.FetchPlayers(context.Background(), player.Key{Position: player.POS_FLEX, Format: player.FORMAT_HALF})
	if err != nil {
		t.Fatal(err)
	}
	if len(players) != 1 {
		t.Fatalf("want 1 valid record, got %d", len(players))
	}
	if players[0].Position != player.POS_RB {
		t.Errorf("row position should win over requested, got %s", players[0].Position)
	}
	if players[0].ExpertCount != 3 {
		t.Errorf("want expert count derived from ranks, got %d", players[0].ExpertCount)
	}
}

func TestFetchPlayers_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not":"an array"}`))
	}))
	defer server.Close()

	client := NewClient(Options{BaseURL: server.URL, MaxRetries: 3})
	if _, err := client.FetchPlayers(context.Background(), qbPPR); err == nil {
		t.Fatal("want decode error")
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 1000},
		{"250", 250},
		{"soon", 1000},
		{"-5", 1000},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in, time.Second); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
