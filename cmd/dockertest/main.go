// dockertest hits the main endpoints of a running server and prints a summary.
// Used after starting the container:
//
//	go run ./cmd/dockertest -url http://localhost:8080
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

const maxShow = 8

type playersBody struct {
	Count       int    `json:"count"`
	DataSource  string `json:"data_source"`
	CacheStatus string `json:"cache_status"`
	Players     []struct {
		Name string  `json:"name"`
		Rank float64 `json:"average_rank"`
	} `json:"players"`
	Tiers []struct {
		Tier    int    `json:"tier"`
		Label   string `json:"label"`
		MinRank int    `json:"min_rank"`
		MaxRank int    `json:"max_rank"`
	} `json:"tiers"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Warning *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"warning"`
}

func fetchAndSummarize(client *http.Client, base, path string) error {
	resp, err := client.Get(base + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status: want 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		return fmt.Errorf("Content-Type: want application/json, got %s", ct)
	}

	var body playersBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	switch {
	case len(body.Tiers) > 0:
		fmt.Printf("  %d tiers (%s)\n", len(body.Tiers), body.DataSource)
		for _, t := range body.Tiers {
			fmt.Printf("  → tier %d %-12s ranks %d-%d\n", t.Tier, t.Label, t.MinRank, t.MaxRank)
		}
	case body.Status != "":
		fmt.Printf("  %s: %s\n", body.Status, body.Message)
	case body.DataSource != "":
		fmt.Printf("  %d players from %s (%s)\n", body.Count, body.DataSource, body.CacheStatus)
		var names []string
		for i, p := range body.Players {
			if i == maxShow {
				break
			}
			names = append(names, p.Name)
		}
		if len(names) > 0 {
			summary := strings.Join(names, ", ")
			if len(body.Players) > maxShow {
				summary += fmt.Sprintf(" ... (+%d more)", len(body.Players)-maxShow)
			}
			fmt.Printf("  → %s\n", summary)
		}
	}
	if body.Warning != nil {
		fmt.Printf("  warning %s: %s\n", body.Warning.Code, body.Warning.Message)
	}
	return nil
}

func main() {
	base := flag.String("url", "http://localhost:8080", "Base URL of the server")
	flag.Parse()

	client := &http.Client{Timeout: 30 * time.Second}
	endpoints := []string{
		"/health",
		"/players/qb/ppr",
		"/players/overall/ppr/tiers?count=5",
		"/players/qb/ppr/status",
	}
	var failed bool
	for i, path := range endpoints {
		if i > 0 {
			time.Sleep(time.Second) // avoid inbound rate limit
		}
		fmt.Printf("%s\n", path)
		if err := fetchAndSummarize(client, *base, path); err != nil {
			fmt.Printf("  ERROR: %v\n", err)
			failed = true
		}
		fmt.Println()
	}
	if failed {
		os.Exit(1)
	}
	fmt.Printf("All %d endpoints OK\n", len(endpoints))
}
