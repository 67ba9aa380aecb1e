// Load test: hammer one key to exercise fetch coalescing and the inbound
// rate limit (429).
//
//	go run ./cmd/loadtest
//	go run ./cmd/loadtest -url http://localhost:8080 -path /players/rb/half -n 120 -c 8
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type tally struct {
	mu      sync.Mutex
	status  map[int]int
	sources map[string]int
	errors  int
}

func (t *tally) add(status int, source string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.errors++
		return
	}
	t.status[status]++
	if source != "" {
		t.sources[source]++
	}
}

func hit(client *http.Client, url string) (int, string, error) {
	resp, err := client.Get(url)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, "", nil
	}
	var body struct {
		DataSource string `json:"data_source"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return resp.StatusCode, "", fmt.Errorf("decode: %w", err)
	}
	return resp.StatusCode, body.DataSource, nil
}

func main() {
	url := flag.String("url", "http://localhost:8080", "Base URL of the server")
	path := flag.String("path", "/players/qb/ppr", "Endpoint to request")
	n := flag.Int("n", 80, "Number of requests to send")
	c := flag.Int("c", 4, "Concurrent requests")
	delay := flag.Duration("delay", 20*time.Millisecond, "Delay between requests per worker")
	flag.Parse()

	target := *url + *path
	fmt.Printf("Load test: %d requests to %s with concurrency %d\n", *n, target, *c)
	fmt.Println("Expect: first ~60 succeed (200), rest get 429")
	fmt.Println()

	client := &http.Client{Timeout: 15 * time.Second}
	res := &tally{status: map[int]int{}, sources: map[string]int{}}
	start := time.Now()

	var g errgroup.Group
	g.SetLimit(*c)
	for i := 0; i < *n; i++ {
		g.Go(func() error {
			status, source, err := hit(client, target)
			if err != nil {
				fmt.Printf("Request %d: %v\n", i+1, err)
			}
			res.add(status, source, err)
			time.Sleep(*delay)
			return nil
		})
	}
	_ = g.Wait()

	fmt.Println()
	fmt.Printf("Results after %s:\n", time.Since(start).Round(time.Millisecond))
	codes := make([]int, 0, len(res.status))
	for code := range res.status {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d %s: %d\n", code, http.StatusText(code), res.status[code])
	}
	for source, count := range res.sources {
		fmt.Printf("  served from %s: %d\n", source, count)
	}
	fmt.Printf("  Errors: %d\n", res.errors)
	fmt.Println()

	if res.status[http.StatusTooManyRequests] > 0 {
		fmt.Println("Rate limiting is working.")
	} else {
		fmt.Println("No 429s observed. Inbound limit may be higher than requests sent or server not running.")
	}
}
