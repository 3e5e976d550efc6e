// Command loadtest drives discovery sessions the way a browsing user would:
// open a session, narrow by filters, re-sort, read the snapshot, clear, and
// eventually leave.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	BaseURL       string
	Concurrency   int
	Duration      time.Duration
	StepsPerVisit int
	Queries       []string
	Tags          []string
}

type opStats struct {
	count     atomic.Int64
	errors    atomic.Int64
	latencies []time.Duration
	mu        sync.Mutex
}

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	visits        atomic.Int64
	latencies     []time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]*atomic.Int64
	statusCodesMu sync.Mutex
	ops           map[string]*opStats
}

var operations = []string{"create", "filters", "sort", "get", "clear", "delete"}

func NewStats() *Stats {
	s := &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]*atomic.Int64),
		ops:         make(map[string]*opStats, len(operations)),
	}
	for _, op := range operations {
		s.ops[op] = &opStats{}
	}
	return s
}

func (s *Stats) RecordRequest(op string, duration time.Duration, statusCode int, err error) {
	s.totalRequests.Add(1)
	o := s.ops[op]
	o.count.Add(1)

	if err != nil || statusCode < 200 || statusCode >= 300 {
		s.errorCount.Add(1)
		o.errors.Add(1)
	} else {
		s.successCount.Add(1)
	}
	if err != nil {
		return
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()

	o.mu.Lock()
	o.latencies = append(o.latencies, duration)
	o.mu.Unlock()

	s.statusCodesMu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.statusCodesMu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the discovery service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent visitors")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	steps := flag.Int("steps", 5, "interactions per session before it is dropped")
	flag.Parse()

	cfg := Config{
		BaseURL:       *baseURL,
		Concurrency:   *concurrency,
		Duration:      *duration,
		StepsPerVisit: *steps,
		Queries: []string{
			"linear algebra",
			"organic chemistry",
			"data structures",
			"midterm review",
			"thermodynamics",
			"macroeconomics",
			"graph algorithms",
			"cell biology",
			"operating systems",
			"discrete math",
		},
		Tags: []string{"lecture", "exam", "homework", "summary", "lab"},
	}

	fmt.Println("=== Note Discovery Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Steps/visit: %d\n", cfg.StepsPerVisit)
	fmt.Println()

	stats := runLoadTest(cfg)
	printReport(stats, cfg.Duration)
}

type envelope struct {
	Good  bool            `json:"good"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

type visitor struct {
	cfg    Config
	client *http.Client
	stats  *Stats
}

// call issues one request and records it under op. out, when non-nil,
// receives the envelope's data.
func (v *visitor) call(ctx context.Context, op, method, path string, body, out any) bool {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			panic(fmt.Sprintf("encoding %s body: %v", op, err))
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, v.cfg.BaseURL+path, reader)
	if err != nil {
		panic(fmt.Sprintf("creating request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := v.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			v.stats.RecordRequest(op, duration, 0, err)
		}
		return false
	}
	defer resp.Body.Close()
	v.stats.RecordRequest(op, duration, resp.StatusCode, nil)

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode < 300
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil || !env.Good {
		return false
	}
	return json.Unmarshal(env.Data, out) == nil
}

func (v *visitor) visit(ctx context.Context, n int) {
	query := v.cfg.Queries[n%len(v.cfg.Queries)]
	var created struct {
		ID string `json:"id"`
	}
	ok := v.call(ctx, "create", http.MethodPost, "/api/v1/sessions", map[string]any{
		"context": map[string]string{"kind": "query", "query": query},
	}, &created)
	if !ok {
		return
	}
	v.stats.visits.Add(1)
	path := "/api/v1/sessions/" + created.ID

	// Leave the session even when the test deadline has passed.
	defer v.call(context.Background(), "delete", http.MethodDelete, path, nil, nil)

	sorts := [][2]string{{"createdDate", "desc"}, {"title", "asc"}, {"likes", "desc"}}
	for step := 0; step < v.cfg.StepsPerVisit && ctx.Err() == nil; step++ {
		switch step % 4 {
		case 0:
			tag := v.cfg.Tags[(n+step)%len(v.cfg.Tags)]
			v.call(ctx, "filters", http.MethodPut, path+"/filters", map[string]any{"tags": []string{tag}}, nil)
		case 1:
			s := sorts[(n+step)%len(sorts)]
			v.call(ctx, "sort", http.MethodPut, path+"/sort", map[string]string{"key": s[0], "order": s[1]}, nil)
		case 2:
			v.call(ctx, "get", http.MethodGet, path, nil, nil)
		case 3:
			v.call(ctx, "clear", http.MethodPost, path+"/clear", nil, nil)
		}
	}
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			v := &visitor{cfg: cfg, client: client, stats: stats}
			for n := workerID; ctx.Err() == nil; n += cfg.Concurrency {
				v.visit(ctx, n)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	errors := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Sessions:        %d\n", stats.visits.Load())
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Errors:          %d\n", errors)

	if total > 0 {
		errorRate := float64(errors) / float64(total) * 100
		fmt.Printf("Error Rate:      %.2f%%\n", errorRate)
		rps := float64(total) / duration.Seconds()
		fmt.Printf("Requests/sec:    %.2f\n", rps)
	}

	stats.latenciesMu.Lock()
	latencies := slices.Clone(stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		slices.Sort(latencies)

		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P90:    %s\n", percentile(latencies, 90))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])

		var sumSquared float64
		avgFloat := float64(avg)
		for _, l := range latencies {
			diff := float64(l) - avgFloat
			sumSquared += diff * diff
		}
		stddev := time.Duration(math.Sqrt(sumSquared / float64(len(latencies))))
		fmt.Printf("StdDev: %s\n", stddev)
	}

	fmt.Println()
	fmt.Println("=== Operations ===")
	for _, op := range operations {
		o := stats.ops[op]
		o.mu.Lock()
		lat := slices.Clone(o.latencies)
		o.mu.Unlock()
		slices.Sort(lat)
		fmt.Printf("  %-8s %6d req  %5d err  p95 %s\n", op, o.count.Load(), o.errors.Load(), percentile(lat, 95))
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	stats.statusCodesMu.Lock()
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		count := stats.statusCodes[code].Load()
		fmt.Printf("  %d: %d\n", code, count)
	}
	stats.statusCodesMu.Unlock()

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
