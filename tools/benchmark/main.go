// Command benchmark load-tests a running nickname registry API.
//
// It generates one fresh secp256k1 keypair per request, signs a claim intent
// the same way a wallet would, and fires the claims at the API from a pool of
// concurrent workers. Fresh keypairs keep the per-owner claim limiter out of
// the measurement. Optionally every successfully claimed name is resolved
// afterwards to exercise the signed read path.
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rockfridrich/villa-sub002/internal/adapter"
	"github.com/rockfridrich/villa-sub002/internal/signing"
)

const (
	defaultBaseURL     = "http://localhost:8080"
	defaultRequests    = 100
	defaultConcurrency = 8
	maxConcurrency     = 64
)

type Config struct {
	BaseURL        string
	Requests       int
	Concurrency    int
	Prefix         string        // Nickname prefix for generated names
	RequestTimeout time.Duration // Timeout for each HTTP request
	OutputFile     string        // Output markdown file path (optional)
	Resolve        bool          // Resolve claimed names after the claim phase
	Debug          bool
}

// account is one synthetic registrant: a nickname plus the wallet that
// signed the intent to claim it
type account struct {
	nickname  string
	owner     common.Address
	signature string
}

// claimRequest mirrors the API's claim body
type claimRequest struct {
	Nickname             string `json:"nickname"`
	OwnerAddress         string `json:"owner_address"`
	ClaimIntentSignature string `json:"claim_intent_signature"`
}

// sample is the outcome of a single request. A zero status means the request
// never produced an HTTP response.
type sample struct {
	status  int
	latency time.Duration
	err     error
}

// OpStats aggregates samples for one endpoint
type OpStats struct {
	Name            string
	Total           int
	TransportErrors int
	StatusCounts    map[int]int
	Latencies       []time.Duration
	Elapsed         time.Duration
}

func newOpStats(name string) *OpStats {
	return &OpStats{
		Name:         name,
		StatusCounts: make(map[int]int),
	}
}

func (s *OpStats) record(result sample) {
	s.Total++
	if result.err != nil {
		s.TransportErrors++
		return
	}
	s.StatusCounts[result.status]++
	s.Latencies = append(s.Latencies, result.latency)
}

// successes counts 2xx responses
func (s *OpStats) successes() int {
	n := 0
	for code, count := range s.StatusCounts {
		if code >= 200 && code < 300 {
			n += count
		}
	}
	return n
}

func (s *OpStats) failures() int {
	return s.Total - s.successes()
}

func (s *OpStats) avgLatency() time.Duration {
	if len(s.Latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, l := range s.Latencies {
		total += l
	}
	return total / time.Duration(len(s.Latencies))
}

func (s *OpStats) maxLatency() time.Duration {
	var max time.Duration
	for _, l := range s.Latencies {
		if l > max {
			max = l
		}
	}
	return max
}

func main() {
	cfg := parseFlags()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n\nReceived interrupt signal, shutting down...")
		cancel()
	}()

	client := &http.Client{Timeout: cfg.RequestTimeout}

	fmt.Printf("Target API: %s\n", cfg.BaseURL)
	if err := checkHealth(ctx, client, cfg.BaseURL); err != nil {
		fmt.Printf("Error: API health check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Health check passed\n\n")

	fmt.Printf("Generating %d keypairs and signed claim intents...\n", cfg.Requests)
	accounts, err := buildAccounts(cfg)
	if err != nil {
		fmt.Printf("Error generating accounts: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Running claim phase (%d requests, %d workers)...\n", cfg.Requests, cfg.Concurrency)
	benchStart := time.Now()
	claimStats, claimed := runClaims(ctx, cfg, client, accounts)

	var resolveStats *OpStats
	if cfg.Resolve && len(claimed) > 0 && ctx.Err() == nil {
		fmt.Printf("Running resolve phase (%d names, %d workers)...\n", len(claimed), cfg.Concurrency)
		resolveStats = runResolves(ctx, cfg, client, claimed)
	}
	benchElapsed := time.Since(benchStart)

	fmt.Println("\n" + strings.Repeat("=", 80))
	if ctx.Err() != nil {
		fmt.Println("INTERRUPTED - PARTIAL RESULTS")
	} else {
		fmt.Println("BENCHMARK RESULTS")
	}
	fmt.Println(strings.Repeat("=", 80))
	printSummary(cfg, benchElapsed, claimStats, resolveStats)

	// Write to markdown file if specified
	if cfg.OutputFile != "" {
		if err := writeMarkdownReport(cfg.OutputFile, cfg, benchElapsed, claimStats, resolveStats); err != nil {
			fmt.Printf("\n⚠️  Warning: Failed to write markdown file: %v\n", err)
		} else {
			fmt.Printf("\n✓ Report written to: %s\n", cfg.OutputFile)
		}
	}
}

func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.BaseURL, "url", defaultBaseURL, "Base URL of the registry API")
	flag.IntVar(&cfg.Requests, "requests", defaultRequests, "Number of claims to issue")
	flag.IntVar(&cfg.Concurrency, "concurrency", defaultConcurrency, "Number of concurrent workers")
	flag.StringVar(&cfg.Prefix, "prefix", "bench", "Nickname prefix (lowercase letters and digits)")
	flag.StringVar(&cfg.OutputFile, "output", "", "Output markdown file path (optional)")
	flag.BoolVar(&cfg.Resolve, "resolve", true, "Resolve claimed names after the claim phase")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable per-request logging")

	var requestTimeoutSeconds int
	flag.IntVar(&requestTimeoutSeconds, "timeout", 10, "Timeout for each request in seconds (default: 10)")

	configFile := flag.String("config", "", "Path to config file (optional)")

	flag.Parse()

	cfg.RequestTimeout = time.Duration(requestTimeoutSeconds) * time.Second

	if cfg.Requests <= 0 {
		cfg.Requests = defaultRequests
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Concurrency > maxConcurrency {
		cfg.Concurrency = maxConcurrency
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if err := validatePrefix(cfg.Prefix); err != nil {
		fmt.Printf("Error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	// Load from config file if specified
	if *configFile != "" {
		fileCfg, err := LoadConfig(*configFile)
		if err != nil {
			fmt.Printf("Warning: failed to load config file: %v\n", err)
		} else if cfg.BaseURL == defaultBaseURL && fileCfg.BaseURL != "" {
			cfg.BaseURL = strings.TrimRight(fileCfg.BaseURL, "/")
		}
	}

	return cfg
}

// validatePrefix rejects prefixes the registry would refuse anyway.
// Generated names append 10 characters, so the prefix must leave room
// inside the 30-character nickname ceiling.
func validatePrefix(prefix string) error {
	if prefix == "" {
		return fmt.Errorf("prefix must not be empty")
	}
	if len(prefix) > 20 {
		return fmt.Errorf("prefix must be at most 20 characters")
	}
	for _, r := range prefix {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return fmt.Errorf("prefix must contain only lowercase letters and digits")
		}
	}
	return nil
}

// buildAccounts generates one keypair per request and signs the claim intent
// with it, exactly as a wallet client would
func buildAccounts(cfg *Config) ([]account, error) {
	verifier := signing.NewVerifier(adapter.NewJSON(), adapter.NewJCS())

	accounts := make([]account, 0, cfg.Requests)
	for i := 0; i < cfg.Requests; i++ {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate key %d: %w", i, err)
		}
		owner := crypto.PubkeyToAddress(key.PublicKey)

		// The address suffix keeps names unique across repeated runs
		// against the same database
		nickname := fmt.Sprintf("%s%04d%s", cfg.Prefix, i, hex.EncodeToString(owner.Bytes()[:3]))

		digest, err := verifier.ClaimIntentDigest(nickname, owner)
		if err != nil {
			return nil, fmt.Errorf("failed to compute claim intent digest: %w", err)
		}
		sig, err := crypto.Sign(digest.Bytes(), key)
		if err != nil {
			return nil, fmt.Errorf("failed to sign claim intent: %w", err)
		}

		accounts = append(accounts, account{
			nickname:  nickname,
			owner:     owner,
			signature: hexutil.Encode(sig),
		})
	}

	return accounts, nil
}

// checkHealth verifies the API is reachable before the run starts
func checkHealth(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// runClaims fires one claim per account and returns the aggregated stats plus
// the names that were actually registered
func runClaims(ctx context.Context, cfg *Config, client *http.Client, accounts []account) (*OpStats, []string) {
	stats := newOpStats("POST /api/v1/nicknames")
	start := time.Now()

	jobs := make(chan account)
	samples := make(chan sample)
	claimedCh := make(chan string, len(accounts))

	var wg sync.WaitGroup
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for acct := range jobs {
				result := doClaim(ctx, cfg, client, acct)
				if result.err == nil && result.status == http.StatusCreated {
					claimedCh <- acct.nickname
				}
				samples <- result
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, acct := range accounts {
			select {
			case <-ctx.Done():
				return
			case jobs <- acct:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(samples)
		close(claimedCh)
	}()

	for result := range samples {
		stats.record(result)
		if !cfg.Debug {
			fmt.Printf("\r⏳ Claims: %d/%d (failed: %d)    ", stats.Total, len(accounts), stats.failures())
		}
	}
	stats.Elapsed = time.Since(start)
	fmt.Println()

	claimed := make([]string, 0, len(claimedCh))
	for nickname := range claimedCh {
		claimed = append(claimed, nickname)
	}
	return stats, claimed
}

func doClaim(ctx context.Context, cfg *Config, client *http.Client, acct account) sample {
	body, err := json.Marshal(claimRequest{
		Nickname:             acct.nickname,
		OwnerAddress:         acct.owner.Hex(),
		ClaimIntentSignature: acct.signature,
	})
	if err != nil {
		return sample{err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/api/v1/nicknames", bytes.NewReader(body))
	if err != nil {
		return sample{err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if cfg.Debug {
			fmt.Printf("claim %s: %v\n", acct.nickname, err)
		}
		return sample{latency: latency, err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if cfg.Debug {
		fmt.Printf("claim %s: %d in %s\n", acct.nickname, resp.StatusCode, formatDuration(latency))
	}
	return sample{status: resp.StatusCode, latency: latency}
}

// runResolves resolves every claimed name once
func runResolves(ctx context.Context, cfg *Config, client *http.Client, names []string) *OpStats {
	stats := newOpStats("GET /api/v1/resolve/name/{name}")
	start := time.Now()

	jobs := make(chan string)
	samples := make(chan sample)

	var wg sync.WaitGroup
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range jobs {
				samples <- doResolve(ctx, cfg, client, name)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, name := range names {
			select {
			case <-ctx.Done():
				return
			case jobs <- name:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(samples)
	}()

	for result := range samples {
		stats.record(result)
		if !cfg.Debug {
			fmt.Printf("\r⏳ Resolves: %d/%d (failed: %d)    ", stats.Total, len(names), stats.failures())
		}
	}
	stats.Elapsed = time.Since(start)
	fmt.Println()

	return stats
}

func doResolve(ctx context.Context, cfg *Config, client *http.Client, name string) sample {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+"/api/v1/resolve/name/"+name, nil)
	if err != nil {
		return sample{err: err}
	}

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if cfg.Debug {
			fmt.Printf("resolve %s: %v\n", name, err)
		}
		return sample{latency: latency, err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if cfg.Debug {
		fmt.Printf("resolve %s: %d in %s\n", name, resp.StatusCode, formatDuration(latency))
	}
	return sample{status: resp.StatusCode, latency: latency}
}

func printSummary(cfg *Config, elapsed time.Duration, ops ...*OpStats) {
	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Requests:    %d\n", cfg.Requests)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", formatDuration(elapsed))
	fmt.Println()

	for _, op := range ops {
		if op == nil {
			continue
		}
		printOpStats(op)
	}

	fmt.Println(strings.Repeat("-", 80))
}

func printOpStats(stats *OpStats) {
	emoji := statusEmoji(stats.successes(), stats.failures(), 0)
	fmt.Printf("  %s %s\n", emoji, stats.Name)
	fmt.Printf("    Requests:       %d\n", stats.Total)
	fmt.Printf("    Succeeded:      %d (%s)\n", stats.successes(), percentageString(stats.successes(), stats.Total))
	if stats.failures() > 0 {
		fmt.Printf("    Failed:         %d (%s)\n", stats.failures(), percentageString(stats.failures(), stats.Total))
	}
	if stats.TransportErrors > 0 {
		fmt.Printf("    Transport:      %d errors\n", stats.TransportErrors)
	}

	for _, code := range sortedStatusCodes(stats.StatusCounts) {
		fmt.Printf("    HTTP %d:       %d\n", code, stats.StatusCounts[code])
	}

	if len(stats.Latencies) > 0 {
		fmt.Printf("    Latency avg:    %s\n", formatDuration(stats.avgLatency()))
		fmt.Printf("    Latency p50:    %s\n", formatDuration(percentile(stats.Latencies, 50)))
		fmt.Printf("    Latency p90:    %s\n", formatDuration(percentile(stats.Latencies, 90)))
		fmt.Printf("    Latency p99:    %s\n", formatDuration(percentile(stats.Latencies, 99)))
		fmt.Printf("    Latency max:    %s\n", formatDuration(stats.maxLatency()))
	}
	if stats.Elapsed > 0 {
		fmt.Printf("    Throughput:     %s\n", formatRate(stats.Total, stats.Elapsed))
	}
	fmt.Println()
}

func sortedStatusCodes(counts map[int]int) []int {
	codes := make([]int, 0, len(counts))
	for code := range counts {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes
}

func writeMarkdownReport(path string, cfg *Config, elapsed time.Duration, ops ...*OpStats) error {
	var sb strings.Builder

	sb.WriteString("# Nickname Registry Benchmark Report\n\n")
	sb.WriteString(fmt.Sprintf("**Generated:** %s\n\n", time.Now().Format("2006-01-02 15:04:05")))

	sb.WriteString("## Configuration\n\n")
	sb.WriteString("| Setting | Value |\n")
	sb.WriteString("|---------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Target | %s |\n", cfg.BaseURL))
	sb.WriteString(fmt.Sprintf("| Requests | %d |\n", cfg.Requests))
	sb.WriteString(fmt.Sprintf("| Concurrency | %d |\n", cfg.Concurrency))
	sb.WriteString(fmt.Sprintf("| Duration | %s |\n", formatDuration(elapsed)))
	sb.WriteString("\n")

	for _, op := range ops {
		if op == nil {
			continue
		}

		emoji := statusEmoji(op.successes(), op.failures(), 0)
		sb.WriteString(fmt.Sprintf("## %s `%s`\n\n", emoji, op.Name))
		sb.WriteString("| Metric | Value |\n")
		sb.WriteString("|--------|-------|\n")
		sb.WriteString(fmt.Sprintf("| Requests | %d |\n", op.Total))
		sb.WriteString(fmt.Sprintf("| Succeeded | %d (%s) |\n", op.successes(), percentageString(op.successes(), op.Total)))
		sb.WriteString(fmt.Sprintf("| Failed | %d (%s) |\n", op.failures(), percentageString(op.failures(), op.Total)))
		if op.TransportErrors > 0 {
			sb.WriteString(fmt.Sprintf("| Transport errors | %d |\n", op.TransportErrors))
		}
		if len(op.Latencies) > 0 {
			sb.WriteString(fmt.Sprintf("| Latency avg | %s |\n", formatDuration(op.avgLatency())))
			sb.WriteString(fmt.Sprintf("| Latency p50 | %s |\n", formatDuration(percentile(op.Latencies, 50))))
			sb.WriteString(fmt.Sprintf("| Latency p90 | %s |\n", formatDuration(percentile(op.Latencies, 90))))
			sb.WriteString(fmt.Sprintf("| Latency p99 | %s |\n", formatDuration(percentile(op.Latencies, 99))))
			sb.WriteString(fmt.Sprintf("| Latency max | %s |\n", formatDuration(op.maxLatency())))
		}
		sb.WriteString(fmt.Sprintf("| Throughput | %s |\n", formatRate(op.Total, op.Elapsed)))
		sb.WriteString("\n")

		if len(op.StatusCounts) > 0 {
			sb.WriteString("### Status codes\n\n")
			sb.WriteString("| Code | Count |\n")
			sb.WriteString("|------|-------|\n")
			for _, code := range sortedStatusCodes(op.StatusCounts) {
				sb.WriteString(fmt.Sprintf("| %d | %d |\n", code, op.StatusCounts[code]))
			}
			sb.WriteString("\n")
		}
	}

	return os.WriteFile(path, []byte(sb.String()), 0644)
}
