// Command history-bench benchmarks the history hash function and a
// live database's negative-lookup cache under synthetic load, the way
// cmd/benchmark_hash compared candidate hash functions before settling
// on one.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/go-while/go-history/internal/history"
)

func generateRandomMsgIDs(n int) []string {
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		guid := make([]byte, 24)
		for j := range guid {
			guid[j] = byte(33 + rnd.Intn(94))
		}
		host := fmt.Sprintf("randomhost%d.net", rnd.Intn(10000))
		ids[i] = fmt.Sprintf("<%s@%s>", string(guid), host)
	}
	return ids
}

func main() {
	var (
		n          = flag.Int("n", 200000, "number of synthetic message-ids to generate")
		cacheBytes = flag.Int("cache-bytes", 64*1024, "negative-lookup cache size in bytes")
		dir        = flag.String("dir", "", "scratch directory for the benchmark database (default: a temp dir, removed on exit)")
	)
	flag.Parse()

	msgIDs := generateRandomMsgIDs(*n)
	fmt.Printf("Benchmarking history hash on %d random message-ids...\n", len(msgIDs))

	t0 := time.Now()
	hashes := make([]history.Hash, len(msgIDs))
	for i, s := range msgIDs {
		hashes[i] = history.ComputeHash(s)
	}
	elapsed := time.Since(t0)
	fmt.Printf("ComputeHash: %v (%.0f ops/sec)\n", elapsed, float64(len(msgIDs))/elapsed.Seconds())

	seen := make(map[history.Hash]struct{}, len(hashes))
	collisions := 0
	for _, h := range hashes {
		if _, dup := seen[h]; dup {
			collisions++
		}
		seen[h] = struct{}{}
	}
	fmt.Printf("Collisions: %d out of %d hashes\n\n", collisions, len(hashes))

	scratch := *dir
	if scratch == "" {
		tmp, err := os.MkdirTemp("", "history-bench-*")
		if err != nil {
			fmt.Fprintf(os.Stderr, "mkdtemp: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(tmp)
		scratch = tmp
	}
	dbPath := filepath.Join(scratch, "history.dat")

	cfg := history.DefaultConfig()
	cfg.PairsHint = int64(len(msgIDs))
	h, err := history.Open(dbPath, history.MethodHisV6, history.RDWR|history.CREAT, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer h.Close()
	h.SetCache(*cacheBytes)

	now := time.Now().Unix()
	t0 = time.Now()
	for _, id := range msgIDs {
		if _, err := h.Remember(id, now); err != nil {
			fmt.Fprintf(os.Stderr, "remember: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("Remember: %v (%.0f ops/sec)\n", time.Since(t0), float64(len(msgIDs))/time.Since(t0).Seconds())

	t0 = time.Now()
	for _, id := range msgIDs {
		if _, err := h.Check(id); err != nil {
			fmt.Fprintf(os.Stderr, "check: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("Check (warm cache): %v (%.0f ops/sec)\n", time.Since(t0), float64(len(msgIDs))/time.Since(t0).Seconds())

	stats := h.Stats()
	fmt.Printf("\nCache stats: hitpos=%d hitneg=%d misses=%d dne=%d\n", stats.HitPos, stats.HitNeg, stats.Misses, stats.DNE)
}
