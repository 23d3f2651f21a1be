// Command history-rebuild reconstructs or analyzes a hisv6 history
// database's dbz index against its log file.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	prof "github.com/go-while/go-cpu-mem-profiler"
	"github.com/go-while/go-history/internal/history"
)

var Prof *prof.Profiler

func main() {
	var (
		historyPath = flag.String("path", "", "path to the history log file (required)")
		pairsHint   = flag.Int64("pairs-hint", 0, "expected record count, sizes the rebuilt index (0: size from current index capacity)")
		analyze     = flag.Bool("analyze", false, "report load factor and maximum probe length instead of rebuilding")
		pprofAddr   = flag.String("pprof", "", "enable pprof HTTP server on the given address (e.g. :51111)")
	)
	flag.Parse()

	if *historyPath == "" {
		log.Fatalf("[HISTORY-REBUILD]: -path is required")
	}

	if *pprofAddr != "" {
		Prof = prof.NewProf()
		go Prof.PprofWeb(*pprofAddr)
		Prof.StartMemProfile(5*time.Minute, 30*time.Second)
	}

	fmt.Println("history-rebuild")
	fmt.Println("===============")
	fmt.Printf("  Path:        %s\n", *historyPath)
	fmt.Printf("  Analyze:     %t\n", *analyze)
	if !*analyze {
		fmt.Printf("  Pairs Hint:  %d\n", *pairsHint)
	}
	fmt.Println()

	cfg := history.DefaultConfig()
	flags := history.RDWR | history.CREAT
	h, err := history.Open(*historyPath, history.MethodHisV6, flags, cfg)
	if err != nil {
		log.Fatalf("[HISTORY-REBUILD]: failed to open %s: %v", *historyPath, err)
	}
	defer h.Close()

	if *analyze {
		runAnalysis(h)
		return
	}

	start := time.Now()
	count, err := h.RebuildIndex(*pairsHint)
	if err != nil {
		log.Fatalf("[HISTORY-REBUILD]: rebuild failed after %d records: %v", count, err)
	}
	fmt.Printf("✅ Rebuilt index with %d records in %v\n", count, time.Since(start).Truncate(time.Millisecond))
}

func runAnalysis(h *history.History) {
	loadFactor, maxProbe, err := h.Analyze()
	if err != nil {
		log.Fatalf("[HISTORY-REBUILD]: analyze failed: %v", err)
	}
	fmt.Printf("📊 Index analysis\n")
	fmt.Printf("  Load factor:      %.4f\n", loadFactor)
	fmt.Printf("  Max probe length: %d\n", maxProbe)
	switch {
	case loadFactor > 0.9:
		fmt.Println("  ⚠️  load factor very high, expect long probe chains — rebuild with a larger -pairs-hint")
	case loadFactor > 0.7:
		fmt.Println("  ⚠️  load factor elevated, monitor lookup latency")
	default:
		fmt.Println("  ✅ load factor healthy")
	}
}
