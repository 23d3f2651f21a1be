// Command history-prune reads message-IDs from stdin, one per line,
// and strips their token from an already-built history database —
// the Go equivalent of prunehistory(8): drop a record back to a
// tombstone without forgetting it was ever seen.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/go-while/go-history/internal/history"
)

func main() {
	var (
		historyPath = flag.String("path", "", "path to the history log file (required)")
		passing     = flag.Bool("p", false, "echo blank, comment and non-message-ID lines to stdout instead of reporting non-message-ID lines on stderr")
	)
	flag.Parse()

	if *historyPath == "" {
		log.Fatalf("[HISTORY-PRUNE]: -path is required")
	}

	cfg := history.DefaultConfig()
	h, err := history.Open(*historyPath, history.MethodHisV6, history.RDWR, cfg)
	if err != nil {
		log.Fatalf("[HISTORY-PRUNE]: can't open %q: %v", *historyPath, err)
	}
	rc := 0
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			if *passing {
				fmt.Println(line)
			}
			continue
		}
		if !strings.HasPrefix(line, "<") || !strings.Contains(line, ">") {
			if *passing {
				fmt.Println(line)
			} else {
				fmt.Fprintf(os.Stderr, "Line doesn't start with a <Message-ID>, ignored:\n\t%s\n", line)
			}
			continue
		}
		key := line[:strings.Index(line, ">")+1]

		if _, err := h.Prune(key); err != nil {
			fmt.Fprintf(os.Stderr, "Can't prune %q: %v\n", key, err)
			rc = 1
			continue
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("[HISTORY-PRUNE]: reading stdin: %v", err)
	}
	if err := h.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Can't close %q: %v\n", *historyPath, err)
		rc = 1
	}
	os.Exit(rc)
}
