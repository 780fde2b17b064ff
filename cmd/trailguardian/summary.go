package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	"trailguardian/internal/replay"
)

func readLog(path string) ([]replay.Record, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("log path is empty")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return replay.NewReader(f).ReadAll()
}

func runSummary(args []string, out io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("summary takes one log path: %w", errUsage)
	}
	recs, err := readLog(args[0])
	if err != nil {
		return err
	}
	printLogSummary(out, args[0], replay.Summarize(recs))
	return nil
}

func printLogSummary(out io.Writer, path string, s replay.Summary) {
	fmt.Fprintf(out, "path: %s\n", path)
	fmt.Fprintf(out, "segments: %d\n", s.Segments)
	fmt.Fprintf(out, "records: %s\n", humanize.Comma(int64(s.Records)))
	fmt.Fprintf(out, "max_duration: %s\n", s.MaxDuration)
	fmt.Fprintf(out, "kind_counts:\n")
	for _, k := range replay.Kinds {
		if n := s.Counts[k]; n > 0 {
			fmt.Fprintf(out, "  %s: %s\n", k, humanize.Comma(int64(n)))
		}
	}
}
