// dmadump decodes a recorded DMA trace file and prints its events, one per
// line, for inspecting what a stored sequence will replay onto the timeline.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/HTGAzureX1212/artiq/internal/buildinfo"
	"github.com/HTGAzureX1212/artiq/rtio"
)

func main() {
	var inPath string
	var channel int64
	var relative bool
	var version bool
	flag.StringVar(&inPath, "in", "", "Input trace file.")
	flag.Int64Var(&channel, "channel", -1, "Only print events on this channel (-1 = all).")
	flag.BoolVar(&relative, "rel", false, "Print timestamps relative to the first event.")
	flag.BoolVar(&version, "version", false, "Print the build identifier and exit.")
	flag.Parse()

	if version {
		fmt.Println("dmadump", buildinfo.Short())
		return
	}
	if inPath == "" {
		fmt.Fprintln(os.Stderr, "error: -in is required")
		os.Exit(2)
	}

	if err := run(os.Stdout, inPath, channel, relative); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(w io.Writer, inPath string, channel int64, relative bool) error {
	trace, err := os.ReadFile(inPath)
	if err != nil {
		return fmt.Errorf("read trace %q: %w", inPath, err)
	}
	records, err := rtio.DecodeTrace(trace)
	if err != nil {
		if errors.Is(err, rtio.ErrBadRecord) {
			return fmt.Errorf("trace %q: record %d is malformed", inPath, len(records))
		}
		return fmt.Errorf("decode trace %q: %w", inPath, err)
	}

	var base uint64
	if relative && len(records) > 0 {
		base = records[0].Timestamp
	}

	fmt.Fprintf(w, "%6s  %16s  %7s  %4s  %s\n", "#", "TIMESTAMP", "CHANNEL", "ADDR", "WORDS")
	printed := 0
	for i, rec := range records {
		if channel >= 0 && int64(rec.Channel()) != channel {
			continue
		}
		words := make([]string, len(rec.Words))
		for j, word := range rec.Words {
			words[j] = fmt.Sprintf("%08x", uint32(word))
		}
		fmt.Fprintf(w, "%6d  %16d  %7d  %#02x  %s\n",
			i, rec.Timestamp-base, rec.Channel(), rec.Address(), strings.Join(words, " "))
		printed++
	}
	fmt.Fprintf(w, "%d events, %d printed\n", len(records), printed)
	return nil
}
