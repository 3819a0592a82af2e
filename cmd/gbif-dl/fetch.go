package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/plantnet/gbif-dl/internal/media"
)

func runFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	input := fs.String("input", "", "URL list file, one URL per line (required)")
	common := addCommonFlags(fs)

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: gbif-dl fetch [options]

Download every URL in a list file into the target root. Filenames are
derived from the content: sha1 of the URL plus the sniffed media suffix.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *input == "" {
		fmt.Fprintln(os.Stderr, "Error: -input is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := common.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}

	items, err := media.FromFile(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitProducerError
	}

	ctx, cancel := signalContext()
	defer cancel()

	return runEngine(ctx, cfg, items)
}
