package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/plantnet/gbif-dl/internal/gbif"
	"github.com/plantnet/gbif-dl/internal/media"
)

func runExport(args []string) int {
	fs := flag.NewFlagSet("export", flag.ExitOnError)

	var queryArgs multiFlag
	fs.Var(&queryArgs, "query", "Occurrence filter key=value (repeatable)")
	label := fs.String("label", "", "Occurrence field exported as label")
	mediaType := fs.String("mediatype", gbif.MediaTypeStillImage, "GBIF media type")
	maxTotal := fs.Int("max", 0, "Maximum items (0 = unlimited)")
	output := fs.String("output", "", "Output CSV path (default: stdout)")
	apiURL := fs.String("api", "", "Override GBIF API base URL")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: gbif-dl export [options]

Resolve a GBIF query to media items and write them as CSV without
downloading anything. Useful to inspect what a query would fetch.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if len(queryArgs) == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one -query filter is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	query, err := parseQueryArgs(queryArgs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	client := gbif.NewClient(gbif.Options{BaseURL: *apiURL})
	items, err := client.GenerateURLs(gbif.SearchOptions{
		Query:     query,
		Label:     *label,
		MediaType: *mediaType,
		MaxTotal:  *maxTotal,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitProducerError
	}

	var w io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitGeneralError
		}
		defer f.Close()
		w = f
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := media.WriteCSV(ctx, w, items); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitProducerError
	}
	return ExitSuccess
}
