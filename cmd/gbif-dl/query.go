package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/plantnet/gbif-dl/internal/gbif"
)

func runQuery(args []string) int {
	fs := flag.NewFlagSet("query", flag.ExitOnError)

	var queryArgs multiFlag
	fs.Var(&queryArgs, "query", "Occurrence filter key=value (repeatable)")
	label := fs.String("label", "", "Occurrence field used as folder label (empty keeps full metadata)")
	mediaType := fs.String("mediatype", gbif.MediaTypeStillImage, "GBIF media type (StillImage, MovingImage, Sound)")
	var splitBy multiFlag
	fs.Var(&splitBy, "split-by", "Query key whose values become balanced streams (repeatable)")
	maxTotal := fs.Int("max", 0, "Maximum total items (0 = unlimited)")
	maxPerStream := fs.Int("max-per-stream", 0, "Maximum items per split stream (0 = unlimited)")
	apiURL := fs.String("api", "", "Override GBIF API base URL")
	common := addCommonFlags(fs)

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: gbif-dl query [options]

Search GBIF occurrences and download their media. Repeat -query to add
filters; repeated values of the same key are OR-ed, e.g.

  gbif-dl query -query speciesKey=5352251 -query speciesKey=3189866 \
      -label speciesKey -split-by speciesKey -root ./media

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

	cfg, err := common.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}

	query, err := parseQueryArgs(queryArgs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	client := gbif.NewClient(gbif.Options{
		BaseURL: *apiURL,
		Retries: cfg.Retry.Attempts,
		Timeout: cfg.Timeout,
		Logger:  newLogger(cfg.LogLevel),
	})

	items, err := client.GenerateURLs(gbif.SearchOptions{
		Query:        query,
		Label:        *label,
		MediaType:    *mediaType,
		SplitBy:      splitBy,
		MaxPerStream: *maxPerStream,
		MaxTotal:     *maxTotal,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitProducerError
	}

	ctx, cancel := signalContext()
	defer cancel()

	return runEngine(ctx, cfg, items)
}
