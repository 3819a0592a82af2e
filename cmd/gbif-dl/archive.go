package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/plantnet/gbif-dl/internal/dwca"
	"github.com/plantnet/gbif-dl/internal/gbif"
)

func runArchive(args []string) int {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)

	identifier := fs.String("id", "", "GBIF download key or DOI (required)")
	dwcaDir := fs.String("dwca-dir", "", "Directory for downloaded archives (default: temp dir)")
	label := fs.String("label", "speciesKey", "Core field used as folder label (empty keeps full metadata)")
	mediaType := fs.String("mediatype", gbif.MediaTypeStillImage, "GBIF media type")
	apiURL := fs.String("api", "", "Override GBIF API base URL")
	common := addCommonFlags(fs)

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: gbif-dl archive [options]

Download the media referenced by a Darwin Core Archive. The archive is
identified either by its GBIF download key or by its dataset DOI, e.g.

  gbif-dl archive -id 10.15468/dl.g24486 -root ./media

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *identifier == "" {
		fmt.Fprintln(os.Stderr, "Error: -id is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := common.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}

	ctx, cancel := signalContext()
	defer cancel()

	logger := newLogger(cfg.LogLevel)
	client := gbif.NewClient(gbif.Options{
		BaseURL: *apiURL,
		Retries: cfg.Retry.Attempts,
		Timeout: cfg.Timeout,
		Logger:  logger,
	})

	key := *identifier
	if gbif.IsDOI(key) {
		key, err = client.ResolveDOI(ctx, *identifier)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitProducerError
		}
		logger.Info("resolved DOI", "doi", *identifier, "key", key)
	}

	destDir := *dwcaDir
	if destDir == "" {
		destDir, err = os.MkdirTemp("", "gbif-dl-dwca-*")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitGeneralError
		}
		defer os.RemoveAll(destDir)
	}

	archivePath, err := client.DownloadArchive(ctx, key, destDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitProducerError
	}

	items, err := dwca.Open(archivePath, dwca.Options{
		Label:     *label,
		MediaType: *mediaType,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitProducerError
	}

	return runEngine(ctx, cfg, items)
}
