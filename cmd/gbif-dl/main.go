package main

import (
	"fmt"
	"os"

	// Bucket drivers selectable through the -root URL.
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
)

// Exit codes
const (
	ExitSuccess        = 0
	ExitGeneralError   = 1
	ExitInvalidArgs    = 2
	ExitConfigError    = 3
	ExitProducerError  = 4
	ExitDownloadFailed = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "fetch":
		return runFetch(cmdArgs)
	case "query":
		return runQuery(cmdArgs)
	case "archive":
		return runArchive(cmdArgs)
	case "export":
		return runExport(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: gbif-dl <command> [options]

Commands:
  fetch    Download media from a URL list file
  query    Search GBIF occurrences and download their media
  archive  Download media referenced by a Darwin Core Archive (key or DOI)
  export   Write the media items of a query to CSV without downloading

Run 'gbif-dl <command> -h' for command-specific help.`)
}
