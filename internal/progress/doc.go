// Package progress tracks per-run download statistics and renders a live
// progress display.
//
// A Counter owns the three outcome counters (success, skipped, failed).
// Workers only increment it through atomic adds; the final Stats snapshot is
// taken once the run has drained. A Reporter polls a Counter on a ticker and
// prints a human-readable line, so the display can never block or slow a
// worker.
//
// # Usage
//
//	counter := progress.NewCounter()
//	reporter := progress.NewReporter(counter, progress.Options{
//	    Output: os.Stderr,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	// Workers record outcomes
//	counter.Success()
//	counter.Skipped()
//	counter.Failed()
//
// # Output Format
//
//	[gbif-dl] Downloads: 4628 | ok 4500 | skipped 100 | failed 28 | 211.4 files/s
package progress
