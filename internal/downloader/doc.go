// Package downloader implements the concurrent fetch-and-persist engine.
//
// A feeder goroutine drains the upstream item stream, groups items into
// fixed-size batches and pushes them onto a bounded queue whose capacity
// equals the worker count; when network throughput lags the producer, the
// full queue stalls the feeder, which is the engine's backpressure
// mechanism. Each worker drains batches and, per item, runs the dedup
// guard, the retrying fetch, content classification and the blob write,
// then records exactly one of success, skipped or failed.
//
// # Usage
//
//	stats, err := downloader.DownloadTo(ctx, items, "downloads", downloader.Params{
//	    Workers:   64,
//	    BatchSize: 16,
//	    Retries:   3,
//	})
//
// # Shutdown
//
// After the stream is exhausted the queue is closed and the run waits for
// all enqueued batches to finish before returning the final statistics.
// Cancelling the context tears the run down early; the statistics
// accumulated so far are still returned.
package downloader
