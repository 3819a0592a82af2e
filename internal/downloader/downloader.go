package downloader

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"

	"github.com/plantnet/gbif-dl/internal/fetch"
	"github.com/plantnet/gbif-dl/internal/media"
	"github.com/plantnet/gbif-dl/internal/progress"
)

// ErrBadSubsetWeights is returned before any network activity when the
// configured subset weights do not sum to 1.0.
var ErrBadSubsetWeights = errors.New("downloader: subset weights must sum to 1.0")

// Params configures one download run.
type Params struct {
	// Overwrite disables the skip of items whose basename already exists.
	Overwrite bool

	// Strict stops the whole run on the first permanently failed fetch.
	// The default (lenient) records the item as failed and moves on.
	Strict bool

	// TCPConnections caps concurrent transfers for the whole run.
	// Default: 64
	TCPConnections int

	// Workers is the number of parallel download workers. The batch queue
	// capacity equals the worker count. Default: 64
	Workers int

	// BatchSize is the feeder batching granularity. Default: 16
	BatchSize int

	// Retries is the number of fetch attempts before permanent failure.
	// Default: 3
	Retries int

	// Timeout for individual requests. Default: 60s
	Timeout time.Duration

	// Backoff is the initial wait between fetch attempts. Default: 1s
	Backoff time.Duration

	// MaxBackoff caps the wait between fetch attempts. Default: 30s
	MaxBackoff time.Duration

	// Proxy is an optional outbound proxy URL for all fetches.
	Proxy string

	// RandomSubsets assigns items without an explicit subset to a random
	// partition, e.g. {"train": 0.9, "test": 0.1}. Weights must sum to 1.0.
	RandomSubsets map[string]float64

	// IsValidFile optionally rejects fetched payloads after classification.
	// Rejected items are recorded as skipped.
	IsValidFile func([]byte) bool

	// ProgressOutput enables the live progress display when non-nil.
	ProgressOutput io.Writer

	// Logger receives per-item failure logs. Optional.
	Logger *log.Logger
}

func (p *Params) applyDefaults() {
	if p.TCPConnections <= 0 {
		p.TCPConnections = 64
	}
	if p.Workers <= 0 {
		p.Workers = 64
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 16
	}
	if p.Retries <= 0 {
		p.Retries = 3
	}
	if p.Logger == nil {
		p.Logger = log.New(io.Discard)
	}
}

// validate runs the fail-fast configuration checks.
func (p *Params) validate() error {
	if p.RandomSubsets != nil {
		var sum float64
		for _, w := range p.RandomSubsets {
			sum += w
		}
		if math.Abs(sum-1.0) > 1e-9 {
			return ErrBadSubsetWeights
		}
	}
	return nil
}

type downloader struct {
	bucket  *blob.Bucket
	client  *fetch.Client
	params  Params
	subsets *subsetAssigner
}

// Download runs the engine over the given stream, persisting assets into
// the bucket. It always returns the statistics accumulated so far, even
// when it returns an error.
func Download(ctx context.Context, items media.Stream, bucket *blob.Bucket, params Params) (progress.Stats, error) {
	params.applyDefaults()
	if err := params.validate(); err != nil {
		return progress.Stats{}, err
	}

	client, err := fetch.NewClient(fetch.Options{
		TCPConnections: params.TCPConnections,
		Retries:        params.Retries,
		Timeout:        params.Timeout,
		Backoff:        params.Backoff,
		MaxBackoff:     params.MaxBackoff,
		Proxy:          params.Proxy,
	})
	if err != nil {
		return progress.Stats{}, err
	}

	counter := progress.NewCounter()
	if params.ProgressOutput != nil {
		reporter := progress.NewReporter(counter, progress.Options{Output: params.ProgressOutput})
		reporter.Start()
		defer reporter.Stop()
	}

	d := &downloader{
		bucket:  bucket,
		client:  client,
		params:  params,
		subsets: newSubsetAssigner(params.RandomSubsets),
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// One batch worth of backlog per worker.
	queue := make(chan []media.Item, params.Workers)

	var (
		strictMu  sync.Mutex
		strictErr error
	)

	var wg sync.WaitGroup
	for i := 0; i < params.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range queue {
				for _, item := range batch {
					if runCtx.Err() != nil {
						return
					}

					result, err := d.process(runCtx, item)
					switch result {
					case outcomeSuccess:
						counter.Success()
					case outcomeSkipped:
						counter.Skipped()
						if err != nil {
							params.Logger.Warn("skipped", "url", item.URL, "reason", err)
						}
					case outcomeFailed:
						counter.Failed()
						params.Logger.Error("download failed", "url", item.URL, "status", statusOf(err))

						if params.Strict {
							strictMu.Lock()
							if strictErr == nil {
								strictErr = err
							}
							strictMu.Unlock()
							cancel()
							return
						}
					}
				}
			}
		}()
	}

	feedErr := d.feed(runCtx, items, queue)
	close(queue)
	wg.Wait()

	stats := counter.Snapshot()

	strictMu.Lock()
	defer strictMu.Unlock()
	switch {
	case strictErr != nil:
		return stats, strictErr
	case ctx.Err() != nil:
		return stats, ctx.Err()
	case feedErr != nil:
		return stats, feedErr
	}
	return stats, nil
}

// DownloadTo runs the engine against a root given either as a local
// directory or as a bucket URL (file://, s3://, gs://, mem://).
func DownloadTo(ctx context.Context, items media.Stream, root string, params Params) (progress.Stats, error) {
	bucket, err := openRoot(ctx, root)
	if err != nil {
		return progress.Stats{}, err
	}
	defer bucket.Close()

	return Download(ctx, items, bucket, params)
}

func openRoot(ctx context.Context, root string) (*blob.Bucket, error) {
	if strings.Contains(root, "://") {
		return blob.OpenBucket(ctx, root)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return fileblob.OpenBucket(root, &fileblob.Options{
		Metadata: fileblob.MetadataDontWrite,
	})
}

// feed drains the stream into fixed-size batches and pushes them onto the
// queue, blocking when the queue is full.
func (d *downloader) feed(ctx context.Context, items media.Stream, queue chan<- []media.Item) error {
	for {
		batch := make([]media.Item, 0, d.params.BatchSize)
		var streamErr error
		for len(batch) < d.params.BatchSize {
			item, err := items.Next(ctx)
			if err != nil {
				streamErr = err
				break
			}
			batch = append(batch, item)
		}

		if len(batch) > 0 {
			select {
			case queue <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if streamErr == io.EOF {
			return nil
		}
		if streamErr != nil {
			return streamErr
		}
	}
}

func statusOf(err error) int {
	var statusErr *fetch.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
