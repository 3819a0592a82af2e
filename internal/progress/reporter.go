package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Stats is an immutable snapshot of run statistics. The three counters sum
// to the number of items dequeued during the run.
type Stats struct {
	Success int64
	Skipped int64
	Failed  int64
}

// Total returns the number of items accounted for.
func (s Stats) Total() int64 {
	return s.Success + s.Skipped + s.Failed
}

func (s Stats) String() string {
	return fmt.Sprintf("success: %d, skipped: %d, failed: %d", s.Success, s.Skipped, s.Failed)
}

// Counter accumulates item outcomes. All methods are safe for concurrent
// workers; counters only ever increase.
type Counter struct {
	success atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

// NewCounter creates a zeroed counter.
func NewCounter() *Counter {
	return &Counter{}
}

// Success records one successfully written item.
func (c *Counter) Success() { c.success.Add(1) }

// Skipped records one item skipped by the dedup guard or content checks.
func (c *Counter) Skipped() { c.skipped.Add(1) }

// Failed records one item whose fetch failed permanently.
func (c *Counter) Failed() { c.failed.Add(1) }

// Snapshot returns the current statistics.
func (c *Counter) Snapshot() Stats {
	return Stats{
		Success: c.success.Load(),
		Skipped: c.skipped.Load(),
		Failed:  c.failed.Load(),
	}
}

// Options configures the progress reporter.
type Options struct {
	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Reporter outputs human-readable progress information. It observes a
// Counter; it never blocks the workers feeding that counter.
type Reporter struct {
	opts    Options
	counter *Counter

	mu         sync.Mutex
	startTime  time.Time
	lastUpdate time.Time
	lastTotal  int64
	stopCh     chan struct{}
	doneCh     chan struct{}
	stopped    bool
}

// NewReporter creates a new progress reporter over the given counter.
func NewReporter(counter *Counter, opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:    opts,
		counter: counter,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.startTime = time.Now()
	r.lastUpdate = r.startTime

	go r.updateLoop()
}

// Stop stops the progress reporter and prints the final status. Safe to
// call more than once.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	now := time.Now()
	stats := r.counter.Snapshot()
	total := stats.Total()

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	rate := float64(total-r.lastTotal) / elapsed

	r.lastUpdate = now
	r.lastTotal = total

	fmt.Fprintf(r.opts.Output, "\r[gbif-dl] Downloads: %d | ok %d | skipped %d | failed %d | %.1f files/s    ",
		total,
		stats.Success,
		stats.Skipped,
		stats.Failed,
		rate,
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	stats := r.counter.Snapshot()
	duration := time.Since(r.startTime)
	rate := float64(stats.Total()) / duration.Seconds()

	fmt.Fprintf(r.opts.Output, "\r[gbif-dl] Downloads: %d | ok %d | skipped %d | failed %d | Done    \n",
		stats.Total(),
		stats.Success,
		stats.Skipped,
		stats.Failed,
	)
	fmt.Fprintf(r.opts.Output, "[gbif-dl] Total time: %s | Average rate: %.1f files/s\n",
		formatDuration(duration),
		rate,
	)
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
