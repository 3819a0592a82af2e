package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/semaphore"
)

// StatusError reports a non-2xx response that survived the retry budget.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Status)
}

// Options configures the fetch client.
type Options struct {
	// TCPConnections caps concurrent transfers across the whole run.
	// Default: 64
	TCPConnections int

	// Retries is the maximum number of attempts per fetch, including the
	// first. Default: 3
	Retries int

	// Timeout for individual requests.
	// Default: 60s
	Timeout time.Duration

	// Backoff is the initial backoff duration between attempts.
	// Default: 1s
	Backoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	// Default: 30s
	MaxBackoff time.Duration

	// Proxy is an optional outbound proxy URL applied to all fetches.
	// Credentials may be embedded in the URL.
	Proxy string

	// Logger receives retry noise at debug level. Optional.
	Logger *log.Logger
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		TCPConnections: 64,
		Retries:        3,
		Timeout:        60 * time.Second,
		Backoff:        time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// Client retrieves URLs with bounded concurrency and automatic retry. One
// client is shared by all workers of a run.
type Client struct {
	rc   *retryablehttp.Client
	sem  *semaphore.Weighted
	opts Options
}

// NewClient creates a new fetch client with the given options.
func NewClient(opts Options) (*Client, error) {
	if opts.TCPConnections <= 0 {
		opts.TCPConnections = 64
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Backoff == 0 {
		opts.Backoff = time.Second
	}
	if opts.MaxBackoff == 0 {
		opts.MaxBackoff = 30 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        opts.TCPConnections,
		MaxIdleConnsPerHost: opts.TCPConnections,
		MaxConnsPerHost:     opts.TCPConnections,
		IdleConnTimeout:     90 * time.Second,
		Proxy:               http.ProxyFromEnvironment,
	}
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
	}
	rc.RetryMax = opts.Retries - 1
	rc.RetryWaitMin = opts.Backoff
	rc.RetryWaitMax = opts.MaxBackoff
	rc.Logger = nil
	if opts.Logger != nil {
		rc.Logger = opts.Logger.StandardLog()
	}
	// Hand back the last response instead of swallowing it, so callers can
	// classify the terminal status after retries are exhausted.
	rc.ErrorHandler = func(resp *http.Response, err error, numTries int) (*http.Response, error) {
		return resp, err
	}

	return &Client{
		rc:   rc,
		sem:  semaphore.NewWeighted(int64(opts.TCPConnections)),
		opts: opts,
	}, nil
}

// Fetch retrieves url and returns its full payload. Transport failures and
// 5xx responses are retried with exponential backoff up to the configured
// attempt count; a terminal non-2xx response is returned as a *StatusError.
func (c *Client) Fetch(ctx context.Context, rawurl string) ([]byte, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.rc.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("fetch %s: %w", rawurl, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("fetch %s: no response", rawurl)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{
			URL:        rawurl,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body %s: %w", rawurl, err)
	}
	return content, nil
}
