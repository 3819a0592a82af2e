package gbif

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	// DefaultBaseURL is the public GBIF API endpoint.
	DefaultBaseURL = "https://api.gbif.org/v1"

	// DefaultDataCiteURL resolves DOIs to their registered landing URLs.
	DefaultDataCiteURL = "https://api.datacite.org"
)

// Options configures a Client.
type Options struct {
	// BaseURL overrides the GBIF API endpoint. Default: DefaultBaseURL
	BaseURL string

	// DataCiteURL overrides the DOI resolution endpoint.
	// Default: DefaultDataCiteURL
	DataCiteURL string

	// Retries is the number of attempts per request. Default: 3
	Retries int

	// Timeout for individual requests. Default: 60s
	Timeout time.Duration

	// Logger is optional.
	Logger *log.Logger
}

// Client talks to the GBIF API.
type Client struct {
	baseURL     string
	dataCiteURL string
	http        *retryablehttp.Client
	logger      *log.Logger
}

// NewClient returns a Client ready for use.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.DataCiteURL == "" {
		opts.DataCiteURL = DefaultDataCiteURL
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.Retries - 1
	rc.HTTPClient.Timeout = opts.Timeout
	rc.Logger = nil

	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		dataCiteURL: strings.TrimRight(opts.DataCiteURL, "/"),
		http:        rc,
		logger:      opts.Logger,
	}
}

// getJSON issues a GET request and decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gbif: GET %s: unexpected status %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Count returns the number of occurrences matching the query.
func (c *Client) Count(ctx context.Context, query Query, mediaType string) (int64, error) {
	if mediaType == "" {
		mediaType = MediaTypeStillImage
	}

	values := query.values()
	values.Set("mediaType", mediaType)
	values.Set("limit", "0")

	var page searchPage
	if err := c.getJSON(ctx, c.baseURL+"/occurrence/search?"+values.Encode(), &page); err != nil {
		return 0, err
	}
	return page.Count, nil
}

// DownloadArchive fetches the Darwin Core Archive for a download key into
// destDir, returning the zip path. An existing archive is reused.
func (c *Client) DownloadArchive(ctx context.Context, key, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}

	dest := filepath.Join(destDir, key+".zip")
	if _, err := os.Stat(dest); err == nil {
		c.logger.Info("archive already present", "path", dest)
		return dest, nil
	}

	url := fmt.Sprintf("%s/occurrence/download/request/%s.zip", c.baseURL, key)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gbif: download %s: unexpected status %s", key, resp.Status)
	}

	// Write through a temp file so a partial download never looks complete.
	tmp, err := os.CreateTemp(destDir, key+".*.part")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", err
	}

	c.logger.Info("archive downloaded", "key", key, "path", dest)
	return dest, nil
}

var downloadKeyRe = regexp.MustCompile(`^[0-9-]+$`)

// ResolveDOI maps a dataset DOI to its GBIF download key via DataCite.
func (c *Client) ResolveDOI(ctx context.Context, doi string) (string, error) {
	var payload struct {
		Data struct {
			Attributes struct {
				URL string `json:"url"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, c.dataCiteURL+"/dois/"+doi, &payload); err != nil {
		return "", err
	}

	landing := payload.Data.Attributes.URL
	if landing == "" {
		return "", fmt.Errorf("gbif: DOI %s has no registered URL", doi)
	}

	key := landing[strings.LastIndex(landing, "/")+1:]
	if !downloadKeyRe.MatchString(key) {
		return "", fmt.Errorf("gbif: DOI %s resolves to %q, not a download key", doi, landing)
	}
	return key, nil
}

var doiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^10\.[0-9]{4,}(?:\.[0-9]+)*/[^\s"&']+`),
	regexp.MustCompile(`^10\.\d{4,9}/[-._;()/:A-Za-z0-9]+`),
}

// IsDOI reports whether the identifier looks like a DOI rather than a
// download key.
func IsDOI(identifier string) bool {
	for _, pattern := range doiPatterns {
		if pattern.MatchString(identifier) {
			return true
		}
	}
	return false
}
