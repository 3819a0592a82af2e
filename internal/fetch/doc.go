// Package fetch provides the retrying HTTP client used to retrieve media
// assets.
//
// This package handles:
//   - A single shared connection pool for the whole run
//   - A run-wide cap on concurrent transfers, independent of worker count
//   - Retry with exponential backoff on transport errors and 5xx responses
//   - Outbound proxy support
//   - Status-classified errors carrying the failing URL
//
// # Usage
//
//	client := fetch.NewClient(fetch.Options{
//	    TCPConnections: 64,
//	    Retries:        3,
//	})
//
//	content, err := client.Fetch(ctx, url)
//	var statusErr *fetch.StatusError
//	if errors.As(err, &statusErr) {
//	    // non-2xx after exhausting retries
//	}
//
// The connection cap lives here rather than per worker so the total number
// of outbound sockets stays bounded no matter how many workers share the
// client.
package fetch
