// Package testutils provides shared test fixtures: recognizable media
// payloads and HTTP servers that serve them.
package testutils

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// JPEGData returns a payload with a valid JPEG magic signature.
func JPEGData() []byte {
	return []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01, 0x01, 0x00}
}

// PNGData returns a payload with a valid PNG magic signature.
func PNGData() []byte {
	return []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D, 'I', 'H', 'D', 'R'}
}

// MediaServer serves fixed payloads by path and counts requests.
type MediaServer struct {
	*httptest.Server
	requests atomic.Int64
}

// Requests returns the number of requests the server has seen.
func (s *MediaServer) Requests() int64 {
	return s.requests.Load()
}

// StartMediaServer starts a server that answers each registered path with
// its payload and 404s everything else.
func StartMediaServer(t *testing.T, payloads map[string][]byte) *MediaServer {
	t.Helper()

	s := &MediaServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		data, ok := payloads[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(s.Close)
	return s
}

// StartFailingServer starts a server that always answers with the given
// status code, counting attempts.
func StartFailingServer(t *testing.T, status int) *MediaServer {
	t.Helper()

	s := &MediaServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(s.Close)
	return s
}
