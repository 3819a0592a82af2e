package media

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
)

// ErrEmptyURL is returned when a descriptor without a URL enters a stream.
var ErrEmptyURL = errors.New("media: item has empty url")

// Item describes one fetchable media asset. It is immutable once produced;
// the engine never mutates or re-emits it.
type Item struct {
	// URL is the byte source. Required.
	URL string

	// Basename is a stable, filesystem-safe identifier without suffix.
	// When empty, the engine derives it by hashing the URL.
	Basename string

	// Label is a plain-string label, used as an output sub-folder.
	Label string

	// Meta holds structured metadata. When set, it is written as a
	// basename.json sidecar next to the asset instead of becoming a
	// path segment.
	Meta map[string]any

	// Subset is an explicit partition name (e.g. "train"). When empty,
	// the engine may assign one from the configured weights.
	Subset string
}

// Validate reports whether the item satisfies the descriptor contract.
func (it Item) Validate() error {
	if it.URL == "" {
		return ErrEmptyURL
	}
	return nil
}

// HashURL derives a stable basename from a URL: the hex SHA-1 of its bytes.
func HashURL(url string) string {
	sum := sha1.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}
