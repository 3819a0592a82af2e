// Package classify determines file suffixes from fetched bytes. Server
// content-type headers and URL extensions are untrustworthy for media
// hosted on third-party servers, so only the magic signature counts.
package classify

import (
	"errors"

	"github.com/h2non/filetype"
)

// ErrUnrecognized is returned when no known magic signature matches.
var ErrUnrecognized = errors.New("classify: unrecognized content")

// Kind describes classified content.
type Kind struct {
	// Suffix is the file suffix including the leading dot, e.g. ".jpg".
	Suffix string

	// MIME is the detected media type, e.g. "image/jpeg".
	MIME string
}

// Detect inspects the payload's magic signature and returns its kind.
func Detect(content []byte) (Kind, error) {
	kind, err := filetype.Match(content)
	if err != nil || kind == filetype.Unknown {
		return Kind{}, ErrUnrecognized
	}
	return Kind{
		Suffix: "." + kind.Extension,
		MIME:   kind.MIME.Value,
	}, nil
}
