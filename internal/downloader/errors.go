package downloader

import "errors"

// errContentRejected marks payloads refused by the caller-supplied validity
// predicate. The item is recorded as skipped, not failed: the transfer
// worked, the content did not.
var errContentRejected = errors.New("downloader: content rejected by validity check")
