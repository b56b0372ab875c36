// Package gzipstream buffers a non-streaming upstream response body,
// transparently inflating it when the upstream sent content-encoding: gzip,
// and enforces the non-SSE body size cap.
package gzipstream

import (
	"compress/gzip"
	"fmt"
	"io"
)

// MaxNonSSEBodyBytes is the hard cap on a buffered non-streaming response
// body, post-inflate.
const MaxNonSSEBodyBytes = 20 * 1024 * 1024 // 20 MiB

// ErrBodyTooLarge is returned when the inflated body exceeds
// MaxNonSSEBodyBytes.
var ErrBodyTooLarge = fmt.Errorf("response body exceeds %d bytes", MaxNonSSEBodyBytes)

// Buffer reads src fully into memory, transparently gzip-inflating it first
// when gzipped is true. It returns ErrBodyTooLarge if the result would
// exceed MaxNonSSEBodyBytes; the read is bounded so a malicious/broken
// upstream can't exhaust memory trying to find out.
func Buffer(src io.Reader, gzipped bool) ([]byte, error) {
	reader := src
	if gzipped {
		gz, err := gzip.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("open gzip reader: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	limited := io.LimitReader(reader, MaxNonSSEBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if len(body) > MaxNonSSEBodyBytes {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

// NewStreamReader wraps src in a gzip.Reader for callers that need to keep
// streaming the inflated bytes rather than buffering them (an SSE body that
// happens to be gzip-encoded). The caller owns closing the returned reader.
func NewStreamReader(src io.Reader) (*gzip.Reader, error) {
	gz, err := gzip.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("open gzip reader: %w", err)
	}
	return gz, nil
}
