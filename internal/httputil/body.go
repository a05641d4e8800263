// Package httputil bounds the bodies the gateway reads: backend team lists
// and admin request payloads.
package httputil

import (
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// ErrBodyTooLarge is returned when a body exceeds its byte limit.
var ErrBodyTooLarge = errors.New("body too large")

// ErrMalformedJSON wraps decode failures from DecodeJSON.
var ErrMalformedJSON = errors.New("malformed json")

// ReadLimited reads at most limit bytes from r. A longer body yields the
// first limit bytes and an error wrapping ErrBodyTooLarge.
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("read limit must be positive, got %d", limit)
	}
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return body, err
	}
	if int64(len(body)) > limit {
		return body[:limit], fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, limit)
	}
	return body, nil
}

// DecodeJSON reads at most limit bytes from r into v.
func DecodeJSON(r io.Reader, limit int64, v any) error {
	body, err := ReadLimited(r, limit)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	return nil
}
