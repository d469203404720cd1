package opendota

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrNotFound is returned when the service reports that a match does not exist
	// or has not finished processing.
	ErrNotFound = errors.New("match not found")

	// ErrDecode is matched by every *DecodeError.
	ErrDecode = errors.New("decode failure")

	// ErrInvalidURL is returned for relative or unparsable request URLs.
	ErrInvalidURL = errors.New("url must be absolute")
)

// TransportErrorKind classifies a failed request
type TransportErrorKind int

const (
	KindNetwork TransportErrorKind = iota
	KindTimeout
	KindStatus
)

func (k TransportErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network failure"
	case KindTimeout:
		return "timeout"
	case KindStatus:
		return "non-success status"
	default:
		return "unknown"
	}
}

// TransportError is returned by Fetch and Open when a request fails below the decoding layer
type TransportError struct {
	Kind       TransportErrorKind
	StatusCode int // set for KindStatus
	URL        string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("GET %s: API returned status %d", e.URL, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("GET %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("GET %s: %s", e.URL, e.Kind)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError reports a response body that did not match the expected shape
type DecodeError struct {
	What string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrDecode) hold for any *DecodeError.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// IsTransient reports whether a failed call is worth retrying: timeouts, network
// errors, 5xx and 429. Decode failures, ErrNotFound and other 4xx are permanent.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	switch te.Kind {
	case KindNetwork, KindTimeout:
		return true
	case KindStatus:
		return te.StatusCode == http.StatusTooManyRequests || te.StatusCode >= 500
	}
	return false
}

// StatusCode extracts the HTTP status from a *TransportError, or 0.
func StatusCode(err error) int {
	var te *TransportError
	if errors.As(err, &te) && te.Kind == KindStatus {
		return te.StatusCode
	}
	return 0
}

// classify wraps a request or body-read failure into a *TransportError
func classify(rawURL string, err error) error {
	kind := KindNetwork
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	}
	return &TransportError{Kind: kind, URL: rawURL, Err: err}
}
