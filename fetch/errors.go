package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a fetch failure.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindBlocked     ErrorKind = "blocked"
	KindHTTPError   ErrorKind = "http_error"
	KindRenderError ErrorKind = "render_error"
)

var (
	ErrTimeout = errors.New("fetch timed out")
	ErrBlocked = errors.New("fetch blocked by remote site")
	ErrHTTP    = errors.New("fetch returned http error")
	ErrRender  = errors.New("page could not be rendered")

	// ErrUnsupportedKind is returned for a source kind with no extractor.
	ErrUnsupportedKind = errors.New("unsupported source kind")
)

// FetchError describes why a URL could not be fetched.
type FetchError struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *FetchError) Is(target error) bool {
	switch e.Kind {
	case KindTimeout:
		return target == ErrTimeout
	case KindBlocked:
		return target == ErrBlocked
	case KindHTTPError:
		return target == ErrHTTP
	case KindRenderError:
		return target == ErrRender
	}
	return false
}

// Retryable reports whether another attempt may succeed. Blocked requests are
// retried after the throttle has slowed down.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindBlocked:
		return true
	case KindHTTPError:
		return isRetryableStatus(e.StatusCode)
	}
	return false
}

// A zero code means the request failed before a response arrived.
func isRetryableStatus(code int) bool {
	return code == 0 || code == http.StatusRequestTimeout || code >= http.StatusInternalServerError
}

// statusError classifies an HTTP status. It returns nil for anything below 400.
func statusError(url string, code int) *FetchError {
	switch {
	case code == http.StatusForbidden || code == http.StatusTooManyRequests:
		return &FetchError{Kind: KindBlocked, URL: url, StatusCode: code}
	case code >= http.StatusBadRequest:
		return &FetchError{Kind: KindHTTPError, URL: url, StatusCode: code, Err: errors.New(http.StatusText(code))}
	}
	return nil
}
