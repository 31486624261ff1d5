package fetch

import (
	"context"
	"time"
)

// WaitCondition decides when a rendered page is ready for extraction.
type WaitCondition struct {
	// Selector must be present in the DOM before extraction starts.
	Selector string
	// Settle is an extra delay after Selector appears, for scripts that keep
	// filling in content.
	Settle time.Duration
}

// DefaultWaitCondition waits for the body and then one second.
func DefaultWaitCondition() WaitCondition {
	return WaitCondition{Selector: "body", Settle: time.Second}
}

// Page is a rendered document.
type Page struct {
	HTML       string
	Title      string
	StatusCode int
}

// Renderer loads a URL and returns its DOM after client-side rendering.
type Renderer interface {
	// Render loads url and waits for wait to be satisfied. timeout bounds the
	// whole load. A Renderer that cannot observe the HTTP status reports 0.
	Render(ctx context.Context, url string, wait WaitCondition, timeout time.Duration) (*Page, error)

	// Close releases the renderer's resources.
	Close() error
}
