// Package mock provides an in-memory web site that implements fetch.Renderer.
//
//	site := mock.NewSite()
//	site.AddPage("https://docs.example.com/", "Home", "Welcome.", "https://docs.example.com/a")
//	site.Queue("https://docs.example.com/a", mock.Response{Status: 429})
//	f, _ := fetch.New(fetch.WithRenderer(site))
//
// Unknown URLs render as a 404 page.
package mock

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/poiesic/kbingest/fetch"
)

// Response is a one-shot outcome queued for a URL.
type Response struct {
	Status int
	Err    error
}

// Site serves registered pages and counts how often each URL is rendered.
type Site struct {
	// RenderFunc, when set, replaces the lookup entirely.
	RenderFunc func(ctx context.Context, url string) (*fetch.Page, error)

	mu      sync.Mutex
	pages   map[string]*fetch.Page
	queued  map[string][]Response
	renders map[string]int
	order   []string
}

var _ fetch.Renderer = (*Site)(nil)

// NewSite returns an empty site.
func NewSite() *Site {
	return &Site{
		pages:   make(map[string]*fetch.Page),
		queued:  make(map[string][]Response),
		renders: make(map[string]int),
	}
}

// AddPage registers an HTML page with a heading, one paragraph and links.
func (s *Site) AddPage(url, title, body string, links ...string) {
	var b strings.Builder
	fmt.Fprintf(&b, "<html><head><title>%s</title></head><body>", html.EscapeString(title))
	fmt.Fprintf(&b, "<h1>%s</h1><p>%s</p>", html.EscapeString(title), html.EscapeString(body))
	for _, link := range links {
		fmt.Fprintf(&b, `<p>See <a href="%s">%s</a> for more.</p>`, html.EscapeString(link), html.EscapeString(link))
	}
	b.WriteString("</body></html>")
	s.SetPage(url, &fetch.Page{HTML: b.String(), Title: title, StatusCode: 200})
}

// SetPage registers a page as is.
func (s *Site) SetPage(url string, page *fetch.Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[url] = page
}

// Queue makes the next renders of url return responses, in order, before the
// registered page is served again.
func (s *Site) Queue(url string, responses ...Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued[url] = append(s.queued[url], responses...)
}

// Render implements fetch.Renderer.
func (s *Site) Render(ctx context.Context, url string, _ fetch.WaitCondition, _ time.Duration) (*fetch.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.renders[url]++
	s.order = append(s.order, url)
	var next *Response
	if q := s.queued[url]; len(q) > 0 {
		next = &q[0]
		s.queued[url] = q[1:]
	}
	page, ok := s.pages[url]
	renderFunc := s.RenderFunc
	s.mu.Unlock()

	if renderFunc != nil {
		return renderFunc(ctx, url)
	}
	if next != nil {
		if next.Err != nil {
			return nil, next.Err
		}
		return &fetch.Page{HTML: "<html><body><p>Error</p></body></html>", StatusCode: next.Status}, nil
	}
	if !ok {
		return &fetch.Page{HTML: "<html><body><h1>Not Found</h1></body></html>", StatusCode: 404}, nil
	}
	cp := *page
	return &cp, nil
}

// Close implements fetch.Renderer.
func (s *Site) Close() error {
	return nil
}

// RenderCount returns how often url was rendered.
func (s *Site) RenderCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renders[url]
}

// TotalRenders returns the number of Render calls.
func (s *Site) TotalRenders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Rendered returns the rendered URLs in call order.
func (s *Site) Rendered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Reset clears the render counters.
func (s *Site) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renders = make(map[string]int)
	s.order = nil
}
