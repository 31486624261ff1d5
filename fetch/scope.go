package fetch

import (
	"net/url"
	"path"
	"strings"
)

// Scope decides which discovered links a crawl may follow.
//
// By default a link must share the root URL's host and sit under its path
// prefix. The prefix is the root path itself, or its directory when the last
// segment names a file ("/docs/index.html" scopes to "/docs/"). With
// AllowCrossHost and a positive MaxDepth any http(s) link is followed, and the
// depth limit keeps the crawl from wandering off. MaxDepth of zero leaves the
// depth unbounded within the host scope.
type Scope struct {
	host      string
	prefix    string
	crossHost bool
	maxDepth  int
}

// NewScope builds the scope of a crawl rooted at rootURL.
func NewScope(rootURL string, allowCrossHost bool, maxDepth int) (*Scope, error) {
	u, err := url.Parse(rootURL)
	if err != nil {
		return nil, err
	}
	return &Scope{
		host:      strings.ToLower(u.Hostname()),
		prefix:    pathPrefix(u.Path),
		crossHost: allowCrossHost && maxDepth > 0,
		maxDepth:  maxDepth,
	}, nil
}

func pathPrefix(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	if strings.HasSuffix(p, "/") {
		return p
	}
	if strings.Contains(path.Base(p), ".") {
		dir := path.Dir(p)
		if dir == "/" {
			return "/"
		}
		return dir + "/"
	}
	return p + "/"
}

// Contains reports whether link is inside the scope, ignoring depth.
func (s *Scope) Contains(link string) bool {
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	if s.crossHost {
		return true
	}
	if strings.ToLower(u.Hostname()) != s.host {
		return false
	}
	p := u.Path
	if p == "" {
		p = "/"
	}
	return strings.HasPrefix(p, s.prefix) || p+"/" == s.prefix
}

// AllowsDepth reports whether a page at depth may be fetched.
func (s *Scope) AllowsDepth(depth int) bool {
	return s.maxDepth <= 0 || depth <= s.maxDepth
}

// Filter keeps the links inside the scope, preserving order.
func (s *Scope) Filter(links []string) []string {
	kept := make([]string, 0, len(links))
	for _, link := range links {
		if s.Contains(link) {
			kept = append(kept, link)
		}
	}
	return kept
}
