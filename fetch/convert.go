package fetch

import (
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// Converted is a page reduced to markdown.
type Converted struct {
	Title    string
	Markdown string
	Links    []string
}

// removedElements never carry readable content.
const removedElements = "script, style, noscript, template, svg, iframe"

var skippedSchemes = []string{"javascript:", "mailto:", "tel:", "data:"}

// ConvertHTML converts a page to markdown. Relative links in the markdown and
// in Links are resolved against pageURL.
func ConvertHTML(html, pageURL string) (*Converted, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page url: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	links := extractLinks(doc, base)

	doc.Find(removedElements).Remove()
	body := doc.Find("body")
	content, err := body.Html()
	if err != nil || body.Length() == 0 {
		content, err = doc.Html()
		if err != nil {
			return nil, fmt.Errorf("failed to serialize html: %w", err)
		}
	}

	converter := md.NewConverter(pageURL, true, nil)
	markdown, err := converter.ConvertString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to convert html to markdown: %w", err)
	}

	return &Converted{
		Title:    title,
		Markdown: strings.TrimSpace(markdown),
		Links:    links,
	}, nil
}

// extractLinks returns the absolute http(s) targets of a[href] in document
// order, without fragments or duplicates.
func extractLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		link, ok := resolveLink(base, href)
		if !ok || seen[link] {
			return
		}
		seen[link] = true
		links = append(links, link)
	})
	return links
}

func resolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	lower := strings.ToLower(href)
	for _, scheme := range skippedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return "", false
		}
	}

	u, err := base.Parse(href)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), true
}
