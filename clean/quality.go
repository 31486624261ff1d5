package clean

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Quality warnings attached to cleaned documents.
const (
	WarningLowWordCount    = "Low word count"
	WarningHighLinkDensity = "High link density"
	WarningErrorPage       = "Possible error page"
)

const (
	// MinWordCount is the word count below which a page is likely an error or
	// placeholder.
	MinWordCount = 50

	// MaxLinkDensity is the post-cleaning link density above which navigation
	// is assumed to have survived.
	MaxLinkDensity = 0.3

	errorPageMaxWords = 200
	errorPageLines    = 5
)

var errorPagePattern = regexp.MustCompile(`(?i)\b404\b|\bpage not found\b|\bnot found\b`)

var markdownParser = goldmark.New().Parser()

// Quality summarizes cleaned content.
type Quality struct {
	WordCount      int      `json:"word_count"`
	LinkCount      int      `json:"link_count"`
	LinkDensity    float64  `json:"link_density"`
	HeadingCount   int      `json:"heading_count"`
	CodeBlockCount int      `json:"code_block_count"`
	Warnings       []string `json:"warnings,omitempty"`
}

// HasWarnings reports whether any quality warning was raised.
func (q Quality) HasWarnings() bool {
	return len(q.Warnings) > 0
}

// Score computes quality statistics and warnings for cleaned markdown.
func Score(content string) Quality {
	lines := splitLines(content)
	mask := fenceMask(lines)

	prose := make([]string, 0, len(lines))
	for i, line := range lines {
		if !mask[i] {
			prose = append(prose, line)
		}
	}
	body := strings.Join(prose, "\n")

	links, words := linkStats(body)
	q := Quality{
		WordCount: countWords(anchorPattern.ReplaceAllString(body, " $1 ")),
		LinkCount: links,
	}
	if links+words > 0 {
		q.LinkDensity = float64(links) / float64(links+words)
	}

	src := []byte(content)
	doc := markdownParser.Parse(text.NewReader(src))
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindHeading:
			q.HeadingCount++
		case ast.KindFencedCodeBlock, ast.KindCodeBlock:
			q.CodeBlockCount++
		}
		return ast.WalkContinue, nil
	})

	if q.WordCount < MinWordCount {
		q.Warnings = append(q.Warnings, WarningLowWordCount)
	}
	if q.LinkDensity > MaxLinkDensity {
		q.Warnings = append(q.Warnings, WarningHighLinkDensity)
	}
	if q.WordCount < errorPageMaxWords && errorPagePattern.MatchString(leadingLines(prose, errorPageLines)) {
		q.Warnings = append(q.Warnings, WarningErrorPage)
	}
	return q
}

func leadingLines(lines []string, n int) string {
	var kept []string
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
		if len(kept) == n {
			break
		}
	}
	return strings.Join(kept, "\n")
}
