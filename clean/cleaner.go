// Package clean turns extracted page markdown into text fit for chunking and
// embedding, and scores what is left.
package clean

import "strings"

// Result is the output of Clean.
type Result struct {
	Content string
	Quality Quality
}

// Clean applies the enabled stages in a fixed order: boilerplate removal,
// table-of-contents removal, emoji stripping, whitespace normalization. The
// result depends only on markdown and cfg.
func Clean(markdown string, cfg Config) Result {
	cfg.Normalize()
	lines := splitLines(markdown)

	if cfg.RemoveBoilerplate {
		lines = removeBoilerplate(lines, cfg.LinkDensityThreshold, cfg.WindowSize)
	}
	if cfg.RemoveTOC {
		lines = removeTOC(lines)
	}
	if cfg.RemoveEmojis {
		lines = stripEmojis(lines)
	}
	if cfg.NormalizeWhitespace {
		lines = normalizeWhitespace(lines)
	}

	content := strings.Join(lines, "\n")
	return Result{
		Content: content,
		Quality: Score(content),
	}
}
