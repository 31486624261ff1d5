package clean

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	// linkPattern matches inline links, images and autolinks.
	linkPattern = regexp.MustCompile(`!?\[[^\]\n]*\]\([^)\n]*\)|<https?://[^>\s]+>`)

	// anchorPattern captures the visible text of an inline link.
	anchorPattern = regexp.MustCompile(`!?\[([^\]\n]*)\]\([^)\n]*\)`)

	headingPattern  = regexp.MustCompile(`^\s{0,3}(#{1,6})\s+(.*?)\s*#*\s*$`)
	listItemPattern = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+`)
)

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n")
}

// isFence reports whether a line opens or closes a triple-backtick fence.
func isFence(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "```")
}

// fenceMask marks lines that belong to a balanced fenced code block, fence
// lines included. An opening fence without a matching close is left unmarked.
func fenceMask(lines []string) []bool {
	mask := make([]bool, len(lines))
	open := -1
	for i, line := range lines {
		if !isFence(line) {
			continue
		}
		if open < 0 {
			open = i
			continue
		}
		for j := open; j <= i; j++ {
			mask[j] = true
		}
		open = -1
	}
	return mask
}

// isWord reports whether a token carries any letter or digit. List markers,
// table pipes and heading hashes are not words.
func isWord(token string) bool {
	for _, r := range token {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return true
		}
	}
	return false
}

func countWords(s string) int {
	n := 0
	for _, tok := range strings.Fields(s) {
		if isWord(tok) {
			n++
		}
	}
	return n
}

// linkStats counts markdown links in s and the words left once the links are
// removed. Each link counts as a single token.
func linkStats(s string) (links, words int) {
	links = len(linkPattern.FindAllStringIndex(s, -1))
	words = countWords(linkPattern.ReplaceAllString(s, " "))
	return links, words
}

// LinkDensity returns the share of tokens in s that are markdown links.
func LinkDensity(s string) float64 {
	links, words := linkStats(s)
	if links+words == 0 {
		return 0
	}
	return float64(links) / float64(links+words)
}

// parseHeading returns the level and text of an ATX heading line.
func parseHeading(line string) (int, string, bool) {
	m := headingPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, "", false
	}
	return len(m[1]), m[2], true
}
