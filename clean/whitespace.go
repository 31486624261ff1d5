package clean

import "strings"

// maxBlankRun is the longest run of blank lines kept in prose.
const maxBlankRun = 2

// normalizeWhitespace collapses runs of three or more blank lines to exactly
// two and trims blank lines from both ends of the document. Blank lines inside
// code fences are preserved.
func normalizeWhitespace(lines []string) []string {
	mask := fenceMask(lines)
	out := make([]string, 0, len(lines))

	blank := 0
	for i, line := range lines {
		if !mask[i] && strings.TrimSpace(line) == "" {
			blank++
			if blank > maxBlankRun {
				continue
			}
			out = append(out, "")
			continue
		}
		blank = 0
		out = append(out, line)
	}

	start, end := 0, len(out)
	for start < end && out[start] == "" {
		start++
	}
	for end > start && out[end-1] == "" {
		end--
	}
	return out[start:end]
}
