package clean

import (
	"regexp"
	"strings"
)

var tocTitlePattern = regexp.MustCompile(`(?i)^table of contents$`)

// tocLinkDensity is the list link density above which a table of contents is
// removed.
const tocLinkDensity = 0.5

// removeTOC removes "Table of Contents" sections whose list is mostly links.
// The section runs up to, not including, the next heading of the same or a
// higher level.
func removeTOC(lines []string) []string {
	mask := fenceMask(lines)
	out := make([]string, 0, len(lines))

	for i := 0; i < len(lines); i++ {
		level, title, ok := parseHeading(lines[i])
		if mask[i] || !ok || !tocTitlePattern.MatchString(strings.TrimSpace(title)) {
			out = append(out, lines[i])
			continue
		}

		end := len(lines)
		var list []string
		for j := i + 1; j < len(lines); j++ {
			if !mask[j] {
				if next, _, isHeading := parseHeading(lines[j]); isHeading && next <= level {
					end = j
					break
				}
			}
			if listItemPattern.MatchString(lines[j]) {
				list = append(list, lines[j])
			}
		}

		if len(list) == 0 || LinkDensity(strings.Join(list, "\n")) <= tocLinkDensity {
			out = append(out, lines[i])
			continue
		}
		i = end - 1
	}
	return out
}
