package clean

import "strings"

// removeBoilerplate drops navigation-like lines. A window of `window`
// consecutive non-blank prose lines is navigation when its link density is
// above threshold; inside such a window every line that is itself dominated by
// links is removed whole. Code fences are never examined, and a page with
// fewer than `window` prose lines is returned unchanged.
func removeBoilerplate(lines []string, threshold float64, window int) []string {
	mask := fenceMask(lines)

	var candidates []int
	for i, line := range lines {
		if mask[i] || strings.TrimSpace(line) == "" {
			continue
		}
		candidates = append(candidates, i)
	}
	// Too few lines to fill one window: a short page is judged by its
	// quality score, not by density.
	if len(candidates) == 0 || len(candidates) < window {
		return lines
	}

	drop := make(map[int]bool)
	for start := 0; start+window <= len(candidates); start++ {
		var links, words int
		for _, idx := range candidates[start : start+window] {
			l, w := linkStats(lines[idx])
			links += l
			words += w
		}
		if links+words == 0 || float64(links)/float64(links+words) <= threshold {
			continue
		}
		for _, idx := range candidates[start : start+window] {
			if LinkDensity(lines[idx]) > threshold {
				drop[idx] = true
			}
		}
	}

	if len(drop) == 0 {
		return lines
	}
	out := make([]string, 0, len(lines)-len(drop))
	for i, line := range lines {
		if !drop[i] {
			out = append(out, line)
		}
	}
	return out
}
