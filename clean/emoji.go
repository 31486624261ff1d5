package clean

import (
	"strings"
	"unicode"
)

var emojiTable = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x203c, Hi: 0x203c, Stride: 1},
		{Lo: 0x2049, Hi: 0x2049, Stride: 1},
		{Lo: 0x20e3, Hi: 0x20e3, Stride: 1},
		{Lo: 0x231a, Hi: 0x231b, Stride: 1},
		{Lo: 0x2328, Hi: 0x2328, Stride: 1},
		{Lo: 0x23e9, Hi: 0x23fa, Stride: 1},
		{Lo: 0x24c2, Hi: 0x24c2, Stride: 1},
		{Lo: 0x25aa, Hi: 0x25ab, Stride: 1},
		{Lo: 0x25b6, Hi: 0x25b6, Stride: 1},
		{Lo: 0x25c0, Hi: 0x25c0, Stride: 1},
		{Lo: 0x25fb, Hi: 0x25fe, Stride: 1},
		{Lo: 0x2600, Hi: 0x27bf, Stride: 1},
		{Lo: 0x2934, Hi: 0x2935, Stride: 1},
		{Lo: 0x2b05, Hi: 0x2b07, Stride: 1},
		{Lo: 0x2b1b, Hi: 0x2b1c, Stride: 1},
		{Lo: 0x2b50, Hi: 0x2b50, Stride: 1},
		{Lo: 0x2b55, Hi: 0x2b55, Stride: 1},
		{Lo: 0x3030, Hi: 0x3030, Stride: 1},
		{Lo: 0x303d, Hi: 0x303d, Stride: 1},
		{Lo: 0x3297, Hi: 0x3297, Stride: 1},
		{Lo: 0x3299, Hi: 0x3299, Stride: 1},
		{Lo: 0xfe0f, Hi: 0xfe0f, Stride: 1},
	},
	R32: []unicode.Range32{
		{Lo: 0x1f000, Hi: 0x1f2ff, Stride: 1},
		{Lo: 0x1f300, Hi: 0x1faff, Stride: 1},
		{Lo: 0xe0020, Hi: 0xe007f, Stride: 1},
	},
}

const zeroWidthJoiner = '\u200d'

func isEmoji(r rune) bool {
	return unicode.Is(emojiTable, r)
}

// stripEmojis removes emoji from prose lines. Lines inside balanced code
// fences are returned untouched.
func stripEmojis(lines []string) []string {
	mask := fenceMask(lines)
	out := make([]string, len(lines))
	for i, line := range lines {
		if mask[i] {
			out[i] = line
			continue
		}
		out[i] = stripLine(line)
	}
	return out
}

func stripLine(line string) string {
	var b strings.Builder
	b.Grow(len(line))

	changed := false
	skipSpace := false
	prevEmoji := false
	for _, r := range line {
		switch {
		case isEmoji(r), r == zeroWidthJoiner && prevEmoji:
			changed = true
			prevEmoji = true
			if b.Len() == 0 || strings.HasSuffix(b.String(), " ") {
				skipSpace = true
			}
			continue
		case r == ' ' && skipSpace:
			skipSpace = false
			prevEmoji = false
			continue
		}
		skipSpace = false
		prevEmoji = false
		b.WriteRune(r)
	}

	if !changed {
		return line
	}
	return strings.TrimRight(b.String(), " ")
}
