package chunk

import (
	"regexp"
	"strings"
)

type blockKind int

const (
	blockParagraph blockKind = iota
	blockHeading
	blockCode
)

// block is the unit the chunker accumulates. Code blocks are atomic.
type block struct {
	kind    blockKind
	text    string
	tokens  int
	heading string // heading in effect where the block appears
}

var headingPattern = regexp.MustCompile(`^\s{0,3}#{1,6}\s+(.*?)\s*#*\s*$`)

func isFence(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "```")
}

// closingFence returns the index of the fence closing the one opened at
// start, or -1 when the fence is never closed.
func closingFence(lines []string, start int) int {
	for i := start + 1; i < len(lines); i++ {
		if isFence(lines[i]) {
			return i
		}
	}
	return -1
}

// parseBlocks splits markdown into headings, fenced code blocks and
// paragraphs separated by blank lines.
func parseBlocks(content string) []block {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")

	var (
		blocks  []block
		para    []string
		current string
	)
	flush := func() {
		if len(para) == 0 {
			return
		}
		text := strings.Join(para, "\n")
		blocks = append(blocks, block{kind: blockParagraph, text: text, tokens: CountTokens(text), heading: current})
		para = nil
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case isFence(line):
			end := closingFence(lines, i)
			if end < 0 {
				para = append(para, line)
				continue
			}
			flush()
			text := strings.Join(lines[i:end+1], "\n")
			blocks = append(blocks, block{kind: blockCode, text: text, tokens: CountTokens(text), heading: current})
			i = end
		case headingPattern.MatchString(line):
			flush()
			current = headingPattern.FindStringSubmatch(line)[1]
			blocks = append(blocks, block{kind: blockHeading, text: strings.TrimSpace(line), tokens: CountTokens(line), heading: current})
		case strings.TrimSpace(line) == "":
			flush()
		default:
			para = append(para, line)
		}
	}
	flush()
	return blocks
}

// sectionTokens counts tokens from the heading at start up to the next heading.
func sectionTokens(blocks []block, start int) int {
	total := blocks[start].tokens
	for _, b := range blocks[start+1:] {
		if b.kind == blockHeading {
			break
		}
		total += b.tokens
	}
	return total
}
