// Package chunk splits cleaned markdown into ordered, overlapping chunks that
// respect section and code-block boundaries.
package chunk

import (
	"strings"

	"github.com/poiesic/kbingest/core"
)

// Piece is one emitted chunk.
type Piece struct {
	Index      int
	Content    string
	Heading    string
	TokenCount int
}

// CountTokens approximates a token count by whitespace-delimited words.
func CountTokens(s string) int {
	return len(strings.Fields(s))
}

// Chunk splits content into pieces of roughly size tokens. Consecutive pieces
// within a section share up to overlap tokens of trailing paragraphs. A new
// section starts a new piece when it would not fit in the current one. Code
// fences are never split, so a piece holding a large code block can exceed
// size. Returns a *core.ConfigError unless 0 <= overlap < size.
func Chunk(content string, size, overlap int) ([]Piece, error) {
	if err := core.ValidateChunking(size, overlap); err != nil {
		return nil, err
	}

	blocks := parseBlocks(content)
	c := &chunker{size: size, overlap: overlap}

	for i, b := range blocks {
		switch {
		case b.kind == blockHeading:
			if c.fresh > 0 && c.tokens+sectionTokens(blocks, i) > size {
				c.emit()
				c.reset()
			}
			c.add(b)
		case b.kind == blockParagraph && b.tokens > size:
			c.addLong(b)
		default:
			c.add(b)
		}
	}
	if c.fresh > 0 {
		c.emit()
	}
	return c.pieces, nil
}

type chunker struct {
	size    int
	overlap int

	blocks  []block
	tokens  int
	fresh   int // blocks added since the last emit, excluding the overlap seed
	heading string
	pieces  []Piece
}

func (c *chunker) add(b block) {
	if c.fresh > 0 && c.tokens+b.tokens > c.size {
		c.emit()
		c.seed()
	}
	for c.fresh == 0 && len(c.blocks) > 0 && c.tokens+b.tokens > c.size {
		c.tokens -= c.blocks[0].tokens
		c.blocks = c.blocks[1:]
	}
	if c.fresh == 0 {
		c.heading = b.heading
	}
	c.blocks = append(c.blocks, b)
	c.tokens += b.tokens
	c.fresh++
}

// addLong splits a paragraph larger than a whole piece on token boundaries.
// Each part tops up the current piece to exactly size before the next piece
// is started.
func (c *chunker) addLong(b block) {
	words := strings.Fields(b.text)
	for len(words) > 0 {
		if c.fresh > 0 && c.tokens >= c.size {
			c.emit()
			c.seed()
		}
		n := min(c.size-c.tokens, len(words))
		c.add(block{
			kind:    blockParagraph,
			text:    strings.Join(words[:n], " "),
			tokens:  n,
			heading: b.heading,
		})
		words = words[n:]
	}
}

func (c *chunker) emit() {
	parts := make([]string, len(c.blocks))
	for i, b := range c.blocks {
		parts[i] = b.text
	}
	content := strings.Join(parts, "\n\n")
	c.pieces = append(c.pieces, Piece{
		Index:      len(c.pieces),
		Content:    content,
		Heading:    c.heading,
		TokenCount: CountTokens(content),
	})
}

func (c *chunker) reset() {
	c.blocks = nil
	c.tokens = 0
	c.fresh = 0
}

// seed starts the next piece with the trailing blocks whose combined size is
// closest to, without exceeding, the overlap. When even the last paragraph is
// too large, its trailing overlap tokens are used instead.
func (c *chunker) seed() {
	prev := c.blocks
	c.reset()
	if c.overlap == 0 || len(prev) == 0 {
		return
	}

	start, total := len(prev), 0
	for start > 0 && total+prev[start-1].tokens <= c.overlap {
		start--
		total += prev[start].tokens
	}
	if start < len(prev) {
		c.blocks = append(c.blocks, prev[start:]...)
		c.tokens = total
		return
	}

	last := prev[len(prev)-1]
	if last.kind != blockParagraph {
		return
	}
	words := strings.Fields(last.text)
	tail := words[len(words)-c.overlap:]
	c.blocks = []block{{kind: blockParagraph, text: strings.Join(tail, " "), tokens: len(tail), heading: last.heading}}
	c.tokens = len(tail)
}
