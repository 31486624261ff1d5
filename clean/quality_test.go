package clean

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore_NavigationOnlyContent(t *testing.T) {
	content := "[Home](/) [Docs](/d) [API](/a) [X](/x) [Y](/y)"

	q := Score(content)

	assert.Equal(t, 5, q.LinkCount)
	assert.Greater(t, q.LinkDensity, 0.3)
	assert.Contains(t, q.Warnings, WarningHighLinkDensity)
}

func TestClean_NavigationOnlyContentWithoutBoilerplateStage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RemoveBoilerplate = false

	result := Clean("[Home](/) [Docs](/d) [API](/a) [X](/x) [Y](/y)", cfg)

	assert.Contains(t, result.Quality.Warnings, WarningHighLinkDensity)
}

func TestScore_Counts(t *testing.T) {
	content := "# Title\n\nSome text here.\n\n```go\nfmt.Println(\"[x](/y)\")\n```\n\n## Sub\n\nMore words."

	q := Score(content)

	assert.Equal(t, 2, q.HeadingCount)
	assert.Equal(t, 1, q.CodeBlockCount)
	assert.Equal(t, 0, q.LinkCount)
	assert.Equal(t, 7, q.WordCount)
}

func TestScore_Warnings(t *testing.T) {
	longProse := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 25)

	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "healthy page",
			content: "# Guide\n\n" + longProse,
			want:    nil,
		},
		{
			name:    "short page",
			content: "Just a stub.",
			want:    []string{WarningLowWordCount},
		},
		{
			name:    "error page",
			content: "# 404\n\nPage not found.",
			want:    []string{WarningLowWordCount, WarningErrorPage},
		},
		{
			name:    "long page mentioning not found is fine",
			content: longProse + "\n\nThe API returns 404 when the item is not found.",
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.content).Warnings)
		})
	}
}

func TestScore_AnchorTextCountsAsWords(t *testing.T) {
	q := Score("See [the full reference](/ref) for details.")
	assert.Equal(t, 6, q.WordCount)
}

func TestLinkDensity(t *testing.T) {
	assert.Equal(t, 0.0, LinkDensity(""))
	assert.Equal(t, 1.0, LinkDensity("- [a](/a)\n- [b](/b)"))
	assert.InDelta(t, 0.5, LinkDensity("[a](/a) word"), 1e-9)
}
