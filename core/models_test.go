package core

import (
	"testing"
	"time"

	"github.com/poiesic/kbingest/clean"
	"github.com/stretchr/testify/assert"
)

func TestChunkID(t *testing.T) {
	tests := []struct {
		name     string
		docA     string
		idxA     int
		docB     string
		idxB     int
		wantSame bool
	}{
		{name: "same document and index", docA: "doc", idxA: 3, docB: "doc", idxB: 3, wantSame: true},
		{name: "different index", docA: "doc", idxA: 3, docB: "doc", idxB: 4},
		{name: "different document", docA: "doc-1", idxA: 0, docB: "doc-2", idxB: 0},
		{name: "no concatenation collision", docA: "doc1", idxA: 1, docB: "doc", idxB: 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := ChunkID(tt.docA, tt.idxA)
			b := ChunkID(tt.docB, tt.idxB)
			assert.Len(t, a, 32)
			assert.Equal(t, tt.wantSame, a == b)
		})
	}
}

func TestContentHash(t *testing.T) {
	assert.Equal(t, ContentHash("hello"), ContentHash("hello"))
	assert.NotEqual(t, ContentHash("hello"), ContentHash("hello!"))
	assert.Len(t, ContentHash(""), 64)
}

func TestNewID_Unique(t *testing.T) {
	assert.NotEqual(t, NewID(), NewID())
}

func TestSourceConfig_Normalize(t *testing.T) {
	t.Run("fills defaults", func(t *testing.T) {
		cfg := SourceConfig{URL: "https://example.com"}
		cfg.Normalize()

		assert.Equal(t, SourceKindWeb, cfg.Kind)
		assert.Equal(t, DefaultMaxPages, cfg.MaxPages)
		assert.Equal(t, DefaultChunkSize, cfg.ChunkSize)
		assert.Equal(t, DefaultChunkOverlap, cfg.ChunkOverlap)
		assert.Equal(t, clean.DefaultConfig(), cfg.Cleaning)
	})

	t.Run("keeps explicit zero overlap", func(t *testing.T) {
		cfg := SourceConfig{URL: "https://example.com", ChunkSize: 500}
		cfg.Normalize()

		assert.Equal(t, 500, cfg.ChunkSize)
		assert.Equal(t, 0, cfg.ChunkOverlap)
	})

	t.Run("keeps explicit cleaning options", func(t *testing.T) {
		cfg := SourceConfig{URL: "https://example.com", Cleaning: clean.Config{RemoveTOC: true}}
		cfg.Normalize()

		assert.True(t, cfg.Cleaning.RemoveTOC)
		assert.False(t, cfg.Cleaning.RemoveBoilerplate)
		assert.Equal(t, clean.DefaultLinkDensityThreshold, cfg.Cleaning.LinkDensityThreshold)
	})
}

func TestDraft_Expired(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		expires time.Time
		want    bool
	}{
		{name: "future", expires: now.Add(time.Hour), want: false},
		{name: "past", expires: now.Add(-time.Hour), want: true},
		{name: "exactly now", expires: now, want: true},
		{name: "no ttl", expires: time.Time{}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Draft{ExpiresAt: tt.expires}
			assert.Equal(t, tt.want, d.Expired(now))
		})
	}
}

func TestPipelineRun_MarkPageCompleted(t *testing.T) {
	run := &PipelineRun{}

	assert.True(t, run.MarkPageCompleted("https://example.com/b"))
	assert.True(t, run.MarkPageCompleted("https://example.com/a"))
	assert.False(t, run.MarkPageCompleted("https://example.com/b"))

	assert.Equal(t, []string{"https://example.com/b", "https://example.com/a"}, run.CompletedPageURLs)
	assert.True(t, run.HasCompleted("https://example.com/a"))
	assert.False(t, run.HasCompleted("https://example.com/c"))
}

func TestRunStatus_IsTerminal(t *testing.T) {
	terminal := map[RunStatus]bool{
		RunQueued:    false,
		RunRunning:   false,
		RunCompleted: true,
		RunPartial:   true,
		RunFailed:    true,
		RunCancelled: true,
	}
	for status, want := range terminal {
		assert.Equal(t, want, status.IsTerminal(), status)
	}
}
