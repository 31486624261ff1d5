package core

import (
	"slices"
	"time"

	"github.com/poiesic/kbingest/clean"
)

// SourceKind identifies how a source's content is extracted.
type SourceKind string

const (
	SourceKindWeb   SourceKind = "web"
	SourceKindPDF   SourceKind = "pdf"
	SourceKindImage SourceKind = "image"
)

// Defaults applied by SourceConfig.Normalize.
const (
	DefaultMaxPages     = 50
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	DefaultDraftTTL     = 24 * time.Hour
)

// SourceConfig is the user-supplied configuration of a source.
type SourceConfig struct {
	Kind           SourceKind   `toml:"kind" json:"kind" validate:"required,oneof=web pdf image"`
	URL            string       `toml:"url" json:"url" validate:"required,url"`
	MaxPages       int          `toml:"max_pages" json:"max_pages" validate:"gte=1,lte=10000"`
	MaxDepth       int          `toml:"max_depth" json:"max_depth" validate:"gte=0,lte=32"`
	ChunkSize      int          `toml:"chunk_size" json:"chunk_size" validate:"gte=1"`
	ChunkOverlap   int          `toml:"chunk_overlap" json:"chunk_overlap" validate:"gte=0"`
	AllowCrossHost bool         `toml:"allow_cross_host" json:"allow_cross_host"`
	Cleaning       clean.Config `toml:"cleaning" json:"cleaning"`
}

// Normalize fills unset fields with defaults. The chunk overlap default only
// applies when the chunk size was also left unset.
func (c *SourceConfig) Normalize() {
	if c.Kind == "" {
		c.Kind = SourceKindWeb
	}
	if c.MaxPages == 0 {
		c.MaxPages = DefaultMaxPages
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
		if c.ChunkOverlap == 0 {
			c.ChunkOverlap = DefaultChunkOverlap
		}
	}
	if c.Cleaning.IsZero() {
		c.Cleaning = clean.DefaultConfig()
	}
	c.Cleaning.Normalize()
}

// Source is a configured origin owned by a Draft and, after finalization, by
// a KnowledgeBase.
type Source struct {
	ID        string
	DraftID   string
	KBID      string
	SourceConfig
	CreatedAt time.Time
}

// Draft stages sources until it is finalized or expires.
type Draft struct {
	ID        string
	Name      string
	Sources   []Source
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the draft's TTL has elapsed at now.
func (d *Draft) Expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && !now.Before(d.ExpiresAt)
}

// KnowledgeBase is the durable result of finalizing a Draft.
type KnowledgeBase struct {
	ID        string
	Name      string
	DraftID   string
	Sources   []Source
	CreatedAt time.Time
}

// DocumentStatus tracks a fetched page through cleaning and chunking.
type DocumentStatus string

const (
	DocumentFetched             DocumentStatus = "fetched"
	DocumentCleaned             DocumentStatus = "cleaned"
	DocumentCleanedWithWarnings DocumentStatus = "cleaned_with_warnings"
	DocumentChunked             DocumentStatus = "chunked"
	DocumentEmpty               DocumentStatus = "empty"
	DocumentFailed              DocumentStatus = "failed"
)

// Document is one fetched page.
type Document struct {
	ID             string
	KBID           string `badgerhold:"index"`
	SourceID       string
	URL            string
	Title          string
	Depth          int
	Links          []string
	WordCount      int
	LinkCount      int
	LinkDensity    float64
	HeadingCount   int
	CodeBlockCount int
	CleanedContent string
	Warnings       []string
	Status         DocumentStatus
	ContentHash    string
	FetchedAt      time.Time
	UpdatedAt      time.Time
}

// Chunk is a bounded slice of a Document's cleaned content.
type Chunk struct {
	ID           string
	KBID         string `badgerhold:"index"`
	DocumentID   string `badgerhold:"index"`
	ChunkIndex   int
	Content      string
	Heading      string
	TokenCount   int
	Embedding    []float32
	HasEmbedding bool
	Indexed      bool
	CreatedAt    time.Time
	EmbeddedAt   time.Time
}

// RunStatus is the lifecycle state of a PipelineRun.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the status can no longer change.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompleted, RunPartial, RunFailed, RunCancelled:
		return true
	}
	return false
}

// Stage is the pipeline stage a running PipelineRun is in.
type Stage string

const (
	StageCrawl Stage = "crawl"
	StageClean Stage = "clean"
	StageChunk Stage = "chunk"
	StageEmbed Stage = "embed"
	StageIndex Stage = "index"
)

// ErrorKind classifies an ErrorLog entry.
type ErrorKind string

const (
	ErrorKindFetch   ErrorKind = "fetch"
	ErrorKindEmbed   ErrorKind = "embed"
	ErrorKindIndex   ErrorKind = "index"
	ErrorKindQuality ErrorKind = "quality"
	ErrorKindSystem  ErrorKind = "system"
)

// ErrorEntry records why a page or chunk failed, or why a page was flagged.
// Key is a URL or a chunk ID.
type ErrorEntry struct {
	Key    string
	Kind   ErrorKind
	Reason string
	At     time.Time
}

// Progress counts the work done by a run.
type Progress struct {
	PagesDone      int
	PagesSkipped   int
	PagesFailed    int
	ChunksTotal    int
	ChunksEmbedded int
	ChunksIndexed  int
	ChunksFailed   int
}

// PipelineRun is one execution attempt for a knowledge base.
type PipelineRun struct {
	ID                string
	KBID              string `badgerhold:"index"`
	Status            RunStatus
	Stage             Stage
	CompletedPageURLs []string
	ErrorLog          []ErrorEntry
	Progress          Progress
	CancelRequested   bool
	PreviousRunID     string
	CreatedAt         time.Time
	StartedAt         time.Time
	FinishedAt        time.Time
}

// HasCompleted reports whether url is in the run's checkpoint set.
func (r *PipelineRun) HasCompleted(url string) bool {
	return slices.Contains(r.CompletedPageURLs, url)
}

// MarkPageCompleted appends url to the checkpoint set, keeping insertion order
// and ignoring duplicates.
func (r *PipelineRun) MarkPageCompleted(url string) bool {
	if r.HasCompleted(url) {
		return false
	}
	r.CompletedPageURLs = append(r.CompletedPageURLs, url)
	return true
}

// LogError appends an entry to the run's error log.
func (r *PipelineRun) LogError(kind ErrorKind, key, reason string) {
	r.ErrorLog = append(r.ErrorLog, ErrorEntry{
		Key:    key,
		Kind:   kind,
		Reason: reason,
		At:     time.Now().UTC(),
	})
}
