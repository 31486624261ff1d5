package index

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	fieldChunkID       = "chunk_id"
	fieldDocumentID    = "document_id"
	fieldDocumentURL   = "document_url"
	fieldDocumentTitle = "document_title"
	fieldHeading       = "heading"
	fieldChunkIndex    = "chunk_index"
	fieldContent       = "content"
	fieldVector        = "vector"

	maxVarChar = 65535
)

var milvusOutputFields = []string{
	fieldChunkID, fieldDocumentID, fieldDocumentURL, fieldDocumentTitle,
	fieldHeading, fieldChunkIndex, fieldContent,
}

// MilvusConfig configures the Milvus index.
type MilvusConfig struct {
	Address  string        `toml:"address" validate:"required"`
	Database string        `toml:"database"`
	Username string        `toml:"username"`
	Password string        `toml:"password"`
	UseTLS   bool          `toml:"use_tls"`
	Timeout  time.Duration `toml:"timeout"`
}

// Milvus is a VectorIndex backed by a Milvus cluster.
type Milvus struct {
	client client.Client
	logger *slog.Logger

	mu    sync.Mutex
	ready map[string]int
}

var _ VectorIndex = (*Milvus)(nil)

// NewMilvus connects to Milvus.
func NewMilvus(ctx context.Context, cfg MilvusConfig) (*Milvus, error) {
	if cfg.Address == "" {
		cfg.Address = "localhost:19530"
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	c, err := client.NewClient(connectCtx, client.Config{
		Address:       cfg.Address,
		DBName:        cfg.Database,
		Username:      cfg.Username,
		Password:      cfg.Password,
		EnableTLSAuth: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}
	return &Milvus{
		client: c,
		logger: slog.Default().With("component", "milvus-index"),
		ready:  make(map[string]int),
	}, nil
}

// ensureCollection creates, indexes and loads the collection once.
func (m *Milvus) ensureCollection(ctx context.Context, name string, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if known, ok := m.ready[name]; ok {
		if known != dim {
			return fmt.Errorf("%w: collection %s has %d, got %d", ErrDimensionMismatch, name, known, dim)
		}
		return nil
	}

	exists, err := m.client.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		if err := m.client.CreateCollection(ctx, milvusSchema(name, dim), entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
		idx, err := entity.NewIndexHNSW(entity.COSINE, 8, 64)
		if err != nil {
			return fmt.Errorf("failed to build index: %w", err)
		}
		if err := m.client.CreateIndex(ctx, name, fieldVector, idx, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
		m.logger.Info("created collection", "collection", name, "dimensions", dim)
	}
	if err := m.client.LoadCollection(ctx, name, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	m.ready[name] = dim
	return nil
}

func milvusSchema(name string, dim int) *entity.Schema {
	varchar := func(field string, primary bool) *entity.Field {
		return &entity.Field{
			Name:       field,
			DataType:   entity.FieldTypeVarChar,
			PrimaryKey: primary,
			TypeParams: map[string]string{"max_length": strconv.Itoa(maxVarChar)},
		}
	}
	return &entity.Schema{
		CollectionName: name,
		Description:    "knowledge base chunk vectors",
		Fields: []*entity.Field{
			varchar(fieldChunkID, true),
			varchar(fieldDocumentID, false),
			varchar(fieldDocumentURL, false),
			varchar(fieldDocumentTitle, false),
			varchar(fieldHeading, false),
			{Name: fieldChunkIndex, DataType: entity.FieldTypeInt64},
			varchar(fieldContent, false),
			{
				Name:       fieldVector,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(dim)},
			},
		},
	}
}

func milvusColumns(points []Point, dim int) []entity.Column {
	n := len(points)
	chunkIDs := make([]string, n)
	docIDs := make([]string, n)
	urls := make([]string, n)
	titles := make([]string, n)
	headings := make([]string, n)
	indexes := make([]int64, n)
	contents := make([]string, n)
	vectors := make([][]float32, n)
	for i, p := range points {
		chunkIDs[i] = p.ChunkID
		docIDs[i] = p.DocumentID
		urls[i] = truncate(p.DocumentURL)
		titles[i] = truncate(p.DocumentTitle)
		headings[i] = truncate(p.Heading)
		indexes[i] = int64(p.ChunkIndex)
		contents[i] = truncate(p.Content)
		vectors[i] = p.Vector
	}
	return []entity.Column{
		entity.NewColumnVarChar(fieldChunkID, chunkIDs),
		entity.NewColumnVarChar(fieldDocumentID, docIDs),
		entity.NewColumnVarChar(fieldDocumentURL, urls),
		entity.NewColumnVarChar(fieldDocumentTitle, titles),
		entity.NewColumnVarChar(fieldHeading, headings),
		entity.NewColumnInt64(fieldChunkIndex, indexes),
		entity.NewColumnVarChar(fieldContent, contents),
		entity.NewColumnFloatVector(fieldVector, dim, vectors),
	}
}

// truncate cuts s to Milvus's VarChar byte limit on a rune boundary.
func truncate(s string) string {
	if len(s) <= maxVarChar {
		return s
	}
	cut := maxVarChar
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// Upsert writes points and flushes the collection.
func (m *Milvus) Upsert(ctx context.Context, kbID string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	dim, err := checkDimensions(points)
	if err != nil {
		return err
	}

	name := CollectionName(kbID)
	if err := m.ensureCollection(ctx, name, dim); err != nil {
		return err
	}
	if _, err := m.client.Upsert(ctx, name, "", milvusColumns(points, dim)...); err != nil {
		return fmt.Errorf("milvus upsert failed: %w", err)
	}
	if err := m.client.Flush(ctx, name, false); err != nil {
		return fmt.Errorf("milvus flush failed: %w", err)
	}
	return nil
}

// Query runs an HNSW search with cosine similarity.
func (m *Milvus) Query(ctx context.Context, kbID string, vector []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, ErrInvalidTopK
	}
	if len(vector) == 0 {
		return nil, ErrEmptyVector
	}

	name := CollectionName(kbID)
	exists, err := m.client.HasCollection(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		return []Match{}, nil
	}
	if err := m.ensureCollection(ctx, name, len(vector)); err != nil {
		return nil, err
	}

	sp, err := entity.NewIndexHNSWSearchParam(64)
	if err != nil {
		return nil, err
	}
	results, err := m.client.Search(ctx, name, []string{}, "", milvusOutputFields,
		[]entity.Vector{entity.FloatVector(vector)}, fieldVector, entity.COSINE, topK, sp)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}
	if len(results) == 0 {
		return []Match{}, nil
	}
	if results[0].Err != nil {
		return nil, fmt.Errorf("milvus search error: %w", results[0].Err)
	}
	return parseSearchResult(results[0]), nil
}

func parseSearchResult(result client.SearchResult) []Match {
	matches := make([]Match, result.ResultCount)
	setStrings := func(col entity.Column, set func(*Match, string)) {
		if c, ok := col.(*entity.ColumnVarChar); ok {
			for i, v := range c.Data() {
				if i < len(matches) {
					set(&matches[i], v)
				}
			}
		}
	}
	for _, field := range result.Fields {
		switch field.Name() {
		case fieldChunkID:
			setStrings(field, func(m *Match, v string) { m.ChunkID = v })
		case fieldDocumentID:
			setStrings(field, func(m *Match, v string) { m.DocumentID = v })
		case fieldDocumentURL:
			setStrings(field, func(m *Match, v string) { m.DocumentURL = v })
		case fieldDocumentTitle:
			setStrings(field, func(m *Match, v string) { m.DocumentTitle = v })
		case fieldHeading:
			setStrings(field, func(m *Match, v string) { m.Heading = v })
		case fieldContent:
			setStrings(field, func(m *Match, v string) { m.Content = v })
		case fieldChunkIndex:
			if c, ok := field.(*entity.ColumnInt64); ok {
				for i, v := range c.Data() {
					if i < len(matches) {
						matches[i].ChunkIndex = int(v)
					}
				}
			}
		}
	}
	for i := range matches {
		if i < len(result.Scores) {
			matches[i].Score = result.Scores[i]
		}
	}
	return matches
}

// DeleteDocument deletes the document's points by expression.
func (m *Milvus) DeleteDocument(ctx context.Context, kbID, documentID string) error {
	name := CollectionName(kbID)
	exists, err := m.client.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		return nil
	}
	if err := m.client.Delete(ctx, name, "", documentFilter(documentID)); err != nil {
		return fmt.Errorf("milvus delete failed: %w", err)
	}
	return nil
}

func documentFilter(documentID string) string {
	return fmt.Sprintf("%s == %s", fieldDocumentID, strconv.Quote(documentID))
}

// DropCollection deletes the collection if it exists.
func (m *Milvus) DropCollection(ctx context.Context, kbID string) error {
	name := CollectionName(kbID)
	exists, err := m.client.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	m.mu.Lock()
	delete(m.ready, name)
	m.mu.Unlock()
	if !exists {
		return nil
	}
	return m.client.DropCollection(ctx, name)
}

// Close closes the client connection.
func (m *Milvus) Close() error {
	return m.client.Close()
}
