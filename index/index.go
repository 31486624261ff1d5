// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package index stores chunk vectors for similarity search, one collection
// per knowledge base.
//
// Two implementations are provided. Badger keeps vectors in the service's own
// database and answers queries by brute-force cosine similarity; it needs no
// extra infrastructure and suits knowledge bases up to a few hundred thousand
// chunks. Milvus writes to an external Milvus cluster with an HNSW index.
//
// Similarity is cosine for both. Upserts are keyed by chunk ID, so writing
// the same chunk twice leaves one point.
package index

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrDimensionMismatch indicates a vector whose length differs from the
	// collection's.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrEmptyVector indicates a point or query without a vector.
	ErrEmptyVector = errors.New("empty vector")

	// ErrInvalidTopK indicates a non-positive result limit.
	ErrInvalidTopK = errors.New("topK must be greater than 0")
)

// Point is one chunk vector with the payload returned by queries.
type Point struct {
	ChunkID       string
	DocumentID    string
	DocumentURL   string
	DocumentTitle string
	Heading       string
	ChunkIndex    int
	Content       string
	Vector        []float32
}

// Match is a query hit.
type Match struct {
	ChunkID       string
	DocumentID    string
	DocumentURL   string
	DocumentTitle string
	Heading       string
	ChunkIndex    int
	Content       string
	Score         float32
}

// VectorIndex is a per-knowledge-base vector collection store.
// Implementations must be safe for concurrent use.
type VectorIndex interface {
	// Upsert writes points into the knowledge base's collection, creating
	// it on first use. Existing points with the same chunk ID are replaced.
	Upsert(ctx context.Context, kbID string, points []Point) error

	// Query returns up to topK points ordered by descending cosine
	// similarity. A missing collection yields no matches.
	Query(ctx context.Context, kbID string, vector []float32, topK int) ([]Match, error)

	// DeleteDocument removes every point of one document. Missing
	// collections and documents are not errors.
	DeleteDocument(ctx context.Context, kbID, documentID string) error

	// DropCollection deletes the knowledge base's collection. Dropping a
	// missing collection is not an error.
	DropCollection(ctx context.Context, kbID string) error

	// Close releases resources held by the index.
	Close() error
}

// CollectionName maps a knowledge base ID onto a collection name made of
// letters, digits and underscores.
func CollectionName(kbID string) string {
	var b strings.Builder
	b.WriteString("kb_")
	for _, r := range kbID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func checkDimensions(points []Point) (int, error) {
	dim := 0
	for _, p := range points {
		if len(p.Vector) == 0 {
			return 0, ErrEmptyVector
		}
		if dim == 0 {
			dim = len(p.Vector)
		} else if len(p.Vector) != dim {
			return 0, ErrDimensionMismatch
		}
	}
	return dim, nil
}
