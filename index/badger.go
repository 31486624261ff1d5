package index

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	bstore "github.com/poiesic/kbingest/storage/badger"
	"github.com/timshannon/badgerhold/v4"
)

// collectionRecord records a collection's dimension.
type collectionRecord struct {
	Name       string
	Dimensions int
	CreatedAt  time.Time
}

// pointRecord is a stored point.
type pointRecord struct {
	Collection string `badgerhold:"index"`
	Point
}

// Badger is a VectorIndex stored in the service's BadgerDB.
type Badger struct {
	backend *bstore.Backend
	logger  *slog.Logger
}

var _ VectorIndex = (*Badger)(nil)

// NewBadger creates an index over backend. The backend stays owned by the
// caller; Close does not close it.
func NewBadger(backend *bstore.Backend) *Badger {
	return &Badger{
		backend: backend,
		logger:  slog.Default().With("component", "badger-index"),
	}
}

func pointKey(collection, chunkID string) string {
	return collection + ":" + chunkID
}

// Upsert writes points in a single transaction.
func (b *Badger) Upsert(ctx context.Context, kbID string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	dim, err := checkDimensions(points)
	if err != nil {
		return err
	}

	name := CollectionName(kbID)
	store := b.backend.Store()
	return b.backend.WithTx(func(tx *badger.Txn) error {
		var coll collectionRecord
		err := store.TxGet(tx, name, &coll)
		switch {
		case err == badgerhold.ErrNotFound:
			coll = collectionRecord{Name: name, Dimensions: dim, CreatedAt: time.Now().UTC()}
			if err := store.TxInsert(tx, name, &coll); err != nil {
				return err
			}
			b.logger.Debug("created collection", "collection", name, "dimensions", dim)
		case err != nil:
			return err
		case coll.Dimensions != dim:
			return fmt.Errorf("%w: collection %s has %d, got %d", ErrDimensionMismatch, name, coll.Dimensions, dim)
		}

		for _, p := range points {
			rec := pointRecord{Collection: name, Point: p}
			if err := store.TxUpsert(tx, pointKey(name, p.ChunkID), &rec); err != nil {
				return err
			}
		}
		return nil
	}, true)
}

// Query scores every point of the collection against vector.
func (b *Badger) Query(ctx context.Context, kbID string, vector []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, ErrInvalidTopK
	}
	if len(vector) == 0 {
		return nil, ErrEmptyVector
	}

	var records []pointRecord
	query := badgerhold.Where("Collection").Eq(CollectionName(kbID)).Index("Collection")
	if err := b.backend.Store().Find(&records, query); err != nil {
		return nil, err
	}

	queryNorm := norm(vector)
	matches := make([]Match, 0, len(records))
	for i := range records {
		p := &records[i].Point
		if len(p.Vector) != len(vector) {
			return nil, fmt.Errorf("%w: collection has %d, query has %d", ErrDimensionMismatch, len(p.Vector), len(vector))
		}
		matches = append(matches, Match{
			ChunkID:       p.ChunkID,
			DocumentID:    p.DocumentID,
			DocumentURL:   p.DocumentURL,
			DocumentTitle: p.DocumentTitle,
			Heading:       p.Heading,
			ChunkIndex:    p.ChunkIndex,
			Content:       p.Content,
			Score:         cosine(vector, queryNorm, p.Vector),
		})
	}

	slices.SortStableFunc(matches, func(a, b Match) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// DeleteDocument removes the document's points from the collection.
func (b *Badger) DeleteDocument(ctx context.Context, kbID, documentID string) error {
	query := badgerhold.Where("Collection").Eq(CollectionName(kbID)).Index("Collection").
		And("DocumentID").Eq(documentID)
	store := b.backend.Store()
	return b.backend.WithTx(func(tx *badger.Txn) error {
		return store.TxDeleteMatching(tx, &pointRecord{}, query)
	}, true)
}

// DropCollection removes the collection and all its points.
func (b *Badger) DropCollection(ctx context.Context, kbID string) error {
	name := CollectionName(kbID)
	store := b.backend.Store()
	return b.backend.WithTx(func(tx *badger.Txn) error {
		query := badgerhold.Where("Collection").Eq(name).Index("Collection")
		if err := store.TxDeleteMatching(tx, &pointRecord{}, query); err != nil {
			return err
		}
		err := store.TxDelete(tx, name, &collectionRecord{})
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return err
	}, true)
}

// Close is a no-op; the backend belongs to the caller.
func (b *Badger) Close() error {
	return nil
}

// dotProduct calculates the dot product of two vectors.
func dotProduct(a, b []float32) float32 {
	var sum float32
	for i := 0; i < min(len(a), len(b)); i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func norm(v []float32) float32 {
	return float32(math.Sqrt(float64(dotProduct(v, v))))
}

func cosine(query []float32, queryNorm float32, v []float32) float32 {
	n := norm(v)
	if n == 0 || queryNorm == 0 {
		return 0
	}
	return dotProduct(query, v) / (queryNorm * n)
}
