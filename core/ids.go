package core

import (
	"encoding/hex"
	"strconv"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

// NewID returns a random identifier for drafts, sources, knowledge bases,
// documents and runs.
func NewID() string {
	return uuid.NewString()
}

// ChunkID derives a chunk's identifier from its document and position, so
// re-chunking the same document yields the same IDs.
func ChunkID(documentID string, index int) string {
	return hashHex(16, documentID+"#"+strconv.Itoa(index))
}

// ContentHash fingerprints cleaned content.
func ContentHash(text string) string {
	return hashHex(32, text)
}

func hashHex(size int, text string) string {
	h, _ := blake2b.New(size, nil)
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
