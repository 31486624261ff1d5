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


package badger

import "github.com/poiesic/kbingest/storage"

// Store bundles every repository over one Backend.
type Store struct {
	backend   *Backend
	drafts    *DraftRepository
	kbs       *KnowledgeBaseRepository
	documents *DocumentRepository
	chunks    *ChunkRepository
	runs      *RunRepository
}

var _ storage.Store = (*Store)(nil)

// NewStore builds the repositories over backend. Closing the Store closes
// the backend.
func NewStore(backend *Backend) *Store {
	return &Store{
		backend:   backend,
		drafts:    NewDraftRepository(backend),
		kbs:       NewKnowledgeBaseRepository(backend),
		documents: NewDocumentRepository(backend),
		chunks:    NewChunkRepository(backend),
		runs:      NewRunRepository(backend),
	}
}

// OpenStore opens a backend at path and wraps it in a Store.
func OpenStore(path string, inMemory bool) (*Store, error) {
	backend, err := OpenBackend(path, inMemory)
	if err != nil {
		return nil, err
	}
	return NewStore(backend), nil
}

func (s *Store) Drafts() storage.DraftRepository                 { return s.drafts }
func (s *Store) KnowledgeBases() storage.KnowledgeBaseRepository { return s.kbs }
func (s *Store) Documents() storage.DocumentRepository           { return s.documents }
func (s *Store) Chunks() storage.ChunkRepository                 { return s.chunks }
func (s *Store) Runs() storage.RunRepository                     { return s.runs }

// Backend returns the shared backend.
func (s *Store) Backend() *Backend { return s.backend }

// Close closes the underlying backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
