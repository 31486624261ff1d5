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


// Package storage defines the repository interfaces the ingestion pipeline
// persists through.
//
// One repository exists per entity: drafts, knowledge bases, documents,
// chunks and pipeline runs. Store bundles them behind a single backend so a
// service can open and close them together. The only implementation lives in
// storage/badger.
//
// # Usage
//
//	store, err := badger.NewStore("/var/lib/kbingest", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	docs, err := store.Documents().ListDocuments(ctx, kbID)
//
// Tests use an in-memory store:
//
//	store, err := badger.NewStore("", true)
//
// # Durability
//
// RunRepository writes carry page checkpoints. Implementations must not
// return from a run write until it is on stable storage, so a crash never
// loses a checkpoint that the pipeline already acted on.
//
// # Thread Safety
//
// All repository implementations must be safe for concurrent use.
package storage
