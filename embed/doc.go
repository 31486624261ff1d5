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


// Package embed turns chunk text into unit-length vectors through an
// ai.Embedder, isolating failures to individual items.
//
// Batcher sends texts in fixed-size batches. A batch that keeps failing after
// retries with exponential backoff is split and each text is retried on its
// own, so one poisoned input does not cost its neighbours their embeddings.
// Texts that still fail are reported as *EmbeddingError values joined with
// errors.Join, and their slots in the result are nil:
//
//	b, err := embed.NewBatcher(embedder, embed.WithBatchSize(32))
//	vectors, err := b.Embed(ctx, texts)
//	for _, idx := range embed.FailedIndices(err) {
//	    log.Printf("text %d was not embedded", idx)
//	}
//
// ChunkIterator walks a knowledge base's pending chunks in batches, checking
// the context between batches.
package embed
