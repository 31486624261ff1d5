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


// Package ai defines the embedding service abstraction used by the ingestion
// pipeline.
//
// The pipeline depends only on the Embedder interface. Two implementation
// packages are provided:
//
//   - ai/openai: OpenAI-compatible endpoints (OpenAI, Ollama, vLLM, LocalAI)
//   - ai/mock: deterministic test doubles with failure injection
//
// Production constructors return the interface:
//
//	embedder, err := openai.NewEmbedder(ai.NewConfig(ai.WithEmbeddingModel("nomic-embed-text")))
//
// The mock constructor returns the concrete type so tests can inspect call
// counts and inject behavior:
//
//	m := mock.NewMockEmbedder()
//	m.FailTexts = map[string]error{"chunk seven": errors.New("boom")}
//	vectors, err := m.EmbedTexts(ctx, texts)
//
// # Contract
//
// Implementations return exactly one vector per input text, in input order,
// and every vector has the same dimension. An error from EmbedTexts means the
// whole call failed; callers that need per-item isolation retry items
// individually (see package embed).
package ai
