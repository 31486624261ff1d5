// Package pipeline runs knowledge base ingestion jobs.
//
// An Orchestrator owns a bounded pool of job workers. Each PipelineRun is one
// job that moves through these stages:
//   - crawl, clean and chunk: pages are fetched by a small per-run worker
//     pool, cleaned, persisted as Documents and split into Chunks; every
//     finished page is checkpointed on the run before its worker takes the
//     next one
//   - embed: every chunk of the knowledge base without an embedding is
//     embedded in batches
//   - index: every embedded chunk not yet in the vector index is upserted
//
// Pages and chunks fail individually and are recorded in the run's error log;
// the run then ends partial. The run fails outright when no page could be
// fetched, when every embedding attempt of a pass fails, or when the vector
// index rejects an upsert after retries.
//
// A retry is a new run for the same knowledge base. Pages checkpointed by any
// earlier run are not fetched again; the links stored with their Documents
// re-seed the crawl instead.
package pipeline
