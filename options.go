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


package kbingest

import (
	"log/slog"
	"time"

	"github.com/poiesic/kbingest/ai"
	"github.com/poiesic/kbingest/config"
	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/embed"
	"github.com/poiesic/kbingest/fetch"
	"github.com/poiesic/kbingest/index"
	"github.com/poiesic/kbingest/pipeline"
)

// Option configures a Service.
type Option func(*options)

type options struct {
	inMemory     bool
	aiConfig     *ai.Config
	embedder     ai.Embedder
	renderer     fetch.Renderer
	browser      bool
	chrome       fetch.ChromeConfig
	milvus       *index.MilvusConfig
	vindex       index.VectorIndex
	fetchOpts    []fetch.Option
	pipelineOpts []pipeline.Option
	draftTTL     time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

func defaultOptions() *options {
	return &options{
		aiConfig: ai.DefaultConfig(),
		browser:  true,
		chrome:   fetch.DefaultChromeConfig(),
		draftTTL: core.DefaultDraftTTL,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
}

// WithInMemory keeps all state in memory. The path passed to Open is ignored.
func WithInMemory() Option {
	return func(o *options) {
		o.inMemory = true
	}
}

// WithAIConfig sets the embedding service configuration.
func WithAIConfig(cfg *ai.Config) Option {
	return func(o *options) {
		if cfg != nil {
			o.aiConfig = cfg
		}
	}
}

// WithEmbedder uses e instead of an OpenAI-compatible client.
func WithEmbedder(e ai.Embedder) Option {
	return func(o *options) {
		o.embedder = e
	}
}

// WithRenderer uses r to render web pages. The caller keeps ownership of r.
func WithRenderer(r fetch.Renderer) Option {
	return func(o *options) {
		o.renderer = r
	}
}

// WithChrome configures the browser started when no renderer is given.
func WithChrome(cfg fetch.ChromeConfig) Option {
	return func(o *options) {
		o.chrome = cfg
	}
}

// WithoutBrowser skips starting a browser. Web sources then fail to fetch,
// which suits read-only use.
func WithoutBrowser() Option {
	return func(o *options) {
		o.browser = false
	}
}

// WithMilvus stores vectors in Milvus instead of the local store.
func WithMilvus(cfg index.MilvusConfig) Option {
	return func(o *options) {
		o.milvus = &cfg
	}
}

// WithVectorIndex uses idx for vectors. The caller keeps ownership of idx.
func WithVectorIndex(idx index.VectorIndex) Option {
	return func(o *options) {
		o.vindex = idx
	}
}

// WithFetchOptions passes options through to the fetcher.
func WithFetchOptions(opts ...fetch.Option) Option {
	return func(o *options) {
		o.fetchOpts = append(o.fetchOpts, opts...)
	}
}

// WithPipelineOptions passes options through to the orchestrator.
func WithPipelineOptions(opts ...pipeline.Option) Option {
	return func(o *options) {
		o.pipelineOpts = append(o.pipelineOpts, opts...)
	}
}

// WithDraftTTL sets how long a draft may stay unfinalized.
func WithDraftTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.draftTTL = ttl
		}
	}
}

// WithClock replaces the wall clock used for draft expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// ConfigOptions translates a loaded configuration into Service options.
func ConfigOptions(cfg *config.Config) []Option {
	opts := []Option{
		WithAIConfig(&cfg.Embedding),
		WithChrome(cfg.ChromeConfig()),
		WithDraftTTL(cfg.Drafts.TTL.Std()),
		WithFetchOptions(
			fetch.WithTimeout(cfg.Fetch.Timeout.Std()),
			fetch.WithRetryPolicy(cfg.RetryPolicy()),
			fetch.WithWaitCondition(cfg.WaitCondition()),
		),
		WithPipelineOptions(
			pipeline.WithJobWorkers(cfg.Pipeline.JobWorkers),
			pipeline.WithCrawlWorkers(cfg.Pipeline.CrawlWorkers),
			pipeline.WithRequestDelay(cfg.Pipeline.RequestDelay.Std(), cfg.Pipeline.MaxDelay.Std()),
			pipeline.WithEmbedOptions(
				embed.WithBatchSize(cfg.Pipeline.EmbedBatchSize),
				embed.WithWorkers(cfg.Pipeline.EmbedWorkers),
				embed.WithRetry(cfg.Pipeline.EmbedAttempts, embed.DefaultBaseDelay),
			),
			pipeline.WithIndexRetry(cfg.Pipeline.IndexAttempts, pipeline.DefaultIndexBaseDelay),
		),
	}
	if cfg.Index.Backend == config.IndexMilvus {
		opts = append(opts, WithMilvus(cfg.MilvusConfig()))
	}
	return opts
}
