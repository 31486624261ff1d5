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


package ai

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIncompleteConfig wraps every embedding configuration problem.
var ErrIncompleteConfig = errors.New("ai config")

// Default endpoint and model: a local Ollama server.
const (
	DefaultEmbeddingHost  = "http://localhost:11434/v1"
	DefaultEmbeddingModel = "nomic-embed-text"
	noToken               = "none"
)

// Config describes the OpenAI-compatible embedding endpoint.
type Config struct {
	// EmbeddingHost is the API base URL, e.g. "http://localhost:11434/v1".
	EmbeddingHost string `toml:"embedding_host" json:"embedding_host"`

	// EmbeddingModel names the model, e.g. "nomic-embed-text".
	EmbeddingModel string `toml:"embedding_model" json:"embedding_model"`

	// APIToken is sent as the bearer token. Local servers ignore it.
	APIToken string `toml:"api_token" json:"-"`

	// Dimensions, when non-zero, is the only vector length accepted.
	Dimensions int `toml:"dimensions" json:"dimensions"`

	// MaxBatch caps the texts sent in one request. Zero keeps the client
	// default.
	MaxBatch int `toml:"max_batch" json:"max_batch"`
}

// ConfigOption adjusts a Config built by NewConfig.
type ConfigOption func(*Config)

func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) { c.EmbeddingHost = host }
}

func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) { c.EmbeddingModel = model }
}

func WithAPIToken(token string) ConfigOption {
	return func(c *Config) { c.APIToken = token }
}

func WithDimensions(dim int) ConfigOption {
	return func(c *Config) { c.Dimensions = dim }
}

func WithMaxBatch(n int) ConfigOption {
	return func(c *Config) { c.MaxBatch = n }
}

// DefaultConfig returns the local Ollama settings.
func DefaultConfig() *Config {
	return &Config{
		EmbeddingHost:  DefaultEmbeddingHost,
		EmbeddingModel: DefaultEmbeddingModel,
		APIToken:       noToken,
	}
}

// NewConfig applies opts over DefaultConfig.
//
//	cfg := NewConfig(
//	    WithEmbeddingHost("http://gpu-box:11434"),
//	    WithEmbeddingModel("mxbai-embed-large"),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize appends the /v1 path OpenAI-compatible servers expect and fills
// in a placeholder token.
func (c *Config) Normalize() {
	if host := c.EmbeddingHost; host != "" && !strings.HasSuffix(host, "/v1") {
		c.EmbeddingHost = strings.TrimRight(host, "/") + "/v1"
	}
	if c.APIToken == "" {
		c.APIToken = noToken
	}
}

// Validate normalizes c and reports every missing or out-of-range field.
func (c *Config) Validate() error {
	c.Normalize()

	var problems []error
	if c.EmbeddingHost == "" {
		problems = append(problems, errors.New("EmbeddingHost is required"))
	}
	if c.EmbeddingModel == "" {
		problems = append(problems, errors.New("EmbeddingModel is required"))
	}
	if c.Dimensions < 0 {
		problems = append(problems, fmt.Errorf("Dimensions must not be negative, got %d", c.Dimensions))
	}
	if c.MaxBatch < 0 {
		problems = append(problems, fmt.Errorf("MaxBatch must not be negative, got %d", c.MaxBatch))
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrIncompleteConfig, errors.Join(problems...))
}
