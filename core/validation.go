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


package core

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateSourceConfig normalizes and validates a source configuration.
//
// Validation rules:
//   - URL must be an absolute http or https URL with a host
//   - Kind must be web or pdf (image sources are not extractable)
//   - MaxPages between 1 and 10000, MaxDepth between 0 and 32
//   - ChunkOverlap must be smaller than ChunkSize
//   - Cleaning thresholds must be in range
//
// Every failure is a *ConfigError.
func ValidateSourceConfig(cfg *SourceConfig) error {
	if cfg == nil {
		return &ConfigError{Reason: "source config is nil"}
	}
	cfg.Normalize()

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return NewConfigError(fieldName(fe.Field()), "failed %q check (value %v)", fe.Tag(), fe.Value())
		}
		return &ConfigError{Reason: err.Error()}
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return NewConfigError("url", "malformed url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return NewConfigError("url", "unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return NewConfigError("url", "url has no host")
	}

	if cfg.Kind == SourceKindImage {
		return NewConfigError("kind", "unsupported content type %q", cfg.Kind)
	}

	if err := ValidateChunking(cfg.ChunkSize, cfg.ChunkOverlap); err != nil {
		return err
	}

	if err := cfg.Cleaning.Validate(); err != nil {
		return NewConfigError("cleaning", "%v", err)
	}
	return nil
}

// ValidateChunking checks the chunk size and overlap pair.
func ValidateChunking(size, overlap int) error {
	if size <= 0 {
		return NewConfigError("chunk_size", "must be positive, got %d", size)
	}
	if overlap < 0 {
		return NewConfigError("chunk_overlap", "must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return NewConfigError("chunk_overlap", "must be smaller than chunk_size (%d >= %d)", overlap, size)
	}
	return nil
}

func fieldName(goName string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range goName {
		if r >= 'A' && r <= 'Z' {
			if prevLower {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
			prevLower = false
		} else {
			prevLower = true
		}
		b.WriteRune(r)
	}
	return b.String()
}

var transitions = map[RunStatus][]RunStatus{
	RunQueued:  {RunRunning, RunFailed, RunCancelled},
	RunRunning: {RunCompleted, RunPartial, RunFailed, RunCancelled},
}

// ValidateTransition checks a PipelineRun status change. Terminal states have
// no outgoing transitions.
func ValidateTransition(from, to RunStatus) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
