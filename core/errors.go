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
)

// Domain errors
var (
	// ErrConfig is matched by every ConfigError.
	ErrConfig = errors.New("configuration error")

	// ErrInvalidTransition indicates an illegal PipelineRun status change.
	ErrInvalidTransition = errors.New("invalid pipeline run transition")

	// ErrDraftExpired indicates the draft's TTL has elapsed.
	ErrDraftExpired = errors.New("draft expired")

	// ErrEmptyDraft indicates a draft was finalized without sources.
	ErrEmptyDraft = errors.New("draft has no sources")
)

// ConfigError rejects a source or pipeline configuration before any work is
// scheduled.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrConfig) match any ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

// NewConfigError builds a ConfigError.
func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
