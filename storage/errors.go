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


package storage

import "errors"

// Sentinel errors returned by every repository implementation. Callers
// match them with errors.Is.
var (
	// ErrNotFound means no draft, knowledge base, document, chunk or run
	// has the requested ID.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey means a create call reused an existing ID.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrStorageClosed is returned once the store has been closed.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrInvalidArgument rejects a record without an ID or a filter with
	// nothing to match.
	ErrInvalidArgument = errors.New("invalid storage argument")
)
