// Copyright 2025 Tom Barlow
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

// Package ids generates the identifiers used across stagehand components.
//
// Correlation and execution IDs are ULIDs: 26-character Crockford-base32
// tokens with a millisecond timestamp prefix, so IDs sort
// lexicographically in creation order. Workspace IDs are short stable
// hash prefixes of the workspace path, used only as filename-safe tags.
package ids

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
)

// WorkspaceHashLen is the length of the workspace ID hash prefix.
// Collisions are tolerated because the full workspace path always
// travels alongside the ID in the JSON payload.
const WorkspaceHashLen = 8

// NewCorrelationID generates a fresh correlation ID.
// The hook generates exactly one per session termination; every
// downstream artifact and event carries it unchanged.
func NewCorrelationID() string {
	return newULID()
}

// NewExecutionID generates an ID for a single workflow execution record.
func NewExecutionID() string {
	return newULID()
}

func newULID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// WorkspaceHash derives the 8-character workspace ID from a workspace
// path. The path is cleaned first so trailing slashes and redundant
// separators do not change the hash. Not a security boundary.
func WorkspaceHash(path string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(path)))
	return hex.EncodeToString(sum[:])[:WorkspaceHashLen]
}
