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

// Package registry loads the workflow and workspace registries.
//
// Both registries are read-only at runtime; edits require a bot
// restart (the external supervisor reloads on file change). The
// workflow registry preserves declaration order, which drives the
// ordering of available_workflows and of menu buttons.
package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// Workflow is one remediation workflow entry. Unknown JSON fields are
// ignored on decode; the registry has no runtime write path that could
// drop them.
type Workflow struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Icon              string   `json:"icon"`
	Description       string   `json:"description"`
	Category          string   `json:"category"`
	PromptTemplate    string   `json:"prompt_template"`
	Triggers          []string `json:"triggers"`
	Dependencies      []string `json:"dependencies"`
	EstimatedDuration string   `json:"estimated_duration"`
	RiskLevel         string   `json:"risk_level"`
	Version           string   `json:"version"`

	// TimeoutSeconds overrides the configured CLI timeout for this
	// workflow when > 0.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// Validate checks the minimum required fields of a registry entry.
func (w *Workflow) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("workflow entry missing id")
	}
	if w.Name == "" {
		return fmt.Errorf("workflow %q missing name", w.ID)
	}
	if w.PromptTemplate == "" {
		return fmt.Errorf("workflow %q missing prompt_template", w.ID)
	}
	if len(w.Triggers) == 0 {
		return fmt.Errorf("workflow %q missing triggers", w.ID)
	}
	return nil
}

// Registry is the loaded workflow registry with declaration order
// preserved.
type Registry struct {
	workflows map[string]*Workflow
	order     []string
	matchers  map[string][]matcher
}

// Load reads and validates workflows.json. The file maps workflow ID
// to entry; JSON object order is the declaration order. Any parse,
// validation, or trigger-compile error is fatal to the caller
// (fail-fast, per the error taxonomy for startup resource errors).
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow registry: %w", err)
	}
	return Parse(data)
}

// Parse decodes a workflow registry from JSON bytes.
func Parse(data []byte) (*Registry, error) {
	order, err := objectKeyOrder(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse workflow registry: %w", err)
	}

	var entries map[string]*Workflow
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse workflow registry: %w", err)
	}

	r := &Registry{
		workflows: make(map[string]*Workflow, len(entries)),
		matchers:  make(map[string][]matcher, len(entries)),
	}
	for _, id := range order {
		wf := entries[id]
		if wf == nil {
			continue
		}
		if wf.ID == "" {
			wf.ID = id
		} else if wf.ID != id {
			return nil, fmt.Errorf("workflow key %q does not match entry id %q", id, wf.ID)
		}
		if err := wf.Validate(); err != nil {
			return nil, err
		}
		compiled, err := compileTriggers(wf.Triggers)
		if err != nil {
			return nil, fmt.Errorf("workflow %q: %w", id, err)
		}
		r.workflows[id] = wf
		r.order = append(r.order, id)
		r.matchers[id] = compiled
	}
	return r, nil
}

// Get returns a workflow by ID.
func (r *Registry) Get(id string) (*Workflow, bool) {
	wf, ok := r.workflows[id]
	return wf, ok
}

// All returns every workflow in declaration order.
func (r *Registry) All() []*Workflow {
	out := make([]*Workflow, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.workflows[id])
	}
	return out
}

// Len returns the number of registered workflows.
func (r *Registry) Len() int {
	return len(r.order)
}

// objectKeyOrder returns the top-level object keys of data in
// declaration order. encoding/json maps are unordered, so the order is
// recovered from the token stream.
func objectKeyOrder(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("registry root must be a JSON object")
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v in registry", tok)
		}
		keys = append(keys, key)

		// Skip the value.
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}
