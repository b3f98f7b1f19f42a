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

// Package lychee runs the content validator and extracts findings from
// its JSON results artifact.
//
// The validator is opaque: any argv that emits a JSON document works.
// Extraction is driven by configurable jq filters so result layouts
// other than lychee's fail_map can be adapted without code changes.
// Crashes, timeouts, and malformed output are surfaced as validator
// errors (ran=true, error_count>0), never swallowed.
package lychee

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/itchyny/gojq"

	"github.com/tombee/stagehand/internal/state"
)

// Default jq filters targeting lychee's JSON stats layout.
const (
	// DefaultErrorCountQuery sums the broken links per input file.
	DefaultErrorCountQuery = `[.fail_map[]? | length] | add // 0`
	// DefaultDetailsQuery renders a short per-file digest.
	DefaultDetailsQuery = `[.fail_map | to_entries[] | "\(.key): \(.value | length) broken"] | join("; ")`
)

// DefaultTimeout bounds a validator run.
const DefaultTimeout = 60 * time.Second

// Config describes how to run the validator.
type Config struct {
	// Command is the validator argv. Empty disables the validator
	// (summary carries ran=false).
	Command []string `yaml:"command"`

	// Timeout bounds the run. Zero means DefaultTimeout.
	Timeout time.Duration `yaml:"timeout"`

	// ResultsFile, when set, is read as the JSON results artifact
	// after the run. When empty, stdout is parsed instead.
	ResultsFile string `yaml:"results_file"`

	// ErrorCountQuery is a jq filter producing a number.
	ErrorCountQuery string `yaml:"error_count_query"`

	// DetailsQuery is a jq filter producing a string.
	DetailsQuery string `yaml:"details_query"`
}

// Runner executes the validator with compiled extraction filters.
type Runner struct {
	cfg        Config
	countCode  *gojq.Code
	detailCode *gojq.Code
}

// NewRunner compiles the extraction filters. Filter compile errors are
// configuration errors and fail construction.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ErrorCountQuery == "" {
		cfg.ErrorCountQuery = DefaultErrorCountQuery
	}
	if cfg.DetailsQuery == "" {
		cfg.DetailsQuery = DefaultDetailsQuery
	}

	countCode, err := compileQuery(cfg.ErrorCountQuery)
	if err != nil {
		return nil, fmt.Errorf("invalid error_count_query: %w", err)
	}
	detailCode, err := compileQuery(cfg.DetailsQuery)
	if err != nil {
		return nil, fmt.Errorf("invalid details_query: %w", err)
	}

	return &Runner{cfg: cfg, countCode: countCode, detailCode: detailCode}, nil
}

func compileQuery(src string) (*gojq.Code, error) {
	query, err := gojq.Parse(src)
	if err != nil {
		return nil, err
	}
	return gojq.Compile(query)
}

// Run executes the validator in dir and extracts findings. Never
// returns an error: failures degrade into the LycheeStatus fields.
func (r *Runner) Run(ctx context.Context, dir string) state.LycheeStatus {
	if len(r.cfg.Command) == 0 {
		return state.LycheeStatus{Ran: false}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.cfg.Command[0], r.cfg.Command[1:]...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return crashStatus(r.cfg.ResultsFile, fmt.Sprintf("validator timed out after %s", r.cfg.Timeout))
	}

	raw, err := r.results(stdout.Bytes())
	if err != nil {
		// Validators like lychee exit non-zero when links fail, so the
		// exit code alone is not a crash. Unreadable results are.
		detail := err.Error()
		if runErr != nil {
			detail = fmt.Sprintf("%s (exit: %v, stderr: %s)", detail, runErr, state.TruncateBytes(strings.TrimSpace(stderr.String()), 512))
		}
		return crashStatus(r.cfg.ResultsFile, detail)
	}

	status := state.LycheeStatus{Ran: true, ResultsFile: r.cfg.ResultsFile}
	status.ErrorCount = r.extractCount(raw)
	status.Details = r.extractDetails(raw)
	return status
}

// results loads the JSON artifact from the configured file or stdout.
func (r *Runner) results(stdout []byte) (any, error) {
	data := stdout
	if r.cfg.ResultsFile != "" {
		fileData, err := os.ReadFile(r.cfg.ResultsFile)
		if err != nil {
			return nil, fmt.Errorf("validator results unreadable: %w", err)
		}
		data = fileData
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("validator produced malformed JSON: %w", err)
	}
	return raw, nil
}

func (r *Runner) extractCount(raw any) int {
	v, ok := runQuery(r.countCode, raw)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

func (r *Runner) extractDetails(raw any) string {
	v, ok := runQuery(r.detailCode, raw)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func runQuery(code *gojq.Code, input any) (any, bool) {
	iter := code.Run(input)
	v, ok := iter.Next()
	if !ok {
		return nil, false
	}
	if _, isErr := v.(error); isErr {
		return nil, false
	}
	return v, true
}

func crashStatus(resultsFile, detail string) state.LycheeStatus {
	return state.LycheeStatus{
		Ran:         true,
		ErrorCount:  1,
		Details:     detail,
		ResultsFile: resultsFile,
	}
}
