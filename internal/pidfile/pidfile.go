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

// Package pidfile enforces the single-bot-instance invariant.
//
// A bare PID check is insufficient on workstations where PIDs recycle
// quickly, so the record carries a command-line fingerprint alongside
// the PID and liveness requires both to match. A pidfile whose process
// is gone, or whose process runs a different command, is stale and is
// atomically replaced.
package pidfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/tombee/stagehand/internal/state"
)

// ErrAlreadyRunning is returned when a live process owns the pidfile.
var ErrAlreadyRunning = errors.New("another bot instance is already running")

// Record is the JSON body of bot.pid.
type Record struct {
	PID         int    `json:"pid"`
	Fingerprint string `json:"fingerprint"`
}

// Handle is an acquired pidfile.
type Handle struct {
	path        string
	pid         int
	fingerprint string
}

// Fingerprint builds the stable command-line fingerprint for the
// current process: the executable base name plus the role tag.
func Fingerprint(role string) string {
	exe := os.Args[0]
	if idx := strings.LastIndexByte(exe, '/'); idx >= 0 {
		exe = exe[idx+1:]
	}
	return exe + " " + role
}

// acquireAttempts bounds the stale-remove-and-retry loop.
const acquireAttempts = 3

// Acquire takes exclusive ownership of the pidfile at path. The record
// is written to a temp file and published with an exclusive link, so
// concurrent candidates either win the link or read the winner's fully
// written record; there is no window where a half-written pidfile is
// visible. A live owner (PID and fingerprint both match) yields
// ErrAlreadyRunning; a stale record is removed and the link retried.
func Acquire(path, fingerprint string) (*Handle, error) {
	record := Record{PID: os.Getpid(), Fingerprint: fingerprint}
	tmp, err := writeTemp(path, record)
	if err != nil {
		return nil, fmt.Errorf("failed to stage pidfile: %w", err)
	}
	defer os.Remove(tmp)

	for attempt := 0; attempt < acquireAttempts; attempt++ {
		err := os.Link(tmp, path)
		if err == nil {
			return &Handle{path: path, pid: record.PID, fingerprint: fingerprint}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create pidfile: %w", err)
		}

		var existing Record
		if readErr := state.ReadJSON(path, &existing); readErr == nil && IsLive(existing) {
			return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, existing.PID)
		}
		// Stale or unreadable: remove it and race the link again. A
		// concurrent candidate may get there first; the next attempt
		// then sees its live record.
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale pidfile: %w", err)
		}
	}
	return nil, ErrAlreadyRunning
}

// writeTemp stages the record next to path so the link never crosses a
// filesystem boundary.
func writeTemp(path string, record Record) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), ".pid-*")
	if err != nil {
		return "", err
	}
	name := f.Name()
	if err := json.NewEncoder(f).Encode(&record); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// Release removes the pidfile if this handle still owns it. Safe to
// call more than once.
func (h *Handle) Release() error {
	var current Record
	if err := state.ReadJSON(h.path, &current); err != nil {
		return nil
	}
	if current.PID != h.pid || current.Fingerprint != h.fingerprint {
		// Someone else took over after we went stale; leave it alone.
		return nil
	}
	return state.Remove(h.path)
}

// IsLive reports whether the recorded process exists and still runs a
// command matching the fingerprint.
func IsLive(r Record) bool {
	if r.PID <= 0 {
		return false
	}
	if !processExists(r.PID) {
		return false
	}
	cmdline, err := readCmdline(r.PID)
	if err != nil {
		// No procfs (or no permission): fall back to existence only.
		// This keeps the check working on platforms without /proc.
		return true
	}
	return fingerprintMatches(cmdline, r.Fingerprint)
}

func processExists(pid int) bool {
	// Signal 0 performs permission and existence checks without
	// delivering a signal.
	err := syscall.Kill(pid, syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

func readCmdline(pid int) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(string(data), "\x00", " "), nil
}

// fingerprintMatches checks that every token of the fingerprint
// appears in the process command line. The executable may be invoked
// via an absolute path, so token containment beats prefix equality.
func fingerprintMatches(cmdline, fingerprint string) bool {
	for _, token := range strings.Fields(fingerprint) {
		if !strings.Contains(cmdline, token) {
			return false
		}
	}
	return fingerprint != ""
}
