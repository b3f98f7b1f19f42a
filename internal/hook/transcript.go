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

package hook

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strings"
)

// StopPayload is the JSON document the coding CLI pipes to its stop
// hook. Only the fields stagehand reads are declared.
type StopPayload struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	Cwd            string `json:"cwd"`
}

// ParseStopPayload decodes a stop-hook payload from r. An empty stream
// yields a zero payload and no error so the hook also works when
// invoked by hand with flags.
func ParseStopPayload(r io.Reader) (StopPayload, error) {
	var payload StopPayload
	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return payload, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return payload, nil
	}
	err = json.Unmarshal(data, &payload)
	return payload, err
}

// transcriptEntry is one line of the session transcript (JSONL). The
// content field is either a plain string or a list of typed blocks.
type transcriptEntry struct {
	Type    string `json:"type"`
	Message struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// LastExchange scans the transcript file for the final user prompt and
// the final assistant response. Missing or unreadable transcripts yield
// empty strings; the summary stays valid without them.
func LastExchange(path string) (userPrompt, lastResponse string) {
	if path == "" {
		return "", ""
	}
	f, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry transcriptEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		text := contentText(entry.Message.Content)
		if text == "" {
			continue
		}
		switch {
		case entry.Type == "user" || entry.Message.Role == "user":
			userPrompt = text
		case entry.Type == "assistant" || entry.Message.Role == "assistant":
			lastResponse = text
		}
	}
	return userPrompt, lastResponse
}

// contentText flattens a message content field to plain text.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return strings.TrimSpace(plain)
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
			parts = append(parts, strings.TrimSpace(b.Text))
		}
	}
	return strings.Join(parts, "\n")
}
