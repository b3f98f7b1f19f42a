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

// Package telegram is a minimal Bot API client covering the slice
// stagehand needs: send, edit, answer-callback, and long-poll updates.
//
// Every outbound message passes through the markup safety net
// (unbalanced delimiters are closed) and through rate limiters sized
// to the API's documented budgets. Message edits are limited far more
// tightly than sends, which is why progress streaming coalesces.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/tombee/stagehand/internal/markup"
)

// Rate budgets. Telegram allows roughly one message per second per
// chat with short bursts, and rejects rapid edits of the same message
// well below the send budget.
const (
	sendPerSecond = 1
	sendBurst     = 3
	editPerSecond = 6
	editBurst     = 6
)

// DefaultMaxRetries bounds retry attempts for rate-limited calls that
// carry no retry_after hint.
const DefaultMaxRetries = 3

// ErrRateLimited is returned when the API keeps rate-limiting after
// all retries. Callers log and continue; the next cycle re-emits.
var ErrRateLimited = errors.New("telegram: rate limited after retries")

// APIError is a non-429 Bot API rejection.
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: API error %d: %s", e.Code, e.Description)
}

// Client talks to the Bot API for one bot token.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	sendLimiter *rate.Limiter
	editLimiter *rate.Limiter
	maxRetries  int
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint (used by tests).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxRetries overrides the non-hinted 429 retry cap.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// New creates a Client for the given bot token.
func New(token string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:     "https://api.telegram.org/bot" + token,
		httpClient:  &http.Client{Timeout: 90 * time.Second},
		sendLimiter: rate.NewLimiter(sendPerSecond, sendBurst),
		editLimiter: rate.NewLimiter(editPerSecond, editBurst),
		maxRetries:  DefaultMaxRetries,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendMessage sends a Markdown message, optionally with an inline
// keyboard, and returns the new message ID.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, keyboard *InlineKeyboardMarkup) (int64, error) {
	if err := c.sendLimiter.Wait(ctx); err != nil {
		return 0, err
	}

	params := map[string]any{
		"chat_id":    chatID,
		"text":       c.safeText(text),
		"parse_mode": "Markdown",
	}
	if keyboard != nil {
		params["reply_markup"] = keyboard
	}

	var msg IncomingMessage
	if err := c.call(ctx, "sendMessage", params, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// EditMessageText replaces the text (and keyboard) of an existing
// message in place.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string, keyboard *InlineKeyboardMarkup) error {
	if err := c.editLimiter.Wait(ctx); err != nil {
		return err
	}

	params := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       c.safeText(text),
		"parse_mode": "Markdown",
	}
	if keyboard != nil {
		params["reply_markup"] = keyboard
	}
	return c.call(ctx, "editMessageText", params, nil)
}

// AnswerCallbackQuery acknowledges a button tap, optionally with a
// toast shown to the user.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string, showAlert bool) error {
	params := map[string]any{
		"callback_query_id": callbackID,
	}
	if text != "" {
		params["text"] = text
		params["show_alert"] = showAlert
	}
	return c.call(ctx, "answerCallbackQuery", params, nil)
}

// GetUpdates long-polls for updates past offset. The HTTP timeout must
// exceed timeout, which the default client's 90s allows.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	params := map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "callback_query"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// safeText closes unbalanced markup delimiters before send. Session
// prompts and CLI output are arbitrary text; an odd delimiter count
// would make the API reject the whole message.
func (c *Client) safeText(text string) string {
	repairedText, repaired := markup.CloseUnbalanced(text)
	if repaired && c.logger != nil {
		c.logger.Info("closed unbalanced markup in outbound message")
	}
	return repairedText
}

// call performs one Bot API method call with 429 retry handling.
// Hinted rate limits suspend for exactly retry_after; unhinted ones
// back off exponentially up to maxRetries. Other API errors propagate.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	backoff := time.Second

	for attempt := 0; ; attempt++ {
		retryAfter, err := c.do(ctx, method, params, result)
		if err == nil {
			return nil
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Code != http.StatusTooManyRequests {
			return err
		}
		if attempt >= c.maxRetries {
			return fmt.Errorf("%w: %s", ErrRateLimited, method)
		}

		wait := retryAfter
		if wait <= 0 {
			wait = backoff
			backoff *= 2
		}
		if c.logger != nil {
			c.logger.Warn("telegram rate limited, retrying",
				"method", method, "wait", wait.String(), "attempt", attempt+1)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// do performs a single HTTP round trip. The returned duration is the
// server's retry_after hint, when present.
func (c *Client) do(ctx context.Context, method string, params any, result any) (time.Duration, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("telegram: failed to encode %s params: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("telegram: failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("telegram: failed to read %s response: %w", method, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return 0, fmt.Errorf("telegram: malformed %s response: %w", method, err)
	}

	if !envelope.OK {
		var retryAfter time.Duration
		if envelope.Parameters != nil && envelope.Parameters.RetryAfter > 0 {
			retryAfter = time.Duration(envelope.Parameters.RetryAfter) * time.Second
		}
		return retryAfter, &APIError{Code: envelope.ErrorCode, Description: envelope.Description}
	}

	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return 0, fmt.Errorf("telegram: failed to decode %s result: %w", method, err)
		}
	}
	return 0, nil
}
