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

package config

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// Keychain entry used for the Telegram bot token.
//
// Supported platforms:
//   - macOS: Keychain Access
//   - Linux: Secret Service API (GNOME Keyring, KWallet)
//   - Windows: Credential Manager
const (
	KeychainService = "stagehand"
	KeychainToken   = "telegram-token"
)

// ErrNoToken is returned when no Telegram token can be resolved from
// any source. This is a fatal startup error for the bot.
var ErrNoToken = errors.New("telegram bot token not configured (set TELEGRAM_BOT_TOKEN, config telegram.token, or keychain entry stagehand/telegram-token)")

// ResolveToken returns the Telegram bot token. Environment and config
// file values (already merged into c.Telegram.Token by Load) win over
// the OS keychain.
func (c *Config) ResolveToken() (string, error) {
	if c.Telegram.Token != "" {
		return c.Telegram.Token, nil
	}

	value, err := keyring.Get(KeychainService, KeychainToken)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("keychain lookup failed: %w", err)
	}
	if value == "" {
		return "", ErrNoToken
	}
	return value, nil
}

// StoreToken writes the Telegram bot token to the OS keychain.
func StoreToken(token string) error {
	if token == "" {
		return fmt.Errorf("refusing to store empty token")
	}
	if err := keyring.Set(KeychainService, KeychainToken, token); err != nil {
		return fmt.Errorf("failed to store token in keychain: %w", err)
	}
	return nil
}
