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

// Package config loads stagehand configuration from YAML with
// environment overrides.
//
// Precedence, highest first: environment, config file, defaults. The
// Telegram token additionally falls back to the OS keychain so it
// never has to live in a file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/stagehand/internal/lychee"
)

// Defaults.
const (
	DefaultClaudeTimeout        = 300 * time.Second
	DefaultProgressPollInterval = 2 * time.Second
	DefaultCallbackRetention    = 30 * 24 * time.Hour
	DefaultShutdownGrace        = 10 * time.Second
)

// TelegramConfig holds chat transport credentials and destination.
type TelegramConfig struct {
	// Token is the bot token. Resolution order: TELEGRAM_BOT_TOKEN
	// env, this field, OS keychain.
	Token string `yaml:"token"`

	// ChatID is the destination chat for all messages. The system
	// pairs one operator with one chat.
	ChatID int64 `yaml:"chat_id"`
}

// ClaudeConfig describes the headless CLI invocation.
type ClaudeConfig struct {
	// Command is the argv; the rendered prompt is written to stdin.
	Command []string `yaml:"command"`

	// Timeout is the default per-workflow execution ceiling. Registry
	// entries may override it.
	Timeout time.Duration `yaml:"timeout"`
}

// BotConfig tunes the coordinator's timers.
type BotConfig struct {
	// IdleTimeout shuts the bot down after a quiet period so the
	// supervisor can restart it on demand. Zero disables; keep it
	// disabled when the bot is the canonical long-running process.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ProgressPollInterval is the cadence of the progress directory
	// scan.
	ProgressPollInterval time.Duration `yaml:"progress_poll_interval"`

	// CallbackRetention bounds the age of stored callback records.
	CallbackRetention time.Duration `yaml:"callback_retention"`

	// ShutdownGrace bounds the drain of in-flight edits on SIGTERM.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// Config is the root stagehand configuration.
type Config struct {
	// StateDir is the state root all components share.
	StateDir string `yaml:"state_dir"`

	Telegram TelegramConfig `yaml:"telegram"`
	Claude   ClaudeConfig   `yaml:"claude"`
	Lychee   lychee.Config  `yaml:"lychee"`
	Bot      BotConfig      `yaml:"bot"`
}

// DefaultPath returns the default config file location under
// XDG_CONFIG_HOME (falling back to ~/.config).
func DefaultPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "stagehand", "config.yaml")
}

// DefaultStateDir returns the default state root under XDG_STATE_HOME
// (falling back to ~/.local/state).
func DefaultStateDir() string {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, "stagehand")
}

// Load reads the config file at path (or DefaultPath when empty) and
// applies defaults and environment overrides. A missing file is not an
// error; defaults plus environment apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults + env only.
		case err != nil:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir()
	}
	if len(c.Claude.Command) == 0 {
		c.Claude.Command = []string{"claude", "-p", "-"}
	}
	if c.Claude.Timeout <= 0 {
		c.Claude.Timeout = DefaultClaudeTimeout
	}
	if c.Bot.ProgressPollInterval <= 0 {
		c.Bot.ProgressPollInterval = DefaultProgressPollInterval
	}
	if c.Bot.CallbackRetention <= 0 {
		c.Bot.CallbackRetention = DefaultCallbackRetention
	}
	if c.Bot.ShutdownGrace <= 0 {
		c.Bot.ShutdownGrace = DefaultShutdownGrace
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("STAGEHAND_STATE_DIR"); v != "" {
		c.StateDir = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Telegram.ChatID = id
		}
	}
	if v := os.Getenv("STAGEHAND_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Bot.IdleTimeout = d
		}
	}
}
