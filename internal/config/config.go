// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigchat configuration.
type Config struct {
	Version string `toml:"version" json:"version" yaml:"version"`

	Backend BackendConfig `toml:"backend" json:"backend" yaml:"backend"`
	Ollama  OllamaConfig  `toml:"ollama" json:"ollama" yaml:"ollama"`
	Gemini  GeminiConfig  `toml:"gemini" json:"gemini" yaml:"gemini"`
	Session SessionConfig `toml:"session" json:"session" yaml:"session"`
	Fetch   FetchConfig   `toml:"fetch" json:"fetch" yaml:"fetch"`
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`
	Server  ServerConfig  `toml:"server" json:"server" yaml:"server"`
	UI      UIConfig      `toml:"ui" json:"ui" yaml:"ui"`
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// BackendConfig selects the model backend.
type BackendConfig struct {
	// Name is "ollama", "gemini" or "echo".
	Name string `toml:"name" json:"name" yaml:"name"`
}

// OllamaConfig configures the local Ollama backend.
type OllamaConfig struct {
	URL          string `toml:"url" json:"url" yaml:"url"`
	Model        string `toml:"model" json:"model" yaml:"model"`
	TaggingModel string `toml:"tagging_model" json:"tagging_model" yaml:"tagging_model"`
	NumCtx       int    `toml:"num_ctx" json:"num_ctx" yaml:"num_ctx"`
	KeepAlive    string `toml:"keep_alive" json:"keep_alive" yaml:"keep_alive"`
	TimeoutSecs  int    `toml:"timeout_secs" json:"timeout_secs" yaml:"timeout_secs"`
}

// GeminiConfig configures the Google Gemini backend.
type GeminiConfig struct {
	APIKey       string `toml:"api_key" json:"api_key" yaml:"api_key"`
	Model        string `toml:"model" json:"model" yaml:"model"`
	TaggingModel string `toml:"tagging_model" json:"tagging_model" yaml:"tagging_model"`
}

// SessionConfig configures the conversation controller.
type SessionConfig struct {
	MaxHistory   int     `toml:"max_history" json:"max_history" yaml:"max_history"`
	KeepRecent   int     `toml:"keep_recent" json:"keep_recent" yaml:"keep_recent"`
	Temperature  float64 `toml:"temperature" json:"temperature" yaml:"temperature"`
	Instructions string  `toml:"instructions" json:"instructions" yaml:"instructions"`
	UseCase      string  `toml:"use_case" json:"use_case" yaml:"use_case"`
	Prewarm      bool    `toml:"prewarm" json:"prewarm" yaml:"prewarm"`
}

// FetchConfig configures page fetching.
type FetchConfig struct {
	MaxChars          int     `toml:"max_chars" json:"max_chars" yaml:"max_chars"`
	TimeoutSecs       int     `toml:"timeout_secs" json:"timeout_secs" yaml:"timeout_secs"`
	WaitMillis        int     `toml:"wait_ms" json:"wait_ms" yaml:"wait_ms"`
	Render            bool    `toml:"render" json:"render" yaml:"render"`
	AllowPrivate      bool    `toml:"allow_private" json:"allow_private" yaml:"allow_private"`
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second" yaml:"requests_per_second"`
	MaxBodyBytes      int64   `toml:"max_body_bytes" json:"max_body_bytes" yaml:"max_body_bytes"`
}

// StorageConfig configures conversation persistence.
type StorageConfig struct {
	// Driver is "json" or "sqlite".
	Driver       string `toml:"driver" json:"driver" yaml:"driver"`
	Dir          string `toml:"dir" json:"dir" yaml:"dir"`
	Conversation string `toml:"conversation" json:"conversation" yaml:"conversation"`
	AutoSave     bool   `toml:"auto_save" json:"auto_save" yaml:"auto_save"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `toml:"addr" json:"addr" yaml:"addr"`
	// AllowedOrigins for websocket upgrades; empty means same host only.
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins" yaml:"allowed_origins"`
	// Token, when set, is required as a bearer token on /api and /ws.
	Token string `toml:"token" json:"token" yaml:"token"`
	// RequestsPerMinute limits each client address (0 = unlimited).
	RequestsPerMinute int `toml:"requests_per_minute" json:"requests_per_minute" yaml:"requests_per_minute"`
}

// UIConfig configures terminal output.
type UIConfig struct {
	// Theme is "dark", "light" or "auto".
	Theme    string `toml:"theme" json:"theme" yaml:"theme"`
	Markdown bool   `toml:"markdown" json:"markdown" yaml:"markdown"`
	NoColor  bool   `toml:"no_color" json:"no_color" yaml:"no_color"`
}

// LoggingConfig configures the log file.
type LoggingConfig struct {
	Level string `toml:"level" json:"level" yaml:"level"`
	File  string `toml:"file" json:"file" yaml:"file"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: "1",
		Backend: BackendConfig{Name: "ollama"},
		Ollama: OllamaConfig{
			URL:         "http://127.0.0.1:11434",
			Model:       "llama3.2",
			KeepAlive:   "5m",
			TimeoutSecs: 30,
		},
		Gemini: GeminiConfig{Model: "gemini-2.5-flash"},
		Session: SessionConfig{
			MaxHistory:  10,
			KeepRecent:  6,
			Temperature: 0.7,
			UseCase:     "general",
			Prewarm:     true,
		},
		Fetch: FetchConfig{
			MaxChars:     4000,
			TimeoutSecs:  30,
			MaxBodyBytes: 5 << 20,
		},
		Storage: StorageConfig{
			Driver:       "json",
			Conversation: "current",
			AutoSave:     true,
		},
		Server:  ServerConfig{Addr: "127.0.0.1:8787", RequestsPerMinute: 60},
		UI:      UIConfig{Theme: "auto", Markdown: true},
		Logging: LoggingConfig{Level: "info"},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rigchat configuration directory path. RIGCHAT_HOME
// overrides the default ~/.rigchat.
func ConfigDir() (string, error) {
	if dir := os.Getenv("RIGCHAT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigchat"), nil
}

// candidates lists config files in precedence order.
var candidates = []string{"config.toml", "config.json", "config.yaml", "config.yml"}

// FindConfigFile returns the first config file present in dir, or "".
func FindConfigFile(dir string) string {
	for _, name := range candidates {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ensureSecurePermissions checks and fixes permissions on config files.
// Config files may hold API keys and must be 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config directory. The first file found
// wins; with none, defaults are used. Environment overrides are applied last.
func Load() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		return cfg, err
	}
	return LoadDir(dir)
}

// LoadDir loads the first config file found in dir.
func LoadDir(dir string) (*Config, error) {
	if path := FindConfigFile(dir); path != "" {
		return LoadFromPath(path)
	}
	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path with full
// validation. The format follows the file extension; anything unrecognized
// is read as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := decodeFile(cfg, path); err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func decodeFile(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Not fatal: permissions cannot be fixed on every filesystem.
		fmt.Fprintf(os.Stderr, "WARNING: could not ensure secure permissions on %s: %v\n", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read JSON file: %w", err)
		}
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return fmt.Errorf("failed to decode JSON file %s: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read YAML file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to decode YAML file %s: %w", path, err)
		}
	default:
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("failed to decode TOML file %s: %w", path, err)
		}
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML saves the configuration to a TOML file with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# rigchat configuration file\n")
	b.WriteString("# Generated by rigchat - edit with care\n\n")
	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, []byte(b.String()), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return true
		}
	}
	return false
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if !oneOf(c.Backend.Name, "ollama", "gemini", "echo") {
		add("backend.name", "invalid backend '%s', must be one of: ollama, gemini, echo", c.Backend.Name)
	}

	if u, err := url.Parse(c.Ollama.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("ollama.url", "invalid URL '%s', must be http(s)://host[:port]", c.Ollama.URL)
	}
	if c.Ollama.NumCtx < 0 {
		add("ollama.num_ctx", "must be >= 0, got %d", c.Ollama.NumCtx)
	}
	if c.Ollama.KeepAlive != "" && c.Ollama.KeepAlive != "-1" {
		if _, err := time.ParseDuration(c.Ollama.KeepAlive); err != nil {
			add("ollama.keep_alive", "invalid duration '%s'", c.Ollama.KeepAlive)
		}
	}
	if c.Ollama.TimeoutSecs < 0 {
		add("ollama.timeout_secs", "must be >= 0, got %d", c.Ollama.TimeoutSecs)
	}

	if c.Session.MaxHistory < 1 || c.Session.MaxHistory > 1000 {
		add("session.max_history", "must be between 1 and 1000, got %d", c.Session.MaxHistory)
	}
	if c.Session.KeepRecent < 0 {
		add("session.keep_recent", "must be >= 0, got %d", c.Session.KeepRecent)
	}
	if c.Session.Temperature < 0 || c.Session.Temperature > 1 {
		add("session.temperature", "must be between 0.0 and 1.0, got %g", c.Session.Temperature)
	}
	if !oneOf(c.Session.UseCase, "general", "content-tagging") {
		add("session.use_case", "invalid use case '%s', must be one of: general, content-tagging", c.Session.UseCase)
	}

	if c.Fetch.MaxChars < 1 {
		add("fetch.max_chars", "must be > 0, got %d", c.Fetch.MaxChars)
	}
	if c.Fetch.TimeoutSecs < 0 || c.Fetch.WaitMillis < 0 {
		add("fetch", "timeouts must be >= 0")
	}
	if c.Fetch.RequestsPerSecond < 0 {
		add("fetch.requests_per_second", "must be >= 0, got %g", c.Fetch.RequestsPerSecond)
	}

	if !oneOf(c.Storage.Driver, "json", "sqlite") {
		add("storage.driver", "invalid driver '%s', must be one of: json, sqlite", c.Storage.Driver)
	}

	if c.Server.RequestsPerMinute < 0 {
		add("server.requests_per_minute", "must be >= 0, got %d", c.Server.RequestsPerMinute)
	}

	if !oneOf(c.UI.Theme, "dark", "light", "auto") {
		add("ui.theme", "invalid theme '%s', must be one of: dark, light, auto", c.UI.Theme)
	}
	if !oneOf(c.Logging.Level, "debug", "info", "warn", "error") {
		add("logging.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills fields whose zero value is never meaningful.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.Backend.Name == "" {
		c.Backend.Name = defaults.Backend.Name
	}
	c.Backend.Name = strings.ToLower(c.Backend.Name)

	if c.Ollama.URL == "" {
		c.Ollama.URL = defaults.Ollama.URL
	}
	if c.Ollama.Model == "" {
		c.Ollama.Model = defaults.Ollama.Model
	}
	if c.Ollama.KeepAlive == "" {
		c.Ollama.KeepAlive = defaults.Ollama.KeepAlive
	}
	if c.Ollama.TimeoutSecs == 0 {
		c.Ollama.TimeoutSecs = defaults.Ollama.TimeoutSecs
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = defaults.Gemini.Model
	}

	if c.Session.MaxHistory == 0 {
		c.Session.MaxHistory = defaults.Session.MaxHistory
	}
	if c.Session.KeepRecent == 0 {
		c.Session.KeepRecent = defaults.Session.KeepRecent
	}
	if c.Session.UseCase == "" {
		c.Session.UseCase = defaults.Session.UseCase
	}

	if c.Fetch.MaxChars == 0 {
		c.Fetch.MaxChars = defaults.Fetch.MaxChars
	}
	if c.Fetch.TimeoutSecs == 0 {
		c.Fetch.TimeoutSecs = defaults.Fetch.TimeoutSecs
	}
	if c.Fetch.MaxBodyBytes == 0 {
		c.Fetch.MaxBodyBytes = defaults.Fetch.MaxBodyBytes
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = defaults.Storage.Driver
	}
	if c.Storage.Conversation == "" {
		c.Storage.Conversation = defaults.Storage.Conversation
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.UI.Theme == "" {
		c.UI.Theme = defaults.UI.Theme
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - RIGCHAT_BACKEND: overrides backend.name
//   - RIGCHAT_MODEL: overrides the model of the selected backend
//   - RIGCHAT_OLLAMA_URL: overrides ollama.url
//   - RIGCHAT_GEMINI_API_KEY (or GEMINI_API_KEY): overrides gemini.api_key
//   - RIGCHAT_TEMPERATURE: overrides session.temperature
//   - RIGCHAT_HISTORY_DIR: overrides storage.dir
//   - RIGCHAT_LOG_LEVEL: overrides logging.level
func (c *Config) ApplyEnvOverrides() {
	if backend := os.Getenv("RIGCHAT_BACKEND"); backend != "" {
		c.Backend.Name = strings.ToLower(backend)
	}

	if u := os.Getenv("RIGCHAT_OLLAMA_URL"); u != "" {
		c.Ollama.URL = u
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Gemini.APIKey = key
	}
	if key := os.Getenv("RIGCHAT_GEMINI_API_KEY"); key != "" {
		c.Gemini.APIKey = key
	}

	if model := os.Getenv("RIGCHAT_MODEL"); model != "" {
		if c.Backend.Name == "gemini" {
			c.Gemini.Model = model
		} else {
			c.Ollama.Model = model
		}
	}

	if temp := os.Getenv("RIGCHAT_TEMPERATURE"); temp != "" {
		if v, err := strconv.ParseFloat(temp, 64); err == nil {
			c.Session.Temperature = v
		}
	}

	if dir := os.Getenv("RIGCHAT_HISTORY_DIR"); dir != "" {
		c.Storage.Dir = dir
	}

	if level := os.Getenv("RIGCHAT_LOG_LEVEL"); level != "" {
		c.Logging.Level = strings.ToLower(level)
	}
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// HistoryDir returns storage.dir or <config dir>/conversations.
func (c *Config) HistoryDir() (string, error) {
	if c.Storage.Dir != "" {
		return c.Storage.Dir, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "conversations"), nil
}

// LogFile returns logging.file or <config dir>/logs/rigchat.log.
func (c *Config) LogFile() (string, error) {
	if c.Logging.File != "" {
		return c.Logging.File, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs", "rigchat.log"), nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Server.AllowedOrigins != nil {
		clone.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	}
	return &clone
}

// String returns a JSON rendering with secrets redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Gemini.APIKey != "" {
		safe.Gemini.APIKey = "[REDACTED]"
	}
	if safe.Server.Token != "" {
		safe.Server.Token = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
