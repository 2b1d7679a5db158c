/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are treated as read-only overrides at runtime; command line flags
// override both.
//
// config_version: bump when the structure changes in a backward-incompatible way.

type LibraryConfig struct {
	Dir       string `yaml:"dir"`       // directory scanned for documents; empty means next to the executable
	Extension string `yaml:"extension"` // fixed extension, ".pdf"
}

type RenderConfig struct {
	QueueCapacity  int `yaml:"queue_capacity"`
	PollIntervalMs int `yaml:"poll_interval_ms"`
	Prefetch       int `yaml:"prefetch"` // pages rendered ahead of the current one
	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`
}

type StorageConfig struct {
	PositionsFile    string `yaml:"positions_file"`
	IndexFile        string `yaml:"index_file"`
	DisableIndex     bool   `yaml:"disable_index"`
	PreviewsMaxBytes int64  `yaml:"previews_max_bytes"`
}

type GeneralConfig struct {
	TelemetryOptIn bool   `yaml:"telemetry_opt_in"`
	Theme          string `yaml:"theme"` // "system" | "light" | "dark"
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

type AppConfig struct {
	ConfigVersion int           `yaml:"config_version"`
	General       GeneralConfig `yaml:"general"`
	Library       LibraryConfig `yaml:"library"`
	Render        RenderConfig  `yaml:"render"`
	Storage       StorageConfig `yaml:"storage"`
	Logging       LoggingConfig `yaml:"logging"`
}

// Defaults returns the application defaults. Paths left empty are resolved by
// the accessors below against the per-user directories.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		General:       GeneralConfig{TelemetryOptIn: false, Theme: "system"},
		Library:       LibraryConfig{Dir: "", Extension: ".pdf"},
		Render:        RenderConfig{QueueCapacity: 10, PollIntervalMs: 50, Prefetch: 1, ViewportWidth: 1000, ViewportHeight: 1300},
		Storage:       StorageConfig{PreviewsMaxBytes: 64 * 1024 * 1024},
		Logging:       LoggingConfig{Level: "info", Format: "console"},
	}
}

// Env var names used as overrides.
const (
	EnvLibraryDir     = "BKR_LIBRARY_DIR"
	EnvQueueCapacity  = "BKR_QUEUE_CAPACITY"
	EnvPollIntervalMs = "BKR_POLL_INTERVAL_MS"
	EnvPrefetch       = "BKR_PREFETCH"
	EnvPositionsFile  = "BKR_POSITIONS_FILE"
	EnvIndexFile      = "BKR_INDEX_FILE"
	EnvDisableIndex   = "BKR_DISABLE_INDEX"
	EnvTelemetryOptIn = "BKR_TELEMETRY_OPT_IN"
	EnvConfigFile     = "BKR_CONFIG"
	// EnvLogLevel Logging envs, shared with internal/log.FromEnv
	EnvLogLevel  = "BKR_LOG_LEVEL"
	EnvLogFormat = "BKR_LOG_FORMAT"
	EnvLogSource = "BKR_LOG_SOURCE"
	EnvLogFile   = "BKR_LOG_FILE"
)

const appDirName = "bookreader"

// ConfigDir returns the per-user configuration directory of the reader.
func ConfigDir() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "BookReader")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "BookReader")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = filepath.Join(xdg, appDirName)
		} else if home := os.Getenv("HOME"); home != "" {
			base = filepath.Join(home, ".config", appDirName)
		}
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return base, nil
}

// ConfigPath returns the per-user config file path. BKR_CONFIG points elsewhere.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigFile)); p != "" {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the user config file (if present), applies defaults, and merges environment overrides.
// A malformed file is ignored so the reader still starts; the error is returned alongside the defaults.
func Load() (AppConfig, error) {
	cfg := Defaults()
	path, err := ConfigPath()
	if err != nil {
		applyEnvOverrides(&cfg)
		return cfg, err
	}
	var parseErr error
	if data, err := os.ReadFile(path); err == nil {
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err == nil {
			mergeInto(&cfg, &fileCfg)
			mergeExplicit(&cfg, data)
		} else {
			parseErr = err
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, parseErr
}

// Save writes the user config YAML.
func Save(cfg AppConfig) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// explicitKeys picks up settings whose zero value is a real choice, so a
// missing key can be told apart from one set to 0.
type explicitKeys struct {
	Render struct {
		Prefetch *int `yaml:"prefetch"`
	} `yaml:"render"`
}

func mergeExplicit(dst *AppConfig, data []byte) {
	var k explicitKeys
	if err := yaml.Unmarshal(data, &k); err != nil {
		return
	}
	if p := k.Render.Prefetch; p != nil && *p >= 0 {
		dst.Render.Prefetch = *p
	}
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	if s := strings.TrimSpace(src.General.Theme); s != "" {
		dst.General.Theme = s
	}
	dst.General.TelemetryOptIn = src.General.TelemetryOptIn
	if s := strings.TrimSpace(src.Library.Dir); s != "" {
		dst.Library.Dir = s
	}
	if s := strings.TrimSpace(src.Library.Extension); s != "" {
		if !strings.HasPrefix(s, ".") {
			s = "." + s
		}
		dst.Library.Extension = strings.ToLower(s)
	}
	if src.Render.QueueCapacity > 0 {
		dst.Render.QueueCapacity = src.Render.QueueCapacity
	}
	if src.Render.PollIntervalMs > 0 {
		dst.Render.PollIntervalMs = src.Render.PollIntervalMs
	}
	if src.Render.ViewportWidth > 0 {
		dst.Render.ViewportWidth = src.Render.ViewportWidth
	}
	if src.Render.ViewportHeight > 0 {
		dst.Render.ViewportHeight = src.Render.ViewportHeight
	}
	if s := strings.TrimSpace(src.Storage.PositionsFile); s != "" {
		dst.Storage.PositionsFile = s
	}
	if s := strings.TrimSpace(src.Storage.IndexFile); s != "" {
		dst.Storage.IndexFile = s
	}
	dst.Storage.DisableIndex = src.Storage.DisableIndex
	if src.Storage.PreviewsMaxBytes > 0 {
		dst.Storage.PreviewsMaxBytes = src.Storage.PreviewsMaxBytes
	}
	if s := strings.TrimSpace(src.Logging.Level); s != "" {
		dst.Logging.Level = strings.ToLower(s)
	}
	if s := strings.TrimSpace(src.Logging.Format); s != "" {
		dst.Logging.Format = strings.ToLower(s)
	}
	dst.Logging.Source = src.Logging.Source
	if s := strings.TrimSpace(src.Logging.File); s != "" {
		dst.Logging.File = s
	}
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvLibraryDir)); v != "" {
		cfg.Library.Dir = v
	}
	if n, ok := envInt(EnvQueueCapacity); ok && n > 0 {
		cfg.Render.QueueCapacity = n
	}
	if n, ok := envInt(EnvPollIntervalMs); ok && n > 0 {
		cfg.Render.PollIntervalMs = n
	}
	if n, ok := envInt(EnvPrefetch); ok && n >= 0 {
		cfg.Render.Prefetch = n
	}
	if v := strings.TrimSpace(os.Getenv(EnvPositionsFile)); v != "" {
		cfg.Storage.PositionsFile = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvIndexFile)); v != "" {
		cfg.Storage.IndexFile = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDisableIndex)); v != "" {
		cfg.Storage.DisableIndex = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvTelemetryOptIn)); v != "" {
		cfg.General.TelemetryOptIn = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogSource)); v != "" {
		cfg.Logging.Source = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.Logging.File = v
	}
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseBool(v string) bool {
	lv := strings.ToLower(strings.TrimSpace(v))
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	envs := map[string]string{
		"library.dir":              EnvLibraryDir,
		"render.queue_capacity":    EnvQueueCapacity,
		"render.poll_interval_ms":  EnvPollIntervalMs,
		"render.prefetch":          EnvPrefetch,
		"storage.positions_file":   EnvPositionsFile,
		"storage.index_file":       EnvIndexFile,
		"storage.disable_index":    EnvDisableIndex,
		"general.telemetry_opt_in": EnvTelemetryOptIn,
		"logging.level":            EnvLogLevel,
		"logging.format":           EnvLogFormat,
		"logging.source":           EnvLogSource,
		"logging.file":             EnvLogFile,
	}
	name, ok := envs[key]
	if !ok || os.Getenv(name) == "" {
		return "", false
	}
	return name, true
}

// PollInterval is the worker's queue polling timeout.
func (r RenderConfig) PollInterval() time.Duration {
	if r.PollIntervalMs <= 0 {
		return time.Duration(Defaults().Render.PollIntervalMs) * time.Millisecond
	}
	return time.Duration(r.PollIntervalMs) * time.Millisecond
}

// LibraryDir resolves the document directory: the configured one, else the
// directory holding the executable, else the working directory.
func (c AppConfig) LibraryDir() string {
	if d := strings.TrimSpace(c.Library.Dir); d != "" {
		if abs, err := filepath.Abs(d); err == nil {
			return abs
		}
		return d
	}
	if exe, err := os.Executable(); err == nil {
		return filepath.Dir(exe)
	}
	wd, _ := os.Getwd()
	return wd
}

// PositionsPath resolves the reading positions file, defaulting into the config dir.
func (c AppConfig) PositionsPath() (string, error) {
	if p := strings.TrimSpace(c.Storage.PositionsFile); p != "" {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "reading_positions.json"), nil
}

// IndexPath resolves the search/preview index, defaulting into the user cache dir.
func (c AppConfig) IndexPath() (string, error) {
	if p := strings.TrimSpace(c.Storage.IndexFile); p != "" {
		return p, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appDirName, "index.sqlite"), nil
}
