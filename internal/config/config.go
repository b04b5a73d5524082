package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete mdsentry configuration.
// Durations are strings in time.ParseDuration syntax so YAML stays readable.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	Watch       WatchConfig       `yaml:"watch" json:"watch"`
	Queue       QueueConfig       `yaml:"queue" json:"queue"`
	Classifier  ClassifierConfig  `yaml:"classifier" json:"classifier"`
	Retry       RetryConfig       `yaml:"retry" json:"retry"`
	Recovery    RecoveryConfig    `yaml:"recovery" json:"recovery"`
	Preferences PreferencesConfig `yaml:"preferences" json:"preferences"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" json:"telemetry"`
	Cache       CacheConfig       `yaml:"cache" json:"cache"`
	Server      ServerConfig      `yaml:"server" json:"server"`
}

// WatchConfig configures change notification and its polling fallback.
type WatchConfig struct {
	// Debounce coalesces raw notifications for one path before they leave the watcher.
	Debounce string `yaml:"debounce" json:"debounce"`
	// PollInterval is only used once a path has fallen back to polling.
	PollInterval string `yaml:"poll_interval" json:"poll_interval"`
	// HeartbeatInterval is how often watched paths are stat'ed to verify native events.
	HeartbeatInterval string `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	// MissedHeartbeats consecutive misses flip a path to DEGRADED.
	MissedHeartbeats int `yaml:"missed_heartbeats" json:"missed_heartbeats"`
	// DegradedGrace is how long a path may stay DEGRADED before switching to POLLING.
	DegradedGrace   string `yaml:"degraded_grace" json:"degraded_grace"`
	EventBufferSize int    `yaml:"event_buffer_size" json:"event_buffer_size"`
	// ForcePolling skips native notification entirely (network drives).
	ForcePolling bool `yaml:"force_polling" json:"force_polling"`
}

// QueueConfig configures conflict presentation.
type QueueConfig struct {
	DebounceDelay string `yaml:"debounce_delay" json:"debounce_delay"`
	MaxConcurrent int    `yaml:"max_concurrent" json:"max_concurrent"`
}

// ClassifierConfig configures escalation of transient probe failures.
type ClassifierConfig struct {
	// TransientFailures within RetryWindow escalate to permission-denied.
	TransientFailures int    `yaml:"transient_failures" json:"transient_failures"`
	RetryWindow       string `yaml:"retry_window" json:"retry_window"`
}

// RetryConfig configures the backoff for retry and retry-native-watch actions.
type RetryConfig struct {
	InitialDelay string  `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     string  `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64 `yaml:"multiplier" json:"multiplier"`
	MaxRetries   int     `yaml:"max_retries" json:"max_retries"`
}

// RecoveryConfig configures emergency backups.
type RecoveryConfig struct {
	// Dir is the scratch area. Defaults to ~/.mdsentry/recovery
	Dir              string `yaml:"dir" json:"dir"`
	SnapshotInterval string `yaml:"snapshot_interval" json:"snapshot_interval"`
	// PruneAfter removes backups nobody claimed. Default 30 days.
	PruneAfter string `yaml:"prune_after" json:"prune_after"`
}

// PreferencesConfig configures durable "remember my choice" storage.
type PreferencesConfig struct {
	// DBPath is the SQLite database. Defaults to ~/.mdsentry/preferences.db
	DBPath string `yaml:"db_path" json:"db_path"`
}

// TelemetryConfig configures local conflict statistics.
type TelemetryConfig struct {
	Disabled bool `yaml:"disabled" json:"disabled"`
	// DBPath defaults to ~/.mdsentry/stats.db
	DBPath        string `yaml:"db_path" json:"db_path"`
	FlushInterval string `yaml:"flush_interval" json:"flush_interval"`
}

// CacheConfig bounds the in-memory content cache.
type CacheConfig struct {
	ContentEntries int `yaml:"content_entries" json:"content_entries"`
}

// ServerConfig configures logging and the MCP surface.
type ServerConfig struct {
	LogLevel string `yaml:"log_level" json:"log_level"`
	Name     string `yaml:"name" json:"name"`
}

// NewConfig returns a Config with documented defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Watch: WatchConfig{
			Debounce:          "100ms",
			PollInterval:      "2s",
			HeartbeatInterval: "1s",
			MissedHeartbeats:  3,
			DegradedGrace:     "5s",
			EventBufferSize:   1000,
		},
		Queue: QueueConfig{
			DebounceDelay: "300ms",
			MaxConcurrent: 3,
		},
		Classifier: ClassifierConfig{
			TransientFailures: 3,
			RetryWindow:       "10s",
		},
		Retry: RetryConfig{
			InitialDelay: "500ms",
			MaxDelay:     "30s",
			Multiplier:   2.0,
			MaxRetries:   5,
		},
		Recovery: RecoveryConfig{
			Dir:              filepath.Join(DataDir(), "recovery"),
			SnapshotInterval: "30s",
			PruneAfter:       "720h",
		},
		Preferences: PreferencesConfig{
			DBPath: filepath.Join(DataDir(), "preferences.db"),
		},
		Telemetry: TelemetryConfig{
			DBPath:        filepath.Join(DataDir(), "stats.db"),
			FlushInterval: "1m",
		},
		Cache: CacheConfig{
			ContentEntries: 256,
		},
		Server: ServerConfig{
			LogLevel: "info",
			Name:     "mdsentry",
		},
	}
}

// DataDir returns ~/.mdsentry, the home of logs, backups and preferences.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".mdsentry")
	}
	return filepath.Join(home, ".mdsentry")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/mdsentry/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/mdsentry/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "mdsentry", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "mdsentry", "config.yaml")
	}
	return filepath.Join(home, ".config", "mdsentry", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load loads configuration for the project containing dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/mdsentry/config.yaml)
//  3. Project config (.mdsentry.yaml in dir)
//  4. Environment variables (MDSENTRY_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromFile loads .mdsentry.yaml or .mdsentry.yml from dir, if present.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".mdsentry.yaml", ".mdsentry.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML merges the non-zero values of a YAML file into c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	mergeString(&c.Watch.Debounce, other.Watch.Debounce)
	mergeString(&c.Watch.PollInterval, other.Watch.PollInterval)
	mergeString(&c.Watch.HeartbeatInterval, other.Watch.HeartbeatInterval)
	mergeInt(&c.Watch.MissedHeartbeats, other.Watch.MissedHeartbeats)
	mergeString(&c.Watch.DegradedGrace, other.Watch.DegradedGrace)
	mergeInt(&c.Watch.EventBufferSize, other.Watch.EventBufferSize)
	if other.Watch.ForcePolling {
		c.Watch.ForcePolling = true
	}

	mergeString(&c.Queue.DebounceDelay, other.Queue.DebounceDelay)
	mergeInt(&c.Queue.MaxConcurrent, other.Queue.MaxConcurrent)

	mergeInt(&c.Classifier.TransientFailures, other.Classifier.TransientFailures)
	mergeString(&c.Classifier.RetryWindow, other.Classifier.RetryWindow)

	mergeString(&c.Retry.InitialDelay, other.Retry.InitialDelay)
	mergeString(&c.Retry.MaxDelay, other.Retry.MaxDelay)
	if other.Retry.Multiplier != 0 {
		c.Retry.Multiplier = other.Retry.Multiplier
	}
	mergeInt(&c.Retry.MaxRetries, other.Retry.MaxRetries)

	mergeString(&c.Recovery.Dir, expandHome(other.Recovery.Dir))
	mergeString(&c.Recovery.SnapshotInterval, other.Recovery.SnapshotInterval)
	mergeString(&c.Recovery.PruneAfter, other.Recovery.PruneAfter)

	mergeString(&c.Preferences.DBPath, expandHome(other.Preferences.DBPath))
	if other.Telemetry.Disabled {
		c.Telemetry.Disabled = true
	}
	mergeString(&c.Telemetry.DBPath, expandHome(other.Telemetry.DBPath))
	mergeString(&c.Telemetry.FlushInterval, other.Telemetry.FlushInterval)

	mergeInt(&c.Cache.ContentEntries, other.Cache.ContentEntries)

	mergeString(&c.Server.LogLevel, other.Server.LogLevel)
	mergeString(&c.Server.Name, other.Server.Name)
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// applyEnvOverrides applies MDSENTRY_* environment variables.
// Malformed values are ignored and Validate checks the result.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MDSENTRY_DEBOUNCE_DELAY"); v != "" {
		c.Queue.DebounceDelay = v
	}
	if v := os.Getenv("MDSENTRY_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Queue.MaxConcurrent = n
		}
	}
	if v := os.Getenv("MDSENTRY_POLL_INTERVAL"); v != "" {
		c.Watch.PollInterval = v
	}
	if v := os.Getenv("MDSENTRY_HEARTBEAT_INTERVAL"); v != "" {
		c.Watch.HeartbeatInterval = v
	}
	if v := os.Getenv("MDSENTRY_FORCE_POLLING"); v != "" {
		c.Watch.ForcePolling = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("MDSENTRY_RECOVERY_DIR"); v != "" {
		c.Recovery.Dir = expandHome(v)
	}
	if v := os.Getenv("MDSENTRY_PREFERENCES_DB"); v != "" {
		c.Preferences.DBPath = expandHome(v)
	}
	if v := os.Getenv("MDSENTRY_TELEMETRY_DB"); v != "" {
		c.Telemetry.DBPath = expandHome(v)
	}
	if v := os.Getenv("MDSENTRY_TELEMETRY_DISABLED"); v != "" {
		c.Telemetry.Disabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("MDSENTRY_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// Validate checks that every duration parses and every bound is positive.
func (c *Config) Validate() error {
	durations := []struct {
		name  string
		value string
	}{
		{"watch.debounce", c.Watch.Debounce},
		{"watch.poll_interval", c.Watch.PollInterval},
		{"watch.heartbeat_interval", c.Watch.HeartbeatInterval},
		{"watch.degraded_grace", c.Watch.DegradedGrace},
		{"queue.debounce_delay", c.Queue.DebounceDelay},
		{"classifier.retry_window", c.Classifier.RetryWindow},
		{"retry.initial_delay", c.Retry.InitialDelay},
		{"retry.max_delay", c.Retry.MaxDelay},
		{"recovery.snapshot_interval", c.Recovery.SnapshotInterval},
		{"recovery.prune_after", c.Recovery.PruneAfter},
		{"telemetry.flush_interval", c.Telemetry.FlushInterval},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q: %w", d.name, d.value, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}

	ints := []struct {
		name  string
		value int
	}{
		{"watch.missed_heartbeats", c.Watch.MissedHeartbeats},
		{"watch.event_buffer_size", c.Watch.EventBufferSize},
		{"queue.max_concurrent", c.Queue.MaxConcurrent},
		{"classifier.transient_failures", c.Classifier.TransientFailures},
		{"cache.content_entries", c.Cache.ContentEntries},
	}
	for _, n := range ints {
		if n.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", n.name, n.value)
		}
	}

	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1, got %.2f", c.Retry.Multiplier)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be non-negative, got %d", c.Retry.MaxRetries)
	}
	if c.Recovery.Dir == "" {
		return fmt.Errorf("recovery.dir must be set")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}
	return nil
}

// Duration parses a validated duration field. Callers pass fields Validate
// has already checked; a bad value yields zero.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// WriteYAML writes the configuration to path, creating parent directories.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
