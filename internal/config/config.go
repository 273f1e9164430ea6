// Package config loads walink settings from a JSON5 or YAML file, a .env
// file and WALINK_* environment variables, in that order of precedence
// (later wins).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath = "WALINK_CONFIG"
	EnvPrefix     = "WALINK_"

	StorageFile     = "file"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config is the full walink configuration.
type Config struct {
	SessionID  string           `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Backend    BackendConfig    `json:"backend" yaml:"backend"`
	Connection ConnectionConfig `json:"connection" yaml:"connection"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Pairing    PairingConfig    `json:"pairing" yaml:"pairing"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Security   SecurityConfig   `json:"security" yaml:"security"`
	Telemetry  TelemetryConfig  `json:"telemetry" yaml:"telemetry"`
}

// BackendConfig points at the websocket bridge that talks to WhatsApp.
type BackendConfig struct {
	URL               string  `json:"url" yaml:"url"`
	Token             string  `json:"token,omitempty" yaml:"token,omitempty"`
	DialTimeoutSec    int     `json:"dial_timeout_sec" yaml:"dial_timeout_sec"`
	RequestTimeoutSec int     `json:"request_timeout_sec" yaml:"request_timeout_sec"`
	RateLimit         float64 `json:"rate_limit" yaml:"rate_limit"` // messages per second, 0 = unlimited
	Burst             int     `json:"burst" yaml:"burst"`
	DialRetries       int     `json:"dial_retries" yaml:"dial_retries"`
}

type ConnectionConfig struct {
	PollIntervalMs int `json:"poll_interval_ms" yaml:"poll_interval_ms"`
	QRTimeoutSec   int `json:"qr_timeout_sec" yaml:"qr_timeout_sec"`
}

// StorageConfig selects the session store backend.
type StorageConfig struct {
	Backend     string `json:"backend" yaml:"backend"` // file, sqlite, postgres
	SessionsDir string `json:"sessions_dir" yaml:"sessions_dir"`
	SQLitePath  string `json:"sqlite_path" yaml:"sqlite_path"`
	PostgresDSN string `json:"postgres_dsn,omitempty" yaml:"postgres_dsn,omitempty"`
}

type PairingConfig struct {
	StorePath       string `json:"store_path,omitempty" yaml:"store_path,omitempty"`
	CodeTTLMinutes  int    `json:"code_ttl_minutes" yaml:"code_ttl_minutes"`
	CleanupSchedule string `json:"cleanup_schedule" yaml:"cleanup_schedule"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text, json
}

type SecurityConfig struct {
	EncryptionKey string `json:"encryption_key,omitempty" yaml:"encryption_key,omitempty"`
	UseKeyring    bool   `json:"use_keyring" yaml:"use_keyring"`
}

type TelemetryConfig struct {
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	Endpoint    string            `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Insecure    bool              `json:"insecure" yaml:"insecure"`
	ServiceName string            `json:"service_name,omitempty" yaml:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	SampleRatio float64           `json:"sample_ratio,omitempty" yaml:"sample_ratio,omitempty"` // 0 = keep all
}

// Default returns a Config with every field set to its default.
func Default() *Config {
	home := HomeDir()
	return &Config{
		Backend: BackendConfig{
			URL:               "ws://127.0.0.1:8787/ws",
			DialTimeoutSec:    10,
			RequestTimeoutSec: 30,
			DialRetries:       2,
		},
		Connection: ConnectionConfig{
			PollIntervalMs: 2000,
			QRTimeoutSec:   30,
		},
		Storage: StorageConfig{
			Backend:     StorageFile,
			SessionsDir: filepath.Join(home, "sessions"),
			SQLitePath:  filepath.Join(home, "walink.db"),
		},
		Pairing: PairingConfig{
			StorePath:       filepath.Join(home, "pairing.json"),
			CodeTTLMinutes:  60,
			CleanupSchedule: "*/5 * * * *",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "walink",
		},
	}
}

// HomeDir is the walink state directory (~/.walink).
func HomeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".walink")
	}
	return ".walink"
}

// ResolvePath picks the config file: explicit flag, then $WALINK_CONFIG,
// then ~/.walink/config.json5.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(EnvConfigPath); v != "" {
		return v
	}
	return filepath.Join(HomeDir(), "config.json5")
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json5.Unmarshal(data, cfg)
	}
}

// Save writes cfg to path as YAML or JSON depending on the extension.
func Save(path string, cfg *Config) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// applyEnvOverrides applies WALINK_SECTION_KEY variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WALINK_SESSION_ID"); v != "" {
		cfg.SessionID = v
	}

	// Backend
	if v := os.Getenv("WALINK_BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("WALINK_BACKEND_TOKEN"); v != "" {
		cfg.Backend.Token = v
	}
	if v, ok := envFloat("WALINK_BACKEND_RATE_LIMIT"); ok {
		cfg.Backend.RateLimit = v
	}
	if v, ok := envInt("WALINK_BACKEND_DIAL_RETRIES"); ok {
		cfg.Backend.DialRetries = v
	}

	// Connection
	if v, ok := envInt("WALINK_QR_TIMEOUT_SEC"); ok {
		cfg.Connection.QRTimeoutSec = v
	}

	// Storage
	if v := os.Getenv("WALINK_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("WALINK_SESSIONS_DIR"); v != "" {
		cfg.Storage.SessionsDir = v
	}
	if v := os.Getenv("WALINK_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("WALINK_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}

	// Logging
	if v := os.Getenv("WALINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("WALINK_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Security
	if v := os.Getenv(EnvEncryptionKey); v != "" {
		cfg.Security.EncryptionKey = v
	}

	// Telemetry
	if v := os.Getenv("WALINK_OTEL_ENDPOINT"); v != "" {
		cfg.Telemetry.Endpoint = v
		cfg.Telemetry.Enabled = true
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func (c *Config) expandPaths() {
	c.Storage.SessionsDir = ExpandHome(c.Storage.SessionsDir)
	c.Storage.SQLitePath = ExpandHome(c.Storage.SQLitePath)
	c.Pairing.StorePath = ExpandHome(c.Pairing.StorePath)
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var problems []string

	if c.Backend.URL == "" {
		problems = append(problems, "backend.url is required")
	} else if !strings.HasPrefix(c.Backend.URL, "ws://") && !strings.HasPrefix(c.Backend.URL, "wss://") {
		problems = append(problems, "backend.url must be a ws:// or wss:// URL")
	}
	if c.Backend.RateLimit < 0 {
		problems = append(problems, "backend.rate_limit must not be negative")
	}
	if c.Backend.DialRetries < 0 {
		problems = append(problems, "backend.dial_retries must not be negative")
	}
	if c.Connection.PollIntervalMs <= 0 {
		problems = append(problems, "connection.poll_interval_ms must be positive")
	}
	if c.Connection.QRTimeoutSec <= 0 {
		problems = append(problems, "connection.qr_timeout_sec must be positive")
	}

	switch c.Storage.Backend {
	case StorageFile:
		if c.Storage.SessionsDir == "" {
			problems = append(problems, "storage.sessions_dir is required for the file backend")
		}
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			problems = append(problems, "storage.sqlite_path is required for the sqlite backend")
		}
	case StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			problems = append(problems, "storage.postgres_dsn is required for the postgres backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.backend %q is not one of file, sqlite, postgres", c.Storage.Backend))
	}

	if c.Pairing.CodeTTLMinutes <= 0 {
		problems = append(problems, "pairing.code_ttl_minutes must be positive")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		problems = append(problems, "telemetry.endpoint is required when telemetry is enabled")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		problems = append(problems, "telemetry.sample_ratio must be between 0 and 1")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Connection.PollIntervalMs) * time.Millisecond
}

func (c *Config) QRTimeout() time.Duration {
	return time.Duration(c.Connection.QRTimeoutSec) * time.Second
}

func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Backend.DialTimeoutSec) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Backend.RequestTimeoutSec) * time.Second
}

func (c *Config) CodeTTL() time.Duration {
	return time.Duration(c.Pairing.CodeTTLMinutes) * time.Minute
}

// Redacted returns a copy safe to print: tokens and keys are masked and the
// Postgres password is removed from the DSN.
func (c *Config) Redacted() *Config {
	out := *c
	out.Backend.Token = mask(c.Backend.Token)
	out.Security.EncryptionKey = mask(c.Security.EncryptionKey)
	out.Storage.PostgresDSN = redactDSN(c.Storage.PostgresDSN)
	if len(c.Telemetry.Headers) > 0 {
		out.Telemetry.Headers = make(map[string]string, len(c.Telemetry.Headers))
		for k, v := range c.Telemetry.Headers {
			out.Telemetry.Headers[k] = mask(v)
		}
	}
	return &out
}

func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) > 8:
		return s[:4] + "****" + s[len(s)-4:]
	default:
		return "****"
	}
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		// key=value form; hide it entirely.
		return "****"
	}
	// Redacted writes the password as "xxxxx"; url.UserPassword would
	// percent-escape a "****" mask.
	return strings.Replace(u.Redacted(), ":xxxxx@", ":****@", 1)
}
