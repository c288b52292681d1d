// Package config provides application settings loaded from environment
// variables and an optional YAML file.
//
// Settings are created via New() or Load() which handle:
// - Default value application
// - YAML file overlay (Load only)
// - Environment variable parsing with validation; the environment wins

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

// Settings holds all application configuration.
type Settings struct {
	Remote   RemoteConfig `yaml:"remote"`
	Cache    CacheConfig  `yaml:"cache"`
	Assets   AssetsConfig `yaml:"assets"`
	Save     SaveConfig   `yaml:"save"`
	Server   ServerConfig `yaml:"server"`
	LogLevel string       `yaml:"log_level"`
}

// RemoteConfig holds the project server client configuration.
type RemoteConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig holds the local project cache configuration.
type CacheConfig struct {
	Path string        `yaml:"path"`
	TTL  time.Duration `yaml:"ttl"`
}

// AssetsConfig holds the local asset store configuration.
type AssetsConfig struct {
	Path              string        `yaml:"path"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
	UploadConcurrency int           `yaml:"upload_concurrency"`
}

// SaveConfig holds save behaviour.
type SaveConfig struct {
	AutosaveInterval time.Duration `yaml:"autosave_interval"`
	WorkflowHistory  bool          `yaml:"workflow_history"`
}

// ServerConfig holds the reference server configuration.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	DB        string `yaml:"db"`
	MaxBody   int64  `yaml:"max_body"`
	PublicURL string `yaml:"public_url"`
}

// Environment variable names.
const (
	EnvRemoteURL          = "CANVASYNC_REMOTE_URL"
	EnvRemoteTimeout      = "CANVASYNC_REMOTE_TIMEOUT"
	EnvCachePath          = "CANVASYNC_CACHE_PATH"
	EnvCacheTTL           = "CANVASYNC_CACHE_TTL"
	EnvAssetsPath         = "CANVASYNC_ASSETS_PATH"
	EnvAssetsProbeTimeout = "CANVASYNC_ASSETS_PROBE_TIMEOUT"
	EnvUploadConcurrency  = "CANVASYNC_UPLOAD_CONCURRENCY"
	EnvAutosaveInterval   = "CANVASYNC_AUTOSAVE_INTERVAL"
	EnvWorkflowHistory    = "CANVASYNC_WORKFLOW_HISTORY"
	EnvServerAddr         = "CANVASYNC_SERVER_ADDR"
	EnvServerDB           = "CANVASYNC_SERVER_DB"
	EnvServerMaxBody      = "CANVASYNC_SERVER_MAX_BODY"
	EnvServerPublicURL    = "CANVASYNC_SERVER_PUBLIC_URL"
	EnvLogLevel           = "CANVASYNC_LOG_LEVEL"
)

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	dir := dataDir()
	return Settings{
		Remote: RemoteConfig{URL: "http://localhost:8080", Timeout: 30 * time.Second},
		Cache:  CacheConfig{Path: filepath.Join(dir, "cache.db"), TTL: 7 * 24 * time.Hour},
		Assets: AssetsConfig{
			Path:              filepath.Join(dir, "assets.db"),
			ProbeTimeout:      2 * time.Second,
			UploadConcurrency: 4,
		},
		Save:     SaveConfig{AutosaveInterval: 30 * time.Second},
		Server:   ServerConfig{Addr: ":8080", DB: filepath.Join(dir, "server.db"), MaxBody: 10 << 20},
		LogLevel: "info",
	}
}

func dataDir() string {
	if d, err := os.UserCacheDir(); err == nil {
		return filepath.Join(d, "canvasync")
	}
	return ".canvasync"
}

// New creates settings from defaults and environment variables.
// Returns an error if environment variables contain invalid values.
func New() (Settings, error) {
	s := Defaults()
	if err := s.applyEnv(); err != nil {
		return Settings{}, err
	}
	return s, s.Validate()
}

// MustNew creates settings from the environment.
// Panics if environment variables are invalid.
// Use this only when configuration errors should be fatal.
func MustNew() Settings {
	settings, err := New()
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

// Load reads the YAML file at path over the defaults, then applies the
// environment on top.
func Load(path string) (Settings, error) {
	s := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := s.applyEnv(); err != nil {
		return Settings{}, err
	}
	return s, s.Validate()
}

// Validate checks that values are usable.
func (s Settings) Validate() error {
	if s.Remote.URL == "" {
		return fmt.Errorf("remote url is required")
	}
	if s.Remote.Timeout <= 0 {
		return fmt.Errorf("remote timeout must be > 0")
	}
	if s.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be > 0")
	}
	if s.Assets.UploadConcurrency < 1 {
		return fmt.Errorf("upload concurrency must be >= 1")
	}
	if s.Save.AutosaveInterval < 0 {
		return fmt.Errorf("autosave interval must not be negative")
	}
	if s.Server.MaxBody <= 0 {
		return fmt.Errorf("server max body must be > 0")
	}
	if _, err := ParseLevel(s.LogLevel); err != nil {
		return err
	}
	return nil
}

func (s *Settings) applyEnv() error {
	var err error
	s.Remote.URL = getEnvString(EnvRemoteURL, s.Remote.URL)
	if s.Remote.Timeout, err = getEnvDuration(EnvRemoteTimeout, s.Remote.Timeout); err != nil {
		return err
	}
	s.Cache.Path = getEnvString(EnvCachePath, s.Cache.Path)
	if s.Cache.TTL, err = getEnvDuration(EnvCacheTTL, s.Cache.TTL); err != nil {
		return err
	}
	s.Assets.Path = getEnvString(EnvAssetsPath, s.Assets.Path)
	if s.Assets.ProbeTimeout, err = getEnvDuration(EnvAssetsProbeTimeout, s.Assets.ProbeTimeout); err != nil {
		return err
	}
	if s.Assets.UploadConcurrency, err = getEnvInt(EnvUploadConcurrency, s.Assets.UploadConcurrency); err != nil {
		return err
	}
	if s.Save.AutosaveInterval, err = getEnvDuration(EnvAutosaveInterval, s.Save.AutosaveInterval); err != nil {
		return err
	}
	if s.Save.WorkflowHistory, err = getEnvBool(EnvWorkflowHistory, s.Save.WorkflowHistory); err != nil {
		return err
	}
	s.Server.Addr = getEnvString(EnvServerAddr, s.Server.Addr)
	s.Server.DB = getEnvString(EnvServerDB, s.Server.DB)
	if s.Server.MaxBody, err = getEnvInt64(EnvServerMaxBody, s.Server.MaxBody); err != nil {
		return err
	}
	s.Server.PublicURL = getEnvString(EnvServerPublicURL, s.Server.PublicURL)
	s.LogLevel = strings.ToLower(getEnvString(EnvLogLevel, s.LogLevel))
	return nil
}

// Environment variable helpers with proper error handling

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return d, nil
}
