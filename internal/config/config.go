// Package config loads and persists the sky configuration file.
//
// The file lives at $XDG_CONFIG_HOME/sky/config.yaml (override with
// SKY_CONFIG_PATH). Environment variables always win over file values so the
// MCP server can be configured entirely from its launcher.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sky/internal/logging"
	"sky/pkg/fileops"

	"github.com/adrg/xdg"
	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

const APP_NAME = "sky" // application name used for config and data directories

const (
	configPathEnv  = "SKY_CONFIG_PATH"
	assetsDirEnv   = "SKY_ASSETS_DIR"
	mpEndpointEnv  = "MP_API_ENDPOINT"
	openAIBaseEnv  = "OPENAI_BASE_URL"
	openAIModelEnv = "SKY_OPENAI_MODEL"
	embedderEnv    = "SKY_EMBEDDING_ENDPOINT"

	currentVersion = "1.0"
	lockTimeout    = time.Second
)

// ErrNotConfigured is returned by Load when no config file exists yet.
var ErrNotConfigured = errors.New("no configuration found, run `sky setup` first")

// Config holds user configuration for sky.
type Config struct {
	Version  string `yaml:"version"`
	InitTime int64  `yaml:"init_time"` // Unix timestamp of first setup

	// AssetsDir holds embedding tables (under embedding/) and the local
	// synthesis recipe dataset.
	AssetsDir string `yaml:"assets_dir"`
	// ReportsDir is where HTML synthesis reports are written. Relative paths
	// are resolved against the working directory.
	ReportsDir string `yaml:"reports_dir"`

	MP        MPConfig        `yaml:"mp"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// MPConfig configures the Materials Project REST client.
type MPConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// OpenAIConfig configures the chat-completions client used for reports.
type OpenAIConfig struct {
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model"`
}

// EmbeddingConfig points at an optional remote embedding service used by
// assets whose featurizer is "remote:<model>".
type EmbeddingConfig struct {
	Endpoint string        `yaml:"endpoint,omitempty"`
	Timeout  time.Duration `yaml:"timeout"`
}

// MCPConfig holds the local file access policy of the MCP server.
type MCPConfig struct {
	MaxFileBytes int64    `yaml:"max_file_bytes"`
	AllowedRoots []string `yaml:"allowed_roots,omitempty"`
}

// ConfigPath returns the config file location for the current platform.
func ConfigPath() string {
	if p := strings.TrimSpace(os.Getenv(configPathEnv)); p != "" {
		return p
	}
	return filepath.Join(xdg.ConfigHome, APP_NAME, "config.yaml")
}

// DefaultAssetsDir returns the assets directory used when none is configured.
func DefaultAssetsDir() string {
	return filepath.Join(xdg.DataHome, APP_NAME, "assets")
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Version:    currentVersion,
		AssetsDir:  DefaultAssetsDir(),
		ReportsDir: "sky_reports",
		MP: MPConfig{
			Endpoint:          "https://api.materialsproject.org",
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			RequestsPerSecond: 5,
		},
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-mini",
		},
		Embedding: EmbeddingConfig{
			Timeout: 60 * time.Second,
		},
		MCP: MCPConfig{
			MaxFileBytes: fileops.DefaultMaxFileBytes,
		},
	}
}

// Load reads the config from the standard location and applies environment
// overrides. It returns ErrNotConfigured when the file does not exist.
func Load() (*Config, error) {
	path := ConfigPath()
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotConfigured
		}
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// LoadOrDefault is Load for commands that must work before `sky setup` has
// run (mcp, search): a missing file yields the defaults plus environment.
func LoadOrDefault() (*Config, error) {
	cfg, err := Load()
	if errors.Is(err, ErrNotConfigured) {
		logging.Debug("No config file, using defaults", "path", ConfigPath())
		def := DefaultConfig()
		def.ApplyEnv()
		return &def, nil
	}
	return cfg, err
}

// LoadFrom loads config from a specific path. Fields absent from the file
// keep their default values.
func LoadFrom(path string) (*Config, error) {
	logging.Debug("Reading config file", "path", path)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return &cfg, nil
}

// IsFirstRun reports whether no config file exists yet.
func IsFirstRun() bool {
	_, err := os.Stat(ConfigPath())
	return os.IsNotExist(err)
}

// ApplyEnv overlays environment variables onto the config.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(assetsDirEnv)); v != "" {
		c.AssetsDir = v
	}
	if v := strings.TrimSpace(os.Getenv(mpEndpointEnv)); v != "" {
		c.MP.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv(openAIBaseEnv)); v != "" {
		c.OpenAI.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(openAIModelEnv)); v != "" {
		c.OpenAI.Model = v
	}
	if v := strings.TrimSpace(os.Getenv(embedderEnv)); v != "" {
		c.Embedding.Endpoint = v
	}
	c.MCP.MaxFileBytes = fileops.ParseMaxFileBytes(os.Getenv(fileops.MaxFileBytesEnv), c.MCP.MaxFileBytes)
	if extra := fileops.RootsFromEnv(); len(extra) > 0 {
		c.MCP.AllowedRoots = append(c.MCP.AllowedRoots, extra...)
	}
}

// Validate rejects values that would make the client misbehave.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.MP.Endpoint) == "" {
		return fmt.Errorf("mp.endpoint cannot be empty")
	}
	if c.MP.Timeout < 0 {
		return fmt.Errorf("mp.timeout cannot be negative")
	}
	if c.MP.MaxRetries < 0 {
		return fmt.Errorf("mp.max_retries cannot be negative")
	}
	if c.MP.RequestsPerSecond < 0 {
		return fmt.Errorf("mp.requests_per_second cannot be negative")
	}
	if c.MCP.MaxFileBytes < 0 {
		return fmt.Errorf("mcp.max_file_bytes cannot be negative")
	}
	return nil
}

// EmbeddingDir is the directory holding embedding tables.
func (c *Config) EmbeddingDir() string {
	return filepath.Join(fileops.ExpandPath(c.AssetsDir), "embedding")
}

// ResolvedAssetsDir returns AssetsDir with "~" expanded.
func (c *Config) ResolvedAssetsDir() string {
	return fileops.ExpandPath(c.AssetsDir)
}

// ResolvedReportsDir returns the absolute reports directory. A relative
// ReportsDir is resolved against base, or the working directory when base is
// empty.
func (c *Config) ResolvedReportsDir(base string) string {
	dir := fileops.ExpandPath(c.ReportsDir)
	if dir == "" {
		dir = "sky_reports"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	if base == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return dir
		}
		base = cwd
	}
	return filepath.Join(base, dir)
}

// AllowedRoots returns the directories the MCP server may read files from:
// the assets directory, the working directory and any configured extras.
func (c *Config) AllowedRoots() []string {
	roots := []string{c.ResolvedAssetsDir()}
	if cwd, err := os.Getwd(); err == nil {
		roots = append(roots, cwd)
	}
	return append(roots, c.MCP.AllowedRoots...)
}

// Save writes the config to the standard location.
func (c *Config) Save() error {
	return c.SaveTo(ConfigPath())
}

// SaveTo writes the config to a specific path. A sibling lock file serialises
// concurrent writers (for example two `sky setup` runs).
func (c *Config) SaveTo(path string) error {
	if c.InitTime == 0 {
		c.InitTime = time.Now().Unix()
	}
	if c.Version == "" {
		c.Version = currentVersion
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to acquire config lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire config lock: timeout after %v", lockTimeout)
	}
	defer lock.Unlock()

	// Create file with restrictive permissions (600) for security
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if err := writeYAML(f, c); err != nil {
		return err
	}

	logging.Info("Configuration saved", "path", path)
	return nil
}

// writeYAML encodes v to w and closes it, returning the first error.
func writeYAML(w io.WriteCloser, v any) error {
	enc := yaml.NewEncoder(w)
	err := enc.Encode(v)
	if err != nil {
		err = fmt.Errorf("failed to write config: %w", err)
	}
	if cerr := enc.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to flush config: %w", cerr)
	}
	if cerr := w.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close config file: %w", cerr)
	}
	return err
}
