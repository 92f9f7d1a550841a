package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"sky/pkg/fileops"
)

func TestConfigPaths(t *testing.T) {
	t.Setenv(configPathEnv, "")
	path := ConfigPath()
	if !strings.HasSuffix(path, filepath.Join(APP_NAME, "config.yaml")) {
		t.Errorf("ConfigPath should end with sky/config.yaml, got %s", path)
	}

	t.Setenv(configPathEnv, "/tmp/custom/sky.yaml")
	if got := ConfigPath(); got != "/tmp/custom/sky.yaml" {
		t.Errorf("ConfigPath override expected /tmp/custom/sky.yaml, got %s", got)
	}
}

func TestConfigSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.AssetsDir = "/data/sky/assets"
	cfg.MP.MaxRetries = 7
	cfg.MP.Timeout = 45 * time.Second
	cfg.OpenAI.Model = "gpt-4o"
	cfg.MCP.AllowedRoots = []string{"/data/cifs"}

	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if loaded.AssetsDir != cfg.AssetsDir {
		t.Errorf("AssetsDir mismatch: expected %s, got %s", cfg.AssetsDir, loaded.AssetsDir)
	}
	if loaded.MP.MaxRetries != 7 {
		t.Errorf("MP.MaxRetries mismatch: expected 7, got %d", loaded.MP.MaxRetries)
	}
	if loaded.MP.Timeout != 45*time.Second {
		t.Errorf("MP.Timeout mismatch: expected 45s, got %v", loaded.MP.Timeout)
	}
	if loaded.OpenAI.Model != "gpt-4o" {
		t.Errorf("OpenAI.Model mismatch: expected gpt-4o, got %s", loaded.OpenAI.Model)
	}
	if len(loaded.MCP.AllowedRoots) != 1 || loaded.MCP.AllowedRoots[0] != "/data/cifs" {
		t.Errorf("MCP.AllowedRoots mismatch: got %v", loaded.MCP.AllowedRoots)
	}
}

func TestLoadFromPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "assets_dir: /opt/sky\nmp:\n  max_retries: 1\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	def := DefaultConfig()
	if cfg.MP.Endpoint != def.MP.Endpoint {
		t.Errorf("Expected default endpoint %s, got %s", def.MP.Endpoint, cfg.MP.Endpoint)
	}
	if cfg.MP.MaxRetries != 1 {
		t.Errorf("Expected max_retries 1, got %d", cfg.MP.MaxRetries)
	}
	if cfg.MCP.MaxFileBytes != fileops.DefaultMaxFileBytes {
		t.Errorf("Expected default max_file_bytes, got %d", cfg.MCP.MaxFileBytes)
	}
}

func TestConfigInitTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()

	before := time.Now().Unix()
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}
	if cfg.InitTime < before {
		t.Errorf("InitTime should be set on first save, got %d", cfg.InitTime)
	}

	first := cfg.InitTime
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("second SaveTo failed: %v", err)
	}
	if cfg.InitTime != first {
		t.Errorf("InitTime should not change on later saves: %d != %d", cfg.InitTime, first)
	}
}

func TestConfigFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not enforced on windows")
	}
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat config: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("Expected permissions 0600, got %o", perm)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Version != currentVersion {
		t.Errorf("Expected version %s, got %s", currentVersion, cfg.Version)
	}
	if !strings.HasSuffix(cfg.AssetsDir, filepath.Join(APP_NAME, "assets")) {
		t.Errorf("Unexpected default assets dir %s", cfg.AssetsDir)
	}
	if cfg.ReportsDir != "sky_reports" {
		t.Errorf("Expected reports dir sky_reports, got %s", cfg.ReportsDir)
	}
	if cfg.MP.Endpoint != "https://api.materialsproject.org" {
		t.Errorf("Unexpected MP endpoint %s", cfg.MP.Endpoint)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate, got %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(assetsDirEnv, "/env/assets")
	t.Setenv(mpEndpointEnv, "http://localhost:9999")
	t.Setenv(openAIModelEnv, "gpt-test")
	t.Setenv(fileops.MaxFileBytesEnv, "1234")
	t.Setenv(fileops.AllowedRootsEnv, "/extra/a"+string(os.PathListSeparator)+"/extra/b")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	if cfg.AssetsDir != "/env/assets" {
		t.Errorf("Expected assets dir from env, got %s", cfg.AssetsDir)
	}
	if cfg.MP.Endpoint != "http://localhost:9999" {
		t.Errorf("Expected MP endpoint from env, got %s", cfg.MP.Endpoint)
	}
	if cfg.OpenAI.Model != "gpt-test" {
		t.Errorf("Expected model from env, got %s", cfg.OpenAI.Model)
	}
	if cfg.MCP.MaxFileBytes != 1234 {
		t.Errorf("Expected max file bytes 1234, got %d", cfg.MCP.MaxFileBytes)
	}
	if len(cfg.MCP.AllowedRoots) != 2 {
		t.Errorf("Expected two extra roots, got %v", cfg.MCP.AllowedRoots)
	}

	roots := cfg.AllowedRoots()
	if roots[0] != "/env/assets" {
		t.Errorf("Expected assets dir as first allowed root, got %s", roots[0])
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv(configPathEnv, filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv(assetsDirEnv, "")

	if !IsFirstRun() {
		t.Error("Expected IsFirstRun to be true without a config file")
	}
	if _, err := Load(); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}

	cfg, err := LoadOrDefault()
	if err != nil {
		t.Fatalf("LoadOrDefault failed: %v", err)
	}
	if cfg.MP.Endpoint == "" {
		t.Error("LoadOrDefault should return defaults")
	}
}

func TestResolvedReportsDir(t *testing.T) {
	cfg := DefaultConfig()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	if got := cfg.ResolvedReportsDir(""); got != filepath.Join(cwd, "sky_reports") {
		t.Errorf("Expected reports dir under cwd, got %s", got)
	}

	base := t.TempDir()
	cfg.ReportsDir = "out/reports"
	if got := cfg.ResolvedReportsDir(base); got != filepath.Join(base, "out", "reports") {
		t.Errorf("Expected reports dir under %s, got %s", base, got)
	}

	cfg.ReportsDir = "/abs/reports"
	if got := cfg.ResolvedReportsDir(base); got != "/abs/reports" {
		t.Errorf("Expected absolute reports dir unchanged, got %s", got)
	}
}

func TestConfigErrorHandling(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("Expected error loading missing file")
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(path, []byte("mp: [unterminated"), 0600); err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		if _, err := LoadFrom(path); err == nil {
			t.Error("Expected parse error for malformed yaml")
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "invalid.yaml")
		if err := os.WriteFile(path, []byte("mp:\n  max_retries: -1\n"), 0600); err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		if _, err := LoadFrom(path); err == nil {
			t.Error("Expected validation error for negative max_retries")
		}
	})
}

type failingFile struct {
	bytes.Buffer
	writeErr, closeErr error
	closed             bool
}

func (f *failingFile) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.Buffer.Write(p)
}

func (f *failingFile) Close() error {
	f.closed = true
	return f.closeErr
}

func TestWriteYAMLReportsErrors(t *testing.T) {
	cfg := DefaultConfig()

	ok := &failingFile{}
	if err := writeYAML(ok, &cfg); err != nil {
		t.Fatalf("writeYAML failed: %v", err)
	}
	if !ok.closed || !strings.Contains(ok.String(), "assets_dir:") {
		t.Errorf("Expected closed file with config, got closed=%v %q", ok.closed, ok.String())
	}

	errDisk := errors.New("disk full")
	short := &failingFile{writeErr: errDisk}
	if err := writeYAML(short, &cfg); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Expected write error, got %v", err)
	}
	if !short.closed {
		t.Error("File must be closed after a failed write")
	}

	errClose := errors.New("close failed")
	if err := writeYAML(&failingFile{closeErr: errClose}, &cfg); !errors.Is(err, errClose) {
		t.Errorf("Expected close error, got %v", err)
	}

	both := &failingFile{writeErr: errDisk, closeErr: errClose}
	err := writeYAML(both, &cfg)
	if err == nil || !strings.Contains(err.Error(), "disk full") || errors.Is(err, errClose) {
		t.Errorf("Expected the write error to win, got %v", err)
	}
}

func TestEmbeddingDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AssetsDir = "/data/sky"
	if got := cfg.EmbeddingDir(); got != filepath.Join("/data/sky", "embedding") {
		t.Errorf("Expected embedding dir under assets dir, got %s", got)
	}
}
