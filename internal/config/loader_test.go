package config

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// setupTestHome points HOME at a temporary directory with an empty
// ~/.config/ragd and returns the config file path inside it.
func setupTestHome(t *testing.T) string {
	t.Helper()
	clearEnv(t)

	home := os.Getenv("HOME")
	configDir := filepath.Join(home, ".config", "ragd")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	return filepath.Join(configDir, "config.yaml")
}

func writeConfig(t *testing.T, path, content string, perm os.FileMode) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
}

// TestLoad_ValidYAML tests loading configuration from a valid YAML file.
func TestLoad_ValidYAML(t *testing.T) {
	configPath := setupTestHome(t)

	writeConfig(t, configPath, `server:
  port: 8181
  host: 0.0.0.0
chunker:
  size: 800
  overlap: 100
cache:
  backend: memory
  ttl: 10m
embeddings:
  provider: tei
  base_url: http://tei:8080
  model: BAAI/bge-small-en-v1.5
  dimension: 384
vectorstore:
  provider: chromem
  chromem_path: /var/lib/ragd
ingest:
  workers: 8
  job_timeout: 2m
events:
  nats_url: nats://localhost:4222
`, 0600)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	if cfg.Server.Port != 8181 || cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server = %s:%d, want 0.0.0.0:8181", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Chunker.Size != 800 || cfg.Chunker.Overlap != 100 {
		t.Errorf("Chunker = %+v, want 800/100", cfg.Chunker)
	}
	if cfg.Cache.Backend != "memory" || cfg.Cache.TTL.Duration() != 10*time.Minute {
		t.Errorf("Cache = %s/%v", cfg.Cache.Backend, cfg.Cache.TTL.Duration())
	}
	if cfg.Embeddings.Provider != "tei" || cfg.Embeddings.Dimension != 384 {
		t.Errorf("Embeddings = %s/%d", cfg.Embeddings.Provider, cfg.Embeddings.Dimension)
	}
	if cfg.VectorStore.ChromemPath != "/var/lib/ragd" {
		t.Errorf("VectorStore.ChromemPath = %q", cfg.VectorStore.ChromemPath)
	}
	if cfg.Ingest.Workers != 8 || cfg.Ingest.JobTimeout.Duration() != 2*time.Minute {
		t.Errorf("Ingest = %d/%v", cfg.Ingest.Workers, cfg.Ingest.JobTimeout.Duration())
	}
	// untouched keys keep their defaults
	if cfg.Ingest.QueueSize != 256 {
		t.Errorf("Ingest.QueueSize = %d, want default 256", cfg.Ingest.QueueSize)
	}
	if cfg.Retrieval.TopK != 3 {
		t.Errorf("Retrieval.TopK = %d, want default 3", cfg.Retrieval.TopK)
	}
	if cfg.Events.NATSURL != "nats://localhost:4222" {
		t.Errorf("Events.NATSURL = %q", cfg.Events.NATSURL)
	}
}

// TestLoad_EnvironmentOverride tests that environment variables override YAML.
func TestLoad_EnvironmentOverride(t *testing.T) {
	configPath := setupTestHome(t)

	writeConfig(t, configPath, `server:
  port: 9000
retrieval:
  top_k: 5
embeddings:
  api_key: sk-from-file
`, 0600)

	t.Setenv("RAGD_SERVER_PORT", "7777")
	t.Setenv("RAG_TOP_K", "9")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want 7777 (from env override)", cfg.Server.Port)
	}
	if cfg.Retrieval.TopK != 9 {
		t.Errorf("Retrieval.TopK = %d, want 9 (from env override)", cfg.Retrieval.TopK)
	}
	if cfg.Embeddings.APIKey.Value() != "sk-from-file" {
		t.Error("Embeddings.APIKey not loaded from file")
	}
}

// TestLoad_MissingFile tests handling of missing config file.
func TestLoad_MissingFile(t *testing.T) {
	configPath := setupTestHome(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() should not error on missing file, got: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want default 9090", cfg.Server.Port)
	}
}

// TestLoad_InvalidYAML tests handling of malformed YAML.
func TestLoad_InvalidYAML(t *testing.T) {
	configPath := setupTestHome(t)

	writeConfig(t, configPath, `server:
  port: 9090
  invalid syntax here
`, 0600)

	if _, err := Load(configPath); err == nil {
		t.Error("Load() should error on invalid YAML, got nil")
	}
}

// TestLoad_Validation tests configuration validation.
func TestLoad_Validation(t *testing.T) {
	configPath := setupTestHome(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	writeConfig(t, configPath, `server:
  port: 99999
`, 0600)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() should error on invalid port, got nil")
	}
	if !strings.Contains(err.Error(), "server.port") {
		t.Errorf("Expected server.port problem, got: %v", err)
	}
}

// TestLoad_BadDuration tests that malformed durations are rejected.
func TestLoad_BadDuration(t *testing.T) {
	setupTestHome(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("RAGD_INGEST_JOB_TIMEOUT", "soon")

	if _, err := Load(""); err == nil {
		t.Error("Load() should error on malformed duration, got nil")
	}
}

// TestLoad_PathTraversal tests path traversal attack prevention.
func TestLoad_PathTraversal(t *testing.T) {
	setupTestHome(t)

	_, err := Load("../../../../etc/passwd")
	if err == nil {
		t.Fatal("Expected error for path traversal, got nil")
	}
	if !strings.Contains(err.Error(), "must be in ~/.config/ragd/ or /etc/ragd/") {
		t.Errorf("Expected path validation error, got: %v", err)
	}
}

// TestLoad_InsecurePermissions tests file permission enforcement.
func TestLoad_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Skipping permission test on Windows")
	}
	configPath := setupTestHome(t)

	// world readable
	writeConfig(t, configPath, "server:\n  port: 9090\n", 0644)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error for insecure permissions, got nil")
	}
	if !strings.Contains(err.Error(), "insecure") {
		t.Errorf("Expected 'insecure permissions' error, got: %v", err)
	}
}

// TestLoad_ReadOnlyPermissions tests that 0400 permissions are accepted.
func TestLoad_ReadOnlyPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Skipping permission test on Windows")
	}
	configPath := setupTestHome(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	writeConfig(t, configPath, "server:\n  port: 9091\n", 0400)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() should succeed with 0400 permissions, got error: %v", err)
	}
	if cfg.Server.Port != 9091 {
		t.Errorf("Server.Port = %d, want 9091", cfg.Server.Port)
	}
}

// TestLoad_FileTooLarge tests file size limit enforcement.
func TestLoad_FileTooLarge(t *testing.T) {
	configPath := setupTestHome(t)

	// ~2MB of comments
	largeContent := bytes.Repeat([]byte("# comment line\n"), 150000)
	if err := os.WriteFile(configPath, largeContent, 0600); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error for large file, got nil")
	}
	if !strings.Contains(err.Error(), "too large") {
		t.Errorf("Expected 'too large' error, got: %v", err)
	}
}
