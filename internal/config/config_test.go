package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.EmbedderPort != 23811 {
		t.Errorf("EmbedderPort = %d, want 23811", cfg.EmbedderPort)
	}
	if cfg.EmbedderBackendPort != 23911 {
		t.Errorf("EmbedderBackendPort = %d, want 23911", cfg.EmbedderBackendPort)
	}
	if cfg.EmbeddingDimension != 1024 {
		t.Errorf("EmbeddingDimension = %d, want 1024", cfg.EmbeddingDimension)
	}
	if cfg.Cluster.MaturityCount != 5 || cfg.Cluster.MaturityConfidence != 0.65 {
		t.Errorf("Cluster defaults = %+v, want {5 _ 0.65}", cfg.Cluster)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load(missing file): %v", err)
	}
	if cfg.DataDir != "/data" {
		t.Errorf("DataDir = %q, want default", cfg.DataDir)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
dataDir: /var/lib/memoryd
embedderPort: 9000
embeddingDimension: 1024
cluster:
  similarityThreshold: 0.8
  maturityCount: 3
  maturityConfidence: 0.5
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != "/var/lib/memoryd" {
		t.Errorf("DataDir = %q, want /var/lib/memoryd", cfg.DataDir)
	}
	if cfg.EmbedderPort != 9000 {
		t.Errorf("EmbedderPort = %d, want 9000", cfg.EmbedderPort)
	}
	if cfg.Cluster.MaturityCount != 3 {
		t.Errorf("Cluster.MaturityCount = %d, want 3", cfg.Cluster.MaturityCount)
	}
	// Unset in YAML, should retain the env/default value.
	if cfg.EmbedderBackendPort != 23911 {
		t.Errorf("EmbedderBackendPort = %d, want default 23911", cfg.EmbedderBackendPort)
	}
}

func TestValidateRejectsBadEmbeddingDimension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("embeddingDimension: 768\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for embeddingDimension != 1024")
	}
}

func TestValidateRejectsEmptyDataDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("dataDir: \"\"\nembeddingDimension: 1024\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for empty dataDir")
	}
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("MEMORY_EMBEDDER_PORT", "7777")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EmbedderPort != 7777 {
		t.Errorf("EmbedderPort = %d, want 7777 from env", cfg.EmbedderPort)
	}
}
