package config

import (
	"os"
	"path/filepath"
	"testing"

	"ranklink/internal/global"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ranklink.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadConfig_ParsesClusterSection(t *testing.T) {
	path := writeTempConfig(t, `{
		"cluster": {"host": "10.0.0.5", "basePort": 9700, "rank": 2, "size": 4}
	}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Cluster.Host != "10.0.0.5" || cfg.Cluster.BasePort != 9700 || cfg.Cluster.Rank != 2 || cfg.Cluster.Size != 4 {
		t.Fatalf("unexpected cluster section: %+v", cfg.Cluster)
	}
}

func TestLoadConfig_RejectsInvalidSyntax(t *testing.T) {
	path := writeTempConfig(t, `{not json`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/ranklink.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestResolve_FillsDefaultsForZeroFields(t *testing.T) {
	var jc JSONConfig
	jc.Cluster.Rank = 1
	jc.Cluster.Size = 3

	cfg, err := jc.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Host != "127.0.0.1" {
		t.Fatalf("expected default host, got %q", cfg.Host)
	}
	if cfg.BufferCapacity != global.DefaultBufferCapacity {
		t.Fatalf("expected default buffer capacity, got %d", cfg.BufferCapacity)
	}
	if cfg.CallbackThreads != 1 {
		t.Fatalf("expected default callback threads of 1, got %d", cfg.CallbackThreads)
	}
}

func TestResolve_ParsesPollInterval(t *testing.T) {
	var jc JSONConfig
	jc.AutoScaling.PollInterval = "250ms"

	cfg, err := jc.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.AutoscaleCheckInterval.String() != "250ms" {
		t.Fatalf("expected 250ms, got %v", cfg.AutoscaleCheckInterval)
	}
}

func TestResolve_RejectsInvalidPollInterval(t *testing.T) {
	var jc JSONConfig
	jc.AutoScaling.PollInterval = "not-a-duration"

	if _, err := jc.Resolve(); err == nil {
		t.Fatal("expected error for invalid duration string")
	}
}
