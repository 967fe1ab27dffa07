package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Runner.Command != "npx" {
		t.Errorf("runner command = %q, want npx", cfg.Runner.Command)
	}
	if len(cfg.Sandbox.AllowedCommands) == 0 {
		t.Error("default allowed commands empty")
	}
	if cfg.Storage.StorageDriver() != "sqlite" {
		t.Errorf("default driver = %q, want sqlite", cfg.Storage.StorageDriver())
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
workspace: /tmp/attest-ws
sandbox:
  max_wall_seconds: 30
  allowed_dirs: ["./tests"]
  allowed_commands: ["npx"]
runner:
  command: npx
retention:
  enabled: true
  max_age_hours: 24
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sandbox.MaxWallSeconds != 30 {
		t.Errorf("max_wall_seconds = %d, want 30", cfg.Sandbox.MaxWallSeconds)
	}
	if cfg.Retention.MaxAge().Hours() != 24 {
		t.Errorf("retention max age = %v, want 24h", cfg.Retention.MaxAge())
	}
}

func TestLoad_JSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"sandbox": {"allowed_commands": ["node"]},
		"runner": {"command": "node", "args": ["runner.js"]}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Runner.Command != "node" {
		t.Errorf("runner command = %q, want node", cfg.Runner.Command)
	}
}

func TestLoad_EnvOverridesWorkspace(t *testing.T) {
	t.Setenv("ATTEST_WORKSPACE", "/custom/ws")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workspace != "/custom/ws" {
		t.Errorf("workspace = %q, want env override", cfg.Workspace)
	}
}

func TestValidate_EmptyAllowList(t *testing.T) {
	cfg := Default()
	cfg.Sandbox.AllowedCommands = nil
	if err := cfg.Validate(); err == nil {
		t.Error("empty allow-list should fail validation")
	}
}

func TestValidate_PostgresNeedsDSN(t *testing.T) {
	cfg := Default()
	cfg.Storage = &StorageConfig{Driver: "postgres"}
	if err := cfg.Validate(); err == nil {
		t.Error("postgres without DSN should fail validation")
	}
}

func TestValidate_EnrichmentNeedsModel(t *testing.T) {
	cfg := Default()
	cfg.Enrichment = &EnrichmentConfig{Enabled: true}
	if err := cfg.Validate(); err == nil {
		t.Error("enabled enrichment without a model should fail validation")
	}
}
