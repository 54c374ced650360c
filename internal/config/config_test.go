package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != 8080 {
		t.Errorf("host/port = %s/%d", cfg.Host, cfg.Port)
	}
	if filepath.Base(cfg.ClaudeDir) != ".claude" {
		t.Errorf("claude dir = %s", cfg.ClaudeDir)
	}
	if cfg.DBPath != filepath.Join(cfg.DataDir, "claudescope.db") {
		t.Errorf("db path = %s", cfg.DBPath)
	}
}

func TestEnvOverrides(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("CLAUDESCOPE_DATA_DIR", dataDir)
	t.Setenv("CLAUDE_DIR", "/custom/claude")
	t.Setenv("CLAUDESCOPE_HOST", "0.0.0.0")
	t.Setenv("CLAUDESCOPE_PORT", "9191")

	cfg, err := LoadMinimal()
	if err != nil {
		t.Fatalf("LoadMinimal: %v", err)
	}
	if cfg.ClaudeDir != "/custom/claude" {
		t.Errorf("claude dir = %s", cfg.ClaudeDir)
	}
	if cfg.Host != "0.0.0.0" || cfg.Port != 9191 {
		t.Errorf("host/port = %s/%d", cfg.Host, cfg.Port)
	}
	if cfg.DBPath != filepath.Join(dataDir, "claudescope.db") {
		t.Errorf("db path = %s", cfg.DBPath)
	}
}

func TestConfigFileThenEnvPrecedence(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("CLAUDESCOPE_DATA_DIR", dataDir)
	t.Setenv("CLAUDE_DIR", "/env/claude")

	err := os.WriteFile(filepath.Join(dataDir, "config.json"),
		[]byte(`{"port": 9000, "claude_dir": "/file/claude"}`), 0o600)
	if err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadMinimal()
	if err != nil {
		t.Fatalf("LoadMinimal: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("port = %d, want file value 9000", cfg.Port)
	}
	if cfg.ClaudeDir != "/env/claude" {
		t.Errorf("claude dir = %s, env should beat file", cfg.ClaudeDir)
	}
}

func TestFlagsWinOverEverything(t *testing.T) {
	t.Setenv("CLAUDESCOPE_DATA_DIR", t.TempDir())
	t.Setenv("CLAUDESCOPE_PORT", "9000")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterServeFlags(fs)
	if err := fs.Parse([]string{"-port", "7777"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 7777 {
		t.Errorf("port = %d, want flag value 7777", cfg.Port)
	}
	// Unset flags must not clobber lower layers with their defaults.
	if cfg.Host != "127.0.0.1" {
		t.Errorf("host = %s", cfg.Host)
	}
}

func TestBadConfigFile(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("CLAUDESCOPE_DATA_DIR", dataDir)
	err := os.WriteFile(filepath.Join(dataDir, "config.json"),
		[]byte("{not json"), 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := LoadMinimal(); err == nil {
		t.Error("expected error for malformed config file")
	}
}
