package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/versecatch/internal/config"
	"github.com/MrWong99/versecatch/internal/stream"
	"github.com/MrWong99/versecatch/pkg/provider/detect/mock"
	"github.com/MrWong99/versecatch/pkg/provider/detect/remote"
)

func TestKeygen(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"keygen"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("keygen: %v", err)
	}

	var key, hash string
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		k, v, _ := strings.Cut(line, ":")
		switch k {
		case "api_key":
			key = strings.TrimSpace(v)
		case "api_key_hash":
			hash = strings.TrimSpace(v)
		}
	}
	if len(key) != 64 {
		t.Fatalf("key = %q, want 64 hex chars", key)
	}
	if hash != stream.HashAPIKey(key) {
		t.Errorf("hash = %q, want %q", hash, stream.HashAPIKey(key))
	}
}

func TestMigrate_SQLite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "vc.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	doc := "storage:\n  driver: sqlite\n  path: " + dbPath + "\ndetector:\n  name: mock\n"
	if err := os.WriteFile(cfgPath, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"migrate", "--config", cfgPath})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database not created: %v", err)
	}
	if !strings.Contains(out.String(), "sqlite") {
		t.Errorf("output = %q", out.String())
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	t.Parallel()

	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("loadConfig = %v, want not found", err)
	}
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinDetectors(reg)

	cfg := &config.Config{}
	cfg.Detector.DetectorEntry = config.DetectorEntry{Name: "remote", BaseURL: "http://detector.local"}
	cfg.Detector.Fallbacks = []config.DetectorEntry{{Name: "mock"}}

	ps, err := buildProviders(cfg, reg)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if _, ok := ps.Detector.Provider.(*remote.Provider); !ok {
		t.Errorf("primary = %T, want *remote.Provider", ps.Detector.Provider)
	}
	if len(ps.Fallbacks) != 1 {
		t.Fatalf("fallbacks = %d, want 1", len(ps.Fallbacks))
	}
	if _, ok := ps.Fallbacks[0].Provider.(*mock.Provider); !ok {
		t.Errorf("fallback = %T, want *mock.Provider", ps.Fallbacks[0].Provider)
	}

	cfg.Detector.Fallbacks = []config.DetectorEntry{{Name: "nope"}}
	if _, err := buildProviders(cfg, reg); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("unknown fallback = %v, want ErrProviderNotRegistered", err)
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level config.LogLevel
		debug bool
	}{
		{level: config.LogDebug, debug: true},
		{level: config.LogInfo, debug: false},
		{level: config.LogError, debug: false},
	}
	for _, tc := range tests {
		l := newLogger(tc.level, config.LogFormatJSON)
		if got := l.Enabled(context.Background(), -4); got != tc.debug {
			t.Errorf("level %s: debug enabled = %v, want %v", tc.level, got, tc.debug)
		}
	}
}
