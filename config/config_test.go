package config

import (
	"flag"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("farm", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(newFlagSet(), nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.SocketPath != "/tmp/vimy-farm.sock" {
		t.Fatalf("socket = %q", cfg.SocketPath)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Fatalf("timeout = %s", cfg.RequestTimeout)
	}
	if cfg.LogLevel != slog.LevelInfo || !cfg.OTelEnabled || cfg.DBPath != "" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseEnvThenFlags(t *testing.T) {
	t.Setenv("VIMY_FARM_SOCKET", "/run/farm.sock")
	t.Setenv("VIMY_FARM_DB", "/var/lib/farm.db")
	t.Setenv("VIMY_FARM_REQUEST_TIMEOUT", "5s")
	t.Setenv("VIMY_FARM_LOG_LEVEL", "debug")
	t.Setenv("VIMY_FARM_OTEL_ENABLED", "false")

	cfg, err := Parse(newFlagSet(), []string{"-db", "/tmp/other.db", "-http-addr", ""})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.SocketPath != "/run/farm.sock" {
		t.Fatalf("socket = %q", cfg.SocketPath)
	}
	if cfg.DBPath != "/tmp/other.db" {
		t.Fatalf("db = %q, flag should win", cfg.DBPath)
	}
	if cfg.HTTPAddr != "" {
		t.Fatalf("http addr = %q", cfg.HTTPAddr)
	}
	if cfg.RequestTimeout != 5*time.Second || cfg.LogLevel != slog.LevelDebug || cfg.OTelEnabled {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseRejectsBadValues(t *testing.T) {
	cases := map[string][]string{
		"empty socket":     {"-socket", ""},
		"zero timeout":     {"-request-timeout", "0s"},
		"unknown flag":     {"-nope"},
		"bad log level":    {"-log-level", "loud"},
		"garbage duration": {"-request-timeout", "soon"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse(newFlagSet(), args); err == nil {
				t.Fatalf("expected error for %v", args)
			}
		})
	}
}

func TestParseBadEnv(t *testing.T) {
	t.Setenv("VIMY_FARM_REQUEST_TIMEOUT", "soon")
	if _, err := Parse(newFlagSet(), nil); err == nil {
		t.Fatal("expected env parse error")
	}
}

func TestLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := "presetName: Farm\nmaxDistance: 20\nignoreOnLoss: true\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	changes, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if changes["presetName"] != "Farm" || changes["maxDistance"] != 20 || changes["ignoreOnLoss"] != true {
		t.Fatalf("changes = %v", changes)
	}
}

func TestLoadSettingsErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadSettings(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("- a\n- b\n"), 0o600)
	if _, err := LoadSettings(bad); err == nil {
		t.Fatal("expected error for a list document")
	}

	empty := filepath.Join(dir, "empty.yaml")
	os.WriteFile(empty, nil, 0o600)
	changes, err := LoadSettings(empty)
	if err != nil || len(changes) != 0 {
		t.Fatalf("empty file: %v %v", changes, err)
	}
}
