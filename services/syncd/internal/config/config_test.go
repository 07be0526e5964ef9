package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
port: "8080"
logLevel: "info"
databaseURL: "file:coursecache.db"
canvasBaseURL: "https://canvas.example.edu"
canvasToken: "tok-123"
userID: "100"
stagingDir: "/tmp/staging"
cacheTTL: "2h"
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.CanvasBaseURL != "https://canvas.example.edu" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.CanvasToken != "tok-123" || cfg.UserID != "100" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("CANVAS_TOKEN", "tok-from-env")
	t.Setenv("DATABASE_URL", "file:other.db")

	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CanvasToken != "tok-from-env" {
		t.Fatalf("env must win, got %q", cfg.CanvasToken)
	}
	if cfg.DatabaseURL != "file:other.db" {
		t.Fatalf("env must win, got %q", cfg.DatabaseURL)
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing port", `
databaseURL: "file:x.db"
canvasBaseURL: "https://canvas.example.edu"
canvasToken: "t"
userID: "100"
stagingDir: "/tmp/s"
`},
		{"missing token", `
port: "8080"
databaseURL: "file:x.db"
canvasBaseURL: "https://canvas.example.edu"
userID: "100"
stagingDir: "/tmp/s"
`},
		{"no staging backend", `
port: "8080"
databaseURL: "file:x.db"
canvasBaseURL: "https://canvas.example.edu"
canvasToken: "t"
userID: "100"
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.yaml)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestParseCacheTTL(t *testing.T) {
	d, err := ParseCacheTTL("90m")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d != 90*time.Minute {
		t.Fatalf("expected 90m, got %v", d)
	}
	if d, _ := ParseCacheTTL(""); d != 0 {
		t.Fatalf("empty must mean package default, got %v", d)
	}
	if _, err := ParseCacheTTL("soon"); err == nil {
		t.Fatal("expected error for garbage duration")
	}
}

func TestParseRefreshWindowDefaultsToMinute(t *testing.T) {
	d, err := ParseRefreshWindow("")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d != time.Minute {
		t.Fatalf("expected 1m default, got %v", d)
	}
}
