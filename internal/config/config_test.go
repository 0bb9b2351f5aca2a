package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cutekitek/rankode-grader/internal/repository/models"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("POOL_SIZE", "3")
	t.Setenv("ISOLATION", "container")
	t.Setenv("DEFAULT_TIME_LIMIT_MS", "300")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.PoolSize != 3 || cfg.Isolation != IsolationContainer {
		t.Fatalf("environment not applied: %+v", cfg)
	}
	if cfg.WorkersCount <= 0 || cfg.WorkRoot == "" {
		t.Fatalf("derived defaults not applied: %+v", cfg)
	}
	limits := cfg.DefaultLimits()
	if limits.WallTimeMsTotal != 300 || limits.PerTestTimeoutMs != 1000 || limits.MemoryMb != 256 || limits.MaxOutputBytes != 20000 {
		t.Fatalf("unexpected default limits %+v", limits)
	}
}

func TestLoadFromFile(t *testing.T) {
	// Reading a .env file exports its values; restore them afterwards.
	t.Setenv("POOL_SIZE", "")
	t.Setenv("LOG_LEVEL", "")
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("POOL_SIZE=7\nLOG_LEVEL=debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.PoolSize != 7 || cfg.LogLevel != "debug" {
		t.Fatalf(".env not applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{"pool size", map[string]string{"POOL_SIZE": "0"}, "POOL_SIZE"},
		{"root uid", map[string]string{"SANDBOX_UID": "0", "SANDBOX_GID": "1000"}, "SANDBOX_UID"},
		{"root uid and gid", map[string]string{"SANDBOX_UID": "0", "SANDBOX_GID": "0"}, "SANDBOX_UID"},
		{"write timeout", map[string]string{"HTTP_WRITE_TIMEOUT_S": "10"}, "HTTP_WRITE_TIMEOUT_S"},
		{"output cap", map[string]string{"DEFAULT_MAX_OUTPUT_BYTES": "2000000"}, "maxOutputBytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			var cfgErr *models.ConfigurationError
			if !errors.As(err, &cfgErr) || cfgErr.Field != tt.field {
				t.Fatalf("expected %s error, got %v", tt.field, err)
			}
		})
	}
}

func TestMaxEnvelope(t *testing.T) {
	t.Setenv("HTTP_WRITE_TIMEOUT_S", "120")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPWriteTimeout() != 2*time.Minute || cfg.MaxEnvelope() != 90*time.Second {
		t.Fatalf("unexpected timeouts %s %s", cfg.HTTPWriteTimeout(), cfg.MaxEnvelope())
	}
}
