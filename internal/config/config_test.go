package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NumWorkers != 3 || cfg.MonitorInterval != 2*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.TaskQueue != "task_queue" || cfg.StartChannel != "start_processing" || cfg.CompletedChannel != "tasks_completed" {
		t.Fatalf("unexpected channel defaults %+v", cfg)
	}
	if cfg.JobTimeout != 0 {
		t.Fatalf("expected job deadline to be disabled, got %s", cfg.JobTimeout)
	}
	if cfg.RedisAddr != "" {
		t.Fatalf("expected no redis address, got %q", cfg.RedisAddr)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("NUM_WORKERS", "7")
	t.Setenv("MONITOR_INTERVAL_MS", "250")
	t.Setenv("JOB_TIMEOUT_SECONDS", "90")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("RUN_ONCE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NumWorkers != 7 || cfg.MonitorInterval != 250*time.Millisecond || cfg.JobTimeout != 90*time.Second {
		t.Fatalf("environment not applied: %+v", cfg)
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Fatalf("expected REDIS_HOST fallback, got %q", cfg.RedisAddr)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "http://b.test" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
	if !cfg.RunOnce {
		t.Fatalf("expected RUN_ONCE to be honored")
	}
}

func TestLoadRejectsInvalidWorkerCount(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("NUM_WORKERS", "0")

	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadDotEnvKeepsProcessPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "AUTOCONNECT_TEST_A=from-file\nAUTOCONNECT_TEST_B=\"quoted value\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("AUTOCONNECT_TEST_A", "from-process")
	t.Cleanup(func() { _ = os.Unsetenv("AUTOCONNECT_TEST_B") })

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	if got := os.Getenv("AUTOCONNECT_TEST_A"); got != "from-process" {
		t.Fatalf("process value overwritten: %q", got)
	}
	if got := os.Getenv("AUTOCONNECT_TEST_B"); got != "quoted value" {
		t.Fatalf("unexpected dotenv value %q", got)
	}
}
