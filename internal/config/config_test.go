package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "MAX_DOWNLOADS", "CLEANUP_INTERVAL", "MAX_FILE_AGE",
		"STEAMCMD_PATH", "DOWNLOAD_PATH", "PUBLIC_PATH", "LOG_LEVEL",
		"REDIS_URL", "MIRROR_ENDPOINT", "MIRROR_ACCESS_KEY",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.ServerAddr != ":8080" {
		t.Errorf("ServerAddr = %q, want :8080", cfg.ServerAddr)
	}
	if cfg.MaxDownloads != 5 {
		t.Errorf("MaxDownloads = %d, want 5", cfg.MaxDownloads)
	}
	if cfg.CleanupInterval != time.Hour {
		t.Errorf("CleanupInterval = %v, want 1h", cfg.CleanupInterval)
	}
	if cfg.MaxFileAge != 24*time.Hour {
		t.Errorf("MaxFileAge = %v, want 24h", cfg.MaxFileAge)
	}
	if cfg.SteamCMDPath != "/app/steamcmd/steamcmd.sh" {
		t.Errorf("SteamCMDPath = %q", cfg.SteamCMDPath)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.MirrorEnabled() {
		t.Error("MirrorEnabled should be false without endpoint and key")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_DOWNLOADS", "2")
	t.Setenv("CLEANUP_INTERVAL", "60")
	t.Setenv("MAX_FILE_AGE", "120")
	t.Setenv("MIRROR_ENDPOINT", "minio.local:9000")
	t.Setenv("MIRROR_ACCESS_KEY", "key")

	cfg := Load()

	if cfg.ServerAddr != ":9090" {
		t.Errorf("ServerAddr = %q, want :9090", cfg.ServerAddr)
	}
	if cfg.MaxDownloads != 2 {
		t.Errorf("MaxDownloads = %d, want 2", cfg.MaxDownloads)
	}
	if cfg.CleanupInterval != time.Minute {
		t.Errorf("CleanupInterval = %v, want 1m", cfg.CleanupInterval)
	}
	if cfg.MaxFileAge != 2*time.Minute {
		t.Errorf("MaxFileAge = %v, want 2m", cfg.MaxFileAge)
	}
	if !cfg.MirrorEnabled() {
		t.Error("MirrorEnabled should be true with endpoint and key")
	}
}

func TestLoadRejectsNonPositiveLimits(t *testing.T) {
	t.Setenv("MAX_DOWNLOADS", "-3")
	t.Setenv("CLEANUP_INTERVAL", "0")
	t.Setenv("MAX_FILE_AGE", "bogus")

	cfg := Load()

	if cfg.MaxDownloads != 5 {
		t.Errorf("MaxDownloads = %d, want default 5", cfg.MaxDownloads)
	}
	if cfg.CleanupInterval != time.Hour {
		t.Errorf("CleanupInterval = %v, want default 1h", cfg.CleanupInterval)
	}
	if cfg.MaxFileAge != 24*time.Hour {
		t.Errorf("MaxFileAge = %v, want default 24h", cfg.MaxFileAge)
	}
}
