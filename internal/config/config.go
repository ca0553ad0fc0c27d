package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings, read once at startup.
type Config struct {
	ServerAddr string
	PublicURL  string
	LogLevel   string

	// SteamCMD
	SteamCMDPath string

	// Paths
	DownloadPath string
	PublicPath   string
	VolumePath   string

	// Download settings
	MaxDownloads int

	// Maintenance
	CleanupInterval time.Duration
	MaxFileAge      time.Duration

	// Optional Redis event sink
	RedisURL string

	// Optional S3/MinIO artifact mirror
	MirrorEndpoint  string
	MirrorAccessKey string
	MirrorSecretKey string
	MirrorBucket    string
	MirrorRegion    string
	MirrorUseSSL    bool

	EnableMetrics bool
}

// Load reads configuration from the environment, applying defaults for
// anything unset. A .env file in the working directory is honored if present.
func Load() *Config {
	// Ignore the error: a missing .env file is the normal production case.
	_ = godotenv.Load()

	maxDownloads, _ := strconv.Atoi(getEnvOrDefault("MAX_DOWNLOADS", "5"))
	if maxDownloads <= 0 {
		maxDownloads = 5
	}

	cleanupSecs, _ := strconv.Atoi(getEnvOrDefault("CLEANUP_INTERVAL", "3600"))
	if cleanupSecs <= 0 {
		cleanupSecs = 3600
	}

	maxAgeSecs, _ := strconv.Atoi(getEnvOrDefault("MAX_FILE_AGE", "86400"))
	if maxAgeSecs <= 0 {
		maxAgeSecs = 86400
	}

	mirrorUseSSL, _ := strconv.ParseBool(getEnvOrDefault("MIRROR_USE_SSL", "false"))
	enableMetrics, _ := strconv.ParseBool(getEnvOrDefault("ENABLE_METRICS", "true"))

	return &Config{
		ServerAddr:      ":" + getEnvOrDefault("PORT", "8080"),
		PublicURL:       os.Getenv("PUBLIC_URL"),
		LogLevel:        getEnvOrDefault("LOG_LEVEL", "info"),
		SteamCMDPath:    getEnvOrDefault("STEAMCMD_PATH", "/app/steamcmd/steamcmd.sh"),
		DownloadPath:    getEnvOrDefault("DOWNLOAD_PATH", "/app/downloads"),
		PublicPath:      getEnvOrDefault("PUBLIC_PATH", "/app/public"),
		VolumePath:      getEnvOrDefault("VOLUME_PATH", "/data"),
		MaxDownloads:    maxDownloads,
		CleanupInterval: time.Duration(cleanupSecs) * time.Second,
		MaxFileAge:      time.Duration(maxAgeSecs) * time.Second,
		RedisURL:        os.Getenv("REDIS_URL"),
		MirrorEndpoint:  os.Getenv("MIRROR_ENDPOINT"),
		MirrorAccessKey: os.Getenv("MIRROR_ACCESS_KEY"),
		MirrorSecretKey: os.Getenv("MIRROR_SECRET_KEY"),
		MirrorBucket:    getEnvOrDefault("MIRROR_BUCKET", "game-artifacts"),
		MirrorRegion:    getEnvOrDefault("MIRROR_REGION", "us-east-1"),
		MirrorUseSSL:    mirrorUseSSL,
		EnableMetrics:   enableMetrics,
	}
}

// EnsureDirectories creates the working directories the engine needs.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DownloadPath, c.PublicPath, c.VolumePath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// MirrorEnabled reports whether the optional artifact mirror is configured.
func (c *Config) MirrorEnabled() bool {
	return c.MirrorEndpoint != "" && c.MirrorAccessKey != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
