// Package config loads patrolsync settings from the environment, an optional
// .env file and an optional YAML site profile.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Operator session
	OperatorID    string
	OperatorName  string
	OperatorEmail string
	Client        string
	Site          string
	Unit          string

	// Local cache + queue database
	CachePath string

	// Blob store: "fs", "gcs" or "s3"
	BlobBackend string
	BlobPath    string
	BlobBucket  string
	BlobRegion  string
	BlobRetries int

	// Photo compression
	PhotoMaxSide int
	PhotoQuality int

	// Sync timing
	SyncInterval  time.Duration
	SyncMinGap    time.Duration
	ProbeInterval time.Duration
	RemoteTimeout time.Duration

	// HTTP agent
	ServerPort string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Profile is the YAML site profile. Empty fields leave the environment value in place.
type Profile struct {
	Operator struct {
		ID    string `yaml:"id"`
		Name  string `yaml:"name"`
		Email string `yaml:"email"`
	} `yaml:"operator"`
	Client string `yaml:"client"`
	Site   string `yaml:"site"`
	Unit   string `yaml:"unit"`
	Blob   struct {
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
		Bucket  string `yaml:"bucket"`
		Region  string `yaml:"region"`
	} `yaml:"blob"`
	Sync struct {
		Interval      string `yaml:"interval"`
		MinGap        string `yaml:"min_gap"`
		ProbeInterval string `yaml:"probe_interval"`
		RemoteTimeout string `yaml:"remote_timeout"`
	} `yaml:"sync"`
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present; PATROL_CONFIG names an
// optional YAML profile applied on top.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}

	cfg := Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "fieldops"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "patrol"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		OperatorID:    getEnv("PATROL_OPERATOR_ID", ""),
		OperatorName:  getEnv("PATROL_OPERATOR_NAME", ""),
		OperatorEmail: getEnv("PATROL_OPERATOR_EMAIL", ""),
		Client:        getEnv("PATROL_CLIENT", ""),
		Site:          getEnv("PATROL_SITE", ""),
		Unit:          getEnv("PATROL_UNIT", ""),

		CachePath: getEnv("PATROL_CACHE_PATH", defaultDataPath("cache.db")),

		BlobBackend: getEnv("PATROL_BLOB_BACKEND", "fs"),
		BlobPath:    getEnv("PATROL_BLOB_PATH", defaultDataPath("blobs")),
		BlobBucket:  getEnv("PATROL_BLOB_BUCKET", ""),
		BlobRegion:  getEnv("PATROL_BLOB_REGION", "us-east-1"),
		BlobRetries: getInt("PATROL_BLOB_RETRIES", 2),

		PhotoMaxSide: getInt("PATROL_PHOTO_MAX_SIDE", 1280),
		PhotoQuality: getInt("PATROL_PHOTO_QUALITY", 75),

		SyncInterval:  getDuration("PATROL_SYNC_INTERVAL", 60*time.Second),
		SyncMinGap:    getDuration("PATROL_SYNC_MIN_GAP", 45*time.Second),
		ProbeInterval: getDuration("PATROL_PROBE_INTERVAL", 5*time.Second),
		RemoteTimeout: getDuration("PATROL_REMOTE_TIMEOUT", 4*time.Second),

		ServerPort: getEnv("PATROL_SERVER_PORT", "8585"),

		LogFile:  getEnv("PATROL_LOG_FILE", "/tmp/patrolsync.log"),
		LogLevel: parseLogLevel(getEnv("PATROL_LOG_LEVEL", "INFO")),
	}

	if path := os.Getenv("PATROL_CONFIG"); path != "" {
		if err := cfg.ApplyProfileFile(path); err != nil {
			slog.Warn("failed to apply site profile", "file", path, "error", err)
		}
	}
	return cfg
}

// ApplyProfileFile overlays a YAML site profile onto the configuration.
func (c *Config) ApplyProfileFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parse profile: %w", err)
	}
	c.ApplyProfile(p)
	return nil
}

// ApplyProfile overlays the non-empty profile fields.
func (c *Config) ApplyProfile(p Profile) {
	overlay(&c.OperatorID, p.Operator.ID)
	overlay(&c.OperatorName, p.Operator.Name)
	overlay(&c.OperatorEmail, p.Operator.Email)
	overlay(&c.Client, p.Client)
	overlay(&c.Site, p.Site)
	overlay(&c.Unit, p.Unit)
	overlay(&c.BlobBackend, p.Blob.Backend)
	overlay(&c.BlobPath, p.Blob.Path)
	overlay(&c.BlobBucket, p.Blob.Bucket)
	overlay(&c.BlobRegion, p.Blob.Region)
	overlayDuration(&c.SyncInterval, p.Sync.Interval)
	overlayDuration(&c.SyncMinGap, p.Sync.MinGap)
	overlayDuration(&c.ProbeInterval, p.Sync.ProbeInterval)
	overlayDuration(&c.RemoteTimeout, p.Sync.RemoteTimeout)
}

// Validate reports missing settings needed to run an operator session.
func (c Config) Validate() error {
	var missing []string
	if c.OperatorID == "" {
		missing = append(missing, "PATROL_OPERATOR_ID")
	}
	if c.Client == "" {
		missing = append(missing, "PATROL_CLIENT")
	}
	if c.Unit == "" {
		missing = append(missing, "PATROL_UNIT")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func overlayDuration(dst *time.Duration, v string) {
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func defaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "patrolsync", name)
	}
	return filepath.Join(home, ".patrolsync", name)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
