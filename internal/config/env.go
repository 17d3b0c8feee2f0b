package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "SAFEZONE_"

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment. A missing file is not an error.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ConfigPathFromEnv returns SAFEZONE_CONFIG or fallback.
func ConfigPathFromEnv(fallback string) string {
	return getEnv(envPrefix+"CONFIG", fallback)
}

// ApplyEnv overlays SAFEZONE_* variables on cfg.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.LogLevel = getEnv(envPrefix+"LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv(envPrefix+"LOG_FORMAT", cfg.LogFormat)
	cfg.UserID = getEnv(envPrefix+"USER_ID", cfg.UserID)
	cfg.Settings.SafeWord = getEnv(envPrefix+"SAFE_WORD", cfg.Settings.SafeWord)
	cfg.Settings.Armed = getEnvBool(envPrefix+"ARMED", cfg.Settings.Armed)
	cfg.Settings.ShakeSensitivity = getEnvFloat(envPrefix+"SHAKE_SENSITIVITY", cfg.Settings.ShakeSensitivity)
	cfg.API.Addr = getEnv(envPrefix+"API_ADDR", cfg.API.Addr)
	cfg.API.RateLimit = getEnvInt(envPrefix+"API_RATE_LIMIT", cfg.API.RateLimit)
	cfg.Sink.APIURL = getEnv(envPrefix+"SINK_URL", cfg.Sink.APIURL)
	cfg.Sink.UploadURL = getEnv(envPrefix+"UPLOAD_URL", cfg.Sink.UploadURL)
	cfg.Sink.Timeout = getEnvDuration(envPrefix+"SINK_TIMEOUT", cfg.Sink.Timeout)
	cfg.Sink.Enabled = getEnvBool(envPrefix+"SINK_ENABLED", cfg.Sink.Enabled)
	cfg.Oracle.DSN = getEnv(envPrefix+"ORACLE_DSN", cfg.Oracle.DSN)
	cfg.Storage.DSN = getEnv(envPrefix+"STORAGE_DSN", cfg.Storage.DSN)
	if brokers := getEnv(envPrefix+"KAFKA_BROKERS", ""); brokers != "" {
		cfg.Ingest.Kafka.Brokers = strings.Split(brokers, ",")
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
