package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Config holds everything the sync daemon needs.
type Config struct {
	// Endpoints
	RealtimeURL string
	APIBaseURL  string
	APITimeout  time.Duration

	// Session
	AuthToken  string
	JWTJWKSURL string // empty = claims are read without signature verification

	// Connection policy
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	ConnectTimeout    time.Duration

	// Notification store
	NotificationLimit int
	DedupWindow       time.Duration

	// Activity feed
	ActivityLimit           int
	ActivityRefreshSchedule string // cron spec; empty disables the periodic trigger

	// NATS relay
	NatsURL           string
	NatsSubjectPrefix string

	// Status API
	StatusPort         string
	CORSAllowedOrigins string

	// Logging
	LogLevel  string
	LogFormat string

	// ToastDurations overrides toast durations per category, loaded from the config file.
	ToastDurations map[string]time.Duration
}

// fileConfig is the shape of the optional YAML config file.
type fileConfig struct {
	Toasts map[string]int `yaml:"toast_durations_ms"`
}

const (
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = time.Second
	DefaultConnectTimeout    = 20 * time.Second
	DefaultNotificationLimit = 50
	DefaultDedupWindow       = time.Minute
	DefaultActivityLimit     = 10
)

// Load reads configuration from the environment, an optional .env file and an optional YAML file.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		RealtimeURL: getEnvOrDefault("REALTIME_URL", "ws://localhost:5000/ws"),
		APIBaseURL:  strings.TrimRight(getEnvOrDefault("API_BASE_URL", "http://localhost:5000/api"), "/"),
		APITimeout:  getEnvAsDuration("API_TIMEOUT", 30*time.Second),

		AuthToken:  strings.TrimSpace(getEnvOrDefault("AUTH_TOKEN", "")),
		JWTJWKSURL: getEnvOrDefault("JWT_JWKS_URL", ""),

		ReconnectAttempts: getEnvAsInt("RECONNECT_ATTEMPTS", DefaultReconnectAttempts),
		ReconnectDelay:    getEnvAsDuration("RECONNECT_DELAY", DefaultReconnectDelay),
		ConnectTimeout:    getEnvAsDuration("CONNECT_TIMEOUT", DefaultConnectTimeout),

		NotificationLimit: getEnvAsInt("NOTIFICATION_LIMIT", DefaultNotificationLimit),
		DedupWindow:       getEnvAsDuration("NOTIFICATION_DEDUP_WINDOW", DefaultDedupWindow),

		ActivityLimit:           getEnvAsInt("ACTIVITY_LIMIT", DefaultActivityLimit),
		ActivityRefreshSchedule: getEnvOrDefault("ACTIVITY_REFRESH_SCHEDULE", "@every 5m"),

		NatsURL:           getEnvOrDefault("NATS_URL", ""),
		NatsSubjectPrefix: getEnvOrDefault("NATS_SUBJECT_PREFIX", "marketplace.sync"),

		StatusPort:         getEnvOrDefault("STATUS_PORT", "8090"),
		CORSAllowedOrigins: getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}

	configFilePath := getEnvOrDefault("CONFIG_FILE", "config.yaml")
	configFile, err := os.Open(configFilePath)
	switch {
	case err == nil:
		defer configFile.Close()
		if err := LoadConfigFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configFilePath, err)
		}
	case errors.Is(err, os.ErrNotExist):
		log.Printf("Config file %s not found, using defaults", configFilePath)
	default:
		return nil, fmt.Errorf("failed to open config file %s: %w", configFilePath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.AuthToken == "" {
		log.Println("Warning: AUTH_TOKEN is empty. The daemon will stay disconnected until a session is created.")
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail at runtime in confusing ways.
func (c *Config) Validate() error {
	u, err := url.Parse(c.RealtimeURL)
	if err != nil {
		return fmt.Errorf("invalid REALTIME_URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid REALTIME_URL scheme %q: must be ws or wss", u.Scheme)
	}
	if _, err := url.Parse(c.APIBaseURL); err != nil {
		return fmt.Errorf("invalid API_BASE_URL: %w", err)
	}
	if c.ReconnectAttempts < 0 {
		return fmt.Errorf("RECONNECT_ATTEMPTS must not be negative, got %d", c.ReconnectAttempts)
	}
	if c.NotificationLimit <= 0 {
		return fmt.Errorf("NOTIFICATION_LIMIT must be positive, got %d", c.NotificationLimit)
	}
	if c.ActivityLimit <= 0 {
		return fmt.Errorf("ACTIVITY_LIMIT must be positive, got %d", c.ActivityLimit)
	}
	return nil
}

// LoadConfigFile overlays the YAML config file onto cfg.
func LoadConfigFile(reader io.Reader, cfg *Config) error {
	var fc fileConfig
	decoder := yaml.NewDecoder(reader)

	if err := decoder.Decode(&fc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	if len(fc.Toasts) > 0 {
		cfg.ToastDurations = make(map[string]time.Duration, len(fc.Toasts))
		for category, ms := range fc.Toasts {
			if ms <= 0 {
				return fmt.Errorf("toast duration for %q must be positive, got %d", category, ms)
			}
			cfg.ToastDurations[category] = time.Duration(ms) * time.Millisecond
		}
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as time.Duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}
