package config

import (
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config holds environment-driven settings for the challenge core.
type Config struct {
	Port string

	// Database
	DBDriver    string // "sqlite" (default) or "postgres"
	DBPath      string
	DatabaseURL string

	// Monitoring
	PollInterval          time.Duration
	Timezone              string
	RulesCacheTTL         time.Duration
	WarningNotifyCooldown time.Duration
	ResumeOnStart         bool
	PolicyFile            string

	// Account data provider
	Provider               string // "sim" or "rest"
	ProviderURL            string
	ProviderToken          string
	ProviderRPS            float64
	ProviderConnectTimeout time.Duration
	ProviderCallTimeout    time.Duration
	SimWalkStep            float64 // PROVIDER=sim: max P&L of each simulated trade

	// Notifications
	KafkaBrokers []string
	KafkaTopic   string

	// Auth
	JWTSecret string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/challenge.db")
	}

	cfg := &Config{
		Port:                   getEnv("PORT", "8080"),
		DBDriver:               strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBPath:                 dbPath,
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		PollInterval:           getEnvDuration("POLL_INTERVAL", 10*time.Second),
		Timezone:               getEnv("TIMEZONE", "UTC"),
		RulesCacheTTL:          getEnvDuration("RULES_CACHE_TTL", 0),
		WarningNotifyCooldown:  getEnvDuration("WARNING_NOTIFY_COOLDOWN", 0),
		ResumeOnStart:          getEnvBool("RESUME_ON_START", true),
		PolicyFile:             os.Getenv("POLICY_FILE"),
		Provider:               strings.ToLower(getEnv("PROVIDER", "sim")),
		ProviderURL:            getEnv("PROVIDER_URL", "https://mt-client-api-v1.agiliumtrade.agiliumtrade.ai"),
		ProviderToken:          os.Getenv("PROVIDER_TOKEN"),
		ProviderRPS:            getEnvFloat("PROVIDER_RPS", 10),
		ProviderConnectTimeout: getEnvDuration("PROVIDER_CONNECT_TIMEOUT", 60*time.Second),
		ProviderCallTimeout:    getEnvDuration("PROVIDER_CALL_TIMEOUT", 15*time.Second),
		SimWalkStep:            getEnvFloat("SIM_WALK_STEP", 0),
		KafkaBrokers:           splitAndTrim(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:             getEnv("KAFKA_TOPIC", "challenge.events"),
		JWTSecret:              getEnv("JWT_SECRET", "dev-secret"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogFormat:              getEnv("LOG_FORMAT", "json"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return errors.New("POLL_INTERVAL must be positive")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return errors.Wrapf(err, "TIMEZONE %q", c.Timezone)
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return errors.Errorf("DB_DRIVER %q: want sqlite or postgres", c.DBDriver)
	}
	switch c.Provider {
	case "sim":
	case "rest":
		if c.ProviderURL == "" || c.ProviderToken == "" {
			return errors.New("PROVIDER=rest needs PROVIDER_URL and PROVIDER_TOKEN")
		}
	default:
		return errors.Errorf("PROVIDER %q: want sim or rest", c.Provider)
	}
	return nil
}

// Location resolves Timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("30s") or bare seconds ("30").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
