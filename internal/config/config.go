package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const DefaultREEURL = "https://api.esios.ree.es/archives/70/download_json?locale=es"

type Config struct {
	Port           int
	AppName        string
	AllowedOrigins string
	WebhookURL     string
	LogLevel       string
	LogFormat      string

	// Database
	DatabaseURL       string
	DBHost            string
	DBPort            int
	DBName            string
	DBUser            string
	DBPassword        string
	DBMaxConns        int
	DBMinConns        int
	DBMaxConnIdle     time.Duration
	DBMaxConnLifetime time.Duration

	// Cache
	RedisURL         string
	CacheTodayTTL    time.Duration
	CacheTomorrowTTL time.Duration
	CacheStatsTTL    time.Duration

	// Providers
	REEAPIURL              string
	REEAPIKey              string
	REEBearerToken         string
	AlternativeAPIURL      string
	AlternativeAPIKey      string
	AlternativeBearerToken string
	ProviderTimeout        time.Duration

	// Resilience
	MaxRetries         int
	CBFailureThreshold int
	CBRecoveryTimeout  time.Duration

	// Schedule
	Timezone            string
	CronSchedule        string
	RetryCronSchedule   string
	ResetCronSchedule   string
	BackupCheckEnabled  bool
	BackupCronSchedule  string
	BackupThresholdHour int

	// Views
	FixedTariff float64
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:           envInt("PORT", 4001),
		AppName:        envStr("APP_NAME", "PVPCIngest"),
		AllowedOrigins: envStr("ALLOWED_ORIGINS", "*"),
		WebhookURL:     envStr("WEBHOOK_URL", ""),
		LogLevel:       envStr("LOG_LEVEL", "info"),
		LogFormat:      envStr("LOG_FORMAT", "console"),

		// Database
		DatabaseURL:       envStr("DATABASE_URL", ""),
		DBHost:            envStr("DB_HOST", "localhost"),
		DBPort:            envInt("DB_PORT", 5432),
		DBName:            envStr("DB_NAME", "pvpc"),
		DBUser:            envStr("DB_USER", ""),
		DBPassword:        envStr("DB_PASSWORD", ""),
		DBMaxConns:        envInt("DB_MAX_CONNS", 10),
		DBMinConns:        envInt("DB_MIN_CONNS", 1),
		DBMaxConnIdle:     time.Duration(envInt("DB_MAX_CONN_IDLE_SECONDS", 30)) * time.Second,
		DBMaxConnLifetime: time.Duration(envInt("DB_MAX_CONN_LIFETIME_SECONDS", 300)) * time.Second,

		// Cache
		RedisURL:         envStr("REDIS_URL", ""),
		CacheTodayTTL:    time.Duration(envInt("CACHE_TODAY_TTL_HOURS", 6)) * time.Hour,
		CacheTomorrowTTL: time.Duration(envInt("CACHE_TOMORROW_TTL_HOURS", 12)) * time.Hour,
		CacheStatsTTL:    time.Duration(envInt("CACHE_STATS_TTL_HOURS", 1)) * time.Hour,

		// Providers
		REEAPIURL:              envStr("REE_API_URL", DefaultREEURL),
		REEAPIKey:              envStr("REE_API_KEY", ""),
		REEBearerToken:         envStr("REE_BEARER_TOKEN", ""),
		AlternativeAPIURL:      envStr("ALTERNATIVE_API_URL", ""),
		AlternativeAPIKey:      envStr("ALTERNATIVE_API_KEY", ""),
		AlternativeBearerToken: envStr("ALTERNATIVE_BEARER_TOKEN", ""),
		ProviderTimeout:        time.Duration(envInt("PROVIDER_TIMEOUT_SECONDS", 15)) * time.Second,

		// Resilience
		MaxRetries:         envInt("MAX_RETRIES", 2),
		CBFailureThreshold: envInt("CB_FAILURE_THRESHOLD", 5),
		CBRecoveryTimeout:  time.Duration(envInt("CB_RECOVERY_TIMEOUT_SECONDS", 60)) * time.Second,

		// Schedule
		Timezone:            envStr("TZ", "Europe/Madrid"),
		CronSchedule:        envStr("CRON_SCHEDULE", "15 20 * * *"),
		RetryCronSchedule:   envStr("RETRY_CRON_SCHEDULE", "15 23 * * *"),
		ResetCronSchedule:   envStr("RESET_CRON_SCHEDULE", "0 0 * * *"),
		BackupCheckEnabled:  envBool("BACKUP_CHECK_ENABLED", true),
		BackupCronSchedule:  envStr("BACKUP_CRON_SCHEDULE", "0 */3 * * *"),
		BackupThresholdHour: envInt("BACKUP_THRESHOLD_HOUR", 21),

		FixedTariff: envFloat("FIXED_TARIFF", 0.20),
	}

	return cfg, nil
}

// Validate collects every hard problem into one error and logs soft ones.
func (c *Config) Validate(log zerolog.Logger) error {
	var errs []string

	if c.REEAPIURL == "" {
		errs = append(errs, "REE_API_URL is required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("TZ %q is not a valid timezone", c.Timezone))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, "MAX_RETRIES must be >= 0")
	}
	if c.CBFailureThreshold <= 0 {
		errs = append(errs, "CB_FAILURE_THRESHOLD must be > 0")
	}
	if c.CBRecoveryTimeout <= 0 {
		errs = append(errs, "CB_RECOVERY_TIMEOUT_SECONDS must be > 0")
	}
	if c.ProviderTimeout <= 0 {
		errs = append(errs, "PROVIDER_TIMEOUT_SECONDS must be > 0")
	}
	if c.BackupThresholdHour < 0 || c.BackupThresholdHour > 23 {
		errs = append(errs, "BACKUP_THRESHOLD_HOUR must be within 0-23")
	}
	if c.FixedTariff <= 0 {
		errs = append(errs, "FIXED_TARIFF must be > 0")
	}
	if c.DBMaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be > 0")
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		errs = append(errs, "DB_MIN_CONNS must be within 0 and DB_MAX_CONNS")
	}

	schedules := map[string]string{
		"CRON_SCHEDULE":       c.CronSchedule,
		"RETRY_CRON_SCHEDULE": c.RetryCronSchedule,
		"RESET_CRON_SCHEDULE": c.ResetCronSchedule,
	}
	if c.BackupCheckEnabled {
		schedules["BACKUP_CRON_SCHEDULE"] = c.BackupCronSchedule
	}
	for key, spec := range schedules {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Sprintf("%s %q: %v", key, spec, err))
		}
	}

	if c.BackupCheckEnabled && c.BackupThresholdHour >= 0 && c.BackupThresholdHour <= 23 {
		if sched, err := cron.ParseStandard(c.BackupCronSchedule); err == nil && !reachesHour(sched, c.Location(), c.BackupThresholdHour) {
			log.Warn().
				Str("schedule", c.BackupCronSchedule).
				Int("thresholdHour", c.BackupThresholdHour).
				Msg("BACKUP_CRON_SCHEDULE never fires at or after BACKUP_THRESHOLD_HOUR - backup check will never fetch")
		}
	}

	if c.WebhookURL == "" {
		log.Warn().Msg("WEBHOOK_URL not set - operator alerts go to the log only")
	}
	if c.RedisURL == "" {
		log.Warn().Msg("REDIS_URL not set - using in-process cache")
	}
	if c.AlternativeAPIURL == "" {
		log.Warn().Msg("ALTERNATIVE_API_URL not set - no fallback provider configured")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// reachesHour reports whether sched fires at or after hour on a local day.
func reachesHour(sched cron.Schedule, loc *time.Location, hour int) bool {
	start := time.Date(2025, time.January, 15, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	for at := sched.Next(start.Add(-time.Second)); !at.IsZero() && at.Before(end); at = sched.Next(at) {
		if at.Hour() >= hour {
			return true
		}
	}
	return false
}

// Location returns the scheduler timezone, UTC if it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) Print(log zerolog.Logger) {
	log.Info().
		Int("port", c.Port).
		Str("timezone", c.Timezone).
		Str("main", c.CronSchedule).
		Str("retry", c.RetryCronSchedule).
		Str("reset", c.ResetCronSchedule).
		Bool("backupCheck", c.BackupCheckEnabled).
		Int("dbMaxConns", c.DBMaxConns).
		Int("maxRetries", c.MaxRetries).
		Str("primary", c.REEAPIURL).
		Str("alternative", boolLabel(c.AlternativeAPIURL != "", c.AlternativeAPIURL, "not set")).
		Str("cache", boolLabel(c.RedisURL != "", "redis", "memory")).
		Float64("fixedTariff", c.FixedTariff).
		Msg("configuration loaded")
}

func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// --- helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "true" || v == "1" || v == "yes"
	}
	return fallback
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
