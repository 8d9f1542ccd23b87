// config/config.go
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	App       AppConfig       `koanf:"app"`
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	R2        R2Config        `koanf:"r2"`
	Gateway   GatewayConfig   `koanf:"gateway"`
	Claims    ClaimsConfig    `koanf:"claims"`
	Feedback  FeedbackConfig  `koanf:"feedback"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Log       LogConfig       `koanf:"log"`
}

type AppConfig struct {
	Name        string `koanf:"name"`
	Environment string `koanf:"environment"`
	// OwnerID bypasses maintenance mode and every admin check.
	OwnerID string `koanf:"owner_id"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	BodyLimit       int           `koanf:"body_limit"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

// RedisConfig is optional. An empty URL keeps the benefit cache in process.
type RedisConfig struct {
	URL      string `koanf:"url"`
	PoolSize int    `koanf:"pool_size"`
}

// R2Config is optional. Without credentials only directory stock sources work.
type R2Config struct {
	AccountID       string `koanf:"account_id"`
	AccessKeyID     string `koanf:"access_key_id"`
	AccessKeySecret string `koanf:"access_key_secret"`
	Bucket          string `koanf:"bucket"`
	Endpoint        string `koanf:"endpoint"`
}

func (r R2Config) Enabled() bool {
	return r.AccessKeyID != "" && r.AccessKeySecret != "" && (r.AccountID != "" || r.Endpoint != "")
}

type GatewayConfig struct {
	ServiceToken   string        `koanf:"service_token"`
	NotifyURL      string        `koanf:"notify_url"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	RatePerSecond  float64       `koanf:"rate_per_second"`
	Burst          int           `koanf:"burst"`
}

type ClaimsConfig struct {
	LockTTL         time.Duration `koanf:"lock_ttl"`
	BenefitCacheTTL time.Duration `koanf:"benefit_cache_ttl"`
}

type FeedbackConfig struct {
	DefaultWindow        time.Duration `koanf:"default_window"`
	GracePeriod          time.Duration `koanf:"grace_period"`
	FirstReminder        time.Duration `koanf:"first_reminder"`
	SecondReminder       time.Duration `koanf:"second_reminder"`
	FinalPromptWindow    time.Duration `koanf:"final_prompt_window"`
	DefaultBlacklistDays int           `koanf:"default_blacklist_days"`
	TrustPenalty         float64       `koanf:"trust_penalty"`
	RatingTrust          float64       `koanf:"rating_trust"`
	ScreenshotTrust      float64       `koanf:"screenshot_trust"`
	EnforcementBatch     int           `koanf:"enforcement_batch"`
}

type SchedulerConfig struct {
	ReminderInterval    time.Duration `koanf:"reminder_interval"`
	EnforcementInterval time.Duration `koanf:"enforcement_interval"`
	LockSweepInterval   time.Duration `koanf:"lock_sweep_interval"`
	BlacklistInterval   time.Duration `koanf:"blacklist_interval"`
	StockPollInterval   time.Duration `koanf:"stock_poll_interval"`
	DailyResetCron      string        `koanf:"daily_reset_cron"`
	WeeklyResetCron     string        `koanf:"weekly_reset_cron"`
	MonthlyResetCron    string        `koanf:"monthly_reset_cron"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Load layers defaults, an optional YAML file and the environment, in that
// order. A .env file in the working directory is read into the environment
// first.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, reading environment variables directly")
	}

	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKeyReplacer), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"app.name":        "cookie-claim-system",
		"app.environment": "development",

		"server.host":             "0.0.0.0",
		"server.port":             5200,
		"server.body_limit":       4 * 1024 * 1024,
		"server.shutdown_timeout": "15s",

		"database.max_open_conns":    25,
		"database.max_idle_conns":    5,
		"database.conn_max_lifetime": "1h",

		"redis.pool_size": 10,

		"gateway.request_timeout": "10s",
		"gateway.rate_per_second": 20.0,
		"gateway.burst":           10,

		"claims.lock_ttl":          "5m",
		"claims.benefit_cache_ttl": "5m",

		"feedback.default_window":         "15m",
		"feedback.grace_period":           "2m",
		"feedback.first_reminder":         "10m",
		"feedback.second_reminder":        "5m",
		"feedback.final_prompt_window":    "30s",
		"feedback.default_blacklist_days": 30,
		"feedback.trust_penalty":          1.0,
		"feedback.rating_trust":           0.25,
		"feedback.screenshot_trust":       0.5,
		"feedback.enforcement_batch":      10,

		"scheduler.reminder_interval":    "1m",
		"scheduler.enforcement_interval": "1m",
		"scheduler.lock_sweep_interval":  "10m",
		"scheduler.blacklist_interval":   "10m",
		"scheduler.stock_poll_interval":  "5m",
		"scheduler.daily_reset_cron":     "0 0 * * *",
		"scheduler.weekly_reset_cron":    "0 0 * * 1",
		"scheduler.monthly_reset_cron":   "0 0 1 * *",

		"log.level":  "info",
		"log.format": "json",
	}

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

var envKeyMap = map[string]string{
	"DATABASE_URL":            "database.url",
	"REDIS_URL":               "redis.url",
	"ENVIRONMENT":             "app.environment",
	"OWNER_ID":                "app.owner_id",
	"HOST":                    "server.host",
	"PORT":                    "server.port",
	"LOG_LEVEL":               "log.level",
	"LOG_FORMAT":              "log.format",
	"CLOUDFLARE_ACCOUNT_ID":   "r2.account_id",
	"R2_ACCESS_KEY_ID":        "r2.access_key_id",
	"R2_ACCESS_KEY_SECRET":    "r2.access_key_secret",
	"R2_BUCKET_NAME":          "r2.bucket",
	"R2_ENDPOINT":             "r2.endpoint",
	"GATEWAY_SERVICE_TOKEN":   "gateway.service_token",
	"GATEWAY_NOTIFY_URL":      "gateway.notify_url",
	"FEEDBACK_WINDOW":         "feedback.default_window",
	"FEEDBACK_GRACE_PERIOD":   "feedback.grace_period",
	"FEEDBACK_FINAL_WINDOW":   "feedback.final_prompt_window",
	"BLACKLIST_DAYS":          "feedback.default_blacklist_days",
	"CLAIM_LOCK_TTL":          "claims.lock_ttl",
	"BENEFIT_CACHE_TTL":       "claims.benefit_cache_ttl",
	"STOCK_POLL_INTERVAL":     "scheduler.stock_poll_interval",
	"ENFORCEMENT_INTERVAL":    "scheduler.enforcement_interval",
	"REMINDER_SWEEP_INTERVAL": "scheduler.reminder_interval",
	"LOCK_SWEEP_INTERVAL":     "scheduler.lock_sweep_interval",
	"BLACKLIST_INTERVAL":      "scheduler.blacklist_interval",
}

func envKeyReplacer(s string) string {
	if mapped, ok := envKeyMap[s]; ok {
		return mapped
	}
	return ""
}

func validate(c *Config) error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Gateway.ServiceToken == "" {
		return fmt.Errorf("GATEWAY_SERVICE_TOKEN is required")
	}

	if c.Claims.LockTTL <= 0 {
		return fmt.Errorf("claims.lock_ttl must be positive")
	}

	if c.Feedback.DefaultWindow <= 0 {
		return fmt.Errorf("feedback.default_window must be positive")
	}

	if c.Feedback.GracePeriod < 0 || c.Feedback.FinalPromptWindow < 0 {
		return fmt.Errorf("feedback grace and final prompt window must not be negative")
	}

	if c.Feedback.SecondReminder >= c.Feedback.FirstReminder {
		return fmt.Errorf("feedback.second_reminder must be closer to the deadline than feedback.first_reminder")
	}

	intervals := []struct {
		name string
		d    time.Duration
	}{
		{"scheduler.reminder_interval", c.Scheduler.ReminderInterval},
		{"scheduler.enforcement_interval", c.Scheduler.EnforcementInterval},
		{"scheduler.lock_sweep_interval", c.Scheduler.LockSweepInterval},
		{"scheduler.blacklist_interval", c.Scheduler.BlacklistInterval},
		{"scheduler.stock_poll_interval", c.Scheduler.StockPollInterval},
	}
	for _, iv := range intervals {
		if iv.d <= 0 {
			return fmt.Errorf("%s must be positive", iv.name)
		}
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
