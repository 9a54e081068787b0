package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type PostgresConfig struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	PublicKeyPath string        `mapstructure:"public_key_path"`
	Issuer        string        `mapstructure:"issuer"`
	Leeway        time.Duration `mapstructure:"leeway"`
}

type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	RPS     int  `mapstructure:"rps"`
	Burst   int  `mapstructure:"burst"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// Enabled reports whether outbound mail is configured.
func (c SMTPConfig) Enabled() bool { return c.Host != "" && c.From != "" }

type S3Config struct {
	Bucket     string        `mapstructure:"bucket"`
	Region     string        `mapstructure:"region"`
	Endpoint   string        `mapstructure:"endpoint"`
	PresignTTL time.Duration `mapstructure:"presign_ttl"`
}

type Config struct {
	ListenAddr     string          `mapstructure:"listen_addr"`
	LogLevel       string          `mapstructure:"log_level"`
	LogFormat      string          `mapstructure:"log_format"`
	RulesPath      string          `mapstructure:"rules_path"`
	SigninURL      string          `mapstructure:"signin_url"`
	AllowedOrigins []string        `mapstructure:"allowed_origins"`
	StatsCacheTTL  time.Duration   `mapstructure:"stats_cache_ttl"`
	CloseJobsCron  string          `mapstructure:"close_jobs_cron"`
	JWT            JWTConfig       `mapstructure:"jwt"`
	Postgres       PostgresConfig  `mapstructure:"postgres"`
	Redis          RedisConfig     `mapstructure:"redis"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
	SMTP           SMTPConfig      `mapstructure:"smtp"`
	S3             S3Config        `mapstructure:"s3"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("rules_path", "config/routes.yaml")
	v.SetDefault("signin_url", "")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("stats_cache_ttl", 30*time.Second)
	v.SetDefault("close_jobs_cron", "@every 5m")

	v.SetDefault("jwt.public_key_path", "")
	v.SetDefault("jwt.issuer", "")
	v.SetDefault("jwt.leeway", 30*time.Second)

	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "postgres")
	v.SetDefault("postgres.db", "upjob")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", "5432")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.rps", 10)
	v.SetDefault("rate_limit.burst", 20)

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.user", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")

	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.presign_ttl", 15*time.Minute)
}

// Load reads configPath (optional) and applies environment overrides.
// Every key maps to an upper-cased env var with dots replaced by
// underscores, e.g. jwt.public_key_path -> JWT_PUBLIC_KEY_PATH.
func Load(configPath string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else if errors.Is(err, os.ErrNotExist) {
			slog.Info("config file not found, using defaults and environment", "path", configPath)
		} else {
			return nil, fmt.Errorf("failed to stat config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// PORT is what most hosting platforms inject.
	if port := os.Getenv("PORT"); port != "" {
		cfg.ListenAddr = ":" + port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitCSV(origins)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return errors.New("rate_limit: rps and burst must be positive when enabled")
	}
	if c.StatsCacheTTL < 0 {
		return errors.New("stats_cache_ttl must not be negative")
	}
	return nil
}

func (c PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.Host, c.User, c.Password, c.DBName, c.Port, sslMode)
}

// SlogLevel maps the configured level name, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
