package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds the relay configuration loaded from environment variables.
type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Server     ServerConfig
	Sync       SyncConfig
	SelfHosted bool
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string //nolint:gosec // G117: DB connection config
	DBName      string
	SSLMode     string
	MaxConns    int
	AutoMigrate bool
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// JWTConfig holds session token settings.
type JWTConfig struct {
	Secret    string //nolint:gosec // G117: JWT signing secret config
	AccessTTL time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
	RateLimitRPS float64
	RateBurst    int
}

// SyncConfig tunes the websocket relay and its clients.
type SyncConfig struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only. In production,
// the JWT secret and DB password must be set explicitly.
func Load() (*Config, error) {
	env := &envReader{}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:        getEnv("BOARDSYNC_DB_HOST", "localhost"),
			Port:        env.readInt("BOARDSYNC_DB_PORT", 5432),
			User:        getEnv("BOARDSYNC_DB_USER", "boardsync"),
			Password:    getEnv("BOARDSYNC_DB_PASSWORD", ""),
			DBName:      getEnv("BOARDSYNC_DB_NAME", "boardsync_dev"),
			SSLMode:     getEnv("BOARDSYNC_DB_SSLMODE", "disable"),
			MaxConns:    env.readInt("BOARDSYNC_DB_MAX_CONNS", 25),
			AutoMigrate: env.readBool("BOARDSYNC_DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("BOARDSYNC_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("BOARDSYNC_REDIS_PASSWORD", ""),
			DB:       env.readInt("BOARDSYNC_REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:    getEnv("BOARDSYNC_JWT_SECRET", ""),
			AccessTTL: env.readDuration("BOARDSYNC_JWT_ACCESS_TTL", 15*time.Minute),
		},
		Server: ServerConfig{
			Addr:         getEnv("BOARDSYNC_SERVER_ADDR", ":8080"),
			ReadTimeout:  env.readDuration("BOARDSYNC_SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: env.readDuration("BOARDSYNC_SERVER_WRITE_TIMEOUT", 30*time.Second),
			CORSOrigins:  getEnvList("BOARDSYNC_CORS_ORIGINS", []string{"http://localhost:5173"}),
			RateLimitRPS: env.readFloat("BOARDSYNC_RATE_LIMIT_RPS", 100),
			RateBurst:    env.readInt("BOARDSYNC_RATE_LIMIT_BURST", 200),
		},
		Sync: SyncConfig{
			PingInterval: env.readDuration("BOARDSYNC_SYNC_PING_INTERVAL", 25*time.Second),
			WriteTimeout: env.readDuration("BOARDSYNC_SYNC_WRITE_TIMEOUT", 5*time.Second),
			MinBackoff:   env.readDuration("BOARDSYNC_SYNC_MIN_BACKOFF", 500*time.Millisecond),
			MaxBackoff:   env.readDuration("BOARDSYNC_SYNC_MAX_BACKOFF", 30*time.Second),
		},
		SelfHosted: env.readBool("BOARDSYNC_SELF_HOSTED", false),
	}

	if err := errors.Join(env.errs...); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return errors.New("BOARDSYNC_JWT_SECRET is required")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("BOARDSYNC_JWT_SECRET must be at least 32 characters")
	}

	if c.Database.SSLMode == "disable" && !c.SelfHosted {
		log.Warn().Msg("BOARDSYNC_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("BOARDSYNC_DB_PORT must be 1-65535, got %d", c.Database.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("BOARDSYNC_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
	}
	if c.JWT.AccessTTL <= 0 {
		return fmt.Errorf("BOARDSYNC_JWT_ACCESS_TTL must be positive, got %s", c.JWT.AccessTTL)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("BOARDSYNC_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("BOARDSYNC_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Server.RateLimitRPS <= 0 || c.Server.RateBurst < 1 {
		return fmt.Errorf("BOARDSYNC_RATE_LIMIT_RPS and _BURST must be positive, got %g/%d", c.Server.RateLimitRPS, c.Server.RateBurst)
	}
	if c.Sync.WriteTimeout <= 0 {
		return fmt.Errorf("BOARDSYNC_SYNC_WRITE_TIMEOUT must be positive, got %s", c.Sync.WriteTimeout)
	}
	if c.Sync.PingInterval < 0 {
		return fmt.Errorf("BOARDSYNC_SYNC_PING_INTERVAL must not be negative, got %s", c.Sync.PingInterval)
	}
	if c.Sync.MinBackoff <= 0 || c.Sync.MaxBackoff < c.Sync.MinBackoff {
		return fmt.Errorf("BOARDSYNC_SYNC_MIN_BACKOFF must be positive and <= BOARDSYNC_SYNC_MAX_BACKOFF, got %s/%s",
			c.Sync.MinBackoff, c.Sync.MaxBackoff)
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// envReader parses typed variables and collects every parse error so Load
// reports all bad values at once.
type envReader struct {
	errs []error
}

func (r *envReader) readInt(key string, fallback int) int {
	n, err := getEnvInt(key, fallback)
	r.collect(err)
	return n
}

func (r *envReader) readFloat(key string, fallback float64) float64 {
	f, err := getEnvFloat(key, fallback)
	r.collect(err)
	return f
}

func (r *envReader) readBool(key string, fallback bool) bool {
	b, err := getEnvBool(key, fallback)
	r.collect(err)
	return b
}

func (r *envReader) readDuration(key string, fallback time.Duration) time.Duration {
	d, err := getEnvDuration(key, fallback)
	r.collect(err)
	return d
}

func (r *envReader) collect(err error) {
	if err != nil {
		r.errs = append(r.errs, err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
