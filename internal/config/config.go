package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values come from env (or an env-file loaded by the process runner).
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthConfig
	Signal SignalConfig
	Chat   ChatConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

// SignalConfig selects the signal store and its expiry horizon.
type SignalConfig struct {
	// Store is "redis" or "memory".
	Store string
	TTL   time.Duration
	// SweepInterval only applies to the memory store.
	SweepInterval time.Duration
}

// ChatConfig selects the chat/call-history store.
type ChatConfig struct {
	// Store is "postgres" or "memory".
	Store string
}

const (
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// DefaultSignalTTL is the horizon after which an undrained signal is garbage.
const DefaultSignalTTL = 5 * time.Minute

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error
	intVar := func(dst *int, key string) {
		n, err := mustInt(key)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		*dst = n
	}
	durationVar := func(dst *time.Duration, key string) {
		d, err := optionalDuration(key)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		*dst = d
	}

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	intVar(&c.App.Port, "APP_PORT")

	c.Signal.Store = strings.TrimSpace(os.Getenv("SIGNAL_STORE"))
	durationVar(&c.Signal.TTL, "SIGNAL_TTL")
	durationVar(&c.Signal.SweepInterval, "SIGNAL_SWEEP_INTERVAL")
	c.Chat.Store = strings.TrimSpace(os.Getenv("CHAT_STORE"))

	// Storage settings are only required by the backends that use them.
	if c.Chat.Store != StoreMemory {
		c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
		intVar(&c.DB.Port, "DB_PORT")
		c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
		c.DB.Password = os.Getenv("DB_PASSWORD")
		c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
		c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	}
	if c.Signal.Store != StoreMemory {
		c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
		intVar(&c.Redis.Port, "REDIS_PORT")
		c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	durationVar(&c.Auth.AccessTokenTTL, "JWT_ACCESS_TTL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills in defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Signal.Store == "" {
		c.Signal.Store = StoreRedis
	}
	if c.Chat.Store == "" {
		c.Chat.Store = StorePostgres
	}
	if c.Signal.Store != StoreRedis && c.Signal.Store != StoreMemory {
		errs = append(errs, fmt.Errorf("SIGNAL_STORE must be one of redis, memory, got %q", c.Signal.Store))
	}
	if c.Chat.Store != StorePostgres && c.Chat.Store != StoreMemory {
		errs = append(errs, fmt.Errorf("CHAT_STORE must be one of postgres, memory, got %q", c.Chat.Store))
	}
	if c.IsProduction() && (c.Signal.Store == StoreMemory || c.Chat.Store == StoreMemory) {
		errs = append(errs, errors.New("memory stores are not allowed in production"))
	}
	if c.Signal.TTL <= 0 {
		c.Signal.TTL = DefaultSignalTTL
	}
	if c.Signal.SweepInterval <= 0 {
		c.Signal.SweepInterval = 30 * time.Second
	}

	if c.Chat.Store == StorePostgres {
		errs = append(errs, c.validateDB()...)
	}

	if c.Signal.Store == StoreRedis {
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 7 * 24 * time.Hour
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

// optionalDuration returns zero for an unset key so Validate can apply a default.
func optionalDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, nil
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
