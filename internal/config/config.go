package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	AppPort string `yaml:"app_port"`

	DBDriver   string `yaml:"db_driver"`
	DBLogLevel string `yaml:"db_log_level"`

	MySQLHost string `yaml:"mysql_host"`
	MySQLPort string `yaml:"mysql_port"`
	MySQLDB   string `yaml:"mysql_db"`
	MySQLUser string `yaml:"mysql_user"`
	MySQLPass string `yaml:"mysql_pass"`

	PostgresDSN string `yaml:"postgres_dsn"`
	SQLitePath  string `yaml:"sqlite_path"`

	RedisEnabled bool   `yaml:"redis_enabled"`
	RedisAddr    string `yaml:"redis_addr"`
	RedisDB      int    `yaml:"redis_db"`
	// Key and channel prefix shared by every instance.
	RedisPrefix string `yaml:"redis_prefix"`

	IdempTTLSecs int `yaml:"idempotency_ttl_seconds"`

	JWTSecret string        `yaml:"jwt_secret"`
	JWTIssuer string        `yaml:"jwt_issuer"`
	TokenTTL  time.Duration `yaml:"token_ttl"`

	// Per-attempt bound on a ledger/status transaction.
	StoreTimeout time.Duration `yaml:"store_timeout"`
	// Total budget for retrying transient storage or publish failures.
	RetryMaxElapsed time.Duration `yaml:"retry_max_elapsed"`

	NotifierBuffer int           `yaml:"notifier_buffer"`
	SSEHeartbeat   time.Duration `yaml:"sse_heartbeat"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func defaults() *Config {
	return &Config{
		AppPort:    "8080",
		DBDriver:   DriverMySQL,
		DBLogLevel: "warn",
		MySQLHost:  "mysql",
		MySQLPort:  "3306",
		MySQLDB:    "signoff",
		MySQLUser:  "signoff",
		MySQLPass:  "signoff",
		SQLitePath: "signoff.db",

		RedisEnabled: true,
		RedisAddr:    "redis:6379",
		RedisPrefix:  "signoff:",
		IdempTTLSecs: 300,

		JWTIssuer: "signoff",
		TokenTTL:  24 * time.Hour,

		StoreTimeout:    5 * time.Second,
		RetryMaxElapsed: 10 * time.Second,
		NotifierBuffer:  64,
		SSEHeartbeat:    15 * time.Second,
		RateLimitRPS:    20,

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads defaults, then the YAML file named by CONFIG_FILE (if any), then
// environment variables. Later sources win.
func Load() (*Config, error) { return LoadFrom(os.Getenv("CONFIG_FILE")) }

// LoadFrom is Load with an explicit YAML path; empty skips the file.
func LoadFrom(path string) (*Config, error) {
	c := defaults()
	if path != "" {
		if err := c.mergeFile(path); err != nil {
			return nil, err
		}
	}
	c.applyEnv()
	return c, nil
}

func (c *Config) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.AppPort = getenv("APP_PORT", c.AppPort)
	c.DBDriver = strings.ToLower(getenv("DB_DRIVER", c.DBDriver))
	c.DBLogLevel = getenv("DB_LOG_LEVEL", c.DBLogLevel)
	c.MySQLHost = getenv("MYSQL_HOST", c.MySQLHost)
	c.MySQLPort = getenv("MYSQL_PORT", c.MySQLPort)
	c.MySQLDB = getenv("MYSQL_DB", c.MySQLDB)
	c.MySQLUser = getenv("MYSQL_USER", c.MySQLUser)
	c.MySQLPass = getenv("MYSQL_PASS", c.MySQLPass)
	c.PostgresDSN = getenv("POSTGRES_DSN", c.PostgresDSN)
	c.SQLitePath = getenv("SQLITE_PATH", c.SQLitePath)

	c.RedisAddr = getenv("REDIS_ADDR", c.RedisAddr)
	c.RedisPrefix = getenv("REDIS_PREFIX", c.RedisPrefix)
	c.JWTSecret = getenv("JWT_SECRET", c.JWTSecret)
	c.JWTIssuer = getenv("JWT_ISSUER", c.JWTIssuer)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getenv("LOG_FORMAT", c.LogFormat)
	c.OTLPEndpoint = getenv("OTLP_ENDPOINT", c.OTLPEndpoint)

	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RedisDB = n
		}
	}
	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.RedisEnabled = b
		}
	}
	if v := os.Getenv("OTLP_INSECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.OTLPInsecure = b
		}
	}
	if v := os.Getenv("IDEMPOTENCY_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.IdempTTLSecs = n
		}
	}
	if v := os.Getenv("NOTIFIER_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.NotifierBuffer = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RateLimitRPS = f
		}
	}
	durations := map[string]*time.Duration{
		"TOKEN_TTL":         &c.TokenTTL,
		"STORE_TIMEOUT":     &c.StoreTimeout,
		"RETRY_MAX_ELAPSED": &c.RetryMaxElapsed,
		"SSE_HEARTBEAT":     &c.SSEHeartbeat,
	}
	for k, dst := range durations {
		if v := os.Getenv(k); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
}

func (c *Config) Validate() error {
	if c.AppPort == "" {
		return errors.New("missing APP_PORT")
	}
	switch c.DBDriver {
	case DriverMySQL:
		if c.MySQLHost == "" || c.MySQLPort == "" || c.MySQLDB == "" || c.MySQLUser == "" {
			return errors.New("missing MySQL config (MYSQL_HOST/PORT/DB/USER)")
		}
		// ensure port is valid
		if _, err := net.LookupPort("tcp", c.MySQLPort); err != nil {
			return fmt.Errorf("invalid MYSQL_PORT %q: %w", c.MySQLPort, err)
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return errors.New("missing POSTGRES_DSN")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("missing SQLITE_PATH")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.JWTSecret == "" {
		return errors.New("missing JWT_SECRET")
	}
	if c.RedisEnabled && c.RedisAddr == "" {
		return errors.New("missing REDIS_ADDR")
	}
	if c.StoreTimeout <= 0 || c.RetryMaxElapsed <= 0 {
		return errors.New("STORE_TIMEOUT and RETRY_MAX_ELAPSED must be positive")
	}
	if c.NotifierBuffer <= 0 {
		return errors.New("NOTIFIER_BUFFER must be positive")
	}
	return nil
}

func (c *Config) mysqlAddr() string { return net.JoinHostPort(c.MySQLHost, c.MySQLPort) }

func (c *Config) MySQLDSN() string {
	// parseTime needed for DATETIME
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&loc=UTC&charset=utf8mb4,utf8",
		c.MySQLUser, c.MySQLPass, c.mysqlAddr(), c.MySQLDB)
}

// DSN returns the connection string of the selected driver.
func (c *Config) DSN() string {
	switch c.DBDriver {
	case DriverPostgres:
		return c.PostgresDSN
	case DriverSQLite:
		// foreign keys are off by default in sqlite
		return "file:" + c.SQLitePath + "?_foreign_keys=on&_busy_timeout=5000"
	default:
		return c.MySQLDSN()
	}
}

func (c *Config) IdempotencyTTL() time.Duration { return time.Duration(c.IdempTTLSecs) * time.Second }
