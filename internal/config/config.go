package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	pkglogger "github.com/damoang/angple-contrib/pkg/logger"
	"gopkg.in/yaml.v3"
)

// Config 애플리케이션 설정
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	JWT          JWTConfig          `yaml:"jwt"`
	CORS         CORSConfig         `yaml:"cors"`
	Log          LogConfig          `yaml:"log"`
	Contribution ContributionConfig `yaml:"contribution"`
}

// ServerConfig HTTP 서버 설정
type ServerConfig struct {
	Port int    `yaml:"port"`
	Env  string `yaml:"env"` // local, dev, staging, prod
}

// DatabaseConfig 데이터베이스 설정. Driver is mysql or sqlite.
type DatabaseConfig struct {
	Driver          string `yaml:"driver"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	DBName          string `yaml:"dbname"`
	Path            string `yaml:"path"` // sqlite file, ":memory:" allowed
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // seconds
}

// GetDSN returns the mysql DSN
func (d DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		d.User, d.Password, d.Host, d.Port, d.DBName)
}

// RedisConfig Redis 설정. Empty host disables Redis.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// Enabled reports whether a Redis host is configured
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

// JWTConfig 토큰 설정
type JWTConfig struct {
	Secret    string `yaml:"secret"`
	ExpiresIn int    `yaml:"expires_in"` // seconds
}

// AccessTTL returns the access token lifetime
func (j JWTConfig) AccessTTL() time.Duration {
	return time.Duration(j.ExpiresIn) * time.Second
}

// CORSConfig CORS 설정
type CORSConfig struct {
	AllowOrigins string `yaml:"allow_origins"` // comma separated
}

// Origins splits AllowOrigins
func (c CORSConfig) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// LogConfig 로그 설정
type LogConfig struct {
	Level string `yaml:"level"`
}

// ContributionConfig 기여 검토 설정
type ContributionConfig struct {
	ReviewerLevel    int `yaml:"reviewer_level"`     // 검토 권한 최소 레벨
	SubmitRateLimit  int `yaml:"submit_rate_limit"`  // 사용자별 제출 한도, 0 disables
	SubmitRateWindow int `yaml:"submit_rate_window"` // seconds
}

// SubmitWindow returns the rate limit window
func (c ContributionConfig) SubmitWindow() time.Duration {
	return time.Duration(c.SubmitRateWindow) * time.Second
}

// Default returns a config usable for local development
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8080, Env: "local"},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Path:            "contrib.db",
			Port:            3306,
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: 3600,
		},
		Redis: RedisConfig{Port: 6379, PoolSize: 10},
		JWT:   JWTConfig{ExpiresIn: 3600},
		CORS:  CORSConfig{AllowOrigins: "http://localhost:3000"},
		Log:   LogConfig{Level: "info"},
		Contribution: ContributionConfig{
			ReviewerLevel:    5,
			SubmitRateLimit:  30,
			SubmitRateWindow: 3600,
		},
	}
}

// Load reads the YAML file at path on top of Default. ${VAR} references are
// expanded from the environment and secrets may be overridden by
// DB_PASSWORD, JWT_SECRET and REDIS_PASSWORD.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWT.Secret = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
}

// Validate checks required values
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be positive"))
	}
	switch c.Database.Driver {
	case "mysql":
		if c.Database.Host == "" || c.Database.DBName == "" {
			errs = append(errs, fmt.Errorf("database.host and database.dbname are required for mysql"))
		}
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, fmt.Errorf("database.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver must be mysql or sqlite, got %q", c.Database.Driver))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, fmt.Errorf("jwt.secret is required (set JWT_SECRET)"))
	}
	if c.JWT.ExpiresIn <= 0 {
		errs = append(errs, fmt.Errorf("jwt.expires_in must be positive"))
	}
	if c.Contribution.ReviewerLevel <= 0 {
		errs = append(errs, fmt.Errorf("contribution.reviewer_level must be positive"))
	}
	if c.Contribution.SubmitRateLimit < 0 || c.Contribution.SubmitRateWindow < 0 {
		errs = append(errs, fmt.Errorf("contribution rate limit values must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// IsDevelopment reports whether the server runs in a local or dev env
func (c *Config) IsDevelopment() bool {
	switch c.Server.Env {
	case "local", "dev", "development":
		return true
	}
	return false
}

// LogResolved logs the effective config without secrets
func LogResolved(c *Config) {
	pkglogger.GetLogger().Info().
		Str("env", c.Server.Env).
		Int("port", c.Server.Port).
		Str("db_driver", c.Database.Driver).
		Str("db_host", c.Database.Host).
		Bool("redis", c.Redis.Enabled()).
		Int("reviewer_level", c.Contribution.ReviewerLevel).
		Msg("config resolved")
}
