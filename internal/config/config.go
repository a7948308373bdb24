// Package config provides configuration management using Viper
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Response cache backends
const (
	CacheBackendDatabase = "database"
	CacheBackendRedis    = "redis"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`
	Timezone    string   `mapstructure:"timezone"`

	// Secrets
	Salt          string `mapstructure:"salt"`
	APIKey        string `mapstructure:"apikey"`
	SessionSecret string `mapstructure:"sessionsecret"`

	// File paths
	DatabasePath          string `mapstructure:"storagepath"`
	DatabaseName          string `mapstructure:"-"` // Derived from other settings
	GeoDBPath             string `mapstructure:"geodbpath"`
	PublicDirectory       string `mapstructure:"publicdir"`
	PublicAssetsUrlPrefix string `mapstructure:"publicassetsurlprefix"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseMaxOpenConns int `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int `mapstructure:"dbmaxidleconns"`

	// Retention settings
	RetentionDays          int `mapstructure:"retentiondays"`
	RetentionIntervalHours int `mapstructure:"retentionintervalhours"`

	// Response cache settings
	CacheTTLSeconds             int    `mapstructure:"cachettlseconds"`
	CacheBackend                string `mapstructure:"cachebackend"`
	RedisURL                    string `mapstructure:"redisurl"`
	CacheJanitorIntervalSeconds int    `mapstructure:"cachejanitorintervalseconds"`

	// Allow-list settings
	OriginsCacheSeconds int `mapstructure:"originscacheseconds"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		// A missing .env file is the normal case outside development
		_ = godotenv.Load()

		v := viper.New()

		v.SetDefault("appname", "visitorstats")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("timezone", "")
		v.SetDefault("salt", "")
		v.SetDefault("apikey", "")
		v.SetDefault("sessionsecret", "")
		v.SetDefault("storagepath", "storage")
		v.SetDefault("geodbpath", "")
		v.SetDefault("publicdir", "public")
		v.SetDefault("publicassetsurlprefix", "/static")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("retentiondays", 90)
		v.SetDefault("retentionintervalhours", 24)
		v.SetDefault("cachettlseconds", 60)
		v.SetDefault("cachebackend", CacheBackendDatabase)
		v.SetDefault("redisurl", "")
		v.SetDefault("cachejanitorintervalseconds", 300)
		v.SetDefault("originscacheseconds", 30)

		v.BindEnv("appname", "VISITORSTATS_APP_NAME")
		v.BindEnv("appport", "VISITORSTATS_APP_PORT")
		v.BindEnv("environment", "VISITORSTATS_ENV")
		v.BindEnv("loglevel", "VISITORSTATS_LOG_LEVEL")
		v.BindEnv("timezone", "VISITORSTATS_TIMEZONE")
		v.BindEnv("salt", "VISITORSTATS_SALT")
		v.BindEnv("apikey", "VISITORSTATS_API_KEY")
		v.BindEnv("sessionsecret", "VISITORSTATS_SESSION_SECRET")
		v.BindEnv("storagepath", "VISITORSTATS_STORAGE_PATH")
		v.BindEnv("geodbpath", "VISITORSTATS_GEO_DB_PATH")
		v.BindEnv("publicdir", "VISITORSTATS_PUBLIC_DIR")
		v.BindEnv("publicassetsurlprefix", "VISITORSTATS_PUBLIC_ASSETS_URL_PREFIX")
		v.BindEnv("logsdir", "VISITORSTATS_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "VISITORSTATS_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "VISITORSTATS_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "VISITORSTATS_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbmaxopenconns", "VISITORSTATS_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "VISITORSTATS_DB_MAX_IDLE_CONNS")
		v.BindEnv("retentiondays", "VISITORSTATS_RETENTION_DAYS")
		v.BindEnv("retentionintervalhours", "VISITORSTATS_RETENTION_INTERVAL_HOURS")
		v.BindEnv("cachettlseconds", "VISITORSTATS_CACHE_TTL_SECONDS")
		v.BindEnv("cachebackend", "VISITORSTATS_CACHE_BACKEND")
		v.BindEnv("redisurl", "VISITORSTATS_REDIS_URL")
		v.BindEnv("cachejanitorintervalseconds", "VISITORSTATS_CACHE_JANITOR_INTERVAL_SECONDS")
		v.BindEnv("originscacheseconds", "VISITORSTATS_ORIGINS_CACHE_SECONDS")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		// No route uses sessions; a per-process key keeps cartridge away from the hashing salt
		if cfg.SessionSecret == "" {
			cfg.SessionSecret = randomSecret()
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		cfg.DatabaseName = cfg.GetDatabasePath()
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	switch c.CacheBackend {
	case CacheBackendDatabase:
	case CacheBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("cache backend %q requires VISITORSTATS_REDIS_URL", c.CacheBackend)
		}
	default:
		return fmt.Errorf("invalid cache backend: %s", c.CacheBackend)
	}

	if c.RetentionDays <= 0 {
		return fmt.Errorf("retention days must be positive, got %d", c.RetentionDays)
	}

	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	if c.IsProduction() {
		if c.Salt == "" {
			return fmt.Errorf("production requires VISITORSTATS_SALT")
		}
		if c.APIKey == "" {
			return fmt.Errorf("production requires VISITORSTATS_API_KEY")
		}
		if c.SessionSecret == c.Salt {
			return fmt.Errorf("VISITORSTATS_SESSION_SECRET must differ from VISITORSTATS_SALT")
		}
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// Location returns the timezone used to compute "today" boundaries.
// An empty timezone means the server's local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// CacheTTL returns the freshness window of the site-wide snapshot cache.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// OriginsCacheTTL returns how long the decoded allow-list may be reused.
func (c *Config) OriginsCacheTTL() time.Duration {
	return time.Duration(c.OriginsCacheSeconds) * time.Second
}

// RetentionPeriod returns the age after which raw visits are purged.
func (c *Config) RetentionPeriod() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return c.PublicAssetsUrlPrefix
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.SessionSecret
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("config: failed to generate session secret: %v", err)
	}
	return hex.EncodeToString(buf)
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1
// - Development/Production: 10 (ingestion writes are serialized by SQLite anyway)
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
