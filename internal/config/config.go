package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix                 = "REPORTS"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabaseDriver     = "sqlite"
	defaultDatabaseDSN        = "reports.db"
	defaultFieldNaming        = "snake"
	defaultLogLevel           = "info"
	defaultCacheSize          = 256
	defaultCacheTTL           = 10 * time.Minute
	defaultIngestionAttempts  = 5
	defaultRawMessagesTTL     = 30 * 24 * time.Hour
	defaultCORSAllowedOrigins = "*"
)

var (
	supportedDrivers = map[string]struct{}{"sqlite": {}, "mysql": {}, "postgres": {}}
	supportedNaming  = map[string]struct{}{"snake": {}, "camel": {}}
)

// AppConfig captures runtime configuration for the reports service.
type AppConfig struct {
	HTTPAddress          string
	CORSAllowedOrigins   []string
	DatabaseDriver       string
	DatabaseDSN          string
	FieldNaming          string
	LogLevel             string
	ReportCacheSize      int
	ReportCacheTTL       time.Duration
	IngestionMaxAttempts int
	RawMessagesTTL       time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.cors_allowed_origins", defaultCORSAllowedOrigins)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("database.field_naming", defaultFieldNaming)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("reports.cache_size", defaultCacheSize)
	configViper.SetDefault("reports.cache_ttl", defaultCacheTTL)
	configViper.SetDefault("ingestion.max_attempts", defaultIngestionAttempts)
	configViper.SetDefault("raw_messages.ttl", defaultRawMessagesTTL)
}

// LoadDotEnv populates the process environment from the given files, skipping missing ones.
// Variables that are already set win over file contents.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, path := range paths {
		if _, err := godotenv.Read(path); err == nil {
			existing = append(existing, path)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load dotenv: %w", err)
	}
	return nil
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		CORSAllowedOrigins:   splitList(configViper.GetString("http.cors_allowed_origins")),
		DatabaseDriver:       strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:          configViper.GetString("database.dsn"),
		FieldNaming:          strings.ToLower(strings.TrimSpace(configViper.GetString("database.field_naming"))),
		LogLevel:             configViper.GetString("log.level"),
		ReportCacheSize:      configViper.GetInt("reports.cache_size"),
		ReportCacheTTL:       configViper.GetDuration("reports.cache_ttl"),
		IngestionMaxAttempts: configViper.GetInt("ingestion.max_attempts"),
		RawMessagesTTL:       configViper.GetDuration("raw_messages.ttl"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if _, ok := supportedDrivers[c.DatabaseDriver]; !ok {
		return fmt.Errorf("database.driver must be one of sqlite, mysql, postgres")
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if _, ok := supportedNaming[c.FieldNaming]; !ok {
		return fmt.Errorf("database.field_naming must be one of snake, camel")
	}
	if c.ReportCacheSize < 0 {
		return fmt.Errorf("reports.cache_size must not be negative")
	}
	if c.ReportCacheTTL <= 0 {
		return fmt.Errorf("reports.cache_ttl must be positive")
	}
	if c.IngestionMaxAttempts < 1 {
		return fmt.Errorf("ingestion.max_attempts must be at least 1")
	}
	if c.RawMessagesTTL <= 0 {
		return fmt.Errorf("raw_messages.ttl must be positive")
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
