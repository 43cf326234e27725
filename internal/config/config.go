package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Report store backends.
const (
	StoreMemory     = "memory"
	StoreFilesystem = "filesystem"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	ReportStore        string        `mapstructure:"REPORT_STORE"`
	ReportDir          string        `mapstructure:"REPORT_DIR"`
	ReportRetention    time.Duration `mapstructure:"REPORT_RETENTION"`
	SweepInterval      time.Duration `mapstructure:"SWEEP_INTERVAL"`
	DownloadSigningKey string        `mapstructure:"DOWNLOAD_SIGNING_KEY"`
	DownloadTokenTTL   time.Duration `mapstructure:"DOWNLOAD_TOKEN_TTL"`
	HIPAAEncryptionKey string        `mapstructure:"HIPAA_ENCRYPTION_KEY"`
	ReportTimezone     string        `mapstructure:"REPORT_TIMEZONE"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS       float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout     time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit          string        `mapstructure:"BODY_LIMIT"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("REPORT_STORE", StoreMemory)
	v.SetDefault("REPORT_DIR", "./reports")
	v.SetDefault("REPORT_RETENTION", "1h")
	v.SetDefault("SWEEP_INTERVAL", "5m")
	v.SetDefault("DOWNLOAD_TOKEN_TTL", "15m")
	v.SetDefault("REPORT_TIMEZONE", "Local")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("REPORT_STORE")
	v.BindEnv("REPORT_DIR")
	v.BindEnv("REPORT_RETENTION")
	v.BindEnv("SWEEP_INTERVAL")
	v.BindEnv("DOWNLOAD_SIGNING_KEY")
	v.BindEnv("DOWNLOAD_TOKEN_TTL")
	v.BindEnv("HIPAA_ENCRYPTION_KEY")
	v.BindEnv("REPORT_TIMEZONE")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("REQUEST_TIMEOUT")
	v.BindEnv("BODY_LIMIT")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.IsDev() && cfg.DownloadSigningKey == "" {
		log.Println("WARNING: DOWNLOAD_SIGNING_KEY is not set; download links will not survive a restart.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SigningKey decodes DOWNLOAD_SIGNING_KEY. A nil slice means no key was configured.
func (c *Config) SigningKey() ([]byte, error) {
	if c.DownloadSigningKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.DownloadSigningKey)
	if err != nil {
		return nil, fmt.Errorf("DOWNLOAD_SIGNING_KEY is not valid hex: %w", err)
	}
	return key, nil
}

// EncryptionKey decodes HIPAA_ENCRYPTION_KEY. A nil slice means artifacts are
// stored unsealed.
func (c *Config) EncryptionKey() ([]byte, error) {
	if c.HIPAAEncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.HIPAAEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("HIPAA_ENCRYPTION_KEY is not valid hex: %w", err)
	}
	return key, nil
}

// Location resolves REPORT_TIMEZONE for the report emission timestamp.
func (c *Config) Location() (*time.Location, error) {
	if c.ReportTimezone == "" || c.ReportTimezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.ReportTimezone)
	if err != nil {
		return nil, fmt.Errorf("REPORT_TIMEZONE %q: %w", c.ReportTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run. Production requires
// a stable download signing key and an encryption key for artifacts at rest.
func (c *Config) Validate() error {
	if c.Env != "development" && c.Env != "production" {
		return fmt.Errorf("ENV must be \"development\" or \"production\", got %q", c.Env)
	}

	switch c.ReportStore {
	case StoreMemory:
	case StoreFilesystem:
		if strings.TrimSpace(c.ReportDir) == "" {
			return fmt.Errorf("REPORT_DIR is required when REPORT_STORE is %q", StoreFilesystem)
		}
	default:
		return fmt.Errorf("REPORT_STORE must be %q or %q, got %q", StoreMemory, StoreFilesystem, c.ReportStore)
	}

	if c.ReportRetention <= 0 {
		return fmt.Errorf("REPORT_RETENTION must be positive, got %s", c.ReportRetention)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("SWEEP_INTERVAL must not be negative, got %s", c.SweepInterval)
	}
	if c.DownloadTokenTTL <= 0 {
		return fmt.Errorf("DOWNLOAD_TOKEN_TTL must be positive, got %s", c.DownloadTokenTTL)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}

	if c.IsProduction() && c.DownloadSigningKey == "" {
		return fmt.Errorf("DOWNLOAD_SIGNING_KEY is required in production")
	}
	signingKey, err := c.SigningKey()
	if err != nil {
		return err
	}
	if signingKey != nil && len(signingKey) < 32 {
		return fmt.Errorf("DOWNLOAD_SIGNING_KEY must be at least 32 bytes (64 hex chars), got %d bytes", len(signingKey))
	}

	// HIPAA encryption key validation
	if c.IsProduction() && c.HIPAAEncryptionKey == "" {
		return fmt.Errorf("HIPAA_ENCRYPTION_KEY is required in production")
	}
	keyBytes, err := c.EncryptionKey()
	if err != nil {
		return err
	}
	if keyBytes != nil && len(keyBytes) != 32 {
		return fmt.Errorf("HIPAA_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	return nil
}
