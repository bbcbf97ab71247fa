package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Storage
	StoreBackend string `env:"STORE_BACKEND" envDefault:"dynamodb"`
	StateTable   string `env:"STATE_TABLE"`
	SQLitePath   string `env:"SQLITE_PATH" envDefault:"carmen.db"`

	// Parameter store
	ParamPrefix string `env:"PARAM_PREFIX"`

	// Catalog
	CatalogPath string `env:"CATALOG_PATH"`
	SiteURL     string `env:"SITE_URL"`

	// Twilio
	TwilioAccountSID string `env:"TWILIO_ACCOUNT_SID,required"`
	TwilioNumber     string `env:"TWILIO_NUMBER,required"`
	TwilioAuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	WebhookURL       string `env:"WEBHOOK_URL"`

	// Admin
	AdminToken string `env:"ADMIN_TOKEN"`

	// Contact card served at /vcard; the phone defaults to TWILIO_NUMBER
	VCardName         string `env:"VCARD_NAME" envDefault:"Carmen"`
	VCardOrganization string `env:"VCARD_ORGANIZATION"`
	VCardPhone        string `env:"VCARD_PHONE"`
	VCardPhotoURL     string `env:"VCARD_PHOTO_URL"`
	VCardStreet       string `env:"VCARD_STREET"`
	VCardCity         string `env:"VCARD_CITY"`
	VCardRegion       string `env:"VCARD_REGION"`
	VCardPostalCode   string `env:"VCARD_POSTAL_CODE"`

	// Matching and dialogue
	FuzzyThreshold        int           `env:"FUZZY_THRESHOLD" envDefault:"3"`
	DisambiguationTimeout time.Duration `env:"DISAMBIGUATION_TIMEOUT" envDefault:"30s"`
	FollowUpDelay         time.Duration `env:"FOLLOW_UP_DELAY" envDefault:"5s"`

	// Server
	Port     int    `env:"PORT" envDefault:"3000"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that depend on each other.
func (c *Config) Validate() error {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	c.ParamPrefix = strings.TrimRight(strings.TrimSpace(c.ParamPrefix), "/")
	if strings.TrimSpace(c.VCardPhone) == "" {
		c.VCardPhone = c.TwilioNumber
	}

	var errs []error
	switch c.StoreBackend {
	case BackendDynamoDB:
		if strings.TrimSpace(c.StateTable) == "" {
			errs = append(errs, errors.New("STATE_TABLE is required for the dynamodb backend"))
		}
	case BackendSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	if c.CatalogPath == "" && c.ParamPrefix == "" {
		errs = append(errs, errors.New("CATALOG_PATH or PARAM_PREFIX is required to load rooms"))
	}
	if c.TwilioAuthToken == "" && c.ParamPrefix == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN or PARAM_PREFIX is required"))
	}
	if c.FuzzyThreshold < 0 {
		errs = append(errs, errors.New("FUZZY_THRESHOLD must not be negative"))
	}
	if c.DisambiguationTimeout <= 0 {
		errs = append(errs, errors.New("DISAMBIGUATION_TIMEOUT must be positive"))
	}
	if c.FollowUpDelay < 0 {
		errs = append(errs, errors.New("FOLLOW_UP_DELAY must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// CatalogParameter is the SSM parameter holding the room catalog.
func (c *Config) CatalogParameter() string {
	return c.ParamPrefix + CatalogParameterSuffix
}

// TwilioTokenParameter is the SSM parameter holding the Twilio auth token.
func (c *Config) TwilioTokenParameter() string {
	return c.ParamPrefix + TwilioTokenParameterSuffix
}

// Level maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
