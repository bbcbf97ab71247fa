package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_NUMBER", "+15550000")
	t.Setenv("STATE_TABLE", "carmen-state")
	t.Setenv("PARAM_PREFIX", "/carmen/")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, BackendDynamoDB, cfg.StoreBackend)
	require.Equal(t, "carmen.db", cfg.SQLitePath)
	require.Equal(t, "/carmen", cfg.ParamPrefix)
	require.Equal(t, 3, cfg.FuzzyThreshold)
	require.Equal(t, 30*time.Second, cfg.DisambiguationTimeout)
	require.Equal(t, 5*time.Second, cfg.FollowUpDelay)
	require.Equal(t, 3000, cfg.Port)
	require.Equal(t, slog.LevelInfo, cfg.Level())
	require.Equal(t, "/carmen/rooms", cfg.CatalogParameter())
	require.Equal(t, "/carmen/twilio-token", cfg.TwilioTokenParameter())
	require.Equal(t, "Carmen", cfg.VCardName)
	require.Equal(t, "+15550000", cfg.VCardPhone)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("STORE_BACKEND", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/carmen.db")
	t.Setenv("FUZZY_THRESHOLD", "5")
	t.Setenv("DISAMBIGUATION_TIMEOUT", "1m")
	t.Setenv("FOLLOW_UP_DELAY", "0s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("VCARD_PHONE", "816-298-9138")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, BackendSQLite, cfg.StoreBackend)
	require.Equal(t, 5, cfg.FuzzyThreshold)
	require.Equal(t, time.Minute, cfg.DisambiguationTimeout)
	require.Zero(t, cfg.FollowUpDelay)
	require.Equal(t, slog.LevelDebug, cfg.Level())
	require.Equal(t, "816-298-9138", cfg.VCardPhone)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_NUMBER", "")
	_, err := Load()
	require.ErrorContains(t, err, "parse config")
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			StoreBackend:          BackendDynamoDB,
			StateTable:            "t",
			ParamPrefix:           "/carmen",
			FuzzyThreshold:        3,
			DisambiguationTimeout: time.Second,
		}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.StoreBackend = "redis" }, "unknown STORE_BACKEND"},
		{"missing table", func(c *Config) { c.StateTable = "" }, "STATE_TABLE"},
		{"sqlite without path", func(c *Config) { c.StoreBackend = BackendSQLite; c.SQLitePath = "" }, "SQLITE_PATH"},
		{"no catalog source", func(c *Config) { c.ParamPrefix = ""; c.TwilioAuthToken = "x" }, "CATALOG_PATH"},
		{"no twilio token source", func(c *Config) { c.ParamPrefix = ""; c.CatalogPath = "rooms.yaml" }, "TWILIO_AUTH_TOKEN"},
		{"negative threshold", func(c *Config) { c.FuzzyThreshold = -1 }, "FUZZY_THRESHOLD"},
		{"zero timeout", func(c *Config) { c.DisambiguationTimeout = 0 }, "DISAMBIGUATION_TIMEOUT"},
		{"negative delay", func(c *Config) { c.FollowUpDelay = -time.Second }, "FOLLOW_UP_DELAY"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}

	cfg := base()
	require.NoError(t, cfg.Validate())
}

func TestLevel_Unknown(t *testing.T) {
	require.Equal(t, slog.LevelInfo, (&Config{LogLevel: "loud"}).Level())
	require.Equal(t, slog.LevelWarn, (&Config{LogLevel: "WARN"}).Level())
}
