package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 6*time.Hour, cfg.DefaultPoll())
	assert.Equal(t, 24*time.Hour, cfg.AccountsPoll())
	assert.Equal(t, 100*time.Millisecond, cfg.NotificationPoll())
	// notify_min_delay defaults to a tenth of the poll interval
	assert.Equal(t, cfg.DefaultPoll()/10, cfg.NotifyDelay())
	assert.True(t, cfg.OpenService)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.yaml")
	content := []byte(`
url_accounts: https://acc.example.com
default_poll_interval: 600
notify_min_delay: 30
concurrency: 4
open_service: false
`)
	require.NoError(t, os.WriteFile(path, content, 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://acc.example.com", cfg.URLAccounts)
	assert.Equal(t, 10*time.Minute, cfg.DefaultPoll())
	assert.Equal(t, 30*time.Second, cfg.NotifyDelay())
	assert.Equal(t, 4, cfg.Concurrency)
	assert.False(t, cfg.OpenService)
	// untouched keys keep their defaults
	assert.Equal(t, 5, cfg.MaxRelatedDepth)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"delay factor below one", func(c *Config) { c.MaxPollErrorDelayFactor = 0 }},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }},
		{"negative related depth", func(c *Config) { c.MaxRelatedDepth = -1 }},
		{"missing local db", func(c *Config) { c.LocalDB = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDBURL(t *testing.T) {
	cfg := Default()
	cfg.URLIndexDB = "http://triples.local"
	cfg.IndexDBPort = 8080
	cfg.IndexDBPath = "/bigdata/namespace/"
	cfg.IndexSchema = "kb"

	assert.Equal(t, "http://triples.local:8080/bigdata/namespace/kb", cfg.DBURL())
}
