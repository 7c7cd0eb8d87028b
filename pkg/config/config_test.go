package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
service_name = "candles"

[database]
driver = "postgres"
dsn = "host=localhost"

[import]
policy = "reject"
batch_size = 100
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "candles", cfg.ServiceName)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "reject", cfg.Import.Policy)
	assert.Equal(t, 100, cfg.Import.BatchSize)
	assert.Equal(t, 4, cfg.Import.Workers)
	assert.Equal(t, "0.00000001", cfg.Order.OverfillTolerance)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLoadWithDefaultsEnvOverride(t *testing.T) {
	t.Setenv("APP_IMPORT_POLICY", "reject")
	cfg, err := LoadWithDefaults(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "tradingbot", cfg.ServiceName)
	assert.Equal(t, "reject", cfg.Import.Policy)
	assert.Equal(t, "mysql", cfg.Database.Driver)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing service", func(c *Config) { c.ServiceName = "" }, true},
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }, true},
		{"bad policy", func(c *Config) { c.Import.Policy = "ignore" }, true},
		{"zero batch", func(c *Config) { c.Import.BatchSize = 0 }, true},
		{"bad metrics port", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Port = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				ServiceName: "svc",
				Database:    DatabaseConfig{Driver: "mysql"},
				Import:      ImportConfig{Policy: "skip", BatchSize: 10, Workers: 1},
			}
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
