package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, 443, cfg.Panorama.Port)
	assert.Equal(t, "localhost.localdomain", cfg.Panorama.Device)
	assert.Equal(t, "post-rulebase", cfg.Panorama.Rulebase)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 2*time.Second, cfg.DNSTimeout)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Empty(t, cfg.DeviceGroups)
	assert.False(t, cfg.Strict)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rulefinder.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
panorama:
  host: panorama.example.com
  api_key: from-file
  rulebase: pre-rulebase
  timeout: 30s
device_groups:
  - dg-east
  - dg-west
database:
  driver: SQLite
  dsn: /var/lib/rulefinder/rules.db
dns:
  server: 192.0.2.53
sync:
  strict: true
`), 0o600))

	t.Setenv("RULEFINDER_PANORAMA_API_KEY", "from-env")

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "panorama.example.com", cfg.Panorama.Host)
	assert.Equal(t, "from-env", cfg.Panorama.APIKey)
	assert.Equal(t, "pre-rulebase", cfg.Panorama.Rulebase)
	assert.Equal(t, 30*time.Second, cfg.Panorama.Timeout)
	assert.Equal(t, []string{"dg-east", "dg-west"}, cfg.DeviceGroups)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/var/lib/rulefinder/rules.db", cfg.Database.DSN)
	assert.Equal(t, "192.0.2.53", cfg.DNSServer)
	assert.True(t, cfg.Strict)

	require.NoError(t, cfg.ValidateAPI())
	require.NoError(t, cfg.ValidateDatabase())
}

func TestDeviceGroupsFromEnvironment(t *testing.T) {
	t.Setenv("RULEFINDER_DEVICE_GROUPS", "dg1, dg2,,dg3")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"dg1", "dg2", "dg3"}, cfg.DeviceGroups)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Error(t, cfg.ValidateAPI())
	cfg.Panorama.Host = "panorama.example.com"
	assert.Error(t, cfg.ValidateAPI())
	cfg.Panorama.APIKey = "k"
	assert.NoError(t, cfg.ValidateAPI())

	assert.Error(t, cfg.ValidateDatabase())
	cfg.Database.DSN = "user:pass@tcp(db:3306)/rules"
	assert.NoError(t, cfg.ValidateDatabase())
	cfg.Database.Driver = "postgres"
	assert.Error(t, cfg.ValidateDatabase())
}
