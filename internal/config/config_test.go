package config

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sharedcal/internal/calmath"
)

func TestLoadWritesDefaultsOnFirstRun(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg, err := Load(fs, "/etc/sharedcal/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := fs.Stat("/etc/sharedcal/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "-rw-------", info.Mode().Perm().String())

	again, err := Load(fs, "/etc/sharedcal/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadNormalizesPartialConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	yaml := `
default_view: week
locale: EN
clock_format: 12H
layout:
  day_unit_height: 80
  month_cell_cap: -3
store:
  driver: Remote
  url: https://api.example.com
  timeout: 5s
ics:
  - url: https://example.com/a.ics
`
	require.NoError(t, afero.WriteFile(fs, "/c.yaml", []byte(yaml), 0o600))

	cfg, err := Load(fs, "/c.yaml")
	require.NoError(t, err)
	assert.Equal(t, calmath.ModeWeek, cfg.DefaultView)
	assert.Equal(t, "en", cfg.Locale)
	assert.True(t, cfg.TwelveHour())
	assert.Equal(t, 80.0, cfg.Layout.DayUnitHeight)
	assert.Equal(t, 48.0, cfg.Layout.WeekUnitHeight)
	assert.Equal(t, 0, cfg.Layout.MonthCellCap)
	assert.Equal(t, "remote", cfg.Store.Driver)
	assert.Equal(t, 5*time.Second, cfg.Store.Timeout)
	assert.Equal(t, "ics-1", cfg.ICS[0].ID)
	assert.NoError(t, cfg.Validate())
}

func TestClockFormatDefaultsTo24h(t *testing.T) {
	cfg := &Config{ClockFormat: "ampm"}
	cfg.Normalize()
	assert.Equal(t, "24h", cfg.ClockFormat)
	assert.False(t, cfg.TwelveHour())
	assert.False(t, (*Config)(nil).TwelveHour())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/c.yaml", []byte("default_view: fortnight\n"), 0o600))
	_, err := Load(fs, "/c.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Store.Driver = "postgres"
	assert.Error(t, cfg.Validate())
	cfg.Store.DSN = "postgres://localhost/cal"
	assert.NoError(t, cfg.Validate())

	cfg.Timezone = "Mars/Olympus"
	assert.Error(t, cfg.Validate())
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestSaveHashesBasicAuthPassword(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := DefaultConfig()
	cfg.BasicAuth = &BasicAuthConfig{Username: "admin", Password: "s3cret"}
	assert.True(t, cfg.BasicAuth.Check("admin", "s3cret"))

	require.NoError(t, cfg.Save(fs, "/c.yaml"))
	assert.Empty(t, cfg.BasicAuth.Password)

	loaded, err := Load(fs, "/c.yaml")
	require.NoError(t, err)
	require.NotNil(t, loaded.BasicAuth)
	assert.NotEmpty(t, loaded.BasicAuth.PasswordHash)
	assert.True(t, loaded.BasicAuth.Check("admin", "s3cret"))
	assert.False(t, loaded.BasicAuth.Check("admin", "wrong"))
	assert.False(t, loaded.BasicAuth.Check("root", "s3cret"))

	var none *BasicAuthConfig
	assert.False(t, none.Check("admin", "s3cret"))
}
