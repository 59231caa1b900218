// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, "./user_data_dir", cfg.Browser().UserDataDir)
	assert.Equal(t, 30*time.Minute, cfg.Pool().IdleTimeout)
	assert.Equal(t, 60*time.Second, cfg.Pool().SweepInterval)
	assert.Equal(t, 3, cfg.Plugins().Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Plugins().Retry.Delay)
	assert.Equal(t, 5, cfg.Plugins().PageLimit.MaxPages)
	assert.Equal(t, 200*time.Millisecond, cfg.Live().FrameInterval)
	assert.Equal(t, 60, cfg.Live().JPEGQuality)
	assert.Equal(t, ":8000", cfg.Server().Addr)
	assert.Equal(t, []string{"*"}, cfg.Server().CORSOrigins)
	assert.NoError(t, cfg.Validate(), "defaults must validate")
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetBrowserHeadless(false)
	cfg.SetBrowserExecPath("/opt/chromium/chrome")
	cfg.SetServerAddr("127.0.0.1:9000")

	assert.False(t, cfg.Browser().Headless)
	assert.Equal(t, "/opt/chromium/chrome", cfg.Browser().ExecPath)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server().Addr)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		require.NoError(t, cfg.Validate())

		missingDir := *cfg
		missingDir.BrowserCfg.UserDataDir = ""
		err := missingDir.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser.user_data_dir is a required configuration field")

		badQuality := *cfg
		badQuality.LiveCfg.JPEGQuality = 101
		err = badQuality.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "live.jpeg_quality must be between 0 and 100")

		badInterval := *cfg
		badInterval.LiveCfg.FrameInterval = 0
		assert.Error(t, badInterval.Validate())
	})

	t.Run("Pool Validation", func(t *testing.T) {
		valid := PoolConfig{IdleTimeout: time.Minute, SweepInterval: time.Second}
		assert.NoError(t, valid.Validate())

		noIdle := valid
		noIdle.IdleTimeout = 0
		err := noIdle.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "idle_timeout must be a positive duration")

		noSweep := valid
		noSweep.SweepInterval = -time.Second
		err = noSweep.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sweep_interval must be a positive duration")
	})

	t.Run("Plugins Validation", func(t *testing.T) {
		valid := PluginsConfig{
			Retry:     RetryPluginConfig{Enabled: true, MaxAttempts: 3, Delay: time.Second},
			PageLimit: PageLimitPluginConfig{Enabled: true, MaxPages: 5},
		}
		assert.NoError(t, valid.Validate())

		zeroAttempts := valid
		zeroAttempts.Retry.MaxAttempts = 0
		err := zeroAttempts.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "retry.max_attempts must be greater than 0")

		zeroAttempts.Retry.Enabled = false
		assert.NoError(t, zeroAttempts.Validate(), "disabled plugins are not validated")

		zeroPages := valid
		zeroPages.PageLimit.MaxPages = 0
		err = zeroPages.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "page_limit.max_pages must be greater than 0")
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
browser:
  headless: false
  args: ["--disable-gpu", "--mute-audio"]
pool:
  idle_timeout: 10m
plugins:
  retry:
    max_attempts: 5
    delay: 500ms
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.False(t, cfg.Browser().Headless)
		assert.Equal(t, []string{"--disable-gpu", "--mute-audio"}, cfg.Browser().Args)
		assert.Equal(t, 10*time.Minute, cfg.Pool().IdleTimeout)
		assert.Equal(t, 5, cfg.Plugins().Retry.MaxAttempts)
		assert.Equal(t, 500*time.Millisecond, cfg.Plugins().Retry.Delay)
		// Untouched sections keep their defaults.
		assert.Equal(t, 60*time.Second, cfg.Pool().SweepInterval)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("pool.idle_timeout", "0s")

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "idle_timeout must be a positive duration")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBufferString(`
database:
  url: "postgres://configfile/db"
`)))

		t.Setenv("RPA_DATABASE_URL", "postgres://envvar/db")
		t.Setenv("RPA_JWT_SECRET", "s3cret")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "postgres://envvar/db", cfg.Database().URL, "env must override the config file")
		assert.Equal(t, "s3cret", cfg.Server().JWTSecret)
	})
}

func TestGlobalConfig(t *testing.T) {
	custom := NewDefaultConfig()
	custom.SetServerAddr(":9999")
	Set(custom)
	assert.Same(t, custom, Get())
}
