// File: internal/config/config.go
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Pool() PoolConfig
	Plugins() PluginsConfig
	Live() LiveConfig
	Server() ServerConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserExecPath(string)

	// Server Setters
	SetServerAddr(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	PoolCfg     PoolConfig     `mapstructure:"pool" yaml:"pool"`
	PluginsCfg  PluginsConfig  `mapstructure:"plugins" yaml:"plugins"`
	LiveCfg     LiveConfig     `mapstructure:"live" yaml:"live"`
	ServerCfg   ServerConfig   `mapstructure:"server" yaml:"server"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Pool() PoolConfig         { return c.PoolCfg }
func (c *Config) Plugins() PluginsConfig   { return c.PluginsCfg }
func (c *Config) Live() LiveConfig         { return c.LiveCfg }
func (c *Config) Server() ServerConfig     { return c.ServerCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)   { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserExecPath(p string) { c.BrowserCfg.ExecPath = p }
func (c *Config) SetServerAddr(addr string)   { c.ServerCfg.Addr = addr }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the fingerprint store connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
	// AutoMigrate creates the profile table on startup when missing.
	AutoMigrate bool `mapstructure:"auto_migrate" yaml:"auto_migrate"`
}

// BrowserConfig holds settings shared by every launched browser process.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// ExecPath points at a fingerprint-capable Chromium build. Empty uses the driver default.
	ExecPath string `mapstructure:"exec_path" yaml:"exec_path"`
	// UserDataDir is the root holding one profile directory per browser token.
	UserDataDir string `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	// Args are appended after the built-in baseline flags.
	Args          []string      `mapstructure:"args" yaml:"args"`
	LaunchTimeout time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
}

// PoolConfig tunes session reuse and idle eviction.
type PoolConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// PluginsConfig selects the policy plugins wrapped around page actions.
type PluginsConfig struct {
	Log       LogPluginConfig       `mapstructure:"log" yaml:"log"`
	Retry     RetryPluginConfig     `mapstructure:"retry" yaml:"retry"`
	PageLimit PageLimitPluginConfig `mapstructure:"page_limit" yaml:"page_limit"`
}

type LogPluginConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Level   string `mapstructure:"level" yaml:"level"`
}

type RetryPluginConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay" yaml:"delay"`
}

type PageLimitPluginConfig struct {
	Enabled  bool `mapstructure:"enabled" yaml:"enabled"`
	MaxPages int  `mapstructure:"max_pages" yaml:"max_pages"`
}

// LiveConfig tunes the live view stream.
type LiveConfig struct {
	FrameInterval time.Duration `mapstructure:"frame_interval" yaml:"frame_interval"`
	JPEGQuality   int           `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	BasePath        string        `mapstructure:"base_path" yaml:"base_path"`
	RateLimit       int           `mapstructure:"rate_limit" yaml:"rate_limit"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	JWTSecret       string        `mapstructure:"jwt_secret" yaml:"-"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

var (
	globalCfg  *Config
	globalOnce sync.Once
)

// Get returns the process configuration, populated from defaults on first use.
// cmd replaces it with the viper-resolved config via Set during startup.
func Get() *Config {
	globalOnce.Do(func() {
		if globalCfg == nil {
			globalCfg = NewDefaultConfig()
		}
	})
	return globalCfg
}

// Set installs cfg as the process configuration.
func Set(cfg *Config) {
	globalOnce.Do(func() {})
	globalCfg = cfg
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "rpa-browser")
	v.SetDefault("logger.log_file", "rpa-browser.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Database --
	v.SetDefault("database.auto_migrate", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_data_dir", "./user_data_dir")
	v.SetDefault("browser.launch_timeout", "60s")

	// -- Pool --
	v.SetDefault("pool.idle_timeout", "30m")
	v.SetDefault("pool.sweep_interval", "60s")

	// -- Plugins --
	v.SetDefault("plugins.log.enabled", true)
	v.SetDefault("plugins.log.level", "info")
	v.SetDefault("plugins.retry.enabled", true)
	v.SetDefault("plugins.retry.max_attempts", 3)
	v.SetDefault("plugins.retry.delay", "2s")
	v.SetDefault("plugins.page_limit.enabled", true)
	v.SetDefault("plugins.page_limit.max_pages", 5)

	// -- Live --
	v.SetDefault("live.frame_interval", "200ms")
	v.SetDefault("live.jpeg_quality", 60)

	// -- Server --
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.rate_limit", 120)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", "30s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("database.url", "RPA_DATABASE_URL")
	v.BindEnv("server.jwt_secret", "RPA_JWT_SECRET")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.BrowserCfg.UserDataDir == "" {
		return fmt.Errorf("browser.user_data_dir is a required configuration field")
	}
	if err := c.PoolCfg.Validate(); err != nil {
		return fmt.Errorf("pool configuration invalid: %w", err)
	}
	if err := c.PluginsCfg.Validate(); err != nil {
		return fmt.Errorf("plugins configuration invalid: %w", err)
	}
	if c.LiveCfg.JPEGQuality < 0 || c.LiveCfg.JPEGQuality > 100 {
		return fmt.Errorf("live.jpeg_quality must be between 0 and 100")
	}
	if c.LiveCfg.FrameInterval <= 0 {
		return fmt.Errorf("live.frame_interval must be a positive duration")
	}
	return nil
}

// Validate checks the pool timing settings.
func (p *PoolConfig) Validate() error {
	if p.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be a positive duration")
	}
	if p.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be a positive duration")
	}
	return nil
}

// Validate checks the enabled plugins only.
func (p *PluginsConfig) Validate() error {
	if p.Retry.Enabled {
		if p.Retry.MaxAttempts <= 0 {
			return fmt.Errorf("retry.max_attempts must be greater than 0")
		}
		if p.Retry.Delay < 0 {
			return fmt.Errorf("retry.delay must not be negative")
		}
	}
	if p.PageLimit.Enabled && p.PageLimit.MaxPages <= 0 {
		return fmt.Errorf("page_limit.max_pages must be greater than 0")
	}
	return nil
}
