// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for every environment variable the application reads.
const EnvPrefix = "PETITIONFETCH"

// Config holds the entire application configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Network     NetworkConfig     `mapstructure:"network" yaml:"network"`
	Target      TargetConfig      `mapstructure:"target" yaml:"target"`
	Retrieval   RetrievalConfig   `mapstructure:"retrieval" yaml:"retrieval"`
	Interaction InteractionConfig `mapstructure:"interaction" yaml:"interaction"`
	Locator     LocatorConfig     `mapstructure:"locator" yaml:"locator"`
	Blocker     BlockerConfig     `mapstructure:"blocker" yaml:"blocker"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics" yaml:"diagnostics"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
}

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

// BrowserConfig holds settings for the per-retrieval browser processes.
type BrowserConfig struct {
	Headless   bool   `mapstructure:"headless" yaml:"headless"`
	DisableGPU bool   `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	ExecPath   string `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent  string `mapstructure:"user_agent" yaml:"user_agent"`
	// Args are extra Chrome switches, either "flag" or "key=value".
	Args          []string       `mapstructure:"args" yaml:"args"`
	Viewport      ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	LaunchTimeout time.Duration  `mapstructure:"launch_timeout" yaml:"launch_timeout"`
}

// ViewportConfig is the fixed window size used for every session.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// NetworkConfig tunes navigation and network-idle detection.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// PostLoadWait is the quiet period with zero in-flight requests that counts as idle.
	PostLoadWait time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// TargetConfig describes the case-management site and the account used against it.
type TargetConfig struct {
	LoginURL       string `mapstructure:"login_url" yaml:"login_url"`
	CaseBaseURL    string `mapstructure:"case_base_url" yaml:"case_base_url"`
	CasePathSuffix string `mapstructure:"case_path_suffix" yaml:"case_path_suffix"`
	Username       string `mapstructure:"username" yaml:"-"`
	Password       string `mapstructure:"password" yaml:"-"`
}

// RetrievalConfig configures the document workflow itself.
type RetrievalConfig struct {
	Query         string        `mapstructure:"query" yaml:"query"`
	DocumentLabel string        `mapstructure:"document_label" yaml:"document_label"`
	OutputDir     string        `mapstructure:"output_dir" yaml:"output_dir"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// FallbackTimeout bounds the labeled download-control lookup before the positional sequence is considered.
	FallbackTimeout        time.Duration `mapstructure:"fallback_timeout" yaml:"fallback_timeout"`
	PositionalFallback     bool          `mapstructure:"positional_fallback" yaml:"positional_fallback"`
	FocusAdvanceToRow      int           `mapstructure:"focus_advance_to_row" yaml:"focus_advance_to_row"`
	FocusAdvanceToDownload int           `mapstructure:"focus_advance_to_download" yaml:"focus_advance_to_download"`
	DownloadTimeout        time.Duration `mapstructure:"download_timeout" yaml:"download_timeout"`
}

// InteractionConfig tunes the retry-wrapped interaction primitives.
type InteractionConfig struct {
	SettleDelay   time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	KeyDelay      time.Duration `mapstructure:"key_delay" yaml:"key_delay"`
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// LocatorConfig holds element resolution budgets.
type LocatorConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// ProbeTimeout is used for quick "is it still there" checks, such as the post-login form probe.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
}

// BlockerConfig bounds how much of a page the blocker detector reads.
type BlockerConfig struct {
	MaxMarkupBytes int `mapstructure:"max_markup_bytes" yaml:"max_markup_bytes"`
	MaxTextBytes   int `mapstructure:"max_text_bytes" yaml:"max_text_bytes"`
}

// DiagnosticsConfig controls the failure snapshot store.
type DiagnosticsConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Dir     string        `mapstructure:"dir" yaml:"dir"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ServerConfig configures the HTTP front end.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	MaxSessions     int           `mapstructure:"max_sessions" yaml:"max_sessions"`
	RateLimit       float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the optional audit database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
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
	v.SetDefault("logger.service_name", "petitionfetch")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.viewport.width", 1920)
	v.SetDefault("browser.viewport.height", 1080)
	v.SetDefault("browser.launch_timeout", "60s")

	// -- Network --
	v.SetDefault("network.navigation_timeout", "90s")
	v.SetDefault("network.post_load_wait", "1500ms")
	v.SetDefault("network.idle_timeout", "30s")

	// -- Target --
	v.SetDefault("target.login_url", "https://v2.courtdrive.com/login")
	v.SetDefault("target.case_base_url", "https://v2.courtdrive.com/cases/pacer/flsbke/")
	v.SetDefault("target.case_path_suffix", "/dockets")
	v.SetDefault("target.username", "")
	v.SetDefault("target.password", "")

	// -- Retrieval --
	v.SetDefault("retrieval.query", "Voluntary Petition")
	v.SetDefault("retrieval.document_label", "Voluntary Petition")
	v.SetDefault("retrieval.output_dir", ".")
	v.SetDefault("retrieval.timeout", "5m")
	v.SetDefault("retrieval.fallback_timeout", "3s")
	v.SetDefault("retrieval.positional_fallback", true)
	v.SetDefault("retrieval.focus_advance_to_row", 21)
	v.SetDefault("retrieval.focus_advance_to_download", 3)
	v.SetDefault("retrieval.download_timeout", "90s")

	// -- Interaction --
	v.SetDefault("interaction.settle_delay", "500ms")
	v.SetDefault("interaction.key_delay", "100ms")
	v.SetDefault("interaction.action_timeout", "30s")

	// -- Locator --
	v.SetDefault("locator.timeout", "15s")
	v.SetDefault("locator.probe_timeout", "3s")

	// -- Blocker --
	v.SetDefault("blocker.max_markup_bytes", 2<<20)
	v.SetDefault("blocker.max_text_bytes", 64<<10)

	// -- Diagnostics --
	v.SetDefault("diagnostics.enabled", true)
	v.SetDefault("diagnostics.dir", "debug")
	v.SetDefault("diagnostics.timeout", "20s")

	// -- Server --
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.max_sessions", 2)
	v.SetDefault("server.rate_limit", 1.0)
	v.SetDefault("server.rate_burst", 4)
	v.SetDefault("server.request_timeout", "6m")
	v.SetDefault("server.shutdown_timeout", "15s")

	// -- Database --
	v.SetDefault("database.url", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	_ = v.BindEnv("target.username", EnvPrefix+"_TARGET_USERNAME")
	_ = v.BindEnv("target.password", EnvPrefix+"_TARGET_PASSWORD")
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading "~" in every filesystem path setting.
func (c *Config) expandPaths() error {
	paths := []*string{&c.Retrieval.OutputDir, &c.Diagnostics.Dir, &c.Logger.LogFile, &c.Browser.ExecPath}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
// Credentials are not required here; they are checked per retrieval.
func (c *Config) Validate() error {
	if err := validateHTTPURL("target.login_url", c.Target.LoginURL); err != nil {
		return err
	}
	if err := validateHTTPURL("target.case_base_url", c.Target.CaseBaseURL); err != nil {
		return err
	}
	if strings.TrimSpace(c.Retrieval.Query) == "" {
		return fmt.Errorf("retrieval.query must not be empty")
	}
	if strings.TrimSpace(c.Retrieval.DocumentLabel) == "" {
		return fmt.Errorf("retrieval.document_label must not be empty")
	}
	if c.Retrieval.OutputDir == "" {
		return fmt.Errorf("retrieval.output_dir must not be empty")
	}
	if c.Retrieval.FocusAdvanceToRow < 0 || c.Retrieval.FocusAdvanceToDownload < 0 {
		return fmt.Errorf("retrieval focus advance counts must not be negative")
	}
	if c.Browser.Viewport.Width <= 0 || c.Browser.Viewport.Height <= 0 {
		return fmt.Errorf("browser.viewport width and height must be positive integers")
	}
	if c.Locator.Timeout <= 0 {
		return fmt.Errorf("locator.timeout must be a positive duration")
	}
	if c.Interaction.SettleDelay < 0 || c.Interaction.KeyDelay < 0 {
		return fmt.Errorf("interaction delays must not be negative")
	}
	if c.Blocker.MaxMarkupBytes <= 0 || c.Blocker.MaxTextBytes <= 0 {
		return fmt.Errorf("blocker read limits must be positive integers")
	}
	if c.Diagnostics.Enabled && c.Diagnostics.Dir == "" {
		return fmt.Errorf("diagnostics.dir is required when diagnostics are enabled")
	}
	if c.Server.MaxSessions <= 0 {
		return fmt.Errorf("server.max_sessions must be a positive integer")
	}
	if c.Server.RateLimit <= 0 || c.Server.RateBurst <= 0 {
		return fmt.Errorf("server.rate_limit and server.rate_burst must be positive")
	}
	return nil
}

func validateHTTPURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) URL", key)
	}
	if u.Host == "" {
		return fmt.Errorf("%s is missing a host", key)
	}
	return nil
}
