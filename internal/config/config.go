// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Store() StoreConfig
	Browser() BrowserConfig
	Page() PageConfig
	Workflow() WorkflowConfig
	Control() ControlConfig
	Notify() NotifyConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	StoreCfg    StoreConfig    `mapstructure:"store" yaml:"store"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	PageCfg     PageConfig     `mapstructure:"page" yaml:"page"`
	WorkflowCfg WorkflowConfig `mapstructure:"workflow" yaml:"workflow"`
	ControlCfg  ControlConfig  `mapstructure:"control" yaml:"control"`
	NotifyCfg   NotifyConfig   `mapstructure:"notify" yaml:"notify"`
}

var _ Interface = (*Config)(nil)

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Store() StoreConfig       { return c.StoreCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Page() PageConfig         { return c.PageCfg }
func (c *Config) Workflow() WorkflowConfig { return c.WorkflowCfg }
func (c *Config) Control() ControlConfig   { return c.ControlCfg }
func (c *Config) Notify() NotifyConfig     { return c.NotifyCfg }

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

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// Store drivers.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// StoreConfig selects and configures the persistent work store backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	// Path is the sqlite database file.
	Path string `mapstructure:"path" yaml:"path"`
	// DSN is the postgres connection string.
	DSN string `mapstructure:"dsn" yaml:"dsn"`
	// Channel is the LISTEN/NOTIFY channel used by the postgres backend.
	Channel string `mapstructure:"channel" yaml:"channel"`
	// Table holds the key/value rows for both SQL backends.
	Table string `mapstructure:"table" yaml:"table"`
}

// BrowserConfig holds settings for the controlled browser tab.
type BrowserConfig struct {
	// RemoteURL attaches to an already running Chrome (ws://... or http://host:9222).
	// When empty a browser is launched.
	RemoteURL   string        `mapstructure:"remote_url" yaml:"remote_url"`
	Headless    bool          `mapstructure:"headless" yaml:"headless"`
	DisableGPU  bool          `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	UserDataDir string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	StartURL    string        `mapstructure:"start_url" yaml:"start_url"`
	Args        []string      `mapstructure:"args" yaml:"args"`
	OpTimeout   time.Duration `mapstructure:"op_timeout" yaml:"op_timeout"`
}

// PageConfig describes how the target site is recognized and where its
// controls live. The output field set itself is fixed in the page package.
type PageConfig struct {
	ListMarker string `mapstructure:"list_marker" yaml:"list_marker"`
	FormMarker string `mapstructure:"form_marker" yaml:"form_marker"`
	SiteMarker string `mapstructure:"site_marker" yaml:"site_marker"`

	PrimaryField   string `mapstructure:"primary_field" yaml:"primary_field"`
	CheckButton    string `mapstructure:"check_button" yaml:"check_button"`
	CheckIdleLabel string `mapstructure:"check_idle_label" yaml:"check_idle_label"`
	CheckBusyLabel string `mapstructure:"check_busy_label" yaml:"check_busy_label"`
	DataField      string `mapstructure:"data_field" yaml:"data_field"`

	AddEntryLink      string `mapstructure:"add_entry_link" yaml:"add_entry_link"`
	AddEntryCandidate string `mapstructure:"add_entry_candidate" yaml:"add_entry_candidate"`
	AddEntryLabel     string `mapstructure:"add_entry_label" yaml:"add_entry_label"`

	SubmitByName   string `mapstructure:"submit_by_name" yaml:"submit_by_name"`
	Form           string `mapstructure:"form" yaml:"form"`
	SubmitLabel    string `mapstructure:"submit_label" yaml:"submit_label"`
	SubmitAltLabel string `mapstructure:"submit_alt_label" yaml:"submit_alt_label"`
	SubmitByValue  string `mapstructure:"submit_by_value" yaml:"submit_by_value"`
	SubmitTypeOnly string `mapstructure:"submit_type_only" yaml:"submit_type_only"`
}

// WorkflowConfig holds every delay, retry budget and threshold the
// orchestrator uses. One "time unit" of the workflow is a second.
type WorkflowConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	SettleDelay      time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	ListPageDelay    time.Duration `mapstructure:"list_page_delay" yaml:"list_page_delay"`
	AddEntryDelay    time.Duration `mapstructure:"add_entry_delay" yaml:"add_entry_delay"`
	FormSettleDelay  time.Duration `mapstructure:"form_settle_delay" yaml:"form_settle_delay"`
	PrefillDelay     time.Duration `mapstructure:"prefill_delay" yaml:"prefill_delay"`
	FieldSettle      time.Duration `mapstructure:"field_settle" yaml:"field_settle"`
	ReadyBackoff     time.Duration `mapstructure:"ready_backoff" yaml:"ready_backoff"`
	ReadyAttempts    int           `mapstructure:"ready_attempts" yaml:"ready_attempts"`
	CheckAttempts    int           `mapstructure:"check_attempts" yaml:"check_attempts"`
	CheckInterval    time.Duration `mapstructure:"check_interval" yaml:"check_interval"`
	DataSignalGrace  int           `mapstructure:"data_signal_grace" yaml:"data_signal_grace"`
	CompletionSettle time.Duration `mapstructure:"completion_settle" yaml:"completion_settle"`
	TimeoutSettle    time.Duration `mapstructure:"timeout_settle" yaml:"timeout_settle"`
	SubmitDelay      time.Duration `mapstructure:"submit_delay" yaml:"submit_delay"`
	FallbackSettle   time.Duration `mapstructure:"fallback_settle" yaml:"fallback_settle"`
	ActivationDelay  time.Duration `mapstructure:"activation_delay" yaml:"activation_delay"`

	// EmptyFieldThreshold: fallback values are injected when more than this
	// many of the output fields are empty after the check.
	EmptyFieldThreshold int    `mapstructure:"empty_field_threshold" yaml:"empty_field_threshold"`
	FallbackStatus      string `mapstructure:"fallback_status" yaml:"fallback_status"`
	DefaultCategory     string `mapstructure:"default_category" yaml:"default_category"`
}

// ControlConfig configures the operator surface and its channel to the agent.
type ControlConfig struct {
	SocketPath         string        `mapstructure:"socket_path" yaml:"socket_path"`
	LockPath           string        `mapstructure:"lock_path" yaml:"lock_path"`
	MaxRetries         int           `mapstructure:"max_retries" yaml:"max_retries"`
	InjectBackoff      time.Duration `mapstructure:"inject_backoff" yaml:"inject_backoff"`
	RetryBackoff       time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	CallTimeout        time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	DefaultRecordsFile string        `mapstructure:"default_records_file" yaml:"default_records_file"`
	Category           string        `mapstructure:"category" yaml:"category"`

	// Categories are offered by the panel.
	Categories []string `mapstructure:"categories" yaml:"categories"`
}

// NotifyConfig configures the operator notification sink.
type NotifyConfig struct {
	NtfyTopic      string        `mapstructure:"ntfy_topic" yaml:"ntfy_topic"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults.
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
	v.SetDefault("logger.service_name", "claimpilot")
	v.SetDefault("logger.log_file", "~/.claimpilot/claimpilot.log")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Store --
	v.SetDefault("store.driver", StoreSQLite)
	v.SetDefault("store.path", "~/.claimpilot/workstore.db")
	v.SetDefault("store.channel", "claimpilot_workstore")
	v.SetDefault("store.table", "workstore")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.disable_gpu", false)
	v.SetDefault("browser.user_data_dir", "~/.claimpilot/chrome-profile")
	v.SetDefault("browser.start_url", "https://sinta.kemdiktisaintek.go.id/profile/iprs")
	v.SetDefault("browser.op_timeout", "15s")

	// -- Page --
	v.SetDefault("page.list_marker", "/profile/iprs")
	v.SetDefault("page.form_marker", "/profile/ipradd")
	v.SetDefault("page.site_marker", "sinta.kemdiktisaintek.go.id/profile/ipr")
	v.SetDefault("page.primary_field", "#nomor_permohonan")
	v.SetDefault("page.check_button", "#checkipr")
	v.SetDefault("page.check_idle_label", "Check IPR")
	v.SetDefault("page.check_busy_label", "Checking...")
	v.SetDefault("page.data_field", "#title")
	v.SetDefault("page.add_entry_link", `a[href*="/profile/ipradd"]`)
	v.SetDefault("page.add_entry_candidate", "a.btn-primary, a.btn")
	v.SetDefault("page.add_entry_label", "Add IPR")
	v.SetDefault("page.submit_by_name", `button[name="claim-ipr"]`)
	v.SetDefault("page.form", `form[method="POST"]`)
	v.SetDefault("page.submit_label", "Claim IPR")
	v.SetDefault("page.submit_alt_label", "claim-ipr")
	v.SetDefault("page.submit_by_value", `button[value="1"][type="submit"]`)
	v.SetDefault("page.submit_type_only", `button[type="submit"]`)

	// -- Workflow --
	v.SetDefault("workflow.poll_interval", "1s")
	v.SetDefault("workflow.settle_delay", "3s")
	v.SetDefault("workflow.list_page_delay", "3s")
	v.SetDefault("workflow.add_entry_delay", "1s")
	v.SetDefault("workflow.form_settle_delay", "4s")
	v.SetDefault("workflow.prefill_delay", "2s")
	v.SetDefault("workflow.field_settle", "500ms")
	v.SetDefault("workflow.ready_backoff", "2s")
	v.SetDefault("workflow.ready_attempts", 10)
	v.SetDefault("workflow.check_attempts", 30)
	v.SetDefault("workflow.check_interval", "800ms")
	v.SetDefault("workflow.data_signal_grace", 3)
	v.SetDefault("workflow.completion_settle", "1500ms")
	v.SetDefault("workflow.timeout_settle", "1s")
	v.SetDefault("workflow.submit_delay", "1500ms")
	v.SetDefault("workflow.fallback_settle", "1s")
	v.SetDefault("workflow.activation_delay", "500ms")
	v.SetDefault("workflow.empty_field_threshold", 6)
	v.SetDefault("workflow.fallback_status", "Diterima")
	v.SetDefault("workflow.default_category", "hak cipta")

	// -- Control --
	v.SetDefault("control.socket_path", "~/.claimpilot/agent.sock")
	v.SetDefault("control.lock_path", "~/.claimpilot/agent.lock")
	v.SetDefault("control.max_retries", 3)
	v.SetDefault("control.inject_backoff", "1s")
	v.SetDefault("control.retry_backoff", "500ms")
	v.SetDefault("control.call_timeout", "2m")
	v.SetDefault("control.default_records_file", "~/.claimpilot/pdki.json")
	v.SetDefault("control.category", "")
	v.SetDefault("control.categories", []string{"paten", "paten sederhana", "hak cipta", "merek", "desain industri"})

	// -- Notify --
	v.SetDefault("notify.ntfy_topic", "")
	v.SetDefault("notify.request_timeout", "10s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	_ = v.BindEnv("store.dsn", "CLAIMPILOT_STORE_DSN")

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

// expandPaths resolves a leading ~ in every filesystem path setting.
func (c *Config) expandPaths() error {
	paths := []*string{
		&c.LoggerCfg.LogFile,
		&c.StoreCfg.Path,
		&c.BrowserCfg.UserDataDir,
		&c.ControlCfg.SocketPath,
		&c.ControlCfg.LockPath,
		&c.ControlCfg.DefaultRecordsFile,
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.StoreCfg.Validate(); err != nil {
		return fmt.Errorf("store configuration invalid: %w", err)
	}
	if err := c.WorkflowCfg.Validate(); err != nil {
		return fmt.Errorf("workflow configuration invalid: %w", err)
	}
	if c.PageCfg.FormMarker == "" || c.PageCfg.ListMarker == "" {
		return fmt.Errorf("page.form_marker and page.list_marker are required")
	}
	if c.ControlCfg.MaxRetries <= 0 {
		return fmt.Errorf("control.max_retries must be a positive integer")
	}
	if c.ControlCfg.SocketPath == "" {
		return fmt.Errorf("control.socket_path is required")
	}
	return nil
}

// Validate checks the store configuration.
func (s *StoreConfig) Validate() error {
	switch strings.ToLower(s.Driver) {
	case StoreSQLite:
		if s.Path == "" {
			return fmt.Errorf("path is required for the sqlite driver")
		}
	case StorePostgres:
		if s.DSN == "" {
			return fmt.Errorf("dsn is required for the postgres driver. Set CLAIMPILOT_STORE_DSN")
		}
		if s.Channel == "" {
			return fmt.Errorf("channel is required for the postgres driver")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown driver %q", s.Driver)
	}
	return nil
}

// Validate checks the workflow timings and budgets.
func (w *WorkflowConfig) Validate() error {
	if w.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if w.CheckAttempts <= 0 {
		return fmt.Errorf("check_attempts must be greater than 0")
	}
	if w.CheckInterval <= 0 {
		return fmt.Errorf("check_interval must be a positive duration")
	}
	if w.ReadyAttempts <= 0 {
		return fmt.Errorf("ready_attempts must be greater than 0")
	}
	if w.EmptyFieldThreshold < 0 {
		return fmt.Errorf("empty_field_threshold must not be negative")
	}
	return nil
}
