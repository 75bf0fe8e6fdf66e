// Package config loads runtime parameters from a file and the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/vrischmann/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters. Zero values mean "unspecified" and are
// replaced by WithDefaults.
type Config struct {
	PoolURL       string   `json:"pool_url" yaml:"pool_url" toml:"pool_url"`
	BackendURL    string   `json:"backend_url" yaml:"backend_url" toml:"backend_url"`
	Addr          string   `json:"addr" yaml:"addr" toml:"addr"`
	HostName      string   `json:"host_name" yaml:"host_name" toml:"host_name"`
	AllowedModels []string `json:"allowed_models" yaml:"allowed_models" toml:"allowed_models"`
	AutoEnable    *bool    `json:"auto_enable" yaml:"auto_enable" toml:"auto_enable"`
	MaxConcurrent int      `json:"max_concurrent" yaml:"max_concurrent" toml:"max_concurrent"`
	Capabilities  []string `json:"capabilities" yaml:"capabilities" toml:"capabilities"`
	VRAMTotalGB   float64  `json:"vram_total_gb" yaml:"vram_total_gb" toml:"vram_total_gb"`

	ModelsTTL         Duration `json:"models_ttl" yaml:"models_ttl" toml:"models_ttl"`
	HeartbeatInterval Duration `json:"heartbeat_interval" yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	PollInterval      Duration `json:"poll_interval" yaml:"poll_interval" toml:"poll_interval"`
	IdleInterval      Duration `json:"idle_interval" yaml:"idle_interval" toml:"idle_interval"`
	PollMode          string   `json:"poll_mode" yaml:"poll_mode" toml:"poll_mode"`

	VerifyAttempts  int      `json:"verify_attempts" yaml:"verify_attempts" toml:"verify_attempts"`
	VerifyDelay     Duration `json:"verify_delay" yaml:"verify_delay" toml:"verify_delay"`
	ConfirmAttempts int      `json:"confirm_attempts" yaml:"confirm_attempts" toml:"confirm_attempts"`
	ConfirmDelay    Duration `json:"confirm_delay" yaml:"confirm_delay" toml:"confirm_delay"`

	JoinTimeout   Duration `json:"join_timeout" yaml:"join_timeout" toml:"join_timeout"`
	PingTimeout   Duration `json:"ping_timeout" yaml:"ping_timeout" toml:"ping_timeout"`
	LeaveTimeout  Duration `json:"leave_timeout" yaml:"leave_timeout" toml:"leave_timeout"`
	PollTimeout   Duration `json:"poll_timeout" yaml:"poll_timeout" toml:"poll_timeout"`
	SubmitTimeout Duration `json:"submit_timeout" yaml:"submit_timeout" toml:"submit_timeout"`
	ChatTimeout   Duration `json:"chat_timeout" yaml:"chat_timeout" toml:"chat_timeout"`
	EmbedTimeout  Duration `json:"embed_timeout" yaml:"embed_timeout" toml:"embed_timeout"`
	TagsTimeout   Duration `json:"tags_timeout" yaml:"tags_timeout" toml:"tags_timeout"`

	AdmissionWait   Duration `json:"admission_wait" yaml:"admission_wait" toml:"admission_wait"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" toml:"shutdown_timeout"`

	HistoryPath string   `json:"history_path" yaml:"history_path" toml:"history_path"`
	LogLevel    string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat   string   `json:"log_format" yaml:"log_format" toml:"log_format"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// env mirrors the settings that may come from the environment.
type env struct {
	PoolURL       string   `envconfig:"ANDY_API_URL"`
	BackendURL    string   `envconfig:"OLLAMA_URL"`
	Addr          string   `envconfig:"ANDYHOST_ADDR"`
	HostName      string   `envconfig:"ANDYHOST_HOST_NAME"`
	AllowedModels []string `envconfig:"ANDYHOST_ALLOWED_MODELS"`
	AutoEnable    *bool    `envconfig:"ANDYHOST_AUTO_ENABLE"`
	MaxConcurrent int      `envconfig:"ANDYHOST_MAX_CONCURRENT"`
	Capabilities  []string `envconfig:"ANDYHOST_CAPABILITIES"`
	VRAMTotalGB   float64  `envconfig:"ANDYHOST_VRAM_TOTAL_GB"`

	HeartbeatInterval time.Duration `envconfig:"ANDYHOST_HEARTBEAT_INTERVAL"`
	PollInterval      time.Duration `envconfig:"ANDYHOST_POLL_INTERVAL"`
	PollMode          string        `envconfig:"ANDYHOST_POLL_MODE"`
	ShutdownTimeout   time.Duration `envconfig:"ANDYHOST_SHUTDOWN_TIMEOUT"`

	HistoryPath string   `envconfig:"ANDYHOST_HISTORY_PATH"`
	LogLevel    string   `envconfig:"ANDYHOST_LOG_LEVEL"`
	LogFormat   string   `envconfig:"ANDYHOST_LOG_FORMAT"`
	CORSOrigins []string `envconfig:"ANDYHOST_CORS_ORIGINS"`
}

// FromEnv overlays environment variables on cfg. Unset variables leave the
// corresponding field unchanged.
func FromEnv(cfg Config) (Config, error) {
	var e env
	if err := envconfig.InitWithOptions(&e, envconfig.Options{AllOptional: true, LeaveNil: true}); err != nil {
		return cfg, fmt.Errorf("read environment: %w", err)
	}
	setStr(&cfg.PoolURL, e.PoolURL)
	setStr(&cfg.BackendURL, e.BackendURL)
	setStr(&cfg.Addr, e.Addr)
	setStr(&cfg.HostName, e.HostName)
	setStr(&cfg.PollMode, e.PollMode)
	setStr(&cfg.HistoryPath, e.HistoryPath)
	setStr(&cfg.LogLevel, e.LogLevel)
	setStr(&cfg.LogFormat, e.LogFormat)
	if len(e.AllowedModels) > 0 {
		cfg.AllowedModels = e.AllowedModels
	}
	if len(e.Capabilities) > 0 {
		cfg.Capabilities = e.Capabilities
	}
	if len(e.CORSOrigins) > 0 {
		cfg.CORSOrigins = e.CORSOrigins
	}
	if e.AutoEnable != nil {
		cfg.AutoEnable = e.AutoEnable
	}
	if e.MaxConcurrent != 0 {
		cfg.MaxConcurrent = e.MaxConcurrent
	}
	if e.VRAMTotalGB != 0 {
		cfg.VRAMTotalGB = e.VRAMTotalGB
	}
	setDur(&cfg.HeartbeatInterval, e.HeartbeatInterval)
	setDur(&cfg.PollInterval, e.PollInterval)
	setDur(&cfg.ShutdownTimeout, e.ShutdownTimeout)
	return cfg, nil
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDur(dst *Duration, v time.Duration) {
	if v != 0 {
		*dst = Duration(v)
	}
}

// Defaults used for unspecified values.
var defaults = Config{
	PoolURL:           "https://mindcraft.riqvip.dev",
	BackendURL:        "http://localhost:11434",
	Addr:              ":5000",
	MaxConcurrent:     2,
	ModelsTTL:         Duration(5 * time.Minute),
	HeartbeatInterval: Duration(60 * time.Second),
	PollInterval:      Duration(2 * time.Second),
	IdleInterval:      Duration(5 * time.Second),
	PollMode:          "short",
	VerifyAttempts:    3,
	VerifyDelay:       Duration(2 * time.Second),
	ConfirmAttempts:   5,
	ConfirmDelay:      Duration(2 * time.Second),
	JoinTimeout:       Duration(30 * time.Second),
	PingTimeout:       Duration(10 * time.Second),
	LeaveTimeout:      Duration(10 * time.Second),
	PollTimeout:       Duration(10 * time.Second),
	SubmitTimeout:     Duration(10 * time.Second),
	ChatTimeout:       Duration(120 * time.Second),
	EmbedTimeout:      Duration(60 * time.Second),
	TagsTimeout:       Duration(10 * time.Second),
	AdmissionWait:     Duration(30 * time.Second),
	ShutdownTimeout:   Duration(30 * time.Second),
	LogLevel:          "info",
	LogFormat:         "console",
}

// WithDefaults fills zero values. Long-poll mode gets a poll timeout that
// outlasts the coordinator's hold time.
func (c Config) WithDefaults() Config {
	d := defaults
	if c.PollMode == "long" && c.PollTimeout == 0 {
		c.PollTimeout = Duration(60 * time.Second)
	}
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&c.PoolURL, d.PoolURL)
	fill(&c.BackendURL, d.BackendURL)
	fill(&c.Addr, d.Addr)
	fill(&c.PollMode, d.PollMode)
	fill(&c.LogLevel, d.LogLevel)
	fill(&c.LogFormat, d.LogFormat)
	if c.AutoEnable == nil {
		on := true
		c.AutoEnable = &on
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.VerifyAttempts == 0 {
		c.VerifyAttempts = d.VerifyAttempts
	}
	if c.ConfirmAttempts == 0 {
		c.ConfirmAttempts = d.ConfirmAttempts
	}
	for _, p := range []durationDefault{
		{&c.ModelsTTL, d.ModelsTTL},
		{&c.HeartbeatInterval, d.HeartbeatInterval},
		{&c.PollInterval, d.PollInterval},
		{&c.IdleInterval, d.IdleInterval},
		{&c.VerifyDelay, d.VerifyDelay},
		{&c.ConfirmDelay, d.ConfirmDelay},
		{&c.JoinTimeout, d.JoinTimeout},
		{&c.PingTimeout, d.PingTimeout},
		{&c.LeaveTimeout, d.LeaveTimeout},
		{&c.PollTimeout, d.PollTimeout},
		{&c.SubmitTimeout, d.SubmitTimeout},
		{&c.ChatTimeout, d.ChatTimeout},
		{&c.EmbedTimeout, d.EmbedTimeout},
		{&c.TagsTimeout, d.TagsTimeout},
		{&c.AdmissionWait, d.AdmissionWait},
		{&c.ShutdownTimeout, d.ShutdownTimeout},
	} {
		if *p.dst == 0 {
			*p.dst = p.def
		}
	}
	return c
}

type durationDefault struct {
	dst *Duration
	def Duration
}

// Validate rejects unusable settings. It expects defaults to be applied.
func (c Config) Validate() error {
	var errs []error
	for _, f := range [][2]string{{"pool_url", c.PoolURL}, {"backend_url", c.BackendURL}} {
		u, err := url.Parse(f[1])
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s: invalid http(s) url %q", f[0], f[1]))
		}
	}
	if c.PollMode != "short" && c.PollMode != "long" {
		errs = append(errs, fmt.Errorf("poll_mode: must be short or long, got %q", c.PollMode))
	}
	if c.VerifyAttempts <= 0 {
		errs = append(errs, errors.New("verify_attempts: must be positive"))
	}
	if c.ConfirmAttempts <= 0 {
		errs = append(errs, errors.New("confirm_attempts: must be positive"))
	}
	if c.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("max_concurrent: must be positive"))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("log_format: must be json or console, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Enabled reports the effective auto_enable value.
func (c Config) Enabled() bool { return c.AutoEnable == nil || *c.AutoEnable }
