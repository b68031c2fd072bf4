// Package config loads and validates loader configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/progressive-loader/internal/loader"
	"github.com/JakeFAU/progressive-loader/internal/storage/local"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Loader   LoaderConfig   `mapstructure:"loader"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Display  DisplayConfig  `mapstructure:"display"`
	Target   TargetConfig   `mapstructure:"target"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Progress ProgressConfig `mapstructure:"progress"`
	DB       DBConfig       `mapstructure:"db"`
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// LoaderConfig controls the fetch pipeline.
type LoaderConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	AssetPath string `mapstructure:"asset_path"`

	// TargetOrigin is the origin the content target must report before any
	// bytes are handed over.
	TargetOrigin   string `mapstructure:"target_origin"`
	HandoffDelayMs int    `mapstructure:"handoff_delay_ms"`
	ReadBufferSize int    `mapstructure:"read_buffer_size"`
	MessageField   string `mapstructure:"message_field"`
}

// HTTPConfig tunes the payload transport.
type HTTPConfig struct {
	UserAgent                    string            `mapstructure:"user_agent"`
	ConnectTimeoutSeconds        int               `mapstructure:"connect_timeout_seconds"`
	ResponseHeaderTimeoutSeconds int               `mapstructure:"response_header_timeout_seconds"`
	IdleTimeoutSeconds           int               `mapstructure:"idle_timeout_seconds"`
	Headers                      map[string]string `mapstructure:"headers"`
	RatePerHost                  float64           `mapstructure:"rate_per_host"`
	RateBurst                    int               `mapstructure:"rate_burst"`
}

// DisplayConfig picks how progress is shown for CLI loads.
type DisplayConfig struct {
	// Kind is "terminal" or "log".
	Kind    string `mapstructure:"kind"`
	Label   string `mapstructure:"label"`
	Width   int    `mapstructure:"width"`
	LogStep int    `mapstructure:"log_step"`
}

// TargetConfig picks where payloads are delivered.
type TargetConfig struct {
	// Kind is "blob", "publish" or "browser".
	Kind string `mapstructure:"kind"`

	// Origin overrides the origin the target reports about itself.
	Origin string `mapstructure:"origin"`
	Prefix string `mapstructure:"prefix"`
}

// StorageConfig selects the blob backend.
type StorageConfig struct {
	// Backend is "memory", "local" or "gcs".
	Backend      string       `mapstructure:"backend"`
	Bucket       string       `mapstructure:"bucket"`
	CacheControl string       `mapstructure:"cache_control"`
	Local        local.Config `mapstructure:"local"`
	// MemoryMaxObjects bounds the memory backend; the oldest payload is
	// evicted first. Zero means unbounded.
	MemoryMaxObjects int `mapstructure:"memory_max_objects"`
}

// PubSubConfig holds metadata for publish-subscribe delivery.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// BrowserConfig configures the headless page hosting the content frame.
type BrowserConfig struct {
	PageURL           string `mapstructure:"page_url"`
	FrameOrigin       string `mapstructure:"frame_origin"`
	ExecPath          string `mapstructure:"exec_path"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	FrameSelector     string `mapstructure:"frame_selector"`
	ProgressSelector  string `mapstructure:"progress_selector"`
	LoadingSelector   string `mapstructure:"loading_selector"`
}

// ProgressConfig controls the progress event hub and its sinks.
type ProgressConfig struct {
	Enabled        bool        `mapstructure:"enabled"`
	LogEnabled     bool        `mapstructure:"log_enabled"`
	MetricsEnabled bool        `mapstructure:"metrics_enabled"`
	BufferSize     int         `mapstructure:"buffer_size"`
	Batch          BatchConfig `mapstructure:"batch"`
	SinkTimeoutMs  int         `mapstructure:"sink_timeout_ms"`
}

// BatchConfig bounds hub batches.
type BatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// DBConfig controls access to the load run table.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	EnsureSchema           bool   `mapstructure:"ensure_schema"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ShutdownSeconds int `mapstructure:"shutdown_seconds"`
	Workers         int `mapstructure:"workers"`
	QueueDepth      int `mapstructure:"queue_depth"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// TracingConfig controls OpenTelemetry spans around loads.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Version     string  `mapstructure:"version"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LOADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("loader.base_url", "")
	v.SetDefault("loader.asset_path", "wasm/pongo.wasm")
	v.SetDefault("loader.target_origin", "memory://")
	v.SetDefault("loader.handoff_delay_ms", 500)
	v.SetDefault("loader.read_buffer_size", 32*1024)
	v.SetDefault("loader.message_field", "wasmBytes")
	v.SetDefault("http.user_agent", "progressive-loader/0.1")
	v.SetDefault("http.connect_timeout_seconds", 10)
	v.SetDefault("http.response_header_timeout_seconds", 30)
	v.SetDefault("http.idle_timeout_seconds", 60)
	v.SetDefault("http.rate_per_host", 0)
	v.SetDefault("http.rate_burst", 1)
	v.SetDefault("display.kind", "terminal")
	v.SetDefault("display.label", "loading")
	v.SetDefault("display.log_step", 25)
	v.SetDefault("target.kind", "blob")
	v.SetDefault("target.origin", "")
	v.SetDefault("target.prefix", "payloads")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.memory_max_objects", 32)
	v.SetDefault("storage.local.base_dir", "")
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.metrics_enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch.max_events", 256)
	v.SetDefault("progress.batch.max_wait_ms", 250)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("db.table", "load_runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("db.ensure_schema", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_seconds", 10)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "progressive-loader")
	v.SetDefault("tracing.version", "dev")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("server.workers", 4)
	v.SetDefault("server.queue_depth", 64)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Loader.AssetPath) == "" && strings.TrimSpace(c.Loader.BaseURL) == "" {
		return errors.New("loader.asset_path or loader.base_url must be set")
	}
	if c.Loader.BaseURL != "" {
		u, err := url.Parse(c.Loader.BaseURL)
		if err != nil {
			return fmt.Errorf("loader.base_url is invalid: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return errors.New("loader.base_url must be an absolute url")
		}
	}
	switch strings.TrimSpace(c.Loader.TargetOrigin) {
	case "":
		return errors.New("loader.target_origin must be set")
	case "*":
		return errors.New("loader.target_origin must name an explicit origin, not *")
	}
	if c.Loader.HandoffDelayMs < 0 {
		return errors.New("loader.handoff_delay_ms must be >= 0")
	}
	if c.Loader.ReadBufferSize < 0 {
		return errors.New("loader.read_buffer_size must be >= 0")
	}
	if c.HTTP.IdleTimeoutSeconds < 0 {
		return errors.New("http.idle_timeout_seconds must be >= 0")
	}
	switch c.Display.Kind {
	case "terminal", "log":
	default:
		return fmt.Errorf("display.kind %q is not one of terminal, log", c.Display.Kind)
	}
	if err := c.validateTarget(); err != nil {
		return err
	}
	if c.Progress.BufferSize < 0 || c.Progress.Batch.MaxEvents < 0 {
		return errors.New("progress buffer and batch sizes must be >= 0")
	}
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Storage.MemoryMaxObjects < 0 {
		return errors.New("storage.memory_max_objects must be >= 0")
	}
	if c.Server.Workers < 0 || c.Server.QueueDepth < 0 {
		return errors.New("server.workers and server.queue_depth must be >= 0")
	}
	if c.HTTP.RatePerHost < 0 {
		return errors.New("http.rate_per_host must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	return nil
}

func (c Config) validateTarget() error {
	switch c.Target.Kind {
	case "blob":
		switch c.Storage.Backend {
		case "memory":
		case "local":
			if strings.TrimSpace(c.Storage.Local.BaseDir) == "" {
				return errors.New("storage.local.base_dir must be set for the local backend")
			}
		case "gcs":
			if strings.TrimSpace(c.Storage.Bucket) == "" {
				return errors.New("storage.bucket must be set for the gcs backend")
			}
		default:
			return fmt.Errorf("storage.backend %q is not one of memory, local, gcs", c.Storage.Backend)
		}
	case "publish":
		if strings.TrimSpace(c.PubSub.TopicName) == "" {
			return errors.New("pubsub.topic_name must be set for the publish target")
		}
	case "browser":
		if strings.TrimSpace(c.Browser.PageURL) == "" {
			return errors.New("browser.page_url must be set for the browser target")
		}
	default:
		return fmt.Errorf("target.kind %q is not one of blob, publish, browser", c.Target.Kind)
	}
	return nil
}

// AssetURL resolves loader.asset_path (or an explicit override) against
// loader.base_url.
func (c Config) AssetURL(override string) (string, error) {
	ref := strings.TrimSpace(override)
	if ref == "" {
		ref = c.Loader.AssetPath
	}
	rel, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse asset path: %w", err)
	}
	resolved := rel
	if c.Loader.BaseURL != "" {
		base, err := url.Parse(c.Loader.BaseURL)
		if err != nil {
			return "", fmt.Errorf("parse base url: %w", err)
		}
		resolved = base.ResolveReference(rel)
	}
	if resolved.Scheme == "" || resolved.Host == "" {
		return "", fmt.Errorf("asset url %q is not absolute: set loader.base_url or pass an absolute url", resolved.String())
	}
	return resolved.String(), nil
}

// TargetOrigin returns the origin the configured target reports: the explicit
// target.origin when set, otherwise one derived from the backend.
func (c Config) TargetOrigin() string {
	if c.Target.Origin != "" {
		return c.Target.Origin
	}
	switch c.Target.Kind {
	case "publish":
		if c.PubSub.ProjectID == "" {
			return "memory://" + c.PubSub.TopicName
		}
		return "pubsub://" + c.PubSub.ProjectID + "/" + c.PubSub.TopicName
	case "browser":
		return c.Browser.FrameOrigin
	}
	switch c.Storage.Backend {
	case "local":
		return "file://" + c.Storage.Local.BaseDir
	case "gcs":
		return "gs://" + c.Storage.Bucket
	default:
		return "memory://"
	}
}

// HandoffDelay converts loader.handoff_delay_ms into a loader option. An
// explicit 0 means no delay.
func (c Config) HandoffDelay() time.Duration {
	if c.Loader.HandoffDelayMs == 0 {
		return loader.NoHandoffDelay
	}
	return time.Duration(c.Loader.HandoffDelayMs) * time.Millisecond
}

// ShutdownTimeout converts server.shutdown_seconds into a duration.
func (c Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}
