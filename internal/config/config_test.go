package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/progressive-loader/internal/loader"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "wasm/pongo.wasm", cfg.Loader.AssetPath)
	require.Equal(t, "memory://", cfg.Loader.TargetOrigin)
	require.Equal(t, 500*time.Millisecond, cfg.HandoffDelay())
	require.Equal(t, "wasmBytes", cfg.Loader.MessageField)
	require.Equal(t, "terminal", cfg.Display.Kind)
	require.Equal(t, "blob", cfg.Target.Kind)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.Equal(t, "memory://", cfg.TargetOrigin())
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 4, cfg.Server.Workers)
	require.Equal(t, 64, cfg.Server.QueueDepth)
	require.Equal(t, 32, cfg.Storage.MemoryMaxObjects)
	require.Zero(t, cfg.HTTP.RatePerHost)
	require.True(t, cfg.Progress.Enabled)
	require.Equal(t, "load_runs", cfg.DB.Table)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
loader:
  base_url: https://cdn.example.com/game/
  asset_path: wasm/pongo.wasm
  target_origin: gs://payloads
  handoff_delay_ms: 250
http:
  user_agent: test-agent
  idle_timeout_seconds: 5
  headers:
    X-Env: test
display:
  kind: log
  log_step: 10
target:
  kind: blob
  prefix: wasm
storage:
  backend: gcs
  bucket: payloads
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
logging:
  development: false
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 250*time.Millisecond, cfg.HandoffDelay())
	require.Equal(t, "test-agent", cfg.HTTP.UserAgent)
	require.Equal(t, "test", cfg.HTTP.Headers["x-env"])
	require.Equal(t, "log", cfg.Display.Kind)
	require.Equal(t, "gs://payloads", cfg.TargetOrigin())
	require.False(t, cfg.Logging.Development)
	require.Equal(t, "debug", cfg.Logging.Level)

	asset, err := cfg.AssetURL("")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/game/wasm/pongo.wasm", asset)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LOADER_SERVER_PORT", "7070")
	t.Setenv("LOADER_LOADER_HANDOFF_DELAY_MS", "0")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, loader.NoHandoffDelay, cfg.HandoffDelay())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cases := map[string]func(*Config){
		"wildcard origin":     func(c *Config) { c.Loader.TargetOrigin = "*" },
		"empty origin":        func(c *Config) { c.Loader.TargetOrigin = "" },
		"negative delay":      func(c *Config) { c.Loader.HandoffDelayMs = -1 },
		"unknown display":     func(c *Config) { c.Display.Kind = "gui" },
		"unknown target":      func(c *Config) { c.Target.Kind = "ftp" },
		"unknown backend":     func(c *Config) { c.Storage.Backend = "s3" },
		"gcs without bucket":  func(c *Config) { c.Storage.Backend = "gcs" },
		"local without dir":   func(c *Config) { c.Storage.Backend = "local" },
		"publish no topic":    func(c *Config) { c.Target.Kind = "publish" },
		"browser no page":     func(c *Config) { c.Target.Kind = "browser" },
		"zero port":           func(c *Config) { c.Server.Port = 0 },
		"auth without key":    func(c *Config) { c.Auth.Enabled = true },
		"no asset":            func(c *Config) { c.Loader.AssetPath = "" },
		"negative batch size": func(c *Config) { c.Progress.Batch.MaxEvents = -1 },
		"negative workers":    func(c *Config) { c.Server.Workers = -1 },
		"relative base url":   func(c *Config) { c.Loader.BaseURL = "cdn/game/" },
		"negative rate":       func(c *Config) { c.HTTP.RatePerHost = -2 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestTargetOrigin(t *testing.T) {
	cfg := Config{Target: TargetConfig{Kind: "publish"}, PubSub: PubSubConfig{ProjectID: "proj", TopicName: "wasm"}}
	require.Equal(t, "pubsub://proj/wasm", cfg.TargetOrigin())

	cfg.PubSub.ProjectID = ""
	require.Equal(t, "memory://wasm", cfg.TargetOrigin())

	cfg = Config{Target: TargetConfig{Kind: "blob"}, Storage: StorageConfig{Backend: "local"}}
	cfg.Storage.Local.BaseDir = "/var/payloads"
	require.Equal(t, "file:///var/payloads", cfg.TargetOrigin())

	cfg.Target.Origin = "custom://x"
	require.Equal(t, "custom://x", cfg.TargetOrigin())
}

func TestAssetURLOverride(t *testing.T) {
	cfg := Config{Loader: LoaderConfig{AssetPath: "wasm/pongo.wasm"}}
	got, err := cfg.AssetURL("https://other.example/x.wasm")
	require.NoError(t, err)
	require.Equal(t, "https://other.example/x.wasm", got)

	// Without a base URL the relative default cannot be fetched.
	_, err = cfg.AssetURL("")
	require.ErrorContains(t, err, "not absolute")
	_, err = cfg.AssetURL("/wasm/pongo.wasm")
	require.Error(t, err)
}

func TestDefaultAssetNeedsBaseURL(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	_, err = cfg.AssetURL("")
	require.Error(t, err)

	cfg.Loader.BaseURL = "http://127.0.0.1:8000/"
	got, err := cfg.AssetURL("")
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:8000/wasm/pongo.wasm", got)
}
