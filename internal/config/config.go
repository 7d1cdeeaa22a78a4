// Package config loads and validates poller configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/statuswatch/internal/status"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Poll      PollConfig      `mapstructure:"poll"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Sources   []SourceConfig  `mapstructure:"sources"`
	Publish   PublishConfig   `mapstructure:"publish"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	BindAddr       string        `mapstructure:"bind_addr"`
	Port           int           `mapstructure:"port"`
	FrontendDir    string        `mapstructure:"frontend_dir"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	TriggerRPS     float64       `mapstructure:"trigger_rps"`
	TriggerBurst   int           `mapstructure:"trigger_burst"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.BindAddr, s.Port)
}

// PollConfig governs the poll loop.
type PollConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
	RunOnStart  bool          `mapstructure:"run_on_start"`
}

// HTTPConfig configures the structured-API client.
type HTTPConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Timeout        time.Duration `mapstructure:"timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	RequireHTTPS   bool          `mapstructure:"require_https"`
}

// RetryConfig configures the per-source retry controller.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
}

// BrowserConfig configures scraped sources.
type BrowserConfig struct {
	RemoteURL        string        `mapstructure:"remote_url"`
	UserAgent        string        `mapstructure:"user_agent"`
	WindowWidth      int           `mapstructure:"window_width"`
	WindowHeight     int           `mapstructure:"window_height"`
	ReadyPolls       int           `mapstructure:"ready_polls"`
	ReadyInterval    time.Duration `mapstructure:"ready_interval"`
	SettleDelay      time.Duration `mapstructure:"settle_delay"`
	Attempts         int           `mapstructure:"attempts"`
	AttemptDelay     time.Duration `mapstructure:"attempt_delay"`
	ContainerWait    time.Duration `mapstructure:"container_wait"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	MaxSessions      int           `mapstructure:"max_sessions"`
}

// SourceConfig describes one upstream status page.
type SourceConfig struct {
	Name        string `mapstructure:"name"`
	Kind        string `mapstructure:"kind"`
	URL         string `mapstructure:"url"`
	PageID      string `mapstructure:"page_id"`
	DisplayName string `mapstructure:"display_name"`
}

// PublishConfig enables report sinks. A sink with an empty target is off.
type PublishConfig struct {
	File     FileSinkConfig     `mapstructure:"file"`
	GCS      GCSSinkConfig      `mapstructure:"gcs"`
	Redis    RedisSinkConfig    `mapstructure:"redis"`
	Postgres PostgresSinkConfig `mapstructure:"postgres"`
	PubSub   PubSubSinkConfig   `mapstructure:"pubsub"`
}

// FileSinkConfig writes the report to local disk.
type FileSinkConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
	Name    string `mapstructure:"name"`
}

// GCSSinkConfig uploads the report to a bucket.
type GCSSinkConfig struct {
	Bucket string `mapstructure:"bucket"`
	Object string `mapstructure:"object"`
}

// RedisSinkConfig caches the report under a key.
type RedisSinkConfig struct {
	URL string        `mapstructure:"url"`
	Key string        `mapstructure:"key"`
	TTL time.Duration `mapstructure:"ttl"`
}

// PostgresSinkConfig upserts the latest outcome per source.
type PostgresSinkConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// PubSubSinkConfig publishes a cycle summary.
type PubSubSinkConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TelemetryConfig controls tracing. Spans go to Cloud Trace only when
// ProjectID is set.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v, err := newViper(path)
	if err != nil {
		return Config{}, err
	}
	return decode(v)
}

// Watch loads the config at path and calls onChange with every later
// revision that decodes and validates. Invalid revisions go to onError.
func Watch(path string, onChange func(Config), onError func(error)) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config watch requires a config file")
	}
	v, err := newViper(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := decode(v)
	if err != nil {
		return Config{}, err
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		onChange(next)
	})
	v.WatchConfig()
	return cfg, nil
}

// LoadDotEnv reads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("STATUSWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultSources lists the providers polled when no sources are configured.
func DefaultSources() []SourceConfig {
	return []SourceConfig{
		{Name: "openai", Kind: "api", URL: "https://status.openai.com/api/v2/summary.json", DisplayName: "OpenAI"},
		{Name: "anthropic", Kind: "api", URL: "https://status.anthropic.com/api/v2/summary.json", DisplayName: "Anthropic"},
		{Name: "deepseek", Kind: "api", URL: "https://status.deepseek.com/api/v2/summary.json", DisplayName: "DeepSeek"},
		{Name: "google", Kind: "scrape", URL: "https://aistudio.google.com/status", PageID: "google-ai-studio", DisplayName: "Google"},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.bind_addr", "0.0.0.0")
	v.SetDefault("server.port", 5959)
	v.SetDefault("server.frontend_dir", "frontend")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.trigger_rps", 0.2)
	v.SetDefault("server.trigger_burst", 2)
	v.SetDefault("poll.interval", 5*time.Minute)
	v.SetDefault("poll.concurrency", 4)
	v.SetDefault("poll.run_on_start", true)
	v.SetDefault("http.connect_timeout", 10*time.Second)
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.user_agent", "statuswatch/1.0")
	v.SetDefault("http.require_https", true)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.ready_polls", 10)
	v.SetDefault("browser.ready_interval", 500*time.Millisecond)
	v.SetDefault("browser.settle_delay", 2*time.Second)
	v.SetDefault("browser.attempts", 3)
	v.SetDefault("browser.attempt_delay", 3*time.Second)
	v.SetDefault("browser.container_wait", 45*time.Second)
	v.SetDefault("browser.operation_timeout", 60*time.Second)
	v.SetDefault("browser.max_sessions", 1)
	v.SetDefault("publish.file.enabled", true)
	v.SetDefault("publish.file.dir", "frontend")
	v.SetDefault("publish.file.name", "status.json")
	v.SetDefault("publish.gcs.object", "status.json")
	v.SetDefault("publish.redis.key", "statuswatch:status")
	v.SetDefault("publish.redis.ttl", 15*time.Minute)
	v.SetDefault("publish.postgres.table", "source_status")
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.service_name", "statuswatch")
	v.SetDefault("telemetry.sample_ratio", 1.0)

	defaults := make([]map[string]any, 0, 4)
	for _, s := range DefaultSources() {
		defaults = append(defaults, map[string]any{
			"name":         s.Name,
			"kind":         s.Kind,
			"url":          s.URL,
			"page_id":      s.PageID,
			"display_name": s.DisplayName,
		})
	}
	v.SetDefault("sources", defaults)
}

// DisplayNames maps each source name to its display name, falling back to
// the source name.
func (c Config) DisplayNames() map[string]string {
	out := make(map[string]string, len(c.Sources))
	for _, sc := range c.Sources {
		if sc.DisplayName != "" {
			out[sc.Name] = sc.DisplayName
		} else {
			out[sc.Name] = sc.Name
		}
	}
	return out
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.TriggerRPS < 0 || c.Server.TriggerBurst < 0 {
		return fmt.Errorf("server.trigger_rps and server.trigger_burst must be >= 0")
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be > 0")
	}
	if c.Poll.Concurrency <= 0 {
		return fmt.Errorf("poll.concurrency must be > 0")
	}
	if c.HTTP.ConnectTimeout <= 0 || c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.connect_timeout and http.timeout must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("retry.base_delay must be >= 0")
	}
	if c.Browser.Attempts <= 0 {
		return fmt.Errorf("browser.attempts must be > 0")
	}
	if c.Browser.MaxSessions <= 0 {
		return fmt.Errorf("browser.max_sessions must be > 0")
	}
	if c.Publish.File.Enabled && c.Publish.File.Name == "" {
		return fmt.Errorf("publish.file.name must be set when the file sink is enabled")
	}
	if c.Publish.PubSub.Topic != "" && c.Publish.PubSub.ProjectID == "" {
		return fmt.Errorf("publish.pubsub.project_id must be set when a topic is configured")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	return c.validateSources()
}

func (c Config) validateSources() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for i, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("sources[%d].name must be set", i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("sources[%d].name %q is duplicated", i, s.Name)
		}
		seen[s.Name] = struct{}{}
		if _, err := status.ParseSourceKind(s.Kind); err != nil {
			return fmt.Errorf("sources[%d].kind: %w", i, err)
		}
		u, err := url.Parse(s.URL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("sources[%d].url is invalid: %q", i, s.URL)
		}
		if c.HTTP.RequireHTTPS && u.Scheme != "https" {
			return fmt.Errorf("sources[%d].url must use https", i)
		}
	}
	return nil
}
