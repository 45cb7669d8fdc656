// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/gazette-archiver/internal/gazette"
	"github.com/JakeFAU/gazette-archiver/internal/pipeline"
)

// EnvPrefix namespaces environment overrides, e.g. GAZETTE_SERVER_PORT.
const EnvPrefix = "GAZETTE"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Source   SourceConfig   `mapstructure:"source"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Records  RecordsConfig  `mapstructure:"records"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Relay    RelayConfig    `mapstructure:"relay"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// CronSecret, when set, must be presented as a Bearer token on the cron endpoint.
	CronSecret             string `mapstructure:"cron_secret"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SourceConfig describes the gazette site and notice filter.
type SourceConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	ListingPath string `mapstructure:"listing_path"`
	Marker      string `mapstructure:"marker"`
	Suffix      string `mapstructure:"suffix"`
}

// HTTPConfig configures outbound requests.
type HTTPConfig struct {
	ListingTimeoutSeconds  int      `mapstructure:"listing_timeout_seconds"`
	DownloadTimeoutSeconds int      `mapstructure:"download_timeout_seconds"`
	RelayTimeoutSeconds    int      `mapstructure:"relay_timeout_seconds"`
	RequestsPerSecond      float64  `mapstructure:"requests_per_second"`
	Burst                  int      `mapstructure:"burst"`
	MaxDocumentMB          int      `mapstructure:"max_document_mb"`
	UserAgents             []string `mapstructure:"user_agents"`
}

// PipelineConfig controls scheduling and re-attempts.
type PipelineConfig struct {
	Schedule          string `mapstructure:"schedule"`
	RunOnStart        bool   `mapstructure:"run_on_start"`
	RunTimeoutSeconds int    `mapstructure:"run_timeout_seconds"`
	RetryFailed       bool   `mapstructure:"retry_failed"`
	StaleAfterMinutes int    `mapstructure:"stale_after_minutes"`
	// Workers is the number of download workers draining the in-process queue.
	Workers int `mapstructure:"workers"`
}

// RecordsConfig selects the record store backend.
type RecordsConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
	// MaxConnLifetimeMinutes caps the age of pooled Postgres connections.
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	Path                   string `mapstructure:"path"`
	ProjectID              string `mapstructure:"project_id"`
	Collection             string `mapstructure:"collection"`
}

// StorageConfig selects the blob store backend.
type StorageConfig struct {
	Driver          string `mapstructure:"driver"`
	Bucket          string `mapstructure:"bucket"`
	ProjectID       string `mapstructure:"project_id"`
	Location        string `mapstructure:"location"`
	BaseDir         string `mapstructure:"base_dir"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	ContentType     string `mapstructure:"content_type"`
	CacheControl    string `mapstructure:"cache_control"`
}

// RelayConfig selects how stages notify each other.
type RelayConfig struct {
	Driver        string `mapstructure:"driver"`
	QueueDepth    int    `mapstructure:"queue_depth"`
	BaseURL       string `mapstructure:"base_url"`
	ProjectID     string `mapstructure:"project_id"`
	DownloadTopic string `mapstructure:"download_topic"`
	ProcessTopic  string `mapstructure:"process_topic"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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

// Every key gets a default so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cron_secret", "")
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("logging.development", false)
	v.SetDefault("source.base_url", "https://www.saflii.org")
	v.SetDefault("source.listing_path", "/za/gaz/ZAGovGaz/{year}/")
	v.SetDefault("source.marker", "Notice B")
	v.SetDefault("source.suffix", ".pdf")
	v.SetDefault("http.listing_timeout_seconds", 30)
	v.SetDefault("http.download_timeout_seconds", 60)
	v.SetDefault("http.relay_timeout_seconds", 10)
	v.SetDefault("http.requests_per_second", 1.0)
	v.SetDefault("http.burst", 2)
	v.SetDefault("http.max_document_mb", 50)
	v.SetDefault("http.user_agents", []string{})
	v.SetDefault("pipeline.schedule", "0 * * * *")
	v.SetDefault("pipeline.run_on_start", false)
	v.SetDefault("pipeline.run_timeout_seconds", 600)
	v.SetDefault("pipeline.retry_failed", false)
	v.SetDefault("pipeline.stale_after_minutes", 0)
	v.SetDefault("pipeline.workers", 1)
	v.SetDefault("records.driver", "memory")
	v.SetDefault("records.dsn", "")
	v.SetDefault("records.table", "scraped_pdfs")
	v.SetDefault("records.max_conns", 4)
	v.SetDefault("records.min_conns", 0)
	v.SetDefault("records.max_conn_lifetime_minutes", 30)
	v.SetDefault("records.path", "gazette.db")
	v.SetDefault("records.project_id", "")
	v.SetDefault("records.collection", "scraped_pdfs")
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.bucket", "sheriff-auction-pdfs")
	v.SetDefault("storage.project_id", "")
	v.SetDefault("storage.location", "")
	v.SetDefault("storage.base_dir", "data")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key_id", "")
	v.SetDefault("storage.secret_access_key", "")
	v.SetDefault("storage.use_path_style", false)
	v.SetDefault("storage.content_type", "application/pdf")
	v.SetDefault("storage.cache_control", "max-age=3600")
	v.SetDefault("relay.driver", "queue")
	v.SetDefault("relay.queue_depth", 64)
	v.SetDefault("relay.base_url", "")
	v.SetDefault("relay.project_id", "")
	v.SetDefault("relay.download_topic", "gazette-download")
	v.SetDefault("relay.process_topic", "gazette-process")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Source.BaseURL == "" || c.Source.ListingPath == "" {
		return fmt.Errorf("source.base_url and source.listing_path are required")
	}
	if c.Source.Marker == "" || c.Source.Suffix == "" {
		return fmt.Errorf("source.marker and source.suffix are required")
	}
	if c.HTTP.ListingTimeoutSeconds <= 0 || c.HTTP.DownloadTimeoutSeconds <= 0 {
		return fmt.Errorf("http timeouts must be > 0")
	}
	if c.HTTP.RelayTimeoutSeconds <= 0 || c.HTTP.RelayTimeoutSeconds > 10 {
		return fmt.Errorf("http.relay_timeout_seconds must be between 1 and 10")
	}
	if c.HTTP.MaxDocumentMB <= 0 {
		return fmt.Errorf("http.max_document_mb must be > 0")
	}
	if c.Pipeline.StaleAfterMinutes < 0 {
		return fmt.Errorf("pipeline.stale_after_minutes must be >= 0")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if err := c.Records.validate(); err != nil {
		return err
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	return c.Relay.validate()
}

func (r RecordsConfig) validate() error {
	switch r.Driver {
	case "memory":
	case "postgres":
		if r.DSN == "" {
			return fmt.Errorf("records.dsn is required for postgres")
		}
	case "sqlite":
		if r.Path == "" {
			return fmt.Errorf("records.path is required for sqlite")
		}
	case "firestore":
		if r.ProjectID == "" {
			return fmt.Errorf("records.project_id is required for firestore")
		}
	default:
		return fmt.Errorf("unknown records.driver %q", r.Driver)
	}
	return nil
}

func (s StorageConfig) validate() error {
	switch s.Driver {
	case "memory":
	case "local":
		if s.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for local storage")
		}
	case "gcs", "s3":
		if s.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for %s", s.Driver)
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", s.Driver)
	}
	return nil
}

func (r RelayConfig) validate() error {
	switch r.Driver {
	case "queue":
		if r.QueueDepth <= 0 {
			return fmt.Errorf("relay.queue_depth must be > 0")
		}
	case "http":
		if r.BaseURL == "" {
			return fmt.Errorf("relay.base_url is required for the http relay")
		}
	case "pubsub":
		if r.ProjectID == "" || r.DownloadTopic == "" {
			return fmt.Errorf("relay.project_id and relay.download_topic are required for pubsub")
		}
	default:
		return fmt.Errorf("unknown relay.driver %q", r.Driver)
	}
	return nil
}

// GazetteSource converts the source section into the domain type.
func (c Config) GazetteSource() gazette.Source {
	return gazette.Source{
		Origin:          c.Source.BaseURL,
		ListingTemplate: c.Source.ListingPath,
		Marker:          c.Source.Marker,
		Suffix:          c.Source.Suffix,
	}
}

// RetryPolicy converts the pipeline section into a retry policy.
func (c Config) RetryPolicy() pipeline.RetryPolicy {
	return pipeline.RetryPolicy{
		RetryFailed: c.Pipeline.RetryFailed,
		StaleAfter:  time.Duration(c.Pipeline.StaleAfterMinutes) * time.Minute,
	}
}

// ListingTimeout returns the listing fetch timeout.
func (c Config) ListingTimeout() time.Duration {
	return time.Duration(c.HTTP.ListingTimeoutSeconds) * time.Second
}

// DownloadTimeout returns the document fetch timeout.
func (c Config) DownloadTimeout() time.Duration {
	return time.Duration(c.HTTP.DownloadTimeoutSeconds) * time.Second
}

// RelayTimeout returns the per-dispatch relay timeout.
func (c Config) RelayTimeout() time.Duration {
	return time.Duration(c.HTTP.RelayTimeoutSeconds) * time.Second
}

// RunTimeout bounds a single detection pass.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Pipeline.RunTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// MaxDocumentBytes returns the document size cap in bytes.
func (c Config) MaxDocumentBytes() int {
	return c.HTTP.MaxDocumentMB << 20
}
