// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	DB      DBConfig      `mapstructure:"db"`
	Archive ArchiveConfig `mapstructure:"archive"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the ops HTTP server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlConfig governs seed selection, pagination, and worker-pool behavior.
type CrawlConfig struct {
	SeedURLs           []string `mapstructure:"seed_urls"`
	BaseURL            string   `mapstructure:"base_url"`
	Concurrency        int      `mapstructure:"concurrency"`
	QueueDepth         int      `mapstructure:"queue_depth"`
	DelaySeconds       int      `mapstructure:"delay_seconds"`
	RandomDelaySeconds int      `mapstructure:"random_delay_seconds"`
	UserAgents         []string `mapstructure:"user_agents"`
	RespectRobots      bool     `mapstructure:"respect_robots"`
}

// HTTPConfig configures the fetch client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// DBConfig controls access to the relational database. DSN wins when set;
// otherwise the connection string is assembled from the discrete fields.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// ArchiveConfig controls raw-document archiving.
type ArchiveConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Backend     string `mapstructure:"backend"`
	BaseDir     string `mapstructure:"base_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for thread-persisted notifications. Publishing
// is enabled only when both fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawl.seed_urls", []string{"https://www.reddit.com/r/wallstreetbets.json"})
	v.SetDefault("crawl.base_url", "https://www.reddit.com")
	v.SetDefault("crawl.concurrency", 4)
	v.SetDefault("crawl.queue_depth", 64)
	v.SetDefault("crawl.delay_seconds", 5)
	v.SetDefault("crawl.random_delay_seconds", 15)
	v.SetDefault("crawl.user_agents", []string{})
	v.SetDefault("crawl.respect_robots", false)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "harvester")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.ssl_mode", "disable")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.backend", "local")
	v.SetDefault("archive.base_dir", "data/raw")
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("archive.content_type", "application/json")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port < 0 {
		return fmt.Errorf("server.port must be >= 0")
	}
	if len(c.Crawl.SeedURLs) == 0 {
		return fmt.Errorf("crawl.seed_urls must not be empty")
	}
	if c.Crawl.BaseURL == "" {
		return fmt.Errorf("crawl.base_url must be set")
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0")
	}
	if c.Crawl.QueueDepth <= 0 {
		return fmt.Errorf("crawl.queue_depth must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Archive.Enabled {
		switch c.Archive.Backend {
		case "local":
			if c.Archive.BaseDir == "" {
				return fmt.Errorf("archive.base_dir must be set for the local backend")
			}
		case "gcs":
			if c.Archive.GCSBucket == "" {
				return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
			}
		case "memory":
		default:
			return fmt.Errorf("archive.backend must be one of local, gcs, memory")
		}
	}
	return nil
}

// ConnString assembles the pgx connection string.
func (c DBConfig) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// FetchTimeout converts the HTTP timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// Delay returns the fixed per-request delay.
func (c CrawlConfig) Delay() time.Duration {
	return time.Duration(c.DelaySeconds) * time.Second
}

// RandomDelay returns the randomized extra delay cap.
func (c CrawlConfig) RandomDelay() time.Duration {
	return time.Duration(c.RandomDelaySeconds) * time.Second
}
