package radar

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full service configuration. Values come from the YAML file,
// then environment variables override.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path" json:"db_path" env:"RADAR_DB_PATH"`
	// UserAgent identifies the harvester to the platforms it polls.
	UserAgent string `yaml:"user_agent" json:"user_agent" env:"RADAR_USER_AGENT"`

	Fetch      FetchConfig      `yaml:"fetch" json:"fetch"`
	Classifier ClassifierConfig `yaml:"classifier" json:"classifier" envPrefix:"RADAR_CLASSIFIER_"`
	Pipeline   PipelineConfig   `yaml:"pipeline" json:"pipeline"`
	Server     ServerConfig     `yaml:"server" json:"server"`

	// Sources to harvest each run.
	Sources []SourceConfig `yaml:"sources" json:"sources"`
}

// FetchConfig tunes the shared rate-limited HTTP client.
type FetchConfig struct {
	MaxConcurrent  int      `yaml:"max_concurrent" json:"max_concurrent" env:"RADAR_FETCH_MAX_CONCURRENT"`
	PerOriginDelay Duration `yaml:"per_origin_delay" json:"per_origin_delay"`
	Timeout        Duration `yaml:"timeout" json:"timeout"`
}

// ClassifierConfig points at an OpenAI-compatible completion endpoint.
type ClassifierConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url" env:"BASE_URL"`
	// APIKey never appears in run snapshots.
	APIKey    string `yaml:"api_key" json:"-" env:"API_KEY"`
	Model     string `yaml:"model" json:"model" env:"MODEL"`
	MaxTokens int    `yaml:"max_tokens" json:"max_tokens"`
}

// PipelineConfig tunes one run.
type PipelineConfig struct {
	// ListLimit is how many recent items each source lists per run.
	ListLimit int `yaml:"list_limit" json:"list_limit"`
	// MaxItems caps how many items one run classifies. 0 = unlimited.
	MaxItems int `yaml:"max_items" json:"max_items" env:"RADAR_MAX_ITEMS"`
	// Window is how far back clustering and alerting look.
	Window Duration `yaml:"window" json:"window"`
	// DedupeThreshold folds near-identical quotes into one signal.
	DedupeThreshold float64 `yaml:"dedupe_threshold" json:"dedupe_threshold"`
	// MergeThreshold groups similar signals into one cluster.
	MergeThreshold float64 `yaml:"merge_threshold" json:"merge_threshold"`
	// DisplayQuotes is how many quotes a cluster shows.
	DisplayQuotes int `yaml:"display_quotes" json:"display_quotes"`
	// Schedule is a cron expression for serve mode; empty disables
	// scheduled runs.
	Schedule string `yaml:"schedule" json:"schedule" env:"RADAR_SCHEDULE"`
}

// ServerConfig tunes the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr" env:"RADAR_ADDR"`
}

// SourceConfig declares one harvested source.
type SourceConfig struct {
	// Type is "reddit" or "rss".
	Type string `yaml:"type" json:"type"`
	// Name labels rss sources; ignored for reddit.
	Name string `yaml:"name" json:"name,omitempty"`
	// Subreddit without the r/ prefix (reddit only).
	Subreddit string `yaml:"subreddit" json:"subreddit,omitempty"`
	// Listing kind: new, hot, top, rising (reddit only).
	Listing string `yaml:"listing" json:"listing,omitempty"`
	// URL of the feed (rss only).
	URL string `yaml:"url" json:"url,omitempty"`
	// MaxComments caps replies fetched per thread (reddit only).
	MaxComments int `yaml:"max_comments" json:"max_comments,omitempty"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "data/painradar.db"
	}
	if c.UserAgent == "" {
		c.UserAgent = "painradar/1.0"
	}
	if c.Fetch.MaxConcurrent <= 0 {
		c.Fetch.MaxConcurrent = 8
	}
	if c.Fetch.PerOriginDelay <= 0 {
		c.Fetch.PerOriginDelay = Duration(500 * time.Millisecond)
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = Duration(30 * time.Second)
	}
	if c.Classifier.Model == "" {
		c.Classifier.Model = "gpt-4o-mini"
	}
	if c.Pipeline.ListLimit <= 0 {
		c.Pipeline.ListLimit = 25
	}
	if c.Pipeline.Window <= 0 {
		c.Pipeline.Window = Duration(24 * time.Hour)
	}
	if c.Pipeline.DedupeThreshold <= 0 {
		c.Pipeline.DedupeThreshold = 0.85
	}
	if c.Pipeline.MergeThreshold <= 0 {
		c.Pipeline.MergeThreshold = 0.6
	}
	if c.Pipeline.DisplayQuotes <= 0 {
		c.Pipeline.DisplayQuotes = 5
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8870"
	}
}

// LoadConfig reads path (optional), applies environment overrides, then
// fills defaults. An empty path yields an env-and-defaults config.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}
	cfg.defaults()
	return cfg, nil
}

// Snapshot renders the effective config as JSON for the run ledger.
// Secrets are excluded.
func (c *Config) Snapshot() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("config: snapshot: %w", err)
	}
	return string(data), nil
}
