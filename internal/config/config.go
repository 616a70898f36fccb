package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"perch/internal/classify"
)

// Config is the application's configuration model: the tracked account,
// API credentials and endpoints, rate-window budgets, queue sizing, and the
// visibility policy table.
type Config struct {
	Account     AccountConfig     `yaml:"account"`
	Credentials CredentialsConfig `yaml:"credentials"`
	API         APIConfig         `yaml:"api"`
	Queue       QueueConfig       `yaml:"queue"`
	Storage     StorageConfig     `yaml:"storage"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Policy      classify.Policy   `yaml:"policy"`
}

type AccountConfig struct {
	// Numeric string ID of the tracked account. Resolved from the API at
	// startup when empty.
	UserID string `yaml:"userId"`
	Handle string `yaml:"handle"`
}

type CredentialsConfig struct {
	// OAuth 1.0a credentials. Empty fields fall back to env vars.
	ConsumerKey    string `yaml:"consumerKey"`
	ConsumerSecret string `yaml:"consumerSecret"`
	AccessToken    string `yaml:"accessToken"`
	AccessSecret   string `yaml:"accessSecret"`
}

type APIConfig struct {
	BaseURL   string `yaml:"baseUrl"`
	StreamURL string `yaml:"streamUrl"`
	// Rate window length and per-call-kind budgets within one window.
	WindowMinutes int            `yaml:"windowMinutes"`
	Budgets       map[string]int `yaml:"budgets"`
	PageSize      int            `yaml:"pageSize"`
}

type QueueConfig struct {
	BatchSize int `yaml:"batchSize"`
}

type StorageConfig struct {
	DBPath string `yaml:"dbPath"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a sensible default configuration, including a policy
// table that mirrors everything involving the tracked user and the posts
// of followed accounts that interact with them.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL:       "https://api.twitter.com/1.1",
			StreamURL:     "wss://userstream.twitter.com/1.1/user.json",
			WindowMinutes: 15,
			Budgets: map[string]int{
				"user":      15,
				"mentions":  15,
				"favorites": 15,
				"lookup":    15,
			},
			PageSize: 200,
		},
		Queue:   QueueConfig{BatchSize: 1000},
		Storage: StorageConfig{DBPath: "./perch.db"},
		Metrics: MetricsConfig{Addr: ""},
		Policy:  DefaultPolicy(),
	}
}

// DefaultPolicy keeps every post the tracked user writes or touches, plus
// the other side of any interaction aimed at them.
func DefaultPolicy() classify.Policy {
	on := classify.Leaf{Source: true, Target: true, Quoted: true}
	src := classify.Leaf{Source: true}
	srcTgt := classify.Leaf{Source: true, Target: true}
	return classify.Policy{
		classify.ByUser: {
			classify.KindRetweet: {
				classify.OfUser: on, classify.OfFollowed: on, classify.OfOther: on,
			},
			classify.KindQuote: {
				classify.OfUser: on, classify.OfFollowed: on, classify.OfOther: on,
			},
			classify.KindReply: {
				classify.ToUser: srcTgt, classify.ToFollowed: srcTgt, classify.ToOther: srcTgt,
			},
			classify.KindTweet: {
				classify.OfUser: src,
			},
			classify.KindFavorite: {
				classify.ByUser: {Target: true}, classify.ByFollowed: {Target: true}, classify.ByOther: {Target: true},
			},
		},
		classify.ByFollowed: {
			classify.KindRetweet:  {classify.OfUser: srcTgt},
			classify.KindQuote:    {classify.OfUser: srcTgt},
			classify.KindReply:    {classify.ToUser: srcTgt},
			classify.KindMention:  {classify.ToUser: src},
			classify.KindFavorite: {classify.ByUser: {}},
		},
		classify.ByOther: {
			classify.KindRetweet:  {classify.OfUser: srcTgt},
			classify.KindQuote:    {classify.OfUser: srcTgt},
			classify.KindReply:    {classify.ToUser: srcTgt},
			classify.KindMention:  {classify.ToUser: src},
			classify.KindFavorite: {classify.ByUser: {}},
		},
	}
}

// ResolveEnv fills in credential fields from environment variables if unset.
func (c *Config) ResolveEnv() {
	if c.Credentials.ConsumerKey == "" {
		c.Credentials.ConsumerKey = os.Getenv("PERCH_CONSUMER_KEY")
	}
	if c.Credentials.ConsumerSecret == "" {
		c.Credentials.ConsumerSecret = os.Getenv("PERCH_CONSUMER_SECRET")
	}
	if c.Credentials.AccessToken == "" {
		c.Credentials.AccessToken = os.Getenv("PERCH_ACCESS_TOKEN")
	}
	if c.Credentials.AccessSecret == "" {
		c.Credentials.AccessSecret = os.Getenv("PERCH_ACCESS_SECRET")
	}
}

// Validate rejects configurations the engine cannot start with. A broken
// policy table is fatal here: every classified item depends on it.
func (c *Config) Validate() error {
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	if c.Credentials.ConsumerKey == "" || c.Credentials.AccessToken == "" {
		return errors.New("missing API credentials")
	}
	if c.API.WindowMinutes <= 0 {
		return fmt.Errorf("windowMinutes must be positive, got %d", c.API.WindowMinutes)
	}
	return nil
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	cfg.ResolveEnv()
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
