package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Log      LogConfig
	Agents   AgentsConfig
	Jira     JiraConfig
	GitHub   GitHubConfig
	Supabase SupabaseConfig
	Features FeatureConfig
	Services ServicesConfig
	Cache    CacheConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

// AgentsConfig maps agent ids to their webhook URLs. An agent without a URL
// always answers with a simulated response.
type AgentsConfig struct {
	Webhooks map[string]string
	Timeout  string
}

type JiraConfig struct {
	BaseURL string
	Email   string
	Token   string
}

type GitHubConfig struct {
	RepoURL   string
	Token     string
	Branch    string
	CallDelay string
}

type SupabaseConfig struct {
	URL string
	Key string
}

type FeatureConfig struct {
	Teams         bool
	SyntheticData bool
}

type ServicesConfig struct {
	ParserURL        string
	SyntheticDataURL string
}

type CacheConfig struct {
	RedisURL   string
	ListingTTL string
}

// WebhookAgents lists the agent ids that have a webhook URL config key.
var WebhookAgents = []string{
	"user-stories",
	"acceptance-criteria",
	"test-cases",
	"test-scripts",
	"bug-report",
	"synthetic-data",
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Agents: AgentsConfig{
			Webhooks: make(map[string]string),
			Timeout:  "120s",
		},
		GitHub: GitHubConfig{
			Branch:    "main",
			CallDelay: "250ms",
		},
		Cache: CacheConfig{
			ListingTTL: "60s",
		},
	}
}

// Load reads configuration from the TOML config file, an optional .env file
// in the working directory, environment variables, and the secrets file.
//
// The config file lives at $XDG_CONFIG_HOME/agentflow/config.toml.
// Environment variables (AGENTFLOW_*) override file values; values already
// present in the environment win over the .env file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not read .env file: %v\n", err)
	}
	return loadWith(newFileBackend(configFilePath()), secretsReader{})
}

// loadFromPath loads configuration using the config file at path instead of
// the default location.
func loadFromPath(path string, kc keychain) (Config, error) {
	return loadWith(newFileBackend(path), kc)
}

// keychain abstracts secret lookup for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, kc)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	durations := map[string]string{
		"agents.timeout":    cfg.Agents.Timeout,
		"github.call_delay": cfg.GitHub.CallDelay,
		"cache.listing_ttl": cfg.Cache.ListingTTL,
	}
	for key, val := range durations {
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", key, val)
		}
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", cfg.Server.Port)
	}
	return nil
}

// AgentTimeout returns the parsed per-call webhook timeout.
func (c Config) AgentTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Agents.Timeout)
	return d
}

// GitHubCallDelay returns the pause inserted between consecutive GitHub file fetches.
func (c Config) GitHubCallDelay() time.Duration {
	d, _ := time.ParseDuration(c.GitHub.CallDelay)
	return d
}

// ListingTTL returns how long GitHub directory listings stay cached.
func (c Config) ListingTTL() time.Duration {
	d, _ := time.ParseDuration(c.Cache.ListingTTL)
	return d
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "agentflow-data"
		}
	}
	return filepath.Join(dir, "agentflow")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "agentflow", "config.toml")
}
