package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = append([]keySpec{
	{
		key: "server.port", typ: kInt, env: "AGENTFLOW_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "AGENTFLOW_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "AGENTFLOW_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "agents.timeout", typ: kString, env: "AGENTFLOW_AGENTS_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Agents.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Agents.Timeout },
	},
	{
		key: "jira.base_url", typ: kString, env: "AGENTFLOW_JIRA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Jira.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Jira.BaseURL },
	},
	{
		key: "jira.email", typ: kString, env: "AGENTFLOW_JIRA_EMAIL",
		apply:   func(cfg *Config, v any) { cfg.Jira.Email = v.(string) },
		extract: func(cfg Config) any { return cfg.Jira.Email },
	},
	{
		key: "jira.token", typ: kString, env: "AGENTFLOW_JIRA_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Jira.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Jira.Token },
	},
	{
		key: "github.repo_url", typ: kString, env: "AGENTFLOW_GITHUB_REPO_URL",
		apply:   func(cfg *Config, v any) { cfg.GitHub.RepoURL = v.(string) },
		extract: func(cfg Config) any { return cfg.GitHub.RepoURL },
	},
	{
		key: "github.token", typ: kString, env: "AGENTFLOW_GITHUB_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.GitHub.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.GitHub.Token },
	},
	{
		key: "github.branch", typ: kString, env: "AGENTFLOW_GITHUB_BRANCH",
		apply:   func(cfg *Config, v any) { cfg.GitHub.Branch = v.(string) },
		extract: func(cfg Config) any { return cfg.GitHub.Branch },
	},
	{
		key: "github.call_delay", typ: kString, env: "AGENTFLOW_GITHUB_CALL_DELAY",
		apply:   func(cfg *Config, v any) { cfg.GitHub.CallDelay = v.(string) },
		extract: func(cfg Config) any { return cfg.GitHub.CallDelay },
	},
	{
		key: "supabase.url", typ: kString, env: "AGENTFLOW_SUPABASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Supabase.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Supabase.URL },
	},
	{
		key: "supabase.key", typ: kString, env: "AGENTFLOW_SUPABASE_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Supabase.Key = v.(string) },
		extract: func(cfg Config) any { return cfg.Supabase.Key },
	},
	{
		key: "features.teams", typ: kBool, env: "AGENTFLOW_FEATURES_TEAMS",
		apply:   func(cfg *Config, v any) { cfg.Features.Teams = v.(bool) },
		extract: func(cfg Config) any { return cfg.Features.Teams },
	},
	{
		key: "features.synthetic_data", typ: kBool, env: "AGENTFLOW_FEATURES_SYNTHETIC_DATA",
		apply:   func(cfg *Config, v any) { cfg.Features.SyntheticData = v.(bool) },
		extract: func(cfg Config) any { return cfg.Features.SyntheticData },
	},
	{
		key: "services.parser_url", typ: kString, env: "AGENTFLOW_PARSER_URL",
		apply:   func(cfg *Config, v any) { cfg.Services.ParserURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Services.ParserURL },
	},
	{
		key: "services.synthetic_data_url", typ: kString, env: "AGENTFLOW_SYNTHETIC_DATA_URL",
		apply:   func(cfg *Config, v any) { cfg.Services.SyntheticDataURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Services.SyntheticDataURL },
	},
	{
		key: "cache.redis_url", typ: kString, env: "AGENTFLOW_CACHE_REDIS_URL",
		apply:   func(cfg *Config, v any) { cfg.Cache.RedisURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.RedisURL },
	},
	{
		key: "cache.listing_ttl", typ: kString, env: "AGENTFLOW_CACHE_LISTING_TTL",
		apply:   func(cfg *Config, v any) { cfg.Cache.ListingTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.ListingTTL },
	},
}, webhookSpecs()...)

// webhookSpecs derives one key per agent: webhooks.user_stories,
// AGENTFLOW_WEBHOOK_USER_STORIES and so on.
func webhookSpecs() []keySpec {
	out := make([]keySpec, 0, len(WebhookAgents))
	for _, id := range WebhookAgents {
		name := strings.ReplaceAll(id, "-", "_")
		out = append(out, keySpec{
			key: "webhooks." + name, typ: kString, env: "AGENTFLOW_WEBHOOK_" + strings.ToUpper(name),
			apply: func(cfg *Config, v any) {
				if cfg.Agents.Webhooks == nil {
					cfg.Agents.Webhooks = make(map[string]string)
				}
				cfg.Agents.Webhooks[id] = v.(string)
			},
			extract: func(cfg Config) any { return cfg.Agents.Webhooks[id] },
		})
	}
	return out
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

// applySecrets fills secret keys still empty after env overrides from the
// secrets file. Secrets are never read from the config file.
func applySecrets(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret {
			continue
		}
		if cur, _ := s.extract(*cfg).(string); cur != "" {
			continue
		}
		if val, err := kc.Get(secretService, s.key); err == nil && val != "" {
			s.apply(cfg, val)
		}
	}
}
