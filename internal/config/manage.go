package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll lists every non-secret key with its effective value, in table order.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  fmt.Sprintf("%v", s.extract(cfg)),
		})
	}
	return result
}

// SetKey writes a key to the config file. An empty value removes the key so
// its default applies again. Secrets are refused.
func SetKey(key, value string) error {
	return setKey(newFileBackend(configFilePath()), key, value)
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

func setKey(b ConfigBackend, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
	}
	if value == "" {
		return b.Delete(key)
	}

	switch s.typ {
	case kInt:
		i, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		return b.SetInt(key, i)
	case kBool:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("invalid boolean value for %s: %w", key, err)
		}
	}
	if err := checkValue(key, value); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return b.SetString(key, value)
}

// checkValue validates string keys by naming convention: durations for
// timeouts, delays and TTLs; absolute URLs for webhooks and *_url keys.
func checkValue(key, value string) error {
	switch {
	case strings.HasSuffix(key, "timeout"), strings.HasSuffix(key, "_delay"), strings.HasSuffix(key, "_ttl"):
		_, err := time.ParseDuration(value)
		return err
	case key == "cache.redis_url":
		return checkURL(value, "redis", "rediss")
	case strings.HasPrefix(key, "webhooks."), strings.HasSuffix(key, "_url"), key == "supabase.url":
		return checkURL(value, "http", "https")
	}
	return nil
}

func checkURL(value string, schemes ...string) error {
	u, err := url.Parse(value)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%q is not an absolute %s URL", value, strings.Join(schemes, "/"))
}

// ValidKeys returns the list of valid non-secret config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
