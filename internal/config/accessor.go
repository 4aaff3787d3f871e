package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// toMap round-trips cfg through its JSON form so paths match the file keys.
func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetByPath retrieves a config value by dot-notation path (e.g. "rateLimit.maxRequests").
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}
	var current any = m
	for _, key := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
		if current, ok = obj[key]; !ok {
			return nil, fmt.Errorf("key not found: %s", path)
		}
	}
	return current, nil
}

// SetByPath sets a config value by dot-notation path. Intermediate maps such
// as rateLimit.overrides.<user> are created as needed.
func SetByPath(cfg *Config, path string, value string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	m, err := toMap(cfg)
	if err != nil {
		return err
	}

	parts := strings.Split(path, ".")
	parent := m
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key]
		if !ok || child == nil {
			next := make(map[string]any)
			parent[key] = next
			parent = next
			continue
		}
		if parent, ok = child.(map[string]any); !ok {
			return fmt.Errorf("cannot traverse into %T at %s", child, key)
		}
	}
	parent[parts[len(parts)-1]] = parseValue(value)

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	updated := Defaults()
	if err := json.Unmarshal(data, updated); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	*cfg = *updated
	return nil
}

// parseValue converts command-line text to a bool or number when it looks like one.
func parseValue(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Sanitize returns a copy of the config with the bot token masked.
func Sanitize(cfg *Config) *Config {
	clean := *cfg
	if clean.Telegram.Token != "" {
		clean.Telegram.Token = maskString(clean.Telegram.Token)
	}
	if cfg.RateLimit.Overrides != nil {
		clean.RateLimit.Overrides = make(map[string]RateLimitRule, len(cfg.RateLimit.Overrides))
		for k, v := range cfg.RateLimit.Overrides {
			clean.RateLimit.Overrides[k] = v
		}
	}
	return &clean
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
