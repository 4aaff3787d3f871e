package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// TokenEnv is consulted when the config file leaves telegram.token empty.
const TokenEnv = "ANGEL_BOT_TOKEN"

// Config is the root configuration for the bot.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram" yaml:"telegram" toml:"telegram"`
	Data      DataConfig      `json:"data" yaml:"data" toml:"data"`
	Storage   StorageConfig   `json:"storage" yaml:"storage" toml:"storage"`
	RateLimit RateLimitConfig `json:"rateLimit" yaml:"rateLimit" toml:"rateLimit"`
	Dispatch  DispatchConfig  `json:"dispatch" yaml:"dispatch" toml:"dispatch"`
	Log       LogConfig       `json:"log" yaml:"log" toml:"log"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics" toml:"metrics"`
}

type TelegramConfig struct {
	Token              string  `json:"token" yaml:"token" toml:"token"`
	PollTimeoutSeconds int     `json:"pollTimeoutSeconds" yaml:"pollTimeoutSeconds" toml:"pollTimeoutSeconds"`
	SendRatePerMinute  float64 `json:"sendRatePerMinute" yaml:"sendRatePerMinute" toml:"sendRatePerMinute"`
	SendBurst          int     `json:"sendBurst" yaml:"sendBurst" toml:"sendBurst"`
}

// DataConfig locates the roster and persisted state. Relative file names are
// resolved against Dir.
type DataConfig struct {
	Dir          string `json:"dir" yaml:"dir" toml:"dir"`
	RosterFile   string `json:"rosterFile" yaml:"rosterFile" toml:"rosterFile"`
	BindingsFile string `json:"bindingsFile" yaml:"bindingsFile" toml:"bindingsFile"`
	ProfilesFile string `json:"profilesFile" yaml:"profilesFile" toml:"profilesFile"`
	DBPath       string `json:"dbPath" yaml:"dbPath" toml:"dbPath"`
}

type StorageConfig struct {
	Backend string `json:"backend" yaml:"backend" toml:"backend"` // "json" | "sqlite"
}

type RateLimitRule struct {
	MaxRequests   int `json:"maxRequests" yaml:"maxRequests" toml:"maxRequests"`
	WindowSeconds int `json:"windowSeconds" yaml:"windowSeconds" toml:"windowSeconds"`
}

type RateLimitConfig struct {
	MaxRequests   int                      `json:"maxRequests" yaml:"maxRequests" toml:"maxRequests"`
	WindowSeconds int                      `json:"windowSeconds" yaml:"windowSeconds" toml:"windowSeconds"`
	Overrides     map[string]RateLimitRule `json:"overrides,omitempty" yaml:"overrides,omitempty" toml:"overrides,omitempty"` // keyed by username
}

type DispatchConfig struct {
	Concurrency int `json:"concurrency" yaml:"concurrency" toml:"concurrency"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level" toml:"level"`
	Dir   string `json:"dir,omitempty" yaml:"dir,omitempty" toml:"dir,omitempty"` // empty = stderr only
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Addr     string `json:"addr" yaml:"addr" toml:"addr"`
	Endpoint string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
}

func (d DataConfig) resolve(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(d.Dir, name)
}

func (d DataConfig) RosterPath() string   { return d.resolve(d.RosterFile) }
func (d DataConfig) BindingsPath() string { return d.resolve(d.BindingsFile) }
func (d DataConfig) ProfilesPath() string { return d.resolve(d.ProfilesFile) }
func (d DataConfig) DatabasePath() string { return d.resolve(d.DBPath) }

// Paths lists every data file the bot reads or writes for the active backend.
func (c *Config) Paths() []string {
	paths := []string{c.Data.RosterPath()}
	if c.Storage.Backend == "sqlite" {
		return append(paths, c.Data.DatabasePath())
	}
	return append(paths, c.Data.BindingsPath(), c.Data.ProfilesPath())
}

func DefaultConfigPath() string {
	return "angelbot.yaml"
}

// Load reads a config file and fills unset values from the environment.
func Load(path string) (*Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// LoadFile reads and validates a config file, picking the decoder from its
// extension. The environment is consulted only for ${VAR} references.
func LoadFile(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Data.Dir = ExpandPath(cfg.Data.Dir)
	cfg.Log.Dir = ExpandPath(cfg.Log.Dir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", ".jsonc":
		return json.Unmarshal(jsonc.ToJSON(data), cfg)
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	default:
		return fmt.Errorf("unsupported config format %q (want .json, .jsonc, .yaml, .yml or .toml)", ext)
	}
}

// LoadEnv loads .env style files into the process environment. Missing files
// are skipped; variables already set are not overridden.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv fills values the config left empty from the environment.
func (c *Config) ApplyEnv() {
	if c.Telegram.Token == "" {
		c.Telegram.Token = os.Getenv(TokenEnv)
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, def := groups[1], groups[2]
		hasDefault := strings.Contains(match, ":-")

		if val, ok := os.LookupEnv(name); ok && val != "" {
			return val
		}
		if hasDefault {
			return def
		}
		return match
	})
}

// Save writes cfg in the format implied by the file extension. Comments in an
// existing file are not preserved.
func Save(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cannot create config directory: %w", err)
		}
	}
	data, err := encode(path, cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func encode(path string, cfg *Config) ([]byte, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", ".jsonc":
		data, err := json.MarshalIndent(cfg, "", "  ")
		return append(data, '\n'), err
	case ".yaml", ".yml":
		return yaml.Marshal(cfg)
	case ".toml":
		var buf bytes.Buffer
		err := toml.NewEncoder(&buf).Encode(cfg)
		return buf.Bytes(), err
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
}

// Validate checks that the config has usable values. The token is not
// required here so offline commands work without one.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Telegram.PollTimeoutSeconds < 1 || cfg.Telegram.PollTimeoutSeconds > 600 {
		errs = append(errs, "telegram.pollTimeoutSeconds must be between 1 and 600")
	}
	if cfg.Telegram.SendRatePerMinute <= 0 {
		errs = append(errs, "telegram.sendRatePerMinute must be > 0")
	}
	if cfg.Telegram.SendBurst < 1 {
		errs = append(errs, "telegram.sendBurst must be >= 1")
	}

	if cfg.Data.RosterFile == "" {
		errs = append(errs, "data.rosterFile is required")
	}
	switch cfg.Storage.Backend {
	case "json":
		if cfg.Data.BindingsFile == "" || cfg.Data.ProfilesFile == "" {
			errs = append(errs, "data.bindingsFile and data.profilesFile are required for the json backend")
		}
	case "sqlite":
		if cfg.Data.DBPath == "" {
			errs = append(errs, "data.dbPath is required for the sqlite backend")
		}
	default:
		errs = append(errs, "storage.backend must be one of: json, sqlite")
	}

	errs = append(errs, validateRule("rateLimit", RateLimitRule{
		MaxRequests:   cfg.RateLimit.MaxRequests,
		WindowSeconds: cfg.RateLimit.WindowSeconds,
	})...)
	names := make([]string, 0, len(cfg.RateLimit.Overrides))
	for name := range cfg.RateLimit.Overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		errs = append(errs, validateRule("rateLimit.overrides."+name, cfg.RateLimit.Overrides[name])...)
	}

	if cfg.Dispatch.Concurrency < 1 || cfg.Dispatch.Concurrency > 1000 {
		errs = append(errs, "dispatch.concurrency must be between 1 and 1000")
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Addr == "" {
			errs = append(errs, "metrics.addr is required when metrics are enabled")
		}
		if !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
			errs = append(errs, "metrics.endpoint must start with /")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateRule(prefix string, r RateLimitRule) []string {
	var errs []string
	if r.MaxRequests < 1 {
		errs = append(errs, prefix+".maxRequests must be >= 1")
	}
	if r.WindowSeconds < 1 {
		errs = append(errs, prefix+".windowSeconds must be >= 1")
	}
	return errs
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
