package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_AggregatesErrors(t *testing.T) {
	cfg := Defaults()
	cfg.RateLimit.MaxRequests = 0
	cfg.Storage.Backend = "redis"
	cfg.Log.Level = "loud"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"rateLimit.maxRequests", "storage.backend", "log.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q should mention %s", err, want)
		}
	}
}

func TestValidate_Overrides(t *testing.T) {
	cfg := Defaults()
	cfg.RateLimit.Overrides = map[string]RateLimitRule{"alice": {MaxRequests: 10, WindowSeconds: 0}}
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "rateLimit.overrides.alice.windowSeconds") {
		t.Fatalf("expected override error, got %v", err)
	}
}

func TestValidate_SqliteNeedsDBPath(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.Backend = "sqlite"
	cfg.Data.DBPath = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for sqlite without dbPath")
	}
}

func TestValidate_MetricsEndpoint(t *testing.T) {
	cfg := Defaults()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Endpoint = "metrics"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for endpoint without leading slash")
	}
}

// --- Load ---

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_JSONC(t *testing.T) {
	path := writeFile(t, "config.jsonc", `{
		// comments are allowed
		"rateLimit": {"maxRequests": 3, "windowSeconds": 30},
		"data": {"dir": "/srv/angel"}, /* trailing comma below */
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RateLimit.MaxRequests != 3 || cfg.RateLimit.WindowSeconds != 30 {
		t.Fatalf("rate limit = %+v", cfg.RateLimit)
	}
	if got := cfg.Data.RosterPath(); got != filepath.Join("/srv/angel", "players.csv") {
		t.Fatalf("roster path = %s", got)
	}
	if cfg.Dispatch.Concurrency != 8 {
		t.Fatal("unset fields should keep defaults")
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "angelbot.yaml", `
telegram:
  sendBurst: 5
storage:
  backend: sqlite
rateLimit:
  maxRequests: 5
  windowSeconds: 60
  overrides:
    organiser:
      maxRequests: 50
      windowSeconds: 60
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.SendBurst != 5 || cfg.Storage.Backend != "sqlite" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if r := cfg.RateLimit.Overrides["organiser"]; r.MaxRequests != 50 {
		t.Fatalf("override = %+v", r)
	}
	if cfg.Telegram.PollTimeoutSeconds != 30 {
		t.Fatal("unset yaml fields should keep defaults")
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "angelbot.toml", `
[telegram]
sendRatePerMinute = 600.0

[log]
level = "debug"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.SendRatePerMinute != 600 || cfg.Log.Level != "debug" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoad_UnknownExtension(t *testing.T) {
	path := writeFile(t, "config.ini", "x=1")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for .ini")
	}
}

func TestLoad_InvalidValuesFail(t *testing.T) {
	path := writeFile(t, "config.json", `{"dispatch": {"concurrency": 0}}`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "dispatch.concurrency") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLoad_ExpandsEnvAndTokenFallback(t *testing.T) {
	t.Setenv("ANGEL_DATA", "/tmp/angel-data")
	t.Setenv(TokenEnv, "123:abc")
	path := writeFile(t, "config.json", `{"data": {"dir": "${ANGEL_DATA}"}, "log": {"level": "${ANGEL_LOG:-warn}"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Data.Dir != "/tmp/angel-data" || cfg.Log.Level != "warn" {
		t.Fatalf("env not expanded: %+v %+v", cfg.Data, cfg.Log)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q, want env fallback", cfg.Telegram.Token)
	}
}

func TestLoad_FileTokenWins(t *testing.T) {
	t.Setenv(TokenEnv, "from-env")
	path := writeFile(t, "config.json", `{"telegram": {"token": "from-file"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "from-file" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("SET_VAR", "value")
	t.Setenv("EMPTY_VAR", "")

	tests := map[string]string{
		"${SET_VAR}":             "value",
		"${EMPTY_VAR:-fallback}": "fallback",
		"${UNSET_VAR_X:-d}":      "d",
		"${UNSET_VAR_X}":         "${UNSET_VAR_X}",
		"${UNSET_VAR_X:-}":       "",
		"plain":                  "plain",
	}
	for in, want := range tests {
		if got := ExpandEnvVars(in); got != want {
			t.Errorf("ExpandEnvVars(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("ANGEL_TEST_FROM_DOTENV=yes\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ANGEL_TEST_FROM_DOTENV", "")
	os.Unsetenv("ANGEL_TEST_FROM_DOTENV")

	if err := LoadEnv(filepath.Join(dir, "missing.env"), envFile); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv("ANGEL_TEST_FROM_DOTENV"); got != "yes" {
		t.Fatalf("env = %q", got)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := Defaults()
	cfg.RateLimit.MaxRequests = 9
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.RateLimit.MaxRequests != 9 {
		t.Fatalf("maxRequests = %d", loaded.RateLimit.MaxRequests)
	}
}

func TestSave_YAMLAndTOML(t *testing.T) {
	for _, name := range []string{"angelbot.yaml", "angelbot.toml"} {
		path := filepath.Join(t.TempDir(), name)
		cfg := Defaults()
		cfg.Storage.Backend = "sqlite"
		cfg.RateLimit.Overrides = map[string]RateLimitRule{"host": {MaxRequests: 30, WindowSeconds: 60}}
		if err := Save(path, cfg); err != nil {
			t.Fatalf("%s: Save: %v", name, err)
		}
		loaded, err := Load(path)
		if err != nil {
			t.Fatalf("%s: Load: %v", name, err)
		}
		if loaded.Storage.Backend != "sqlite" || loaded.RateLimit.Overrides["host"].MaxRequests != 30 {
			t.Fatalf("%s: round trip lost values: %+v", name, loaded)
		}
	}
}

func TestLoadFile_IgnoresTokenEnv(t *testing.T) {
	t.Setenv(TokenEnv, "from-env")
	path := writeFile(t, "config.json", `{}`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "" {
		t.Fatalf("token = %q, want empty", cfg.Telegram.Token)
	}
}

func TestPaths_DependOnBackend(t *testing.T) {
	cfg := Defaults()
	if got := len(cfg.Paths()); got != 3 {
		t.Fatalf("json paths = %d, want 3", got)
	}
	cfg.Storage.Backend = "sqlite"
	paths := cfg.Paths()
	if len(paths) != 2 || paths[1] != filepath.Join("data", "angelbot.db") {
		t.Fatalf("sqlite paths = %v", paths)
	}
}

// --- Accessor ---

func TestGetByPath(t *testing.T) {
	val, err := GetByPath(Defaults(), "rateLimit.windowSeconds")
	if err != nil {
		t.Fatal(err)
	}
	if val.(float64) != 60 {
		t.Fatalf("value = %v", val)
	}
	if _, err := GetByPath(Defaults(), "rateLimit.nope"); err == nil {
		t.Fatal("expected key not found")
	}
}

func TestSetByPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "metrics.enabled", "true"); err != nil {
		t.Fatal(err)
	}
	if err := SetByPath(cfg, "rateLimit.overrides.bob.maxRequests", "20"); err != nil {
		t.Fatal(err)
	}
	if !cfg.Metrics.Enabled {
		t.Fatal("metrics.enabled not set")
	}
	if cfg.RateLimit.Overrides["bob"].MaxRequests != 20 {
		t.Fatalf("override = %+v", cfg.RateLimit.Overrides)
	}
	if err := SetByPath(cfg, "dispatch.concurrency", "many"); err == nil {
		t.Fatal("expected type error")
	}
}

func TestSanitize_MasksToken(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.Token = "123456789:ABCDEFGHIJ"
	clean := Sanitize(cfg)
	if clean.Telegram.Token != "1234****GHIJ" {
		t.Fatalf("masked = %q", clean.Telegram.Token)
	}
	if cfg.Telegram.Token != "123456789:ABCDEFGHIJ" {
		t.Fatal("original must not be modified")
	}
}
