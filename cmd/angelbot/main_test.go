package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/felii30/angel-and-mortal-bot/internal/config"
	"github.com/felii30/angel-and-mortal-bot/internal/domain"
)

func init() {
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPrintBindings(t *testing.T) {
	var buf bytes.Buffer
	err := printBindings(&buf, []domain.Participant{
		{Username: "alice", ChatID: 111},
		{Username: "bob"},
	})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "alice") || !strings.Contains(out, "111") || !strings.Contains(out, "not started") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "1 of 2 participants registered") {
		t.Fatalf("missing summary:\n%s", out)
	}
}

func TestBuildLimiter_Overrides(t *testing.T) {
	cfg := config.Defaults()
	cfg.RateLimit.MaxRequests = 1
	cfg.RateLimit.Overrides = map[string]config.RateLimitRule{"@Host": {MaxRequests: 3, WindowSeconds: 60}}
	l := buildLimiter(cfg)

	if !l.Allow("guest") || l.Allow("guest") {
		t.Fatal("default policy should allow exactly one")
	}
	for i := 0; i < 3; i++ {
		if !l.Allow("host") {
			t.Fatalf("override request %d rejected", i+1)
		}
	}
	if l.Allow("host") {
		t.Fatal("override should cap at 3")
	}
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	src := t.TempDir()
	a := filepath.Join(src, "players.csv")
	b := filepath.Join(src, "chat_ids.json")
	os.WriteFile(a, []byte("Player,Angel,Mortal\n"), 0o644)
	os.WriteFile(b, []byte(`{"alice": 1}`), 0o600)

	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	if err := createTarGz(archive, []string{a, b}); err != nil {
		t.Fatalf("createTarGz: %v", err)
	}

	dst := t.TempDir()
	targets := map[string]string{"chat_ids.json": filepath.Join(dst, "restored", "chat_ids.json")}
	restored, err := extractTarGz(archive, targets)
	if err != nil {
		t.Fatalf("extractTarGz: %v", err)
	}
	if len(restored) != 1 {
		t.Fatalf("restored = %v, unknown entries must be skipped", restored)
	}
	data, err := os.ReadFile(targets["chat_ids.json"])
	if err != nil || string(data) != `{"alice": 1}` {
		t.Fatalf("restored content = %q err = %v", data, err)
	}
}

func TestExistingFiles(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "x")
	os.WriteFile(f, nil, 0o644)
	got := existingFiles([]string{f, f, filepath.Join(dir, "missing"), dir})
	if len(got) != 1 || got[0] != f {
		t.Fatalf("got %v", got)
	}
}

func TestRenderServiceTemplate(t *testing.T) {
	unit := render(systemdTemplate, map[string]string{
		"{{EXEC}}":    "/usr/local/bin/angelbot",
		"{{CONFIG}}":  "/srv/angel/angelbot.yaml",
		"{{WORKDIR}}": "/srv/angel",
	})
	if !strings.Contains(unit, "ExecStart=/usr/local/bin/angelbot run --config /srv/angel/angelbot.yaml") {
		t.Fatalf("unexpected unit:\n%s", unit)
	}
	if strings.Contains(unit, "{{") {
		t.Fatal("unrendered placeholder left")
	}
}

func TestSetupLogger_WritesFile(t *testing.T) {
	cfg := config.Defaults()
	cfg.Log.Dir = t.TempDir()
	cfg.Log.Level = "debug"
	log, closeFn, err := setupLogger(cfg)
	if err != nil {
		t.Fatal(err)
	}
	log.Debug("hello from test")
	closeFn()

	entries, _ := os.ReadDir(cfg.Log.Dir)
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".log") {
		t.Fatalf("log files = %v", entries)
	}
	data, _ := os.ReadFile(filepath.Join(cfg.Log.Dir, entries[0].Name()))
	if !strings.Contains(string(data), "hello from test") {
		t.Fatalf("log file content = %q", data)
	}
}
