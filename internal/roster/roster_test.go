package roster

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/felii30/angel-and-mortal-bot/internal/directory"
	"github.com/felii30/angel-and-mortal-bot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func writeRoster(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "players.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParse_SkipsHeaderAndFoldsCase(t *testing.T) {
	rows, err := Parse(strings.NewReader("Player,Angel,Mortal\nAlice, Bob ,CAROL\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	r := rows[0]
	if r.Username != "alice" || r.Angel != "bob" || r.Mortal != "carol" {
		t.Fatalf("unexpected row: %+v", r)
	}
	if r.Line != 2 {
		t.Fatalf("expected line 2, got %d", r.Line)
	}
}

func TestParse_ShortRowsKept(t *testing.T) {
	rows, err := Parse(strings.NewReader("h1,h2,h3\nalice\n,bob,carol\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Username != "alice" || rows[0].Angel != "" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestLoad_ForwardReferences(t *testing.T) {
	// a references b and c before they are defined.
	path := writeRoster(t, "username,angel,mortal\na,b,c\nb,c,a\nc,a,b\n")
	dir := directory.New(testLogger())

	if err := Load(path, dir, testLogger()); err != nil {
		t.Fatalf("expected valid roster, got %v", err)
	}
	a, _ := dir.Get("a")
	if a.Angel != "b" || a.Mortal != "c" {
		t.Fatalf("unexpected pairing for a: %+v", a)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	err := Load(filepath.Join(t.TempDir(), "none.csv"), directory.New(testLogger()), testLogger())
	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestLoad_DanglingReferenceFailsValidation(t *testing.T) {
	path := writeRoster(t, "username,angel,mortal\na,b,ghost\nb,a,a\n")
	dir := directory.New(testLogger())

	err := Load(path, dir, testLogger())
	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	a, _ := dir.Get("a")
	if a.Angel != "" || a.Mortal != "" {
		t.Fatalf("dangling row must not be wired, got %+v", a)
	}
}

func TestLoad_BrokenPairing(t *testing.T) {
	path := writeRoster(t, "username,angel,mortal\na,b,c\nb,a,c\nc,a,b\n")
	err := Load(path, directory.New(testLogger()), testLogger())
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(err.Error(), "invalid pairing") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoad_SelfPairingRejected(t *testing.T) {
	path := writeRoster(t, "Player,Angel,Mortal\na,a,a\n")
	err := Load(path, directory.New(testLogger()), testLogger())
	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestLoad_EmptyRoster(t *testing.T) {
	path := writeRoster(t, "username,angel,mortal\n")
	if err := Load(path, directory.New(testLogger()), testLogger()); err == nil {
		t.Fatal("empty roster must be rejected")
	}
}

func TestBindingFile_MissingCreatesEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat_ids.json")
	bf := NewBindingFile(path, testLogger())

	got, err := bf.LoadBindings(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty bindings, got %v", got)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to be created: %v", err)
	}
}

func TestBindingFile_CorruptIsMovedAside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat_ids.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	bf := NewBindingFile(path, testLogger())
	if _, err := bf.LoadBindings(context.Background()); err == nil {
		t.Fatal("expected parse error")
	}
	matches, _ := filepath.Glob(path + ".corrupt-*")
	if len(matches) != 1 {
		t.Fatalf("expected corrupt file to be preserved, found %v", matches)
	}
}

func newThreeCycle(t *testing.T) *directory.Directory {
	t.Helper()
	dir := directory.New(testLogger())
	Populate(dir, []Row{
		{Username: "a", Angel: "b", Mortal: "c"},
		{Username: "b", Angel: "c", Mortal: "a"},
		{Username: "c", Angel: "a", Mortal: "b"},
	}, testLogger())
	return dir
}

func TestRegistry_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chat_ids.json")

	reg := NewRegistry(newThreeCycle(t), NewBindingFile(path, testLogger()), testLogger())
	if _, err := reg.Register(ctx, "A", 111); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Register(ctx, "b", 222); err != nil {
		t.Fatal(err)
	}

	fresh := newThreeCycle(t)
	if err := NewRegistry(fresh, NewBindingFile(path, testLogger()), testLogger()).LoadBindings(ctx); err != nil {
		t.Fatal(err)
	}
	got := fresh.Bindings()
	if len(got) != 2 || got["a"] != 111 || got["b"] != 222 {
		t.Fatalf("round trip mismatch: %v", got)
	}
}

func TestRegistry_RegisterUnknown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat_ids.json")
	reg := NewRegistry(newThreeCycle(t), NewBindingFile(path, testLogger()), testLogger())

	_, err := reg.Register(context.Background(), "stranger", 9)
	if !errors.Is(err, domain.ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	if _, statErr := os.Stat(path); statErr == nil {
		t.Fatal("rejected registration must not write the store")
	}
}

func TestRegistry_LoadIgnoresUnknownUsers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat_ids.json")
	if err := os.WriteFile(path, []byte(`{"a": 111, "zed": 999}`), 0o644); err != nil {
		t.Fatal(err)
	}
	dir := newThreeCycle(t)
	if err := NewRegistry(dir, NewBindingFile(path, testLogger()), testLogger()).LoadBindings(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := dir.Bindings(); len(got) != 1 || got["a"] != 111 {
		t.Fatalf("unexpected bindings: %v", got)
	}
}

type failingStore struct{}

func (failingStore) LoadBindings(context.Context) (map[string]int64, error) {
	return nil, errors.New("disk on fire")
}

func (failingStore) SaveBindings(context.Context, map[string]int64) error {
	return errors.New("disk on fire")
}

func TestRegistry_StoreFailuresAreSurvivable(t *testing.T) {
	ctx := context.Background()
	dir := newThreeCycle(t)
	reg := NewRegistry(dir, failingStore{}, testLogger())

	if err := reg.LoadBindings(ctx); err != nil {
		t.Fatalf("unreadable store must not abort startup: %v", err)
	}
	p, err := reg.Register(ctx, "a", 111)
	if err == nil {
		t.Fatal("expected persist error")
	}
	if !p.Registered() {
		t.Fatal("binding should stay in memory after a failed save")
	}
}

// flakyStore fails LoadBindings a set number of times, then serves saved.
type flakyStore struct {
	loadFailures int
	saved        map[string]int64
	saves        int
}

func (f *flakyStore) LoadBindings(context.Context) (map[string]int64, error) {
	if f.loadFailures > 0 {
		f.loadFailures--
		return nil, errors.New("database is locked")
	}
	out := make(map[string]int64, len(f.saved))
	for k, v := range f.saved {
		out[k] = v
	}
	return out, nil
}

func (f *flakyStore) SaveBindings(_ context.Context, bindings map[string]int64) error {
	f.saves++
	f.saved = bindings
	return nil
}

func TestRegistry_FailedLoadDoesNotOverwriteStore(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{loadFailures: 2, saved: map[string]int64{"b": 222, "c": 333}}
	dir := newThreeCycle(t)
	reg := NewRegistry(dir, st, testLogger())

	if err := reg.LoadBindings(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Register(ctx, "a", 111); err == nil {
		t.Fatal("expected error while the store is unreadable")
	}
	if st.saves != 0 {
		t.Fatalf("saved %d snapshots over an unread store", st.saves)
	}

	if err := reg.Persist(ctx); err != nil {
		t.Fatal(err)
	}
	want := map[string]int64{"a": 111, "b": 222, "c": 333}
	if len(st.saved) != len(want) {
		t.Fatalf("saved = %v, want %v", st.saved, want)
	}
	for k, v := range want {
		if st.saved[k] != v {
			t.Fatalf("saved = %v, want %v", st.saved, want)
		}
	}
}

func TestRegistry_RecoveredStoreKeepsNewerBinding(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{loadFailures: 1, saved: map[string]int64{"a": 100}}
	dir := newThreeCycle(t)
	reg := NewRegistry(dir, st, testLogger())

	if err := reg.LoadBindings(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Register(ctx, "a", 111); err != nil {
		t.Fatal(err)
	}
	if st.saved["a"] != 111 {
		t.Fatalf("saved = %v, want a=111", st.saved)
	}
}
