package store

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/felii30/angel-and-mortal-bot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "angelbot.db")
	s, err := NewSQLiteStore(path, testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestRunMigrations_FreshDB(t *testing.T) {
	s, _ := testStore(t)
	version, err := s.SchemaVersion()
	if err != nil {
		t.Fatal(err)
	}
	if version != schemaVersion {
		t.Errorf("expected schema version %d, got %d", schemaVersion, version)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	s, _ := testStore(t)
	if err := RunMigrations(s.db, testLogger()); err != nil {
		t.Fatalf("second migration (idempotent) failed: %v", err)
	}
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != len(migrations) {
		t.Fatalf("schema_version rows = %d, want %d", count, len(migrations))
	}
}

func TestRunMigrations_PreexistingTables(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "old.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	// A table created outside the migration history.
	if _, err := db.Exec(`CREATE TABLE profiles (username TEXT PRIMARY KEY, nickname TEXT NOT NULL DEFAULT '', bio TEXT NOT NULL DEFAULT '', interests TEXT NOT NULL DEFAULT '[]', updated_at DATETIME)`); err != nil {
		t.Fatal(err)
	}
	if err := RunMigrations(db, testLogger()); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	version, err := GetSchemaVersion(db)
	if err != nil || version != schemaVersion {
		t.Fatalf("version = %d err = %v", version, err)
	}
}

func TestGetSchemaVersion_EmptyDB(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "empty.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	version, err := GetSchemaVersion(db)
	if err != nil || version != 0 {
		t.Fatalf("version = %d err = %v", version, err)
	}
}

func TestSQLiteStore_BindingsRoundTrip(t *testing.T) {
	s, path := testStore(t)
	ctx := context.Background()

	if err := s.SaveBindings(ctx, map[string]int64{"alice": 111, "bob": 222}); err != nil {
		t.Fatal(err)
	}
	// Second save replaces: bob removed, alice rebound.
	if err := s.SaveBindings(ctx, map[string]int64{"alice": 333}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	reopened, err := NewSQLiteStore(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, err := reopened.LoadBindings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got["alice"] != 333 {
		t.Fatalf("bindings = %v", got)
	}
}

func TestSQLiteStore_EmptyLoad(t *testing.T) {
	s, _ := testStore(t)
	bindings, err := s.LoadBindings(context.Background())
	if err != nil || len(bindings) != 0 {
		t.Fatalf("bindings = %v err = %v", bindings, err)
	}
	profiles, err := s.LoadProfiles(context.Background())
	if err != nil || len(profiles) != 0 {
		t.Fatalf("profiles = %v err = %v", profiles, err)
	}
}

func TestSQLiteStore_ProfilesRoundTrip(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	in := map[string]domain.Profile{
		"alice": {Nickname: "Sunny", Bio: "hi", Interests: []string{"tea", "hiking"}},
		"bob":   {},
	}
	if err := s.SaveProfiles(ctx, in); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadProfiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	a := got["alice"]
	if a.Nickname != "Sunny" || a.Bio != "hi" || len(a.Interests) != 2 || a.Interests[1] != "hiking" {
		t.Fatalf("alice = %+v", a)
	}
	if b, ok := got["bob"]; !ok || b.Interests == nil {
		t.Fatalf("bob = %+v ok=%v, want empty non-nil interests", b, ok)
	}

	if err := s.SaveProfiles(ctx, map[string]domain.Profile{"alice": a}); err != nil {
		t.Fatal(err)
	}
	got, _ = s.LoadProfiles(ctx)
	if _, ok := got["bob"]; ok {
		t.Fatal("bob should have been removed")
	}
}

func TestSQLiteStore_Ping(t *testing.T) {
	s, _ := testStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}
