package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if s.Dialect() != DialectSQLite {
		t.Errorf("Dialect() = %q, want %q", s.Dialect(), DialectSQLite)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	var name string
	err = s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='queued_mutations'").Scan(&name)
	if err != nil {
		t.Errorf("queued_mutations table not found after idempotent opens: %v", err)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}
}

func TestOpen_SecondaryIndexes(t *testing.T) {
	s := createTestStore(t)

	indexes := []string{
		"idx_queued_mutations_enqueued_at",
		"idx_queued_mutations_priority",
		"idx_queued_mutations_kind",
	}
	for _, idx := range indexes {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&name)
		if err != nil {
			t.Errorf("index %q not found: %v", idx, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing-dir", "nested", "test.db"))
	if err == nil {
		t.Fatal("Open() expected error for unwritable path")
	}
}

func TestDialectFor(t *testing.T) {
	tests := []struct {
		dsn  string
		want Dialect
	}{
		{"./queue.db", DialectSQLite},
		{"file:queue.db?cache=shared", DialectSQLite},
		{"postgres://u:p@localhost/habits", DialectPostgres},
		{"PostgreSQL://localhost/habits", DialectPostgres},
	}
	for _, tt := range tests {
		if got := DialectFor(tt.dsn); got != tt.want {
			t.Errorf("DialectFor(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: DialectPostgres}
	got := pg.rebind("UPDATE t SET a = ?, b = ? WHERE id = ?")
	want := "UPDATE t SET a = $1, b = $2 WHERE id = $3"
	if got != want {
		t.Errorf("rebind() = %q, want %q", got, want)
	}

	lite := &Store{dialect: DialectSQLite}
	if got := lite.rebind("WHERE id = ?"); got != "WHERE id = ?" {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}
