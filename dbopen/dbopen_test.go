package dbopen_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/a11yfix/dbopen"
)

func TestOpenMemoryPragmas(t *testing.T) {
	db := dbopen.OpenMemory(t)

	var busy int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busy); err != nil {
		t.Fatal(err)
	}
	if busy != 5000 {
		t.Fatalf("busy_timeout: got %d, want 5000", busy)
	}
	var sync int
	if err := db.QueryRow("PRAGMA synchronous").Scan(&sync); err != nil {
		t.Fatal(err)
	}
	if sync != 1 {
		t.Fatalf("synchronous: got %d, want 1 (NORMAL)", sync)
	}
}

func TestOpenWithSchemaOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "s.db")
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(),
		dbopen.WithSchema(`CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT)`))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, err := dbopen.Exec(context.Background(), db, `INSERT INTO kv VALUES ('a', 'b')`); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	var v string
	if err := db.QueryRow(`SELECT v FROM kv WHERE k = 'a'`).Scan(&v); err != nil || v != "b" {
		t.Fatalf("select: got %q, %v", v, err)
	}
}

func TestIsBusy(t *testing.T) {
	if !dbopen.IsBusy(errors.New("database is locked (5) (SQLITE_BUSY)")) {
		t.Fatal("IsBusy: got false for lock error")
	}
	if dbopen.IsBusy(errors.New("no such table")) || dbopen.IsBusy(nil) {
		t.Fatal("IsBusy: got true for unrelated error")
	}
}
