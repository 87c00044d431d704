// Package database provides connection setup for MariaDB and Redis.
// This file validates migration SQL files to catch schema mismatches early.
package database

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// userColumns must match the columns the auth repository reads and writes.
// Update this set when the repository SQL changes.
var userColumns = []string{
	"id",
	"email",
	"password_hash",
	"cart",
	"reset_token_hash",
	"reset_token_expires_at",
	"created_at",
	"last_login_at",
}

// migrationsDir returns the absolute path to db/migrations/ from the project root.
func migrationsDir(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot determine test file path")
	}
	// thisFile is internal/database/migrate_test.go, project root is two dirs up.
	projectRoot := filepath.Join(filepath.Dir(thisFile), "..", "..")
	dir := filepath.Join(projectRoot, "db", "migrations")
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("migrations directory not found at %s: %v", dir, err)
	}
	return dir
}

// TestMigrations_UpDownPairs verifies that every .up.sql migration has a
// matching .down.sql. golang-migrate refuses to roll back otherwise, which
// turns a bad deploy into a manual recovery.
func TestMigrations_UpDownPairs(t *testing.T) {
	dir := migrationsDir(t)
	ups, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		t.Fatalf("globbing migration files: %v", err)
	}
	if len(ups) == 0 {
		t.Fatal("no .up.sql migration files found")
	}

	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := os.Stat(down); err != nil {
			t.Errorf("missing down migration for %s", filepath.Base(up))
		}
	}
}

// TestMigrations_UsersColumns scans the migration SQL for the users table
// and verifies every column the repository depends on is defined somewhere.
// This catches the common failure of adding a repository field without the
// matching ALTER TABLE.
func TestMigrations_UsersColumns(t *testing.T) {
	dir := migrationsDir(t)
	ups, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		t.Fatalf("globbing migration files: %v", err)
	}

	var all strings.Builder
	for _, path := range ups {
		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading %s: %v", path, err)
		}
		all.Write(content)
		all.WriteString("\n")
	}

	sql := strings.ToLower(all.String())
	for _, col := range userColumns {
		if !strings.Contains(sql, col) {
			t.Errorf("column %q not found in any up migration", col)
		}
	}
}

// TestMigrations_EmailUnique verifies the uniqueness constraint on users.email
// exists in the schema. Concurrent signups rely on the database rejecting the
// duplicate -- the application deliberately has no lock of its own.
func TestMigrations_EmailUnique(t *testing.T) {
	dir := migrationsDir(t)
	ups, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		t.Fatalf("globbing migration files: %v", err)
	}

	found := false
	for _, path := range ups {
		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading %s: %v", path, err)
		}
		sql := strings.ToLower(string(content))
		if strings.Contains(sql, "unique") && strings.Contains(sql, "email") {
			found = true
			break
		}
	}
	if !found {
		t.Error("no UNIQUE constraint on email found in migrations")
	}
}
