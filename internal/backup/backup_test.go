package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/scrypster/mneme/internal/config"
	"github.com/scrypster/mneme/internal/storage/sqlite"
	"github.com/scrypster/mneme/pkg/types"
)

// newTestDB creates a SQLite database file with one node in it.
func newTestDB(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mneme.db")
	store, err := sqlite.New(path)
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	defer store.Close()

	err = store.PutNode(context.Background(), &types.KnowledgeNode{
		NodeID:   "n1",
		NodeType: "atomic_fact",
		Content:  "the user likes tea",
	})
	if err != nil {
		t.Fatalf("failed to seed database: %v", err)
	}
	return path
}

func newTestService(t *testing.T, dbPath string) *Service {
	t.Helper()

	svc, err := New(dbPath, config.BackupConfig{
		Path:            filepath.Join(t.TempDir(), "backups"),
		Verify:          true,
		RetentionDaily:  7,
		RetentionWeekly: 4,
	})
	if err != nil {
		t.Fatalf("failed to create backup service: %v", err)
	}
	return svc
}

func TestBackupNow(t *testing.T) {
	dbPath := newTestDB(t)
	svc := newTestService(t, dbPath)

	result, err := svc.BackupNow()
	if err != nil {
		t.Fatalf("BackupNow failed: %v", err)
	}
	if !result.Verified {
		t.Error("backup not verified")
	}
	if result.Size == 0 {
		t.Error("backup file is empty")
	}
	if !strings.Contains(filepath.Base(result.Path), "mneme-backup-") {
		t.Errorf("unexpected backup name %q", result.Path)
	}

	backups, err := svc.ListBackups()
	if err != nil {
		t.Fatalf("ListBackups failed: %v", err)
	}
	if len(backups) != 1 {
		t.Errorf("listed %d backups, want 1", len(backups))
	}
}

func TestBackupMissingDatabase(t *testing.T) {
	svc := newTestService(t, filepath.Join(t.TempDir(), "missing.db"))

	if _, err := svc.BackupNow(); err == nil {
		t.Error("backup of missing database succeeded")
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	dbPath := newTestDB(t)
	svc := newTestService(t, dbPath)

	result, err := svc.BackupNow()
	if err != nil {
		t.Fatalf("BackupNow failed: %v", err)
	}

	// Wreck the live database.
	if err := os.WriteFile(dbPath, []byte("not a database"), 0644); err != nil {
		t.Fatalf("failed to corrupt database: %v", err)
	}

	if err := svc.Restore(result.Path); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	// The restored database has its data back.
	store, err := sqlite.New(dbPath)
	if err != nil {
		t.Fatalf("failed to open restored database: %v", err)
	}
	defer store.Close()

	node, err := store.GetNode(context.Background(), "n1")
	if err != nil {
		t.Fatalf("seeded node missing after restore: %v", err)
	}
	if node.Content != "the user likes tea" {
		t.Errorf("restored content = %q", node.Content)
	}
}

func TestRestoreRejectsCorruptBackup(t *testing.T) {
	dbPath := newTestDB(t)
	svc := newTestService(t, dbPath)

	corrupt := filepath.Join(t.TempDir(), "corrupt.db")
	if err := os.WriteFile(corrupt, []byte("garbage"), 0644); err != nil {
		t.Fatalf("failed to write corrupt file: %v", err)
	}

	if err := svc.Restore(corrupt); err == nil {
		t.Error("restore from corrupt backup succeeded")
	}
}

func TestRetentionDeletesOldBackups(t *testing.T) {
	dbPath := newTestDB(t)
	svc := newTestService(t, dbPath)
	svc.daily = 2
	svc.weekly = 1

	// Fabricate aged backups with explicit mod times.
	mk := func(name string, age time.Duration) {
		t.Helper()
		path := filepath.Join(svc.dir, name)
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
		when := time.Now().Add(-age)
		if err := os.Chtimes(path, when, when); err != nil {
			t.Fatalf("failed to set mtime: %v", err)
		}
	}

	mk("daily-1.db", 1*time.Hour)
	mk("daily-2.db", 2*time.Hour)
	mk("daily-3.db", 3*time.Hour) // over the daily budget of 2
	mk("weekly-1.db", 10*24*time.Hour)
	mk("weekly-2.db", 20*24*time.Hour) // over the weekly budget of 1
	mk("ancient.db", 400*24*time.Hour) // past a year, always removed

	if err := svc.applyRetention(); err != nil {
		t.Fatalf("applyRetention failed: %v", err)
	}

	backups, err := svc.ListBackups()
	if err != nil {
		t.Fatalf("ListBackups failed: %v", err)
	}

	names := make(map[string]bool)
	for _, b := range backups {
		names[filepath.Base(b.Path)] = true
	}
	for _, want := range []string{"daily-1.db", "daily-2.db", "weekly-1.db"} {
		if !names[want] {
			t.Errorf("%s deleted, want kept", want)
		}
	}
	for _, gone := range []string{"daily-3.db", "weekly-2.db", "ancient.db"} {
		if names[gone] {
			t.Errorf("%s kept, want deleted", gone)
		}
	}
}
