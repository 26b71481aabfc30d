// Package backup creates and restores consistent SQLite backups of the
// memory database, with integrity verification and a daily/weekly
// retention policy.
package backup

import (
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scrypster/mneme/internal/config"
)

// Result describes one completed backup.
type Result struct {
	Path     string        `json:"path"`
	Size     int64         `json:"size"`
	Duration time.Duration `json:"duration"`
	Verified bool          `json:"verified"`
}

// Info contains metadata about one backup file on disk.
type Info struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// Service backs up one SQLite database into a backup directory.
type Service struct {
	dbPath string
	dir    string
	verify bool
	daily  int
	weekly int
}

// New creates a backup service for the database at dbPath.
func New(dbPath string, cfg config.BackupConfig) (*Service, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if cfg.RetentionDaily <= 0 {
		cfg.RetentionDaily = 7
	}
	if cfg.RetentionWeekly <= 0 {
		cfg.RetentionWeekly = 4
	}

	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	return &Service{
		dbPath: dbPath,
		dir:    cfg.Path,
		verify: cfg.Verify,
		daily:  cfg.RetentionDaily,
		weekly: cfg.RetentionWeekly,
	}, nil
}

// BackupNow creates one timestamped backup, verifies it when enabled,
// and applies the retention policy. Retention failures are logged but
// never fail the backup itself.
func (s *Service) BackupNow() (*Result, error) {
	start := time.Now()

	if _, err := os.Stat(s.dbPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	// Microseconds in the name keep rapid successive backups distinct.
	name := fmt.Sprintf("mneme-backup-%s.db", time.Now().Format("20060102-150405.000000"))
	dest := filepath.Join(s.dir, name)

	if err := vacuumInto(s.dbPath, dest); err != nil {
		return nil, err
	}

	info, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("failed to stat backup: %w", err)
	}

	result := &Result{
		Path:     dest,
		Size:     info.Size(),
		Duration: time.Since(start),
	}

	if s.verify {
		if err := verifyDatabase(dest); err != nil {
			return result, fmt.Errorf("backup verification failed: %w", err)
		}
		result.Verified = true
	}

	if err := s.applyRetention(); err != nil {
		log.Printf("backup: failed to apply retention policy: %v", err)
	}

	return result, nil
}

// Restore replaces the database with the given backup. The database must
// not be in use. The previous database is kept as a rollback copy until
// the restore verifies.
func (s *Service) Restore(backupPath string) error {
	if _, err := os.Stat(backupPath); err != nil {
		return fmt.Errorf("backup not found: %w", err)
	}
	if err := verifyDatabase(backupPath); err != nil {
		return fmt.Errorf("backup verification failed: %w", err)
	}

	// Byte-for-byte copy: the live database may be corrupt (that is why
	// restore is running), so VACUUM INTO would refuse it.
	rollback := s.dbPath + ".pre-restore"
	hadDB := false
	if _, err := os.Stat(s.dbPath); err == nil {
		hadDB = true
		if err := copyFile(s.dbPath, rollback); err != nil {
			return fmt.Errorf("failed to create pre-restore copy: %w", err)
		}
	}

	if err := copyFile(backupPath, s.dbPath); err != nil {
		if hadDB {
			if rbErr := copyFile(rollback, s.dbPath); rbErr != nil {
				return fmt.Errorf("restore failed and rollback failed: %v (restore error: %w)", rbErr, err)
			}
			return fmt.Errorf("restore failed, rolled back to previous state: %w", err)
		}
		return err
	}

	if err := verifyDatabase(s.dbPath); err != nil {
		return fmt.Errorf("restored database verification failed: %w", err)
	}

	if hadDB {
		os.Remove(rollback)
	}
	log.Printf("backup: database restored from %s", backupPath)
	return nil
}

// ListBackups returns all backups in the directory, newest first.
func (s *Service) ListBackups() ([]Info, error) {
	return listBackups(s.dir)
}

// vacuumInto writes a consistent point-in-time copy of the database.
// VACUUM INTO handles WAL mode correctly without stopping writers.
func vacuumInto(sourcePath, destPath string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", sourcePath))
	if err != nil {
		return fmt.Errorf("failed to open source database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping source database: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", destPath)); err != nil {
		return fmt.Errorf("failed to backup database: %w", err)
	}
	return nil
}

// verifyDatabase runs SQLite's integrity check against a database file.
func verifyDatabase(path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("failed to run integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy: %w", err)
	}
	return out.Sync()
}
