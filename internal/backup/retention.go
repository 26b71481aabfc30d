package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// listBackups lists all backup files in the directory, newest first.
func listBackups(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var backups []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		backups = append(backups, Info{
			Path:      filepath.Join(dir, entry.Name()),
			Timestamp: info.ModTime(),
			Size:      info.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// applyRetention removes old backups. Backups younger than a week form
// the daily tier; older ones the weekly tier. Each tier keeps its
// configured count of newest files, everything past a year is removed
// unconditionally.
func (s *Service) applyRetention() error {
	backups, err := listBackups(s.dir)
	if err != nil {
		return err
	}

	now := time.Now()
	var daily, weekly []Info
	var toDelete []string

	for _, b := range backups {
		age := now.Sub(b.Timestamp)
		switch {
		case age < 7*24*time.Hour:
			daily = append(daily, b)
		case age < 365*24*time.Hour:
			weekly = append(weekly, b)
		default:
			toDelete = append(toDelete, b.Path)
		}
	}

	if len(daily) > s.daily {
		for _, b := range daily[s.daily:] {
			toDelete = append(toDelete, b.Path)
		}
	}
	if len(weekly) > s.weekly {
		for _, b := range weekly[s.weekly:] {
			toDelete = append(toDelete, b.Path)
		}
	}

	var lastErr error
	for _, path := range toDelete {
		if err := os.Remove(path); err != nil {
			lastErr = err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("failed to delete some backups: %w", lastErr)
	}
	return nil
}
