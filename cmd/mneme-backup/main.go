// Command mneme-backup creates, lists, and restores backups of the
// memory database.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/scrypster/mneme/internal/backup"
	"github.com/scrypster/mneme/internal/config"
)

var (
	configPath = flag.String("config", "", "Path to YAML config file (optional, uses env vars by default)")
	dbPath     = flag.String("db", "", "Path to database file (overrides config)")
	backupDir  = flag.String("backup-dir", "", "Backup directory path (overrides config)")
	verify     = flag.Bool("verify", true, "Verify backups after creation")
	restore    = flag.String("restore", "", "Restore database from backup file and exit")
	listCmd    = flag.Bool("list", false, "List all available backups and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfigFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	database := cfg.Storage.Path
	if *dbPath != "" {
		database = *dbPath
	}
	if *backupDir != "" {
		cfg.Backup.Path = *backupDir
	}
	cfg.Backup.Verify = *verify

	svc, err := backup.New(database, cfg.Backup)
	if err != nil {
		log.Fatalf("Failed to initialize backup service: %v", err)
	}

	switch {
	case *listCmd:
		backups, err := svc.ListBackups()
		if err != nil {
			log.Fatalf("Failed to list backups: %v", err)
		}
		if len(backups) == 0 {
			fmt.Println("No backups found.")
			return
		}
		for _, b := range backups {
			fmt.Printf("%s  %10d bytes  %s\n", b.Timestamp.Format("2006-01-02 15:04:05"), b.Size, b.Path)
		}

	case *restore != "":
		if err := svc.Restore(*restore); err != nil {
			log.Fatalf("Restore failed: %v", err)
		}
		fmt.Printf("Database restored from %s\n", *restore)

	default:
		result, err := svc.BackupNow()
		if err != nil {
			log.Fatalf("Backup failed: %v", err)
		}
		fmt.Printf("Backup created: %s (%d bytes, verified=%v, took %v)\n",
			result.Path, result.Size, result.Verified, result.Duration)
		os.Exit(0)
	}
}
