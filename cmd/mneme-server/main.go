// Command mneme-server runs the memory system HTTP server.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scrypster/mneme/internal/config"
	"github.com/scrypster/mneme/internal/server"
	"github.com/scrypster/mneme/internal/service"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional, uses env vars by default)")
	flag.Parse()

	cfg, err := config.LoadConfigFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	svc, err := service.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize memory service: %v", err)
	}
	defer svc.Close()

	// A system prompt file overrides the configured default.
	if cfg.Server.SystemFile != "" {
		data, err := os.ReadFile(cfg.Server.SystemFile)
		if err != nil {
			log.Fatalf("Failed to read system prompt file: %v", err)
		}
		svc.SetSystemPrompt(string(data))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, _, err := server.Start(ctx, cfg, svc)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("Mneme memory server running at http://%s", addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()
	time.Sleep(1 * time.Second) // Give time for connections to close
}
