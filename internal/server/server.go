// Package server exposes the memory service over HTTP: a JSON API for
// session, turn, and memory operations, plus a WebSocket endpoint that
// broadcasts memory-system events to connected frontends.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/scrypster/mneme/internal/config"
	"github.com/scrypster/mneme/internal/service"
)

// Start initializes and starts the HTTP server.
// Returns the actual address being listened on (useful for testing with
// port 0) and the WebSocketHub for wiring event broadcasts. The server
// shuts down gracefully when ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, svc *service.Service) (string, *WebSocketHub, error) {
	wsHub := NewWebSocketHub([]string{
		fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		fmt.Sprintf("localhost:%d", cfg.Server.Port),
	})
	go wsHub.Run()

	handler := Routes(cfg, svc, wsHub)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		wsHub.Stop()
		return "", nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("server: serve error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("server: shutdown error: %v", err)
		}
		wsHub.Stop()
	}()

	return actualAddr, wsHub, nil
}

// Routes builds the full HTTP handler: API routes wrapped with rate
// limiting and security headers.
func Routes(cfg *config.Config, svc *service.Service, wsHub *WebSocketHub) http.Handler {
	h := NewHandlers(svc, cfg, wsHub)
	mux := http.NewServeMux()

	mux.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			h.StartSession(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/sessions/end", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			h.EndSession(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/turns", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			h.ProcessTurn(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/interrupt", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			h.HandleInterrupt(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/context", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			h.BuildContext(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/memories", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListMemories(w, r)
		case http.MethodPost:
			h.CreateMemory(w, r)
		case http.MethodDelete:
			h.DeleteAllMemories(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/memories/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			h.DeleteMemory(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/search", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			h.SearchMemories(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/rules", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			h.CreateRule(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/stream/events", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			h.RecordStreamEvent(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/sentiment", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			h.RecordSentiment(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Health endpoint — used by integrations and monitoring.
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","version":"1.0.0"}`))
	})

	// WebSocket endpoint - origin validation handles security.
	mux.Handle("/ws", wsHub)

	rateLimiter := NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	handler := RateLimitMiddleware(mux, rateLimiter)
	return securityHeadersMiddleware(handler)
}
