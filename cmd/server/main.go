package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"github.com/manpreetbhatti/sketchroom/backend/internal/api"
	"github.com/manpreetbhatti/sketchroom/backend/internal/config"
	"github.com/manpreetbhatti/sketchroom/backend/internal/db"
	"github.com/manpreetbhatti/sketchroom/backend/internal/discovery"
	"github.com/manpreetbhatti/sketchroom/backend/internal/retention"
	"github.com/manpreetbhatti/sketchroom/backend/internal/ws"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	database, err := db.New(cfg.JournalPath)
	if err != nil {
		log.Fatalf("Failed to initialize journal: %v", err)
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := ws.NewHub(database, ws.Options{
		DefaultRoom: cfg.DefaultRoom,
		ConnRate:    cfg.ConnRate,
		ConnBurst:   cfg.ConnBurst,
	})
	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()

	pruner := retention.New(database, retention.Config{
		Interval:   cfg.RetentionInterval,
		KeepEvents: cfg.RetentionKeep,
	})
	pruner.Start()
	defer pruner.Stop()

	r := mux.NewRouter()
	r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, w, r)
	})
	api.New(hub, database).Register(r)
	r.Use(logMiddleware)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           corsMiddleware(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.MDNS {
		port, err := listenPort(cfg.Addr)
		if err != nil {
			log.Printf("mDNS disabled: %v", err)
		} else if mdnsServer, err := discovery.Advertise(cfg.MDNSInstance, port); err != nil {
			log.Printf("mDNS disabled: %v", err)
		} else {
			defer mdnsServer.Shutdown()
			log.Printf("📡 Advertising %s on port %d", discovery.ServiceType, port)
		}
	}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown: %v", err)
		}
	}()

	log.Printf("🎨 Sketchroom server starting on %s", cfg.Addr)
	log.Printf("📁 Journal: %s", cfg.JournalPath)
	log.Println("Endpoints:")
	log.Println("  - WebSocket: /ws?room={roomId}")
	log.Println("  - Health:    GET /health")
	log.Println("  - Stats:     GET /api/stats")
	log.Println("  - Rooms:     GET /api/rooms")
	log.Println("  - Room:      GET /api/rooms/{id}")
	log.Println("  - History:   GET /api/rooms/{id}/history")
	log.Println("  - Export:    GET /api/rooms/{id}/export.pdf")
	log.Println("  - Journal:   GET /api/journal/rooms?limit=N&offset=M")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("ListenAndServe: ", err)
	}

	// Hijacked websocket connections outlive Shutdown; the hub closes them.
	stop()
	<-hubDone
}

// listenPort extracts the numeric port from a listen address like ":8080".
func listenPort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Upgraded connections stay open for the session; skip them.
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		m := httpsnoop.CaptureMetrics(next, w, r)
		log.Printf("%s %s %d %dB %v", r.Method, r.URL.Path, m.Code, m.Written, m.Duration)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
