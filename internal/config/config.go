package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/manpreetbhatti/sketchroom/backend/internal/room"
)

type Config struct {
	Addr        string
	JournalPath string
	DefaultRoom string

	RetentionInterval time.Duration
	RetentionKeep     int

	// Connection attempts per remote address
	ConnRate  float64
	ConnBurst int

	MDNS         bool
	MDNSInstance string
}

// Load reads flags from args, falling back to environment variables and then
// to defaults.
func Load(args []string) (Config, error) {
	return load(args, os.Getenv)
}

func load(args []string, getenv func(string) string) (Config, error) {
	env := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}

	port := env("PORT", "8080")

	var cfg Config
	fs := flag.NewFlagSet("sketchroom", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", env("SKETCHROOM_ADDR", ":"+port), "address to listen on")
	fs.StringVar(&cfg.JournalPath, "journal", env("SKETCHROOM_JOURNAL_PATH", ":memory:"), "activity journal sqlite path")
	fs.StringVar(&cfg.DefaultRoom, "default-room", env("SKETCHROOM_DEFAULT_ROOM", "default"), "room used when a client names none")
	fs.BoolVar(&cfg.MDNS, "mdns", false, "advertise the server over mDNS")
	fs.StringVar(&cfg.MDNSInstance, "mdns-instance", env("SKETCHROOM_MDNS_INSTANCE", ""), "mDNS instance name (default hostname)")

	var err error
	if cfg.RetentionInterval, err = time.ParseDuration(env("SKETCHROOM_RETENTION_INTERVAL", "5m")); err != nil {
		return cfg, fmt.Errorf("SKETCHROOM_RETENTION_INTERVAL: %w", err)
	}
	fs.DurationVar(&cfg.RetentionInterval, "retention-interval", cfg.RetentionInterval, "how often the journal is pruned")

	if cfg.RetentionKeep, err = strconv.Atoi(env("SKETCHROOM_RETENTION_KEEP", "1000")); err != nil {
		return cfg, fmt.Errorf("SKETCHROOM_RETENTION_KEEP: %w", err)
	}
	fs.IntVar(&cfg.RetentionKeep, "retention-keep", cfg.RetentionKeep, "journal events kept per room")

	if cfg.ConnRate, err = strconv.ParseFloat(env("SKETCHROOM_CONN_RATE", "2"), 64); err != nil {
		return cfg, fmt.Errorf("SKETCHROOM_CONN_RATE: %w", err)
	}
	fs.Float64Var(&cfg.ConnRate, "conn-rate", cfg.ConnRate, "connection attempts per second per address (0 disables)")

	if cfg.ConnBurst, err = strconv.Atoi(env("SKETCHROOM_CONN_BURST", "20")); err != nil {
		return cfg, fmt.Errorf("SKETCHROOM_CONN_BURST: %w", err)
	}
	fs.IntVar(&cfg.ConnBurst, "conn-burst", cfg.ConnBurst, "connection attempt burst per address")

	if v := getenv("SKETCHROOM_MDNS"); v != "" {
		if cfg.MDNS, err = strconv.ParseBool(v); err != nil {
			return cfg, fmt.Errorf("SKETCHROOM_MDNS: %w", err)
		}
	}

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if !room.ValidID(cfg.DefaultRoom) {
		return cfg, fmt.Errorf("default room %q must be 1-64 letters, digits, '_' or '-'", cfg.DefaultRoom)
	}
	if cfg.RetentionInterval <= 0 {
		return cfg, fmt.Errorf("retention interval must be positive, got %v", cfg.RetentionInterval)
	}
	if cfg.RetentionKeep < 1 {
		return cfg, fmt.Errorf("retention keep must be at least 1, got %d", cfg.RetentionKeep)
	}
	return cfg, nil
}
