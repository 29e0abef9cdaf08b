package retention

import (
	"log"
	"sync"
	"time"

	"github.com/manpreetbhatti/sketchroom/backend/internal/db"
)

type Config struct {
	Interval time.Duration
	// Events kept per room after a pass
	KeepEvents int
}

func DefaultConfig() Config {
	return Config{
		Interval:   5 * time.Minute,
		KeepEvents: 1000,
	}
}

// Service trims the activity journal so a long-lived room does not grow it
// without bound.
type Service struct {
	database *db.Database
	config   Config
	stop     chan struct{}
	wg       sync.WaitGroup
}

func New(database *db.Database, config Config) *Service {
	return &Service{
		database: database,
		config:   config,
		stop:     make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	log.Printf("🧹 Retention service started (interval: %v, keep: %d events per room)",
		s.config.Interval, s.config.KeepEvents)
}

func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
	log.Println("🧹 Retention service stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.PruneAll()
		}
	}
}

// PruneAll trims every journaled room and returns the number of deleted events.
func (s *Service) PruneAll() int64 {
	var total int64
	offset := 0
	const page = 500

	for {
		rooms, err := s.database.ListRooms(page, offset)
		if err != nil {
			log.Printf("Retention: failed to list rooms: %v", err)
			return total
		}
		for _, room := range rooms {
			deleted, err := s.database.PruneEvents(room.ID, s.config.KeepEvents)
			if err != nil {
				log.Printf("Retention: failed for room %s: %v", room.ID, err)
				continue
			}
			total += deleted
		}
		if len(rooms) < page {
			break
		}
		offset += page
	}

	if total > 0 {
		log.Printf("🧹 Pruned %d journal events", total)
	}
	return total
}
