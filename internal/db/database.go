package db

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Event kinds written to the journal
const (
	EventJoin   = "join"
	EventLeave  = "leave"
	EventStroke = "stroke"
	EventUndo   = "undo"
	EventRedo   = "redo"
	EventClear  = "clear"
)

// MemoryPath keeps the journal in process memory.
const MemoryPath = ":memory:"

// Database is the activity journal: which rooms have been used and what
// happened in them. It never stores drawing content.
type Database struct {
	db *sql.DB
}

type Room struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Event struct {
	ID        int64     `json:"id"`
	RoomID    string    `json:"room_id"`
	Kind      string    `json:"kind"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Stats struct {
	RoomCount  int `json:"room_count"`
	EventCount int `json:"event_count"`
}

func New(dbPath string) (*Database, error) {
	memory := dbPath == MemoryPath || strings.Contains(dbPath, "mode=memory")
	if !memory {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if memory {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	log.Printf("Journal initialized at %s", dbPath)
	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS room_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_room_events_room_id ON room_events(room_id, id);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Record appends an event, creating the room row on first use.
func (d *Database) Record(roomID, kind, userID string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO rooms (id) VALUES (?)
		ON CONFLICT(id) DO UPDATE SET updated_at = CURRENT_TIMESTAMP
	`, roomID); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO room_events (room_id, kind, user_id) VALUES (?, ?, ?)",
		roomID, kind, userID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *Database) GetRoom(id string) (*Room, error) {
	row := d.db.QueryRow(
		"SELECT id, created_at, updated_at FROM rooms WHERE id = ?",
		id,
	)

	var room Room
	err := row.Scan(&room.ID, &room.CreatedAt, &room.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (d *Database) ListRooms(limit, offset int) ([]Room, error) {
	rows, err := d.db.Query(
		"SELECT id, created_at, updated_at FROM rooms ORDER BY updated_at DESC, id ASC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := make([]Room, 0)
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// Returns the newest events of a room, newest first
func (d *Database) RecentEvents(roomID string, limit int) ([]Event, error) {
	rows, err := d.db.Query(`
		SELECT id, room_id, kind, user_id, created_at
		FROM room_events
		WHERE room_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.RoomID, &e.Kind, &e.UserID, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Counts journaled events of a room by kind
func (d *Database) EventCounts(roomID string) (map[string]int, error) {
	rows, err := d.db.Query(
		"SELECT kind, COUNT(*) FROM room_events WHERE room_id = ? GROUP BY kind",
		roomID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

func (d *Database) GetEventCount(roomID string) (int, error) {
	var count int
	err := d.db.QueryRow(
		"SELECT COUNT(*) FROM room_events WHERE room_id = ?",
		roomID,
	).Scan(&count)
	return count, err
}

// PruneEvents keeps only the newest keep events of a room and reports how
// many were deleted.
func (d *Database) PruneEvents(roomID string, keep int) (int64, error) {
	res, err := d.db.Exec(`
		DELETE FROM room_events
		WHERE room_id = ? AND id NOT IN (
			SELECT id FROM room_events
			WHERE room_id = ?
			ORDER BY id DESC
			LIMIT ?
		)
	`, roomID, roomID, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *Database) GetStats() (Stats, error) {
	var stats Stats
	if err := d.db.QueryRow("SELECT COUNT(*) FROM rooms").Scan(&stats.RoomCount); err != nil {
		return stats, err
	}
	if err := d.db.QueryRow("SELECT COUNT(*) FROM room_events").Scan(&stats.EventCount); err != nil {
		return stats, err
	}
	return stats, nil
}
