package api

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/manpreetbhatti/sketchroom/backend/internal/db"
	"github.com/manpreetbhatti/sketchroom/backend/internal/export"
	"github.com/manpreetbhatti/sketchroom/backend/internal/ws"
)

type API struct {
	hub      *ws.Hub
	database *db.Database
}

func New(hub *ws.Hub, database *db.Database) *API {
	return &API{
		hub:      hub,
		database: database,
	}
}

// Register mounts the API routes on r.
func (a *API) Register(r *mux.Router) {
	r.Methods(http.MethodGet).Path("/health").HandlerFunc(a.HealthHandler)
	r.Methods(http.MethodGet).Path("/api/stats").HandlerFunc(a.StatsHandler)
	r.Methods(http.MethodGet).Path("/api/rooms").HandlerFunc(a.ListRoomsHandler)
	r.Methods(http.MethodGet).Path("/api/rooms/{id}").HandlerFunc(a.GetRoomHandler)
	r.Methods(http.MethodGet).Path("/api/rooms/{id}/history").HandlerFunc(a.HistoryHandler)
	r.Methods(http.MethodGet).Path("/api/rooms/{id}/export.pdf").HandlerFunc(a.ExportHandler)
	r.Methods(http.MethodGet).Path("/api/journal/rooms").HandlerFunc(a.JournalRoomsHandler)
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	rooms, clients, err := a.hub.Counts(r.Context())
	if err != nil {
		errorResponse(w, http.StatusServiceUnavailable, "Hub unavailable")
		return
	}

	stats := map[string]interface{}{
		"active_rooms":   rooms,
		"active_clients": clients,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats()
		if err == nil {
			stats["journaled_rooms"] = dbStats.RoomCount
			stats["journaled_events"] = dbStats.EventCount
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

type RoomResponse struct {
	ws.RoomSummary
	Events int `json:"events"`
}

type RoomDetailResponse struct {
	*ws.RoomDetail
	Activity     map[string]int `json:"activity,omitempty"`
	RecentEvents []db.Event     `json:"recent_events,omitempty"`
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms, err := a.hub.Rooms(r.Context())
	if err != nil {
		errorResponse(w, http.StatusServiceUnavailable, "Hub unavailable")
		return
	}

	response := make([]RoomResponse, len(rooms))
	for i, room := range rooms {
		response[i] = RoomResponse{RoomSummary: room}
		if a.database != nil {
			response[i].Events, _ = a.database.GetEventCount(room.ID)
		}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms": response,
	})
}

// liveRoom loads the room named in the path or writes the error response.
func (a *API) liveRoom(w http.ResponseWriter, r *http.Request) *ws.RoomDetail {
	roomID := mux.Vars(r)["id"]
	if roomID == "" {
		errorResponse(w, http.StatusBadRequest, "Room ID is required")
		return nil
	}

	room, err := a.hub.Room(r.Context(), roomID)
	if err != nil {
		errorResponse(w, http.StatusServiceUnavailable, "Hub unavailable")
		return nil
	}
	if room == nil {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return nil
	}
	return room
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	room := a.liveRoom(w, r)
	if room == nil {
		return
	}

	response := RoomDetailResponse{RoomDetail: room}
	if a.database != nil {
		if counts, err := a.database.EventCounts(room.ID); err == nil {
			response.Activity = counts
		}
		if events, err := a.database.RecentEvents(room.ID, 20); err == nil {
			response.RecentEvents = events
		}
	}

	jsonResponse(w, http.StatusOK, response)
}

func (a *API) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	room := a.liveRoom(w, r)
	if room == nil {
		return
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"room":    room.ID,
		"history": room.History,
	})
}

func (a *API) ExportHandler(w http.ResponseWriter, r *http.Request) {
	room := a.liveRoom(w, r)
	if room == nil {
		return
	}

	var buf bytes.Buffer
	if err := export.WritePDF(&buf, "Room "+room.ID, room.History); err != nil {
		log.Printf("Export failed for room %s: %v", room.ID, err)
		errorResponse(w, http.StatusInternalServerError, "Failed to export room")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+room.ID+`.pdf"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (a *API) JournalRoomsHandler(w http.ResponseWriter, r *http.Request) {
	if a.database == nil {
		errorResponse(w, http.StatusNotFound, "Journal disabled")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	rooms, err := a.database.ListRooms(limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list rooms")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms":  rooms,
		"limit":  limit,
		"offset": offset,
	})
}
