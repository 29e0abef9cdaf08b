package sync

import (
	"encoding/json"

	"github.com/manpreetbhatti/sketchroom/backend/internal/drawing"
)

// A roster entry
type UserInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Snapshot sent to a joining or resyncing connection
type InitPayload struct {
	UserID  string           `json:"userId"`
	History []drawing.Stroke `json:"history"`
	Users   []UserInfo       `json:"users"`
}

// A relayed segment, tagged with its author
type SegmentPayload struct {
	drawing.Segment
	UserID string `json:"userId"`
}

type StrokeEndPayload struct {
	UserID string `json:"userId"`
}

type CursorPayload struct {
	UserID string  `json:"userId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Color  string  `json:"color"`
	Name   string  `json:"name"`
}

// Full authoritative history after undo or redo
type HistoryPayload struct {
	History []drawing.Stroke `json:"history"`
}

type UserJoinedPayload struct {
	Users []UserInfo `json:"users"`
}

type UserLeftPayload struct {
	UserID string     `json:"userId"`
	Users  []UserInfo `json:"users"`
}

type ErrorPayload struct {
	Type    MessageType `json:"type,omitempty"`
	Message string      `json:"message"`
}

type outbound struct {
	Type MessageType `json:"type"`
	Data any         `json:"data,omitempty"`
}

// Encode frames a server message. A nil payload produces a frame without data.
func Encode(t MessageType, payload any) ([]byte, error) {
	return json.Marshal(outbound{Type: t, Data: payload})
}
