package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/manpreetbhatti/sketchroom/backend/internal/drawing"
)

// Identifies the kind of a frame
type MessageType string

const (
	// Server to joining (or resyncing) connection only
	TypeInit MessageType = "init"

	// Drawing increments and pen-up, relayed to other room members
	TypeSegment   MessageType = "segment"
	TypeStrokeEnd MessageType = "stroke-end"

	// Cursor position, relayed without touching state
	TypeCursorMove MessageType = "cursor-move"

	// Global corrections, broadcast to every member including the sender
	TypeUndo  MessageType = "undo"
	TypeRedo  MessageType = "redo"
	TypeClear MessageType = "clear"

	// Roster changes
	TypeUserJoined MessageType = "user-joined"
	TypeUserLeft   MessageType = "user-left"

	// Client asks for a fresh snapshot
	TypeResync MessageType = "resync"

	// Server tells the sender its frame was rejected
	TypeError MessageType = "error"
)

var (
	ErrEmptyMessage = errors.New("empty message")
	ErrUnknownType  = errors.New("unknown message type")
)

// A rejected field in an inbound payload
type ValidationError struct {
	Type   MessageType
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s payload: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("invalid %s payload: %s %s", e.Type, e.Field, e.Reason)
}

// A frame dropped because its sender exceeded the message rate
type RateLimitError struct {
	Type MessageType
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s dropped: rate limit exceeded, resync to recover", e.Type)
}

// RateLimited reports whether frames of type t count against the sender's
// message rate. Pen-up, corrections and resync always go through.
func RateLimited(t MessageType) bool {
	return t == TypeSegment || t == TypeCursorMove
}

// The JSON frame shared by both directions
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound is one of the client-to-server variants below.
type Inbound interface {
	Kind() MessageType
}

type SegmentEvent struct {
	Segment drawing.Segment
}

type StrokeEndEvent struct{}

type CursorMoveEvent struct {
	X float64
	Y float64
}

type UndoEvent struct{}

type RedoEvent struct{}

type ClearEvent struct{}

type ResyncEvent struct{}

func (SegmentEvent) Kind() MessageType    { return TypeSegment }
func (StrokeEndEvent) Kind() MessageType  { return TypeStrokeEnd }
func (CursorMoveEvent) Kind() MessageType { return TypeCursorMove }
func (UndoEvent) Kind() MessageType       { return TypeUndo }
func (RedoEvent) Kind() MessageType       { return TypeRedo }
func (ClearEvent) Kind() MessageType      { return TypeClear }
func (ResyncEvent) Kind() MessageType     { return TypeResync }

var hexColor = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Wire shapes used only for decoding. Pointers tell missing from zero.
type segmentWire struct {
	StartX *float64 `json:"startX"`
	StartY *float64 `json:"startY"`
	EndX   *float64 `json:"endX"`
	EndY   *float64 `json:"endY"`
	Color  *string  `json:"color"`
	Width  *int     `json:"width"`
	Tool   *string  `json:"tool"`
}

type cursorWire struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

// ParseInbound decodes a client frame into its typed variant. Any missing
// or wrong-typed field rejects the whole frame.
func ParseInbound(data []byte) (Inbound, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch env.Type {
	case TypeSegment:
		return parseSegment(env.Data)
	case TypeCursorMove:
		return parseCursor(env.Data)
	case TypeStrokeEnd:
		return StrokeEndEvent{}, nil
	case TypeUndo:
		return UndoEvent{}, nil
	case TypeRedo:
		return RedoEvent{}, nil
	case TypeClear:
		return ClearEvent{}, nil
	case TypeResync:
		return ResyncEvent{}, nil
	case "":
		return nil, &ValidationError{Reason: "missing type"}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodePayload(t MessageType, raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return &ValidationError{Type: t, Reason: "missing data"}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &ValidationError{Type: t, Field: typeErr.Field, Reason: "has wrong type " + typeErr.Value}
		}
		return &ValidationError{Type: t, Reason: err.Error()}
	}
	return nil
}

func parseSegment(raw json.RawMessage) (Inbound, error) {
	var w segmentWire
	if err := decodePayload(TypeSegment, raw, &w); err != nil {
		return nil, err
	}

	missing := func(field string) error {
		return &ValidationError{Type: TypeSegment, Field: field, Reason: "is required"}
	}
	switch {
	case w.StartX == nil:
		return nil, missing("startX")
	case w.StartY == nil:
		return nil, missing("startY")
	case w.EndX == nil:
		return nil, missing("endX")
	case w.EndY == nil:
		return nil, missing("endY")
	case w.Color == nil:
		return nil, missing("color")
	case w.Width == nil:
		return nil, missing("width")
	case w.Tool == nil:
		return nil, missing("tool")
	}

	if !hexColor.MatchString(*w.Color) {
		return nil, &ValidationError{Type: TypeSegment, Field: "color", Reason: "must be a hex color"}
	}
	if *w.Width <= 0 {
		return nil, &ValidationError{Type: TypeSegment, Field: "width", Reason: "must be positive"}
	}
	tool := drawing.Tool(*w.Tool)
	if !tool.Valid() {
		return nil, &ValidationError{Type: TypeSegment, Field: "tool", Reason: "must be brush or eraser"}
	}

	return SegmentEvent{Segment: drawing.Segment{
		StartX: *w.StartX,
		StartY: *w.StartY,
		EndX:   *w.EndX,
		EndY:   *w.EndY,
		Color:  *w.Color,
		Width:  *w.Width,
		Tool:   tool,
	}}, nil
}

func parseCursor(raw json.RawMessage) (Inbound, error) {
	var w cursorWire
	if err := decodePayload(TypeCursorMove, raw, &w); err != nil {
		return nil, err
	}
	if w.X == nil {
		return nil, &ValidationError{Type: TypeCursorMove, Field: "x", Reason: "is required"}
	}
	if w.Y == nil {
		return nil, &ValidationError{Type: TypeCursorMove, Field: "y", Reason: "is required"}
	}
	return CursorMoveEvent{X: *w.X, Y: *w.Y}, nil
}
