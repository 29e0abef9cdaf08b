package drawing

// Tool selects how a stroke is painted
type Tool string

const (
	ToolBrush  Tool = "brush"
	ToolEraser Tool = "eraser"
)

// Reports whether t is one of the known tools
func (t Tool) Valid() bool {
	return t == ToolBrush || t == ToolEraser
}

// A position on the drawing surface
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// A single two-point increment of an in-progress gesture
type Segment struct {
	StartX float64 `json:"startX"`
	StartY float64 `json:"startY"`
	EndX   float64 `json:"endX"`
	EndY   float64 `json:"endY"`
	Color  string  `json:"color"`
	Width  int     `json:"width"`
	Tool   Tool    `json:"tool"`
}

// One continuous pen gesture. Immutable once it reaches the history.
type Stroke struct {
	AuthorID string  `json:"userId"`
	Color    string  `json:"color"`
	Width    int     `json:"width"`
	Tool     Tool    `json:"tool"`
	Points   []Point `json:"points"`
}

// State is the authoritative drawing of one room: the finalized history,
// the redo buffer and the strokes still being drawn, keyed by author.
//
// State is not safe for concurrent use. The hub loop owns it.
type State struct {
	history []Stroke
	redo    []Stroke
	open    map[string]*Stroke
}

func NewState() *State {
	return &State{
		history: make([]Stroke, 0),
		redo:    make([]Stroke, 0),
		open:    make(map[string]*Stroke),
	}
}

// AddSegment appends both endpoints of seg to the author's open stroke,
// creating it from seg's color, width and tool if none exists. Attributes of
// later segments are ignored.
func (s *State) AddSegment(userID string, seg Segment) {
	stroke, ok := s.open[userID]
	if !ok {
		stroke = &Stroke{
			AuthorID: userID,
			Color:    seg.Color,
			Width:    seg.Width,
			Tool:     seg.Tool,
			Points:   make([]Point, 0, 16),
		}
		s.open[userID] = stroke
	}
	stroke.Points = append(stroke.Points,
		Point{X: seg.StartX, Y: seg.StartY},
		Point{X: seg.EndX, Y: seg.EndY},
	)
}

// Finalize moves the author's open stroke to the tail of the history and
// invalidates the redo buffer. Returns false if the author had nothing open.
func (s *State) Finalize(userID string) bool {
	stroke, ok := s.open[userID]
	if !ok {
		return false
	}
	delete(s.open, userID)
	s.history = append(s.history, *stroke)
	s.redo = s.redo[:0]
	return true
}

// Undo pops the newest stroke, whoever drew it, onto the redo buffer.
func (s *State) Undo() []Stroke {
	if n := len(s.history); n > 0 {
		s.redo = append(s.redo, s.history[n-1])
		s.history = s.history[:n-1]
	}
	return s.History()
}

// Redo restores the most recently undone stroke.
func (s *State) Redo() []Stroke {
	if n := len(s.redo); n > 0 {
		s.history = append(s.history, s.redo[n-1])
		s.redo = s.redo[:n-1]
	}
	return s.History()
}

// Clear drops history, redo buffer and every open stroke.
func (s *State) Clear() {
	s.history = make([]Stroke, 0)
	s.redo = make([]Stroke, 0)
	s.open = make(map[string]*Stroke)
}

// Discard drops the author's open stroke without finalizing it.
func (s *State) Discard(userID string) bool {
	if _, ok := s.open[userID]; !ok {
		return false
	}
	delete(s.open, userID)
	return true
}

// Returns the finalized strokes in finalize order
func (s *State) History() []Stroke {
	out := make([]Stroke, len(s.history))
	copy(out, s.history)
	return out
}

func (s *State) Len() int {
	return len(s.history)
}

func (s *State) RedoDepth() int {
	return len(s.redo)
}

func (s *State) OpenCount() int {
	return len(s.open)
}

// Returns a copy of the author's open stroke
func (s *State) OpenStroke(userID string) (Stroke, bool) {
	stroke, ok := s.open[userID]
	if !ok {
		return Stroke{}, false
	}
	cp := *stroke
	cp.Points = append([]Point(nil), stroke.Points...)
	return cp, true
}
