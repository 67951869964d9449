package board

// GestureState is the local, never shared, interaction state of one card.
type GestureState int

const (
	GestureIdle GestureState = iota
	GestureDragging
	GestureResizing
)

// String returns the state name.
func (s GestureState) String() string {
	switch s {
	case GestureIdle:
		return "idle"
	case GestureDragging:
		return "dragging"
	case GestureResizing:
		return "resizing"
	default:
		return "unknown"
	}
}

// NudgeStep is how far one arrow key press moves a card.
const NudgeStep = 10

// Arrow keys understood by Gesture.KeyDown.
const (
	KeyArrowUp    = "ArrowUp"
	KeyArrowDown  = "ArrowDown"
	KeyArrowLeft  = "ArrowLeft"
	KeyArrowRight = "ArrowRight"
)

// CardMutator is what a gesture reads cards from and emits mutations to.
type CardMutator interface {
	Card(id string) (Card, bool)
	MoveCard(id string, x, y float64) error
	ResizeCard(id string, width, height float64, corner Corner) error
}

// Gesture turns pointer and keyboard input on one card into moveCard and
// resizeCard calls.
//
// It is driven from a single UI goroutine and holds no lock.
type Gesture struct {
	cardID  string
	mutator CardMutator

	state  GestureState
	corner Corner

	// dragging
	offset Point

	// resizing
	startPointer Point
	startWidth   float64
	startHeight  float64
}

// NewGesture returns an idle gesture for the card.
func NewGesture(cardID string, mutator CardMutator) *Gesture {
	return &Gesture{cardID: cardID, mutator: mutator}
}

// State returns the current state.
func (g *Gesture) State() GestureState {
	return g.state
}

// Corner returns the handle being dragged while resizing.
func (g *Gesture) Corner() Corner {
	return g.corner
}

// PointerDownBody starts a drag unless the card's text is being edited.
// The offset between pointer and card origin is kept so the card does not
// jump under the pointer.
func (g *Gesture) PointerDownBody(p Point, contentFocused bool) bool {
	if contentFocused || g.state != GestureIdle {
		return false
	}
	card, ok := g.mutator.Card(g.cardID)
	if !ok {
		return false
	}
	g.state = GestureDragging
	g.offset = Point{X: p.X - card.PositionX, Y: p.Y - card.PositionY}
	return true
}

// PointerDownHandle starts a resize from one of the corner handles.
func (g *Gesture) PointerDownHandle(corner Corner, p Point) bool {
	if !corner.Valid() || g.state != GestureIdle {
		return false
	}
	card, ok := g.mutator.Card(g.cardID)
	if !ok {
		return false
	}
	g.state = GestureResizing
	g.corner = corner
	g.startPointer = p
	g.startWidth = card.Width
	g.startHeight = card.Height
	return true
}

// PointerMove handles a window-level pointer move. A write the mutator
// refuses ends the gesture and is returned.
func (g *Gesture) PointerMove(p Point) error {
	var err error
	switch g.state {
	case GestureDragging:
		err = g.mutator.MoveCard(g.cardID, p.X-g.offset.X, p.Y-g.offset.Y)

	case GestureResizing:
		dx := p.X - g.startPointer.X
		dy := p.Y - g.startPointer.Y

		width, height := g.startWidth, g.startHeight
		switch g.corner {
		case TopLeft:
			width, height = width-dx, height-dy
		case TopRight:
			width, height = width+dx, height-dy
		case BottomLeft:
			width, height = width-dx, height+dy
		case BottomRight:
			width, height = width+dx, height+dy
		}
		err = g.mutator.ResizeCard(g.cardID, width, height, g.corner)
	}
	if err != nil {
		g.reset()
	}
	return err
}

// PointerUp ends any gesture.
func (g *Gesture) PointerUp() {
	g.reset()
}

// PointerLeaveWindow cancels any gesture.
func (g *Gesture) PointerLeaveWindow() {
	g.reset()
}

func (g *Gesture) reset() {
	g.state = GestureIdle
	g.corner = ""
	g.offset = Point{}
	g.startPointer = Point{}
	g.startWidth, g.startHeight = 0, 0
}

// KeyDown nudges the card with the arrow keys when the card itself, not its
// text, has focus. It reports whether the key was consumed; a nudge the
// mutator refuses is not.
func (g *Gesture) KeyDown(key string, contentFocused bool) bool {
	if contentFocused {
		return false
	}

	var dx, dy float64
	switch key {
	case KeyArrowUp:
		dy = -NudgeStep
	case KeyArrowDown:
		dy = NudgeStep
	case KeyArrowLeft:
		dx = -NudgeStep
	case KeyArrowRight:
		dx = NudgeStep
	default:
		return false
	}

	card, ok := g.mutator.Card(g.cardID)
	if !ok {
		return true
	}
	return g.mutator.MoveCard(g.cardID, card.PositionX+dx, card.PositionY+dy) == nil
}
