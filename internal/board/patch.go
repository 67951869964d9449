package board

// OpType identifies a patch operation.
type OpType string

const (
	OpInsertCard OpType = "insertCard"
	OpDeleteCard OpType = "deleteCard"
	OpSetCard    OpType = "setCard"
	OpZFront     OpType = "zFront"
	OpZBack      OpType = "zBack"
	OpSetName    OpType = "setName"
)

// CardFields is a sparse set of card field writes. Nil fields are untouched.
type CardFields struct {
	PositionX *float64 `json:"positionX,omitempty"`
	PositionY *float64 `json:"positionY,omitempty"`
	Width     *float64 `json:"width,omitempty"`
	Height    *float64 `json:"height,omitempty"`
	Content   *string  `json:"content,omitempty"`
}

// Op is one element of a patch. Every op is safe to apply against a document
// where its target no longer exists.
type Op struct {
	Type   OpType      `json:"op"`
	CardID string      `json:"cardId,omitempty"`
	Card   *Card       `json:"card,omitempty"`
	Fields *CardFields `json:"fields,omitempty"`
	Name   *string     `json:"name,omitempty"`
}

// Patch is an ordered list of ops applied as one step.
type Patch []Op

// ChangesName reports whether the patch writes the board name, and the last
// name written.
func (p Patch) ChangesName() (string, bool) {
	name, ok := "", false
	for _, op := range p {
		if op.Type == OpSetName && op.Name != nil {
			name, ok = *op.Name, true
		}
	}
	return name, ok
}

// Apply applies every op of the patch in order.
func (d *Document) Apply(p Patch) {
	for _, op := range p {
		d.applyOp(op)
	}
}

func (d *Document) applyOp(op Op) {
	switch op.Type {
	case OpInsertCard:
		if op.Card == nil || d.cardIndex(op.Card.ID) >= 0 {
			return
		}
		d.Cards = append(d.Cards, *op.Card)
		if d.zIndex(op.Card.ID) < 0 {
			d.ZOrder = append(d.ZOrder, op.Card.ID)
		}

	case OpDeleteCard:
		if i := d.cardIndex(op.CardID); i >= 0 {
			d.Cards = append(d.Cards[:i], d.Cards[i+1:]...)
		}
		if i := d.zIndex(op.CardID); i >= 0 {
			d.ZOrder = append(d.ZOrder[:i], d.ZOrder[i+1:]...)
		}

	case OpSetCard:
		i := d.cardIndex(op.CardID)
		if i < 0 || op.Fields == nil {
			return
		}
		c := &d.Cards[i]
		f := op.Fields
		if f.PositionX != nil {
			c.PositionX = *f.PositionX
		}
		if f.PositionY != nil {
			c.PositionY = *f.PositionY
		}
		if f.Width != nil {
			c.Width = *f.Width
		}
		if f.Height != nil {
			c.Height = *f.Height
		}
		if f.Content != nil {
			c.Content = *f.Content
		}

	case OpZFront:
		i := d.zIndex(op.CardID)
		if i < 0 {
			return
		}
		d.ZOrder = append(d.ZOrder[:i], d.ZOrder[i+1:]...)
		d.ZOrder = append(d.ZOrder, op.CardID)

	case OpZBack:
		i := d.zIndex(op.CardID)
		if i < 0 {
			return
		}
		d.ZOrder = append(d.ZOrder[:i], d.ZOrder[i+1:]...)
		d.ZOrder = append([]string{op.CardID}, d.ZOrder...)

	case OpSetName:
		if op.Name != nil {
			d.Name = *op.Name
		}
	}
}
