package board

// Tx gives a mutation transactional access to a document. Every write is
// applied to the document immediately and recorded into the patch that will
// be broadcast to the other replicas.
type Tx struct {
	doc   *Document
	patch Patch
}

// NewTx starts a transaction against doc.
func NewTx(doc *Document) *Tx {
	return &Tx{doc: doc}
}

// Document exposes the document for reads inside a mutation.
func (tx *Tx) Document() *Document {
	return tx.doc
}

// Patch returns the ops recorded so far.
func (tx *Tx) Patch() Patch {
	return tx.patch
}

func (tx *Tx) write(op Op) {
	tx.doc.applyOp(op)
	tx.patch = append(tx.patch, op)
}

// Corner names one of the four resize handles.
type Corner string

const (
	TopLeft     Corner = "top-left"
	TopRight    Corner = "top-right"
	BottomLeft  Corner = "bottom-left"
	BottomRight Corner = "bottom-right"
)

// Valid reports whether c is a known corner.
func (c Corner) Valid() bool {
	switch c {
	case TopLeft, TopRight, BottomLeft, BottomRight:
		return true
	}
	return false
}

// CreateCard appends a new card centered horizontally over the pointer and
// bottom-aligned to it, and puts it at the front of the z-order.
func CreateCard(tx *Tx, id string, pointer Point, dims Dimensions) Card {
	card := Card{
		ID:        id,
		PositionX: pointer.X - dims.Width/2,
		PositionY: pointer.Y - dims.Height,
		Width:     dims.Width,
		Height:    dims.Height,
	}
	tx.write(Op{Type: OpInsertCard, Card: &card})
	return card
}

// DeleteCard removes the card and its z-order entry.
func DeleteCard(tx *Tx, id string) {
	if tx.doc.cardIndex(id) < 0 && tx.doc.zIndex(id) < 0 {
		return
	}
	tx.write(Op{Type: OpDeleteCard, CardID: id})
}

// MoveCard sets the card's top-left position. The canvas is unbounded.
func MoveCard(tx *Tx, id string, x, y float64) {
	if tx.doc.cardIndex(id) < 0 {
		return
	}
	tx.write(Op{Type: OpSetCard, CardID: id, Fields: &CardFields{
		PositionX: &x,
		PositionY: &y,
	}})
}

// ResizeCard resizes the card from the given corner. Width and height are
// clamped to minSize and then both set to the larger of the two, and the
// corner diagonally opposite the dragged one stays where it was.
func ResizeCard(tx *Tx, id string, width, height float64, corner Corner, minSize float64) {
	i := tx.doc.cardIndex(id)
	if i < 0 || !corner.Valid() {
		return
	}
	card := tx.doc.Cards[i]

	x, y, size := ResizeGeometry(card, width, height, corner, minSize)
	tx.write(Op{Type: OpSetCard, CardID: id, Fields: &CardFields{
		PositionX: &x,
		PositionY: &y,
		Width:     &size,
		Height:    &size,
	}})
}

// ResizeGeometry computes the new position and square size of a card resized
// from corner to the raw width and height.
func ResizeGeometry(card Card, width, height float64, corner Corner, minSize float64) (x, y, size float64) {
	width = max(width, minSize)
	height = max(height, minSize)
	size = max(width, height)

	right := card.PositionX + card.Width
	bottom := card.PositionY + card.Height

	switch corner {
	case TopLeft:
		x, y = right-size, bottom-size
	case TopRight:
		x, y = card.PositionX, bottom-size
	case BottomLeft:
		x, y = right-size, card.PositionY
	default:
		x, y = card.PositionX, card.PositionY
	}
	return x, y, size
}

// UpdateCardContent sets the card's content. html must already be sanitized.
func UpdateCardContent(tx *Tx, id, html string) {
	if tx.doc.cardIndex(id) < 0 {
		return
	}
	tx.write(Op{Type: OpSetCard, CardID: id, Fields: &CardFields{Content: &html}})
}

// BringToFront moves the card to the end of the z-order.
func BringToFront(tx *Tx, id string) {
	if tx.doc.zIndex(id) < 0 {
		return
	}
	tx.write(Op{Type: OpZFront, CardID: id})
}

// BringToBack moves the card to the start of the z-order.
func BringToBack(tx *Tx, id string) {
	if tx.doc.zIndex(id) < 0 {
		return
	}
	tx.write(Op{Type: OpZBack, CardID: id})
}

// SetBoardName sets the board name. No length limit is enforced here.
func SetBoardName(tx *Tx, name string) {
	tx.write(Op{Type: OpSetName, Name: &name})
}
