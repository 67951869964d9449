package board

import (
	"fmt"

	"github.com/oklog/ulid/v2"
)

// DefaultName is the name a freshly opened room is seeded with.
const DefaultName = "Untitled board"

// Card is a positioned, sized, free-form content rectangle.
type Card struct {
	ID        string  `json:"id"`
	Content   string  `json:"content"`
	PositionX float64 `json:"positionX"`
	PositionY float64 `json:"positionY"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
}

// Point is a coordinate in board space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dimensions holds the card size constants used by create and resize.
type Dimensions struct {
	Width   float64
	Height  float64
	MinSize float64
}

// DefaultDimensions matches the 200x200 cards of the web client.
var DefaultDimensions = Dimensions{Width: 200, Height: 200, MinSize: 100}

// NewCardID returns a time-ordered unique card id.
func NewCardID() string {
	return ulid.Make().String()
}

// Document is the shared state of one room.
//
// Cards keeps creation order, ZOrder keeps paint order (last is frontmost).
// Both always hold the same set of ids.
type Document struct {
	Cards  []Card   `json:"cards"`
	ZOrder []string `json:"zOrderCardIds"`
	Name   string   `json:"boardName"`
}

// NewDocument returns an empty document with the given name.
func NewDocument(name string) *Document {
	if name == "" {
		name = DefaultName
	}
	return &Document{
		Cards:  []Card{},
		ZOrder: []string{},
		Name:   name,
	}
}

// Clone returns a deep copy that is safe to hand to readers.
func (d *Document) Clone() *Document {
	c := &Document{
		Cards:  make([]Card, len(d.Cards)),
		ZOrder: make([]string, len(d.ZOrder)),
		Name:   d.Name,
	}
	copy(c.Cards, d.Cards)
	copy(c.ZOrder, d.ZOrder)
	return c
}

// Card returns a copy of the card with the given id.
func (d *Document) Card(id string) (Card, bool) {
	if i := d.cardIndex(id); i >= 0 {
		return d.Cards[i], true
	}
	return Card{}, false
}

// StackIndex returns the card's position in the z-order, or -1.
func (d *Document) StackIndex(id string) int {
	return d.zIndex(id)
}

func (d *Document) cardIndex(id string) int {
	for i := range d.Cards {
		if d.Cards[i].ID == id {
			return i
		}
	}
	return -1
}

func (d *Document) zIndex(id string) int {
	for i, zid := range d.ZOrder {
		if zid == id {
			return i
		}
	}
	return -1
}

// Validate checks that Cards and ZOrder hold exactly the same ids, once each.
func (d *Document) Validate() error {
	cards := make(map[string]struct{}, len(d.Cards))
	for _, c := range d.Cards {
		if _, dup := cards[c.ID]; dup {
			return fmt.Errorf("duplicate card %s", c.ID)
		}
		cards[c.ID] = struct{}{}
	}

	seen := make(map[string]struct{}, len(d.ZOrder))
	for _, id := range d.ZOrder {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate z-order entry %s", id)
		}
		if _, ok := cards[id]; !ok {
			return fmt.Errorf("z-order entry %s has no card", id)
		}
		seen[id] = struct{}{}
	}

	if len(seen) != len(cards) {
		return fmt.Errorf("z-order has %d entries for %d cards", len(seen), len(cards))
	}
	return nil
}
