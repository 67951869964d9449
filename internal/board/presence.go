package board

// Presence is the ephemeral per-connection state of a participant. It is
// never persisted and only its owner writes it.
type Presence struct {
	Cursor         *Point  `json:"cursor"`
	Name           string  `json:"name"`
	SelectedCardID *string `json:"selectedCardId"`
	IsTyping       bool    `json:"isTyping"`
}

// PresenceUpdate is a partial presence write. Nil fields are left as they
// are; the Clear flags set the nullable fields back to null.
type PresenceUpdate struct {
	Cursor         *Point  `json:"cursor,omitempty"`
	ClearCursor    bool    `json:"clearCursor,omitempty"`
	Name           *string `json:"name,omitempty"`
	SelectedCardID *string `json:"selectedCardId,omitempty"`
	ClearSelection bool    `json:"clearSelection,omitempty"`
	IsTyping       *bool   `json:"isTyping,omitempty"`
}

// Merge returns p with u applied.
func (p Presence) Merge(u PresenceUpdate) Presence {
	if u.ClearCursor {
		p.Cursor = nil
	} else if u.Cursor != nil {
		c := *u.Cursor
		p.Cursor = &c
	}
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.ClearSelection {
		p.SelectedCardID = nil
	} else if u.SelectedCardID != nil {
		id := *u.SelectedCardID
		p.SelectedCardID = &id
	}
	if u.IsTyping != nil {
		p.IsTyping = *u.IsTyping
	}
	return p
}

// Clone returns a copy that shares no pointers with p.
func (p Presence) Clone() Presence {
	return p.Merge(PresenceUpdate{})
}

// Participant is one connected replica as seen by the others.
type Participant struct {
	ConnectionID int      `json:"connectionId"`
	UserID       string   `json:"userId"`
	Presence     Presence `json:"presence"`
}

// Palette is the set of colors cursors and selection borders are drawn with.
var Palette = []string{
	"#E57373",
	"#9575CD",
	"#4FC3F7",
	"#81C784",
	"#FFF176",
	"#FF8A65",
	"#F06292",
	"#7986CB",
}

// Color derives a stable display color from a connection id.
func Color(connectionID int) string {
	i := connectionID % len(Palette)
	if i < 0 {
		i += len(Palette)
	}
	return Palette[i]
}

// SelectedBy returns the first participant that has the card selected.
func SelectedBy(others []Participant, cardID string) (Participant, bool) {
	for _, o := range others {
		if o.Presence.SelectedCardID != nil && *o.Presence.SelectedCardID == cardID {
			return o, true
		}
	}
	return Participant{}, false
}

// TypingOn reports whether someone else is typing in the card.
func TypingOn(others []Participant, cardID string) bool {
	p, ok := SelectedBy(others, cardID)
	return ok && p.Presence.IsTyping
}
