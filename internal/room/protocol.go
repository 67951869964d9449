package room

import (
	"encoding/json"

	"realtime-board/internal/board"
)

// MessageType identifies a wire message.
type MessageType string

const (
	// server -> client
	MsgInit  MessageType = "init"
	MsgLeave MessageType = "leave"
	MsgEvent MessageType = "event"
	MsgPong  MessageType = "pong"
	MsgError MessageType = "error"

	// answers a replayed patch the room had already applied
	MsgAck MessageType = "ack"

	// both directions
	MsgPatch    MessageType = "patch"
	MsgPresence MessageType = "presence"

	// client -> server
	MsgPing MessageType = "ping"
)

// Message is the JSON envelope exchanged over a room connection.
//
// Patches sent by the server carry the room sequence number and the
// connection id of their origin, so a replica can recognize its own
// patches coming back as acknowledgements.
type Message struct {
	Type MessageType `json:"type"`

	Seq          uint64 `json:"seq,omitempty"`
	ConnectionID int    `json:"connectionId,omitempty"`
	UserID       string `json:"userId,omitempty"`
	ClientSeq    uint64 `json:"clientSeq,omitempty"`

	// init only: the last clientSeq of this session the room applied
	LastClientSeq uint64 `json:"lastClientSeq,omitempty"`

	Patch    board.Patch           `json:"patch,omitempty"`
	Document *board.Document       `json:"document,omitempty"`
	Others   []board.Participant   `json:"others,omitempty"`
	Presence *board.Presence       `json:"presence,omitempty"`
	Update   *board.PresenceUpdate `json:"update,omitempty"`
	Event    *board.Event          `json:"event,omitempty"`
	Error    string                `json:"error,omitempty"`
}

// Encode marshals a message for the wire.
func Encode(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode parses a wire message.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
