package board

import "encoding/json"

// Event is a one-off message delivered to every replica in a room. It is
// not part of the document and is never persisted.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EventBoardDeleted tells clients the board is gone and they should leave.
const EventBoardDeleted = "board-deleted"

// EventBoardRenamed carries a rename made outside the room to the instance
// hosting it. Its data is {"name": ...}. Replicas see the rename as a patch.
const EventBoardRenamed = "board-renamed"
