package commands

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"realtime-board/internal/board"
)

func TestWSURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws/boards/b1"},
		{"https://boards.example.com/", "wss://boards.example.com/ws/boards/b1"},
		{"ws://10.0.0.1:8080", "ws://10.0.0.1:8080/ws/boards/b1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, wsURL(tt.base, "b1"))
	}
}

func TestRenderBoard(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	selected := "c2"
	doc := &board.Document{
		Name: "Retro",
		Cards: []board.Card{
			{ID: "c1", Content: "first", PositionX: 0, PositionY: 0, Width: 200, Height: 200},
			{ID: "c2", Content: "second", PositionX: 10, PositionY: 20, Width: 150, Height: 150},
		},
		ZOrder: []string{"c2", "c1"},
	}
	others := []board.Participant{{
		ConnectionID: 3,
		UserID:       "u1",
		Presence:     board.Presence{Name: "Ada", SelectedCardID: &selected},
	}}

	var buf bytes.Buffer
	renderBoard(&buf, doc, others)
	out := buf.String()

	assert.Contains(t, out, "Retro\n")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("c2")), bytes.Index(buf.Bytes(), []byte("c1")))
	assert.Contains(t, out, "(10,20) 150x150  second")
	assert.Contains(t, out, "@3 Ada "+board.Color(3)+" editing c2")

	buf.Reset()
	renderBoard(&buf, board.NewDocument(""), nil)
	assert.Contains(t, buf.String(), "(no cards)")
}
