package room

import (
	"errors"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// ErrPeerClosed is returned when sending to a peer that went away.
var ErrPeerClosed = errors.New("peer closed")

// Peer is the server side of one replica connection.
type Peer interface {
	Send(msg *Message) error
	Close() error
}

// WebSocketPeer writes messages to a fiber websocket connection.
type WebSocketPeer struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
}

// NewWebSocketPeer wraps conn. A zero writeTimeout disables the deadline.
func NewWebSocketPeer(conn *websocket.Conn, writeTimeout time.Duration) *WebSocketPeer {
	return &WebSocketPeer{conn: conn, writeTimeout: writeTimeout}
}

// Send writes one JSON text frame.
func (p *WebSocketPeer) Send(msg *Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if p.writeTimeout > 0 {
		p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	}
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying connection.
func (p *WebSocketPeer) Close() error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.Close()
}
