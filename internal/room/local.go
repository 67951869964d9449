package room

import (
	"context"
	"errors"
	"sync"

	"realtime-board/internal/board"
)

// ErrPeerBufferFull is returned when an in-process peer falls too far behind.
var ErrPeerBufferFull = errors.New("peer buffer full")

const localBufferSize = 1024

// LocalConn is an in-process connection to a room, used by tools and tests.
// Messages pass through the wire codec in both directions.
type LocalConn struct {
	room   *Room
	connID int
	peer   *localPeer
}

type localPeer struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once
}

func (p *localPeer) Send(msg *Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	select {
	case <-p.closed:
		return ErrPeerClosed
	default:
	}

	select {
	case p.in <- data:
		return nil
	default:
		return ErrPeerBufferFull
	}
}

func (p *localPeer) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

// ConnectLocal joins a room without a network in between.
func (h *Hub) ConnectLocal(ctx context.Context, roomID, userID string, presence board.Presence) (*LocalConn, error) {
	return h.ConnectLocalSession(ctx, roomID, userID, "", presence)
}

// ConnectLocalSession is ConnectLocal for a replica that keeps session
// across reconnects.
func (h *Hub) ConnectLocalSession(ctx context.Context, roomID, userID, session string, presence board.Presence) (*LocalConn, error) {
	peer := &localPeer{
		in:     make(chan []byte, localBufferSize),
		closed: make(chan struct{}),
	}
	room, connID, err := h.Join(ctx, roomID, userID, session, peer, presence)
	if err != nil {
		return nil, err
	}
	return &LocalConn{room: room, connID: connID, peer: peer}, nil
}

// ConnectionID returns the id the room assigned.
func (c *LocalConn) ConnectionID() int {
	return c.connID
}

// Room returns the room the connection belongs to.
func (c *LocalConn) Room() *Room {
	return c.room
}

// Send hands a client message to the room.
func (c *LocalConn) Send(msg *Message) error {
	select {
	case <-c.peer.closed:
		return ErrPeerClosed
	default:
	}

	data, err := Encode(msg)
	if err != nil {
		return err
	}
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	return c.room.Handle(c.connID, decoded)
}

// Recv returns the next server message. Messages queued before the
// connection closed are still returned.
func (c *LocalConn) Recv(ctx context.Context) (*Message, error) {
	select {
	case data := <-c.peer.in:
		return Decode(data)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.peer.closed:
		select {
		case data := <-c.peer.in:
			return Decode(data)
		default:
			return nil, ErrPeerClosed
		}
	}
}

// Close leaves the room.
func (c *LocalConn) Close() error {
	c.room.Leave(c.connID)
	return c.peer.Close()
}

// Drop cuts the connection without telling the room, the way a lost
// network does. The room notices through its liveness sweep.
func (c *LocalConn) Drop() {
	c.peer.Close()
}
