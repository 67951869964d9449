package live

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"realtime-board/internal/room"
)

// Conn is the client end of a room connection.
type Conn interface {
	Send(msg *room.Message) error
	Recv(ctx context.Context) (*room.Message, error)
	Close() error
}

// Dialer opens a new connection to the room. It is called again after the
// connection is lost, always with the same session.
type Dialer func(ctx context.Context, session string) (Conn, error)

// LocalDialer connects to a room hub in the same process.
func LocalDialer(hub *room.Hub, roomID, userID string) Dialer {
	return func(ctx context.Context, session string) (Conn, error) {
		conn, err := hub.ConnectLocalSession(ctx, roomID, userID, session, emptyPresence)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// WebSocketConn is a Conn over a gorilla websocket.
type WebSocketConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	msgs chan *room.Message
	errc chan error
	done chan struct{}
	once sync.Once
}

// WebSocketDialer dials rawURL (ws:// or wss://) with the given headers,
// which typically carry the access token cookie. The session goes in the
// query string.
func WebSocketDialer(rawURL string, header http.Header) Dialer {
	return func(ctx context.Context, session string) (Conn, error) {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("session", session)
		u.RawQuery = q.Encode()

		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.DialContext(ctx, u.String(), header)
		if err != nil {
			return nil, err
		}
		return newWebSocketConn(conn), nil
	}
}

func newWebSocketConn(conn *websocket.Conn) *WebSocketConn {
	c := &WebSocketConn{
		conn: conn,
		msgs: make(chan *room.Message, 64),
		errc: make(chan error, 1),
		done: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *WebSocketConn) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.errc <- err
			return
		}
		msg, err := room.Decode(data)
		if err != nil {
			continue
		}
		select {
		case c.msgs <- msg:
		case <-c.done:
			return
		}
	}
}

// Send writes one message.
func (c *WebSocketConn) Send(msg *room.Message) error {
	data, err := room.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Recv returns the next message from the server.
func (c *WebSocketConn) Recv(ctx context.Context) (*room.Message, error) {
	select {
	case msg := <-c.msgs:
		return msg, nil
	default:
	}

	select {
	case msg := <-c.msgs:
		return msg, nil
	case err := <-c.errc:
		c.errc <- err
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the connection.
func (c *WebSocketConn) Close() error {
	c.once.Do(func() { close(c.done) })

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
