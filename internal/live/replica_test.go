package live

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime-board/internal/board"
	"realtime-board/internal/room"
)

const waitFor = 2 * time.Second

func newTestHub() *room.Hub {
	cfg := room.DefaultConfig()
	cfg.NameDebounce = 10 * time.Millisecond
	cfg.SaveDebounce = 10 * time.Millisecond
	return room.NewHub(cfg)
}

// recordingDialer keeps every connection it opens so tests can cut them.
type recordingDialer struct {
	hub    *room.Hub
	roomID string
	userID string

	mu    sync.Mutex
	conns []*room.LocalConn
}

func (d *recordingDialer) dial(ctx context.Context, session string) (Conn, error) {
	conn, err := d.hub.ConnectLocalSession(ctx, d.roomID, d.userID, session, board.Presence{})
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *recordingDialer) last() *room.LocalConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

func connectReplica(t *testing.T, hub *room.Hub, name string, opts ...Option) *Replica {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	r, err := Connect(ctx, LocalDialer(hub, "board-1", "user-"+name), board.Presence{Name: name}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func createCard(t *testing.T, r *Replica, p board.Point) string {
	t.Helper()
	id, err := r.CreateCard(p)
	require.NoError(t, err)
	return id
}

func liveRoom(t *testing.T, hub *room.Hub) *room.Room {
	t.Helper()
	rm, ok := hub.Room("board-1")
	require.True(t, ok)
	return rm
}

// settled reports whether every replica has caught up with the room.
func settled(rm *room.Room, replicas ...*Replica) bool {
	want := rm.Document()
	for _, r := range replicas {
		if r.Pending() > 0 {
			return false
		}
		got := r.Snapshot()
		if got.Name != want.Name || fmt.Sprint(got.Cards) != fmt.Sprint(want.Cards) || fmt.Sprint(got.ZOrder) != fmt.Sprint(want.ZOrder) {
			return false
		}
	}
	return true
}

func TestConnect(t *testing.T) {
	hub := newTestHub()
	a := connectReplica(t, hub, "ada")

	assert.Equal(t, StatusConnected, a.Status())
	assert.Equal(t, board.DefaultName, a.Snapshot().Name)
	assert.Equal(t, "ada", a.Self().Name)
	assert.Empty(t, a.Others())

	b := connectReplica(t, hub, "bo")
	require.Eventually(t, func() bool {
		others := a.Others()
		return len(others) == 1 && others[0].Presence.Name == "bo"
	}, waitFor, 5*time.Millisecond)

	others := b.Others()
	require.Len(t, others, 1)
	assert.Equal(t, a.ConnectionID(), others[0].ConnectionID)
	assert.Equal(t, "user-ada", others[0].UserID)
}

func TestMutationIsOptimistic(t *testing.T) {
	hub := newTestHub()
	a := connectReplica(t, hub, "ada")

	id := createCard(t, a, board.Point{X: 100, Y: 100})

	// visible locally before the room acknowledges it
	card, ok := a.Card(id)
	require.True(t, ok)
	assert.Equal(t, 0.0, card.PositionX)
	assert.Equal(t, -100.0, card.PositionY)
	assert.Equal(t, []string{id}, a.Snapshot().ZOrder)

	require.Eventually(t, func() bool {
		return settled(liveRoom(t, hub), a)
	}, waitFor, 5*time.Millisecond)
}

func TestMutationsKeepCallOrder(t *testing.T) {
	hub := newTestHub()
	a := connectReplica(t, hub, "ada")
	b := connectReplica(t, hub, "bo")

	id := createCard(t, a, board.Point{})
	for i := 1; i <= 20; i++ {
		require.NoError(t, a.MoveCard(id, float64(i), float64(i)))
	}
	require.NoError(t, a.BringToBack(id))
	require.NoError(t, a.SetBoardName("Ordered"))

	require.Eventually(t, func() bool {
		return settled(liveRoom(t, hub), a, b)
	}, waitFor, 5*time.Millisecond)

	card, ok := b.Card(id)
	require.True(t, ok)
	assert.Equal(t, 20.0, card.PositionX)
	assert.Equal(t, "Ordered", b.Snapshot().Name)
}

func TestLastWriterWins(t *testing.T) {
	hub := newTestHub()
	a := connectReplica(t, hub, "ada")
	b := connectReplica(t, hub, "bo")

	id := createCard(t, a, board.Point{X: 100, Y: 100})
	require.Eventually(t, func() bool {
		_, ok := b.Card(id)
		return ok
	}, waitFor, 5*time.Millisecond)

	a.MoveCard(id, 10, 10)
	b.MoveCard(id, 20, 20)

	require.Eventually(t, func() bool {
		return settled(liveRoom(t, hub), a, b)
	}, waitFor, 5*time.Millisecond)

	for _, r := range []*Replica{a, b} {
		card, _ := r.Card(id)
		assert.Equal(t, 20.0, card.PositionX)
		assert.Equal(t, 20.0, card.PositionY)
	}
}

func TestDeleteRacesWithEdit(t *testing.T) {
	hub := newTestHub()
	a := connectReplica(t, hub, "ada")
	b := connectReplica(t, hub, "bo")

	id := createCard(t, a, board.Point{})
	require.Eventually(t, func() bool {
		_, ok := b.Card(id)
		return ok
	}, waitFor, 5*time.Millisecond)

	a.DeleteCard(id)
	b.MoveCard(id, 300, 300)
	b.ResizeCard(id, 400, 400, board.TopLeft)
	b.BringToFront(id)
	a.DeleteCard(id)

	require.Eventually(t, func() bool {
		return settled(liveRoom(t, hub), a, b)
	}, waitFor, 5*time.Millisecond)

	for _, r := range []*Replica{a, b} {
		doc := r.Snapshot()
		assert.Empty(t, doc.Cards)
		assert.Empty(t, doc.ZOrder)
	}
}

func TestConvergenceUnderRandomInterleavings(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			hub := newTestHub()
			replicas := []*Replica{
				connectReplica(t, hub, "a"),
				connectReplica(t, hub, "b"),
				connectReplica(t, hub, "c"),
			}

			var wg sync.WaitGroup
			for i, r := range replicas {
				wg.Add(1)
				go func(r *Replica, rng *rand.Rand) {
					defer wg.Done()
					for n := 0; n < 60; n++ {
						randomEdit(r, rng)
						if rng.Intn(4) == 0 {
							time.Sleep(time.Duration(rng.Intn(500)) * time.Microsecond)
						}
					}
				}(r, rand.New(rand.NewSource(seed*100+int64(i))))
			}
			wg.Wait()

			rm := liveRoom(t, hub)
			require.Eventually(t, func() bool {
				return settled(rm, replicas...)
			}, waitFor, 5*time.Millisecond)

			want := rm.Document()
			require.NoError(t, want.Validate())
			for _, r := range replicas {
				got := r.Snapshot()
				assert.Equal(t, want, got)
				assert.NoError(t, got.Validate())
			}
		})
	}
}

func randomEdit(r *Replica, rng *rand.Rand) {
	doc := r.Snapshot()
	pick := func() string {
		if len(doc.Cards) == 0 {
			return "missing"
		}
		return doc.Cards[rng.Intn(len(doc.Cards))].ID
	}

	switch rng.Intn(6) {
	case 0, 1:
		r.CreateCard(board.Point{X: rng.Float64() * 800, Y: rng.Float64() * 800})
	case 2:
		r.MoveCard(pick(), rng.Float64()*800, rng.Float64()*800)
	case 3:
		r.DeleteCard(pick())
	case 4:
		r.BringToFront(pick())
	case 5:
		r.BringToBack(pick())
	}
}

func TestPresence(t *testing.T) {
	hub := newTestHub()
	a := connectReplica(t, hub, "ada")
	b := connectReplica(t, hub, "bo")

	id := createCard(t, a, board.Point{})
	a.PointerMove(board.Point{X: 5, Y: 6})
	require.NoError(t, a.FocusCard(id))
	require.NoError(t, a.InputCardContent(id, `<i>hello</i><img src=x onerror=alert(1)>`))

	require.Eventually(t, func() bool {
		return board.TypingOn(b.Others(), id)
	}, waitFor, 5*time.Millisecond)

	p, ok := board.SelectedBy(b.Others(), id)
	require.True(t, ok)
	assert.Equal(t, a.ConnectionID(), p.ConnectionID)
	require.NotNil(t, p.Presence.Cursor)
	assert.Equal(t, board.Point{X: 5, Y: 6}, *p.Presence.Cursor)
	assert.Equal(t, board.Color(a.ConnectionID()), board.Color(p.ConnectionID))

	require.Eventually(t, func() bool {
		card, ok := b.Card(id)
		return ok && card.Content == "<i>hello</i>"
	}, waitFor, 5*time.Millisecond)

	a.BlurCard()
	a.PointerLeave()
	require.Eventually(t, func() bool {
		others := b.Others()
		return len(others) == 1 && others[0].Presence.Cursor == nil && others[0].Presence.SelectedCardID == nil
	}, waitFor, 5*time.Millisecond)
	assert.False(t, board.TypingOn(b.Others(), id))

	self := a.Self()
	assert.Nil(t, self.Cursor)
	assert.False(t, self.IsTyping)
}

func TestDisconnectedParticipantDisappears(t *testing.T) {
	cfg := room.DefaultConfig()
	cfg.PresenceTimeout = 100 * time.Millisecond
	hub := room.NewHub(cfg)

	a := connectReplica(t, hub, "ada", WithHeartbeat(10*time.Millisecond))

	dialer := &recordingDialer{hub: hub, roomID: "board-1", userID: "user-bo"}
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	b, err := Connect(ctx, dialer.dial, board.Presence{Name: "bo"}, WithoutReconnect())
	require.NoError(t, err)
	defer b.Close()

	id := createCard(t, a, board.Point{})
	require.Eventually(t, func() bool {
		_, ok := b.Card(id)
		return ok
	}, waitFor, 5*time.Millisecond)
	b.FocusCard(id)
	require.Eventually(t, func() bool {
		_, ok := board.SelectedBy(a.Others(), id)
		return ok
	}, waitFor, 5*time.Millisecond)

	// the network goes away without a goodbye
	dialer.last().Drop()
	require.Eventually(t, func() bool {
		return b.Status() == StatusDisconnected
	}, waitFor, 5*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	hub.Sweep(time.Now())

	require.Eventually(t, func() bool {
		return len(a.Others()) == 0
	}, waitFor, 5*time.Millisecond)
	_, ok := board.SelectedBy(a.Others(), id)
	assert.False(t, ok)
	assert.Equal(t, StatusConnected, a.Status())
}

func TestReconnectResubmitsPending(t *testing.T) {
	hub := newTestHub()
	observer := connectReplica(t, hub, "obs")

	dialer := &recordingDialer{hub: hub, roomID: "board-1", userID: "user-ada"}
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	a, err := Connect(ctx, dialer.dial, board.Presence{Name: "ada"}, WithReconnectDelay(20*time.Millisecond))
	require.NoError(t, err)
	defer a.Close()

	var statuses []Status
	var mu sync.Mutex
	a.Subscribe(func() {
		mu.Lock()
		statuses = append(statuses, a.Status())
		mu.Unlock()
	})

	firstID := a.ConnectionID()
	dialer.last().Drop()
	id := createCard(t, a, board.Point{X: 50, Y: 50})
	a.SetBoardName("Offline edit")

	require.Eventually(t, func() bool {
		return a.Status() == StatusConnected && a.ConnectionID() != firstID
	}, waitFor, 5*time.Millisecond)

	rm := liveRoom(t, hub)
	require.Eventually(t, func() bool {
		return settled(rm, a, observer)
	}, waitFor, 5*time.Millisecond)

	_, ok := observer.Card(id)
	assert.True(t, ok)
	assert.Equal(t, "Offline edit", observer.Snapshot().Name)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, statuses, StatusReconnecting)
}

var errLost = errors.New("connection lost")

// lossyConn hands its first patch to the room but reports the send as
// failed, and from then on receives nothing: the acknowledgement is lost.
type lossyConn struct {
	Conn

	mu   sync.Mutex
	lost bool
}

func (c *lossyConn) Send(msg *room.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lost {
		return errLost
	}
	if err := c.Conn.Send(msg); err != nil {
		return err
	}
	if msg.Type == room.MsgPatch {
		c.lost = true
		return errLost
	}
	return nil
}

func (c *lossyConn) Recv(ctx context.Context) (*room.Message, error) {
	msg, err := c.Conn.Recv(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lost {
		return nil, errLost
	}
	return msg, err
}

func TestReconnectSkipsAppliedPatches(t *testing.T) {
	hub := newTestHub()
	bo := connectReplica(t, hub, "bo")

	gate := make(chan struct{})
	var dials int
	var dialsMu sync.Mutex
	dial := func(ctx context.Context, session string) (Conn, error) {
		dialsMu.Lock()
		dials++
		n := dials
		dialsMu.Unlock()

		if n > 1 {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		conn, err := LocalDialer(hub, "board-1", "user-ada")(ctx, session)
		if err != nil || n > 1 {
			return conn, err
		}
		return &lossyConn{Conn: conn}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	ada, err := Connect(ctx, dial, board.Presence{Name: "ada"}, WithReconnectDelay(10*time.Millisecond))
	require.NoError(t, err)
	defer ada.Close()

	id := createCard(t, ada, board.Point{X: 100, Y: 100})
	rm := liveRoom(t, hub)
	require.Eventually(t, func() bool {
		_, ok := bo.Card(id)
		return ok
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, 1, ada.Pending())

	require.NoError(t, bo.DeleteCard(id))
	require.Eventually(t, func() bool {
		_, ok := rm.Document().Card(id)
		return !ok
	}, waitFor, 5*time.Millisecond)

	close(gate)
	require.Eventually(t, func() bool {
		return ada.Status() == StatusConnected && settled(rm, ada, bo)
	}, waitFor, 5*time.Millisecond)

	_, ok := rm.Document().Card(id)
	assert.False(t, ok)
	_, ok = ada.Card(id)
	assert.False(t, ok)
	assert.Zero(t, ada.Pending())
}

func TestEvents(t *testing.T) {
	hub := newTestHub()
	a := connectReplica(t, hub, "ada")

	got := make(chan board.Event, 1)
	a.OnEvent(func(ev board.Event) { got <- ev })

	require.NoError(t, hub.BroadcastEvent(context.Background(), "board-1", board.Event{Type: board.EventBoardDeleted}))

	select {
	case ev := <-got:
		assert.Equal(t, board.EventBoardDeleted, ev.Type)
	case <-time.After(waitFor):
		t.Fatal("event not delivered")
	}
}

func TestSubscribe(t *testing.T) {
	hub := newTestHub()
	a := connectReplica(t, hub, "ada")

	var mu sync.Mutex
	calls := 0
	unsubscribe := a.Subscribe(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	a.SetBoardName("One")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2 // local apply and acknowledgement
	}, waitFor, 5*time.Millisecond)

	unsubscribe()
	mu.Lock()
	before := calls
	mu.Unlock()

	a.SetBoardName("Two")
	require.Eventually(t, func() bool {
		return settled(liveRoom(t, hub), a)
	}, waitFor, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, before, calls)
}

func TestClose(t *testing.T) {
	hub := newTestHub()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	a, err := Connect(ctx, LocalDialer(hub, "board-1", "user-ada"), board.Presence{})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	assert.Equal(t, StatusDisconnected, a.Status())
	assert.ErrorIs(t, a.Mutate(func(tx *board.Tx) { board.SetBoardName(tx, "x") }), ErrClosed)
	assert.Equal(t, 0, hub.RoomCount())

	id, err := a.CreateCard(board.Point{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.Empty(t, id)
	assert.ErrorIs(t, a.MoveCard("c1", 1, 1), ErrClosed)
	assert.ErrorIs(t, a.ResizeCard("c1", 300, 300, board.BottomRight), ErrClosed)
	assert.ErrorIs(t, a.UpdateCardContent("c1", "x"), ErrClosed)
	assert.ErrorIs(t, a.BringToFront("c1"), ErrClosed)
	assert.ErrorIs(t, a.BringToBack("c1"), ErrClosed)
	assert.ErrorIs(t, a.DeleteCard("c1"), ErrClosed)
	assert.ErrorIs(t, a.SetBoardName("x"), ErrClosed)
	assert.ErrorIs(t, a.FocusCard("c1"), ErrClosed)
	assert.ErrorIs(t, a.InputCardContent("c1", "x"), ErrClosed)
}

func TestGestureDrivesReplica(t *testing.T) {
	hub := newTestHub()
	a := connectReplica(t, hub, "ada")
	b := connectReplica(t, hub, "bo")

	id := createCard(t, a, board.Point{X: 200, Y: 300})
	g := board.NewGesture(id, a)

	require.True(t, g.PointerDownBody(board.Point{X: 150, Y: 150}, false))
	g.PointerMove(board.Point{X: 160, Y: 170})
	g.PointerMove(board.Point{X: 250, Y: 250})
	g.PointerUp()

	require.True(t, g.PointerDownHandle(board.BottomRight, board.Point{X: 300, Y: 300}))
	g.PointerMove(board.Point{X: 350, Y: 320})
	g.PointerUp()

	assert.True(t, g.KeyDown(board.KeyArrowLeft, false))

	require.Eventually(t, func() bool {
		return settled(liveRoom(t, hub), a, b)
	}, waitFor, 5*time.Millisecond)

	card, ok := b.Card(id)
	require.True(t, ok)
	assert.Equal(t, 190.0, card.PositionX)
	assert.Equal(t, 200.0, card.PositionY)
	assert.Equal(t, 250.0, card.Width)
	assert.Equal(t, 250.0, card.Height)
}

func TestFailedDialIsReturned(t *testing.T) {
	dial := func(ctx context.Context, session string) (Conn, error) {
		return nil, errors.New("unreachable")
	}
	_, err := Connect(context.Background(), dial, board.Presence{})
	assert.EqualError(t, err, "unreachable")
}
