// Package live is the client side of a board room: a local replica of the
// shared document that applies mutations optimistically and converges on the
// order the room broadcasts them in.
package live

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"realtime-board/internal/board"
	"realtime-board/internal/room"
)

// Status is the connection state shown to the user.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusDisconnected Status = "disconnected"
)

// ErrClosed is returned once the replica has been closed.
var ErrClosed = errors.New("replica closed")

var emptyPresence board.Presence

type options struct {
	dims           board.Dimensions
	heartbeat      time.Duration
	reconnect      bool
	reconnectDelay time.Duration
}

// Option configures a Replica.
type Option func(*options)

// WithDimensions sets the card size used by CreateCard and ResizeCard.
func WithDimensions(d board.Dimensions) Option {
	return func(o *options) { o.dims = d }
}

// WithHeartbeat sends a ping every interval so the room keeps the
// connection alive.
func WithHeartbeat(interval time.Duration) Option {
	return func(o *options) { o.heartbeat = interval }
}

// WithoutReconnect leaves the replica disconnected after the first
// transport error.
func WithoutReconnect() Option {
	return func(o *options) { o.reconnect = false }
}

// WithReconnectDelay sets the pause between reconnect attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(o *options) { o.reconnectDelay = d }
}

type pendingPatch struct {
	clientSeq uint64
	patch     board.Patch
}

// Replica is one client's live view of a room.
//
// The view is the confirmed document (everything the room has sequenced)
// with the client's own unacknowledged patches replayed on top. When a
// patch from someone else arrives it is applied to the confirmed document
// and the pending patches are replayed again, so every replica ends on the
// room's order.
type Replica struct {
	dial    Dialer
	opts    options
	session string

	mu            sync.Mutex
	conn          Conn
	connID        int
	userID        string
	seq           uint64
	confirmed     *board.Document
	view          *board.Document
	pending       []pendingPatch
	nextClientSeq uint64
	self          board.Presence
	others        map[int]board.Participant
	status        Status

	writeMu sync.Mutex

	changeListeners *callbackList[func()]
	eventListeners  *callbackList[func(board.Event)]

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Connect dials the room and returns once the first snapshot has arrived.
func Connect(ctx context.Context, dial Dialer, initial board.Presence, opts ...Option) (*Replica, error) {
	o := options{
		dims:           board.DefaultDimensions,
		reconnect:      true,
		reconnectDelay: time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &Replica{
		dial:            dial,
		opts:            o,
		session:         uuid.NewString(),
		self:            initial.Clone(),
		others:          make(map[int]board.Participant),
		status:          StatusConnecting,
		changeListeners: newCallbackList[func()](),
		eventListeners:  newCallbackList[func(board.Event)](),
		ctx:             runCtx,
		cancel:          cancel,
		done:            make(chan struct{}),
	}

	conn, init, err := r.handshake(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	r.mu.Lock()
	r.adoptLocked(conn, init)
	hello := r.presenceMessageLocked()
	r.writeMu.Lock()
	r.mu.Unlock()
	r.sendLocked(conn, hello)
	r.writeMu.Unlock()

	go r.run()
	if o.heartbeat > 0 {
		go r.runHeartbeat()
	}
	return r, nil
}

func (r *Replica) handshake(ctx context.Context) (Conn, *room.Message, error) {
	conn, err := r.dial(ctx, r.session)
	if err != nil {
		return nil, nil, err
	}

	msg, err := conn.Recv(ctx)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if msg.Type != room.MsgInit || msg.Document == nil {
		conn.Close()
		return nil, nil, fmt.Errorf("expected init, got %s", msg.Type)
	}
	return conn, msg, nil
}

// adoptLocked switches to a fresh connection and its snapshot. Pending
// patches the room already applied are in the snapshot and are dropped; the
// rest survive and are replayed on the new confirmed document.
func (r *Replica) adoptLocked(conn Conn, init *room.Message) {
	doc := init.Document
	if doc.Cards == nil {
		doc.Cards = []board.Card{}
	}
	if doc.ZOrder == nil {
		doc.ZOrder = []string{}
	}

	r.conn = conn
	r.connID = init.ConnectionID
	r.userID = init.UserID
	r.seq = init.Seq
	r.confirmed = doc
	r.others = make(map[int]board.Participant, len(init.Others))
	for _, p := range init.Others {
		if p.ConnectionID != r.connID {
			r.others[p.ConnectionID] = p
		}
	}
	r.status = StatusConnected
	r.ackLocked(init.LastClientSeq)
	r.rebuildLocked()
}

// ackLocked drops pending patches up to clientSeq.
func (r *Replica) ackLocked(clientSeq uint64) {
	n := 0
	for n < len(r.pending) && r.pending[n].clientSeq <= clientSeq {
		n++
	}
	r.pending = r.pending[n:]
}

func (r *Replica) rebuildLocked() {
	view := r.confirmed.Clone()
	for _, p := range r.pending {
		view.Apply(p.patch)
	}
	r.view = view
}

// =============================================================================
// Receive loop
// =============================================================================

func (r *Replica) run() {
	defer close(r.done)

	for {
		r.mu.Lock()
		conn := r.conn
		r.mu.Unlock()

		msg, err := conn.Recv(r.ctx)
		if err != nil {
			if r.ctx.Err() != nil {
				r.setStatus(StatusDisconnected)
				return
			}
			log.WithError(err).Warn("[Replica] Connection lost")
			conn.Close()
			if !r.reconnect() {
				return
			}
			continue
		}
		r.handle(conn, msg)
	}
}

func (r *Replica) reconnect() bool {
	if !r.opts.reconnect {
		r.setStatus(StatusDisconnected)
		return false
	}
	r.setStatus(StatusReconnecting)

	for {
		select {
		case <-r.ctx.Done():
			r.setStatus(StatusDisconnected)
			return false
		case <-time.After(r.opts.reconnectDelay):
		}

		conn, init, err := r.handshake(r.ctx)
		if err != nil {
			log.WithError(err).Debug("[Replica] Reconnect failed")
			continue
		}

		r.mu.Lock()
		r.adoptLocked(conn, init)
		resend := make([]pendingPatch, len(r.pending))
		copy(resend, r.pending)
		hello := r.presenceMessageLocked()
		r.writeMu.Lock()
		r.mu.Unlock()

		for _, p := range resend {
			r.sendLocked(conn, &room.Message{Type: room.MsgPatch, ClientSeq: p.clientSeq, Patch: p.patch})
		}
		r.sendLocked(conn, hello)
		r.writeMu.Unlock()

		log.Infof("[Replica] Reconnected as %d, resubmitted %d patches", init.ConnectionID, len(resend))
		r.notifyChange()
		return true
	}
}

func (r *Replica) handle(conn Conn, msg *room.Message) {
	switch msg.Type {
	case room.MsgPatch:
		r.mu.Lock()
		if have := r.seq; msg.Seq != have+1 {
			r.mu.Unlock()
			log.Warnf("[Replica] Sequence gap (have %d, got %d), resynchronizing", have, msg.Seq)
			conn.Close()
			return
		}
		r.seq = msg.Seq
		if msg.ConnectionID == r.connID && len(r.pending) > 0 && r.pending[0].clientSeq == msg.ClientSeq {
			r.pending = r.pending[1:]
		}
		r.confirmed.Apply(msg.Patch)
		r.rebuildLocked()
		r.mu.Unlock()
		r.notifyChange()

	case room.MsgAck:
		r.mu.Lock()
		r.ackLocked(msg.ClientSeq)
		r.rebuildLocked()
		r.mu.Unlock()
		r.notifyChange()

	case room.MsgPresence:
		if msg.Presence == nil {
			return
		}
		r.mu.Lock()
		if msg.ConnectionID == r.connID {
			r.mu.Unlock()
			return
		}
		r.others[msg.ConnectionID] = board.Participant{
			ConnectionID: msg.ConnectionID,
			UserID:       msg.UserID,
			Presence:     msg.Presence.Clone(),
		}
		r.mu.Unlock()
		r.notifyChange()

	case room.MsgLeave:
		r.mu.Lock()
		delete(r.others, msg.ConnectionID)
		r.mu.Unlock()
		r.notifyChange()

	case room.MsgEvent:
		if msg.Event == nil {
			return
		}
		for _, fn := range r.eventListeners.get() {
			fn(*msg.Event)
		}

	case room.MsgError:
		log.Warnf("[Replica] Room error: %s", msg.Error)
	}
}

func (r *Replica) runHeartbeat() {
	ticker := time.NewTicker(r.opts.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			conn, connected := r.conn, r.status == StatusConnected
			if connected {
				r.writeMu.Lock()
			}
			r.mu.Unlock()
			if connected {
				r.sendLocked(conn, &room.Message{Type: room.MsgPing})
				r.writeMu.Unlock()
			}
		}
	}
}

// sendLocked must be called with writeMu held. A failed send closes the
// connection so the receive loop reconnects.
func (r *Replica) sendLocked(conn Conn, msg *room.Message) {
	if err := conn.Send(msg); err != nil {
		log.WithError(err).Debugf("[Replica] Send %s failed", msg.Type)
		conn.Close()
	}
}

func (r *Replica) setStatus(s Status) {
	r.mu.Lock()
	changed := r.status != s
	r.status = s
	r.mu.Unlock()
	if changed {
		r.notifyChange()
	}
}

// Close disconnects from the room.
func (r *Replica) Close() error {
	r.cancel()

	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()

	err := conn.Close()
	<-r.done
	return err
}

// =============================================================================
// Mutations
// =============================================================================

// Mutate runs fn against the local view, applies its writes immediately and
// sends the resulting patch. It does not wait for the room.
func (r *Replica) Mutate(fn func(tx *board.Tx)) error {
	r.mu.Lock()
	if r.status == StatusDisconnected {
		r.mu.Unlock()
		return ErrClosed
	}

	tx := board.NewTx(r.view)
	fn(tx)
	patch := tx.Patch()
	if len(patch) == 0 {
		r.mu.Unlock()
		return nil
	}

	r.nextClientSeq++
	p := pendingPatch{clientSeq: r.nextClientSeq, patch: patch}
	r.pending = append(r.pending, p)

	conn, connected := r.conn, r.status == StatusConnected
	if connected {
		r.writeMu.Lock()
	}
	r.mu.Unlock()

	if connected {
		r.sendLocked(conn, &room.Message{Type: room.MsgPatch, ClientSeq: p.clientSeq, Patch: p.patch})
		r.writeMu.Unlock()
	}
	r.notifyChange()
	return nil
}

// CreateCard adds a card under the pointer and returns its id. Like every
// mutation below it fails with ErrClosed once the replica is closed.
func (r *Replica) CreateCard(pointer board.Point) (string, error) {
	id := board.NewCardID()
	err := r.Mutate(func(tx *board.Tx) {
		board.CreateCard(tx, id, pointer, r.opts.dims)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Replica) DeleteCard(id string) error {
	return r.Mutate(func(tx *board.Tx) { board.DeleteCard(tx, id) })
}

func (r *Replica) MoveCard(id string, x, y float64) error {
	return r.Mutate(func(tx *board.Tx) { board.MoveCard(tx, id, x, y) })
}

func (r *Replica) ResizeCard(id string, width, height float64, corner board.Corner) error {
	return r.Mutate(func(tx *board.Tx) { board.ResizeCard(tx, id, width, height, corner, r.opts.dims.MinSize) })
}

// UpdateCardContent sets already sanitized content.
func (r *Replica) UpdateCardContent(id, html string) error {
	return r.Mutate(func(tx *board.Tx) { board.UpdateCardContent(tx, id, html) })
}

func (r *Replica) BringToFront(id string) error {
	return r.Mutate(func(tx *board.Tx) { board.BringToFront(tx, id) })
}

func (r *Replica) BringToBack(id string) error {
	return r.Mutate(func(tx *board.Tx) { board.BringToBack(tx, id) })
}

func (r *Replica) SetBoardName(name string) error {
	return r.Mutate(func(tx *board.Tx) { board.SetBoardName(tx, name) })
}

// =============================================================================
// Presence
// =============================================================================

// UpdatePresence merges u into this participant's presence and sends it.
func (r *Replica) UpdatePresence(u board.PresenceUpdate) {
	r.mu.Lock()
	r.self = r.self.Merge(u)
	conn, connected := r.conn, r.status == StatusConnected
	if connected {
		r.writeMu.Lock()
	}
	r.mu.Unlock()

	if connected {
		r.sendLocked(conn, &room.Message{Type: room.MsgPresence, Update: &u})
		r.writeMu.Unlock()
	}
	r.notifyChange()
}

// presenceMessageLocked carries the full presence so a fresh connection
// starts from the same state.
func (r *Replica) presenceMessageLocked() *room.Message {
	self := r.self.Clone()

	u := board.PresenceUpdate{
		Name:           &self.Name,
		IsTyping:       &self.IsTyping,
		Cursor:         self.Cursor,
		ClearCursor:    self.Cursor == nil,
		SelectedCardID: self.SelectedCardID,
		ClearSelection: self.SelectedCardID == nil,
	}
	return &room.Message{Type: room.MsgPresence, Update: &u}
}

// PointerMove reports the cursor position over the canvas.
func (r *Replica) PointerMove(p board.Point) {
	r.UpdatePresence(board.PresenceUpdate{Cursor: &p})
}

// PointerLeave hides the cursor from the others.
func (r *Replica) PointerLeave() {
	r.UpdatePresence(board.PresenceUpdate{ClearCursor: true})
}

// FocusCard selects a card and raises it to the front.
func (r *Replica) FocusCard(id string) error {
	if err := r.BringToFront(id); err != nil {
		return err
	}
	r.UpdatePresence(board.PresenceUpdate{SelectedCardID: &id})
	return nil
}

// InputCardContent handles typing in a card: the raw HTML is sanitized
// before it reaches the document, and the others see this participant typing.
func (r *Replica) InputCardContent(id, rawHTML string) error {
	if err := r.UpdateCardContent(id, board.SanitizeContent(rawHTML)); err != nil {
		return err
	}
	typing := true
	r.UpdatePresence(board.PresenceUpdate{SelectedCardID: &id, IsTyping: &typing})
	return nil
}

// BlurCard clears the selection and typing flag.
func (r *Replica) BlurCard() {
	typing := false
	r.UpdatePresence(board.PresenceUpdate{ClearSelection: true, IsTyping: &typing})
}

// =============================================================================
// Selectors
// =============================================================================

// Snapshot returns a copy of the current view.
func (r *Replica) Snapshot() *board.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view.Clone()
}

// Card returns a card from the current view.
func (r *Replica) Card(id string) (board.Card, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view.Card(id)
}

// Self returns this participant's presence.
func (r *Replica) Self() board.Presence {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.self.Clone()
}

// ConnectionID returns the id the room assigned to the current connection.
func (r *Replica) ConnectionID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connID
}

// Others returns every other connected participant ordered by connection id.
func (r *Replica) Others() []board.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := make([]board.Participant, 0, len(r.others))
	for _, p := range r.others {
		list = append(list, board.Participant{
			ConnectionID: p.ConnectionID,
			UserID:       p.UserID,
			Presence:     p.Presence.Clone(),
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ConnectionID < list[j].ConnectionID })
	return list
}

// Status returns the connection state.
func (r *Replica) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Pending returns how many local patches the room has not acknowledged.
func (r *Replica) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Subscribe calls fn after every change to the view, the others or the
// status. The returned func unsubscribes.
func (r *Replica) Subscribe(fn func()) func() {
	return r.changeListeners.add(fn)
}

// OnEvent calls fn for every room event.
func (r *Replica) OnEvent(fn func(board.Event)) func() {
	return r.eventListeners.add(fn)
}

func (r *Replica) notifyChange() {
	for _, fn := range r.changeListeners.get() {
		fn()
	}
}
