package room

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bep/debounce"
	log "github.com/sirupsen/logrus"

	"realtime-board/internal/board"
)

var (
	ErrRoomClosed         = errors.New("room closed")
	ErrUnknownConnection  = errors.New("unknown connection")
	ErrUnknownMessageType = errors.New("unknown message type")
)

// Store persists room documents between sessions.
type Store interface {
	LoadDocument(ctx context.Context, roomID string) (*board.Document, error)
	SaveDocument(ctx context.Context, roomID string, doc *board.Document) error
	DeleteDocument(ctx context.Context, roomID string) error
}

// NameStore receives board renames so listings outside the room stay current.
type NameStore interface {
	UpdateName(ctx context.Context, boardID, name string) error
}

// PresenceMirror receives a copy of every presence change.
type PresenceMirror interface {
	SetPresence(ctx context.Context, roomID string, p board.Participant) error
	UpdateHeartbeat(ctx context.Context, roomID string, connID int) error
	RemovePresence(ctx context.Context, roomID string, connID int) error
	RemoveRoom(ctx context.Context, roomID string) error
}

// Room is the authoritative copy of one board and the set of replicas
// connected to it.
//
// Every outgoing message goes through a single broadcaster goroutine and is
// queued while holding mu, so all replicas observe patches in sequence order.
type Room struct {
	ID string

	cfg     Config
	store   Store
	names   NameStore
	mirror  PresenceMirror
	onEmpty func(*Room)

	mu          sync.Mutex
	doc         *board.Document
	seq         uint64
	nextConnID  int
	conns       map[int]*connection
	closed      bool
	deleted     bool
	docDirty    bool
	nameDirty   bool
	pendingName string

	// last clientSeq applied per replica session
	applied map[string]uint64

	broadcast  chan envelope
	done       chan struct{}
	retired    chan struct{}
	retireOnce sync.Once

	saveMu   sync.Mutex
	nameMu   sync.Mutex
	saveDoc  func(func())
	saveName func(func())
}

type connection struct {
	id       int
	userID   string
	session  string
	peer     Peer
	presence board.Presence
	lastSeen time.Time
	dead     atomic.Bool
}

func (c *connection) participant() board.Participant {
	return board.Participant{
		ConnectionID: c.id,
		UserID:       c.userID,
		Presence:     c.presence.Clone(),
	}
}

type envelope struct {
	msg *Message
	to  []*connection
}

func newRoom(id string, doc *board.Document, cfg Config, store Store, names NameStore, mirror PresenceMirror) *Room {
	r := &Room{
		ID:        id,
		cfg:       cfg,
		store:     store,
		names:     names,
		mirror:    mirror,
		doc:       doc,
		conns:     make(map[int]*connection),
		applied:   make(map[string]uint64),
		broadcast: make(chan envelope, cfg.BroadcastBuffer),
		done:      make(chan struct{}),
		retired:   make(chan struct{}),
		saveDoc:   debounce.New(cfg.SaveDebounce),
		saveName:  debounce.New(cfg.NameDebounce),
	}
	go r.runBroadcaster()
	return r
}

// =============================================================================
// Connections
// =============================================================================

// Join adds a replica. The peer first receives an init message with the
// current document and the other participants; everyone else receives the
// newcomer's presence.
//
// session identifies the replica across reconnects. The init message tells
// it the last of its patches the room applied, so it can drop those instead
// of sending them again. An empty session turns this off.
func (r *Room) Join(userID, session string, peer Peer, presence board.Presence) (int, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, ErrRoomClosed
	}

	r.nextConnID++
	c := &connection{
		id:       r.nextConnID,
		userID:   userID,
		session:  sessionKey(userID, session),
		peer:     peer,
		presence: presence.Clone(),
		lastSeen: time.Now(),
	}

	existing := r.peersLocked(0)
	self := c.presence.Clone()
	r.enqueue(&Message{
		Type:          MsgInit,
		Seq:           r.seq,
		ConnectionID:  c.id,
		UserID:        userID,
		LastClientSeq: r.applied[c.session],
		Document:      r.doc.Clone(),
		Others:        r.participantsLocked(),
		Presence:      &self,
	}, []*connection{c})
	r.enqueue(&Message{
		Type:         MsgPresence,
		ConnectionID: c.id,
		UserID:       userID,
		Presence:     &self,
	}, existing)

	r.conns[c.id] = c
	participant := c.participant()
	total := len(r.conns)
	r.mu.Unlock()

	log.Infof("[Room %s] Joined connection %d (user %s), total: %d", r.ID, c.id, userID, total)
	r.mirrorSet(participant)
	return c.id, nil
}

// Leave removes a replica and tells the others. Unknown ids are ignored.
func (r *Room) Leave(connID int) {
	r.mu.Lock()
	c, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)
	if !r.closed {
		r.enqueue(&Message{Type: MsgLeave, ConnectionID: connID}, r.peersLocked(0))
	}
	remaining := len(r.conns)
	r.mu.Unlock()

	log.Infof("[Room %s] Removed connection %d, remaining: %d", r.ID, connID, remaining)
	c.dead.Store(true)
	c.peer.Close()
	r.mirrorRemove(connID)

	if remaining == 0 && r.onEmpty != nil {
		r.onEmpty(r)
	}
}

// Touch records a sign of life from the connection.
func (r *Room) Touch(connID int) error {
	r.mu.Lock()
	c, ok := r.conns[connID]
	if ok {
		c.lastSeen = time.Now()
	}
	r.mu.Unlock()

	if !ok {
		return ErrUnknownConnection
	}
	if r.mirror != nil {
		r.withTimeout(func(ctx context.Context) {
			if err := r.mirror.UpdateHeartbeat(ctx, r.ID, connID); err != nil {
				log.Debugf("[Room %s] Heartbeat mirror failed for %d: %v", r.ID, connID, err)
			}
		})
	}
	return nil
}

// Sweep removes connections that have not been heard from within the
// presence timeout and returns their ids.
func (r *Room) Sweep(now time.Time) []int {
	r.mu.Lock()
	var stale []*connection
	for id, c := range r.conns {
		if now.Sub(c.lastSeen) > r.cfg.PresenceTimeout {
			stale = append(stale, c)
			delete(r.conns, id)
		}
	}
	if len(stale) == 0 {
		r.mu.Unlock()
		return nil
	}

	sort.Slice(stale, func(i, j int) bool { return stale[i].id < stale[j].id })
	ids := make([]int, len(stale))
	for i, c := range stale {
		ids[i] = c.id
		if !r.closed {
			r.enqueue(&Message{Type: MsgLeave, ConnectionID: c.id}, r.peersLocked(0))
		}
	}
	r.mu.Unlock()

	for _, c := range stale {
		log.Warnf("[Room %s] Connection %d timed out", r.ID, c.id)
		c.dead.Store(true)
		c.peer.Close()
		r.mirrorRemove(c.id)
	}
	return ids
}

// =============================================================================
// Messages
// =============================================================================

// Handle dispatches one message received from a connection.
func (r *Room) Handle(connID int, msg *Message) error {
	switch msg.Type {
	case MsgPatch:
		return r.Submit(connID, msg.ClientSeq, msg.Patch)
	case MsgPresence:
		if msg.Update == nil {
			return r.Touch(connID)
		}
		return r.UpdatePresence(connID, *msg.Update)
	case MsgPing:
		return r.pong(connID)
	default:
		return ErrUnknownMessageType
	}
}

// Submit applies a patch from a connection and broadcasts it to every
// replica, the origin included. A patch the connection's session already had
// applied is only acknowledged.
func (r *Room) Submit(connID int, clientSeq uint64, patch board.Patch) error {
	patch = sanitizePatch(patch, r.cfg.MinCardSize)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRoomClosed
	}
	c, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownConnection
	}
	c.lastSeen = time.Now()

	if c.session != "" && clientSeq > 0 {
		if clientSeq <= r.applied[c.session] {
			r.enqueue(&Message{Type: MsgAck, ClientSeq: clientSeq}, []*connection{c})
			r.mu.Unlock()
			log.Debugf("[Room %s] Dropped replayed patch %d from connection %d", r.ID, clientSeq, connID)
			return nil
		}
		r.applied[c.session] = clientSeq
	}

	renamed := r.applyLocked(connID, clientSeq, patch)
	r.mu.Unlock()

	r.scheduleWrites(renamed)
	return nil
}

// Mutate runs fn against the authoritative document on behalf of the
// server, for changes that arrive outside a replica (a rename through the
// HTTP API). The patch is broadcast with connection id 0.
func (r *Room) Mutate(fn func(tx *board.Tx)) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRoomClosed
	}

	tx := board.NewTx(r.doc.Clone())
	fn(tx)
	patch := sanitizePatch(tx.Patch(), r.cfg.MinCardSize)
	if len(patch) == 0 {
		r.mu.Unlock()
		return nil
	}
	renamed := r.applyLocked(0, 0, patch)
	r.mu.Unlock()

	r.scheduleWrites(renamed)
	return nil
}

func (r *Room) applyLocked(connID int, clientSeq uint64, patch board.Patch) (renamed bool) {
	r.doc.Apply(patch)
	r.seq++
	r.enqueue(&Message{
		Type:         MsgPatch,
		Seq:          r.seq,
		ConnectionID: connID,
		ClientSeq:    clientSeq,
		Patch:        patch,
	}, r.peersLocked(0))

	r.docDirty = true
	name, renamed := patch.ChangesName()
	if renamed {
		r.pendingName = name
		r.nameDirty = true
	}
	return renamed
}

func (r *Room) scheduleWrites(renamed bool) {
	r.saveDoc(r.flushDocument)
	if renamed {
		r.saveName(r.flushName)
	}
}

// UpdatePresence merges a presence update into the connection's slot and
// sends the result to the other replicas.
func (r *Room) UpdatePresence(connID int, u board.PresenceUpdate) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRoomClosed
	}
	c, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownConnection
	}
	c.lastSeen = time.Now()
	c.presence = c.presence.Merge(u)

	p := c.presence.Clone()
	r.enqueue(&Message{
		Type:         MsgPresence,
		ConnectionID: connID,
		UserID:       c.userID,
		Presence:     &p,
	}, r.peersLocked(connID))
	participant := c.participant()
	r.mu.Unlock()

	r.mirrorSet(participant)
	return nil
}

// BroadcastEvent delivers an event to every replica.
func (r *Room) BroadcastEvent(ev board.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomClosed
	}
	r.enqueue(&Message{Type: MsgEvent, Event: &ev}, r.peersLocked(0))
	return nil
}

func (r *Room) pong(connID int) error {
	if err := r.Touch(connID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok || r.closed {
		return nil
	}
	r.enqueue(&Message{Type: MsgPong}, []*connection{c})
	return nil
}

// =============================================================================
// Reads
// =============================================================================

// Document returns a copy of the authoritative document.
func (r *Room) Document() *board.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Clone()
}

// Seq returns the sequence number of the last applied patch.
func (r *Room) Seq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Participants returns every connected replica ordered by connection id.
func (r *Room) Participants() []board.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.participantsLocked()
}

// ConnectionCount returns the number of connected replicas.
func (r *Room) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *Room) participantsLocked() []board.Participant {
	list := make([]board.Participant, 0, len(r.conns))
	for _, c := range r.conns {
		list = append(list, c.participant())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ConnectionID < list[j].ConnectionID })
	return list
}

// peersLocked snapshots the current connections, leaving out except.
func (r *Room) peersLocked(except int) []*connection {
	peers := make([]*connection, 0, len(r.conns))
	for id, c := range r.conns {
		if id != except {
			peers = append(peers, c)
		}
	}
	return peers
}

// =============================================================================
// Broadcaster
// =============================================================================

// enqueue must be called with mu held and the room open.
func (r *Room) enqueue(msg *Message, to []*connection) {
	if len(to) == 0 {
		return
	}
	r.broadcast <- envelope{msg: msg, to: to}
}

func (r *Room) runBroadcaster() {
	log.Debugf("[Room %s] Broadcaster started", r.ID)
	defer log.Debugf("[Room %s] Broadcaster stopped", r.ID)
	defer close(r.done)

	for env := range r.broadcast {
		for _, c := range env.to {
			if c.dead.Load() {
				continue
			}
			if err := c.peer.Send(env.msg); err != nil {
				log.Warnf("[Room %s] Failed to send to connection %d: %v", r.ID, c.id, err)
				c.dead.Store(true)
				go r.Leave(c.id)
			}
		}
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

// close stops accepting messages and waits until everything queued has been
// delivered. It reports false if the room was already closed.
func (r *Room) close(onlyIfEmpty, deleted bool) ([]*connection, bool) {
	conns, ok := r.stop(onlyIfEmpty, deleted)
	if ok {
		<-r.done
	}
	return conns, ok
}

// stop marks the room closed and ends the broadcast queue without waiting
// for it to drain.
func (r *Room) stop(onlyIfEmpty, deleted bool) ([]*connection, bool) {
	r.mu.Lock()
	if r.closed || (onlyIfEmpty && len(r.conns) > 0) {
		r.mu.Unlock()
		return nil, false
	}
	r.closed = true
	if deleted {
		r.deleted = true
	}
	conns := r.peersLocked(0)
	r.conns = make(map[int]*connection)
	close(r.broadcast)
	r.mu.Unlock()
	return conns, true
}

// finish waits for a stopped room to drain and writes what is pending.
func (r *Room) finish() {
	<-r.done
	r.flushDocument()
	r.flushName()
	log.Infof("[Room %s] Shutdown complete", r.ID)
}

// Shutdown persists pending changes and disconnects every replica.
func (r *Room) Shutdown() {
	conns, ok := r.close(false, false)
	if !ok {
		return
	}
	r.flushDocument()
	r.flushName()
	for _, c := range conns {
		c.peer.Close()
	}
	log.Infof("[Room %s] Shutdown complete", r.ID)
}

// Delete disconnects every replica and removes the persisted document.
// Pending saves are dropped.
func (r *Room) Delete(ctx context.Context) error {
	conns, _ := r.close(false, true)

	r.mu.Lock()
	r.deleted = true
	r.mu.Unlock()

	for _, c := range conns {
		c.peer.Close()
	}

	var err error
	if r.store != nil {
		r.saveMu.Lock()
		err = r.store.DeleteDocument(ctx, r.ID)
		r.saveMu.Unlock()
	}
	if r.mirror != nil {
		if mErr := r.mirror.RemoveRoom(ctx, r.ID); mErr != nil {
			log.Warnf("[Room %s] Failed to clear presence: %v", r.ID, mErr)
		}
	}

	log.Infof("[Room %s] Deleted", r.ID)
	return err
}

// Done is closed once the room has stopped delivering messages.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

// Retired is closed once the hub has persisted the closed room and let go
// of it.
func (r *Room) Retired() <-chan struct{} {
	return r.retired
}

func (r *Room) markRetired() {
	r.retireOnce.Do(func() { close(r.retired) })
}

// =============================================================================
// Persistence
// =============================================================================

func (r *Room) flushDocument() {
	if r.store == nil {
		return
	}

	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.Lock()
	if r.deleted || !r.docDirty {
		r.mu.Unlock()
		return
	}
	doc := r.doc.Clone()
	r.docDirty = false
	r.mu.Unlock()

	r.withTimeout(func(ctx context.Context) {
		if err := r.store.SaveDocument(ctx, r.ID, doc); err != nil {
			log.Errorf("[Room %s] Failed to save document: %v", r.ID, err)
			r.mu.Lock()
			r.docDirty = true
			r.mu.Unlock()
		}
	})
}

// flushName writes the latest name. A failed write is logged only; the live
// name stays what the replicas agreed on.
func (r *Room) flushName() {
	if r.names == nil {
		return
	}

	r.nameMu.Lock()
	defer r.nameMu.Unlock()

	r.mu.Lock()
	if r.deleted || !r.nameDirty {
		r.mu.Unlock()
		return
	}
	name := r.pendingName
	r.nameDirty = false
	r.mu.Unlock()

	r.withTimeout(func(ctx context.Context) {
		if err := r.names.UpdateName(ctx, r.ID, name); err != nil {
			log.Errorf("[Room %s] Failed to persist board name: %v", r.ID, err)
		}
	})
}

func (r *Room) mirrorSet(p board.Participant) {
	if r.mirror == nil {
		return
	}
	r.withTimeout(func(ctx context.Context) {
		if err := r.mirror.SetPresence(ctx, r.ID, p); err != nil {
			log.Warnf("[Room %s] Failed to mirror presence of %d: %v", r.ID, p.ConnectionID, err)
		}
	})
}

func (r *Room) mirrorRemove(connID int) {
	if r.mirror == nil {
		return
	}
	r.withTimeout(func(ctx context.Context) {
		if err := r.mirror.RemovePresence(ctx, r.ID, connID); err != nil {
			log.Warnf("[Room %s] Failed to remove mirrored presence of %d: %v", r.ID, connID, err)
		}
	})
}

func (r *Room) withTimeout(fn func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.StoreTimeout)
	defer cancel()
	fn(ctx)
}

func sessionKey(userID, session string) string {
	if session == "" {
		return ""
	}
	return userID + "/" + session
}

// sanitizePatch cleans card content and keeps cards square and at least
// minSize, whatever the client sent.
func sanitizePatch(p board.Patch, minSize float64) board.Patch {
	out := make(board.Patch, len(p))
	for i, op := range p {
		switch {
		case op.Card != nil:
			card := *op.Card
			card.Content = board.SanitizeContent(card.Content)
			size := squareSize(&card.Width, &card.Height, minSize)
			card.Width, card.Height = size, size
			op.Card = &card
		case op.Fields != nil:
			fields := *op.Fields
			if fields.Content != nil {
				content := board.SanitizeContent(*fields.Content)
				fields.Content = &content
			}
			if fields.Width != nil || fields.Height != nil {
				size := squareSize(fields.Width, fields.Height, minSize)
				fields.Width, fields.Height = &size, &size
			}
			op.Fields = &fields
		}
		out[i] = op
	}
	return out
}

func squareSize(width, height *float64, minSize float64) float64 {
	size := minSize
	for _, v := range []*float64{width, height} {
		if v != nil && *v > size {
			size = *v
		}
	}
	return size
}
