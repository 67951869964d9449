package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"realtime-board/internal/board"
)

// =============================================================================
// Room Hub - 보드 단위 Room 관리
// =============================================================================

// Config tunes room behavior.
type Config struct {
	DefaultName     string
	NameDebounce    time.Duration
	SaveDebounce    time.Duration
	PresenceTimeout time.Duration
	SweepInterval   time.Duration
	StoreTimeout    time.Duration
	BroadcastBuffer int
	MinCardSize     float64
	LeaseTTL        time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		DefaultName:     board.DefaultName,
		NameDebounce:    500 * time.Millisecond,
		SaveDebounce:    2 * time.Second,
		PresenceTimeout: 30 * time.Second,
		SweepInterval:   5 * time.Second,
		StoreTimeout:    5 * time.Second,
		BroadcastBuffer: 256,
		MinCardSize:     board.DefaultDimensions.MinSize,
		LeaseTTL:        30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultName == "" {
		c.DefaultName = d.DefaultName
	}
	if c.NameDebounce <= 0 {
		c.NameDebounce = d.NameDebounce
	}
	if c.SaveDebounce <= 0 {
		c.SaveDebounce = d.SaveDebounce
	}
	if c.PresenceTimeout <= 0 {
		c.PresenceTimeout = d.PresenceTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = d.StoreTimeout
	}
	if c.BroadcastBuffer <= 0 {
		c.BroadcastBuffer = d.BroadcastBuffer
	}
	if c.MinCardSize <= 0 {
		c.MinCardSize = d.MinCardSize
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = d.LeaseTTL
	}
	return c
}

// EventBus carries room events between server instances.
type EventBus interface {
	PublishEvent(ctx context.Context, origin, roomID string, ev board.Event) error
	SubscribeEvents(ctx context.Context, fn func(origin, roomID string, ev board.Event))
}

// Lease makes one server instance at a time the host of a room, so a board
// has a single authoritative document however many instances serve it.
type Lease interface {
	// AcquireRoom returns the current holder; the lease is owner's when the
	// two are equal.
	AcquireRoom(ctx context.Context, roomID, owner string, ttl time.Duration) (string, error)
	RenewRoom(ctx context.Context, roomID, owner string, ttl time.Duration) error
	ReleaseRoom(ctx context.Context, roomID, owner string) error
}

// ErrRoomOwnedElsewhere is returned by Join when another instance hosts
// the room.
var ErrRoomOwnedElsewhere = errors.New("room is hosted by another instance")

// Hub manages all rooms of this server instance.
type Hub struct {
	cfg        Config
	store      Store
	names      NameStore
	mirror     PresenceMirror
	bus        EventBus
	lease      Lease
	instanceID string

	rooms map[string]*Room
	mu    sync.Mutex

	// closed rooms whose state is still being written
	closing map[string]*Room
}

// Option configures a Hub.
type Option func(*Hub)

// WithStore persists room documents.
func WithStore(s Store) Option {
	return func(h *Hub) { h.store = s }
}

// WithNameStore persists board renames.
func WithNameStore(n NameStore) Option {
	return func(h *Hub) { h.names = n }
}

// WithPresenceMirror mirrors presence changes.
func WithPresenceMirror(m PresenceMirror) Option {
	return func(h *Hub) { h.mirror = m }
}

// WithEventBus shares room events with other instances. instanceID tells
// this instance's own events apart.
func WithEventBus(bus EventBus, instanceID string) Option {
	return func(h *Hub) {
		h.bus = bus
		h.instanceID = instanceID
	}
}

// WithLease hosts a room only while this instance holds its lease.
func WithLease(lease Lease, instanceID string) Option {
	return func(h *Hub) {
		h.lease = lease
		h.instanceID = instanceID
	}
}

// NewHub creates a new Hub instance
func NewHub(cfg Config, opts ...Option) *Hub {
	h := &Hub{
		cfg:     cfg.withDefaults(),
		rooms:   make(map[string]*Room),
		closing: make(map[string]*Room),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Join connects a peer to a room, creating and hydrating the room first if
// nobody is in it yet. session is passed on to Room.Join.
func (h *Hub) Join(ctx context.Context, roomID, userID, session string, peer Peer, presence board.Presence) (*Room, int, error) {
	if err := h.lockSettled(ctx, roomID); err != nil {
		return nil, 0, err
	}
	defer h.mu.Unlock()

	room, err := h.getOrCreateLocked(ctx, roomID)
	if err != nil {
		return nil, 0, err
	}
	connID, err := room.Join(userID, session, peer, presence)
	if err != nil {
		return nil, 0, err
	}
	return room, connID, nil
}

// lockSettled takes h.mu once no closed copy of the room is still being
// written, so the next load sees its last document.
func (h *Hub) lockSettled(ctx context.Context, roomID string) error {
	for {
		h.mu.Lock()
		prev, ok := h.closing[roomID]
		if !ok {
			return nil
		}
		h.mu.Unlock()

		select {
		case <-prev.Retired():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Hub) getOrCreateLocked(ctx context.Context, roomID string) (*Room, error) {
	if room, exists := h.rooms[roomID]; exists {
		return room, nil
	}

	if h.lease != nil {
		holder, err := h.lease.AcquireRoom(ctx, roomID, h.instanceID, h.cfg.LeaseTTL)
		if err != nil {
			return nil, err
		}
		if holder != h.instanceID {
			return nil, fmt.Errorf("%w: %s", ErrRoomOwnedElsewhere, holder)
		}
	}

	var doc *board.Document
	if h.store != nil {
		loaded, err := h.store.LoadDocument(ctx, roomID)
		if err != nil {
			h.releaseLease(roomID)
			return nil, err
		}
		doc = loaded
	}
	if doc == nil {
		doc = board.NewDocument(h.cfg.DefaultName)
	}

	room := newRoom(roomID, doc, h.cfg, h.store, h.names, h.mirror)
	room.onEmpty = h.removeIfEmpty
	h.rooms[roomID] = room
	log.Infof("[Hub] Created room: %s", roomID)

	return room, nil
}

// Room returns a live room.
func (h *Hub) Room(roomID string) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[roomID]
	return room, ok
}

// RoomCount returns the number of live rooms.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// removeIfEmpty retires a room nobody is in. The store writes happen after
// h.mu is released so joins to other rooms are not held up.
func (h *Hub) removeIfEmpty(room *Room) {
	h.mu.Lock()
	if h.rooms[room.ID] != room {
		h.mu.Unlock()
		return
	}
	if _, ok := room.stop(true, false); !ok {
		h.mu.Unlock()
		return
	}
	delete(h.rooms, room.ID)
	h.closing[room.ID] = room
	h.mu.Unlock()

	room.finish()
	h.retire(room)
	log.Infof("[Hub] Removed room: %s", room.ID)
}

// retire lets go of a closed room once its state is persisted.
func (h *Hub) retire(room *Room) {
	h.releaseLease(room.ID)

	h.mu.Lock()
	if h.closing[room.ID] == room {
		delete(h.closing, room.ID)
	}
	h.mu.Unlock()
	room.markRetired()
}

func (h *Hub) releaseLease(roomID string) {
	if h.lease == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.StoreTimeout)
	defer cancel()
	if err := h.lease.ReleaseRoom(ctx, roomID, h.instanceID); err != nil {
		log.Warnf("[Hub] Failed to release lease of %s: %v", roomID, err)
	}
}

// Mutate applies a server-side change to a live room. It reports false when
// no replica has the room open, in which case the caller owns persistence.
func (h *Hub) Mutate(roomID string, fn func(tx *board.Tx)) (bool, error) {
	room, ok := h.Room(roomID)
	if !ok {
		return false, nil
	}
	if err := room.Mutate(fn); err != nil {
		if errors.Is(err, ErrRoomClosed) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Rename sets the board name wherever the document lives. A live room gets
// it as a server patch. Otherwise the stored document is rewritten so the
// next open does not bring back the old name, unless another instance hosts
// the room; that instance applies the rename it receives over the event bus.
func (h *Hub) Rename(ctx context.Context, roomID, name string) error {
	rename := func(tx *board.Tx) { board.SetBoardName(tx, name) }

	if h.bus != nil {
		data, err := json.Marshal(renamedData{Name: name})
		if err != nil {
			return err
		}
		ev := board.Event{Type: board.EventBoardRenamed, Data: data}
		if err := h.bus.PublishEvent(ctx, h.instanceID, roomID, ev); err != nil {
			log.WithError(err).Warnf("[Hub] Failed to publish rename of %s", roomID)
		}
	}

	for {
		if err := h.lockSettled(ctx, roomID); err != nil {
			return err
		}
		room, live := h.rooms[roomID]
		if !live {
			break
		}
		h.mu.Unlock()

		err := room.Mutate(rename)
		if !errors.Is(err, ErrRoomClosed) {
			return err
		}
	}
	defer h.mu.Unlock()

	if h.store == nil {
		return nil
	}
	if h.lease != nil {
		holder, err := h.lease.AcquireRoom(ctx, roomID, h.instanceID, h.cfg.LeaseTTL)
		if err != nil {
			return err
		}
		if holder != h.instanceID {
			return nil
		}
		defer h.releaseLease(roomID)
	}

	doc, err := h.store.LoadDocument(ctx, roomID)
	if err != nil || doc == nil || doc.Name == name {
		return err
	}
	board.SetBoardName(board.NewTx(doc), name)
	return h.store.SaveDocument(ctx, roomID, doc)
}

type renamedData struct {
	Name string `json:"name"`
}

// BroadcastEvent delivers an event to every replica of the room, on this
// instance and, through the event bus, on every other one.
func (h *Hub) BroadcastEvent(ctx context.Context, roomID string, ev board.Event) error {
	if room, ok := h.Room(roomID); ok {
		if err := room.BroadcastEvent(ev); err != nil && !errors.Is(err, ErrRoomClosed) {
			return err
		}
	}
	if h.bus != nil {
		return h.bus.PublishEvent(ctx, h.instanceID, roomID, ev)
	}
	return nil
}

func (h *Hub) deliverRemote(origin, roomID string, ev board.Event) {
	if origin == h.instanceID {
		return
	}
	room, ok := h.Room(roomID)
	if !ok {
		return
	}
	if ev.Type == board.EventBoardRenamed {
		var data renamedData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			log.WithError(err).Warnf("[Hub] Malformed rename for %s", roomID)
			return
		}
		if err := room.Mutate(func(tx *board.Tx) { board.SetBoardName(tx, data.Name) }); err != nil {
			log.Debugf("[Hub] Dropped rename for %s: %v", roomID, err)
		}
		return
	}
	if err := room.BroadcastEvent(ev); err != nil {
		log.Debugf("[Hub] Dropped event %s for %s: %v", ev.Type, roomID, err)
	}
	if ev.Type == board.EventBoardDeleted {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.StoreTimeout)
		defer cancel()
		if err := h.DeleteRoom(ctx, roomID); err != nil {
			log.Warnf("[Hub] Failed to delete room %s: %v", roomID, err)
		}
	}
}

// DeleteRoom disconnects everyone from the room and removes its persisted
// state. It works whether or not the room is live on this instance.
func (h *Hub) DeleteRoom(ctx context.Context, roomID string) error {
	h.mu.Lock()
	room, ok := h.rooms[roomID]
	if !ok {
		room, ok = h.closing[roomID]
	}
	delete(h.rooms, roomID)
	h.mu.Unlock()

	if ok {
		err := room.Delete(ctx)
		h.releaseLease(roomID)
		room.markRetired()
		return err
	}

	if h.store != nil {
		if err := h.store.DeleteDocument(ctx, roomID); err != nil {
			return err
		}
	}
	if h.mirror != nil {
		return h.mirror.RemoveRoom(ctx, roomID)
	}
	return nil
}

// Sweep runs the liveness check on every room.
func (h *Hub) Sweep(now time.Time) {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, room := range h.rooms {
		rooms = append(rooms, room)
	}
	h.mu.Unlock()

	for _, room := range rooms {
		room.Sweep(now)
		if room.ConnectionCount() == 0 {
			h.removeIfEmpty(room)
			continue
		}
		h.renewLease(room.ID)
	}
}

func (h *Hub) renewLease(roomID string) {
	if h.lease == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.StoreTimeout)
	defer cancel()
	if err := h.lease.RenewRoom(ctx, roomID, h.instanceID, h.cfg.LeaseTTL); err != nil {
		log.Errorf("[Hub] Lost lease of %s: %v", roomID, err)
	}
}

// Run sweeps rooms and listens for remote events until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	if h.bus != nil {
		go h.bus.SubscribeEvents(ctx, h.deliverRemote)
	}

	ticker := time.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.Sweep(now)
		}
	}
}

// Shutdown persists and closes every room.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]*Room)
	h.mu.Unlock()

	for _, room := range rooms {
		room.Shutdown()
		h.releaseLease(room.ID)
		room.markRetired()
	}
	log.Infof("[Hub] Shut down %d rooms", len(rooms))
}
