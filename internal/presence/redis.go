package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"realtime-board/internal/board"
)

// DefaultTTL is how long a mirrored participant survives without a heartbeat.
const DefaultTTL = 60 * time.Second

// Data is what Redis stores for one connection.
type Data struct {
	board.Participant
	Color         string `json:"color"`
	LastHeartbeat int64  `json:"lastHeartbeat"`
	ServerID      string `json:"serverId"`
}

// Manager mirrors room presence into Redis so it can be listed from any
// server instance (for example by the participants endpoint).
type Manager struct {
	client   *redis.Client
	serverID string
	ttl      time.Duration
}

// NewManager 생성자
func NewManager(client *redis.Client, serverID string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		client:   client,
		serverID: serverID,
		ttl:      ttl,
	}
}

func roomKey(roomID string) string {
	return "presence:board:" + roomID
}

// member names a connection in the room index. Connection ids are only
// unique within one server, so the server id is part of it.
func (m *Manager) member(connID int) string {
	return fmt.Sprintf("%s:%d", m.serverID, connID)
}

func connKey(roomID, member string) string {
	return "presence:board:" + roomID + ":" + member
}

// SetPresence stores the participant and refreshes its TTL.
func (m *Manager) SetPresence(ctx context.Context, roomID string, p board.Participant) error {
	data := Data{
		Participant:   p,
		Color:         board.Color(p.ConnectionID),
		LastHeartbeat: time.Now().Unix(),
		ServerID:      m.serverID,
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	member := m.member(p.ConnectionID)
	pipe := m.client.TxPipeline()
	pipe.Set(ctx, connKey(roomID, member), jsonData, m.ttl)
	pipe.SAdd(ctx, roomKey(roomID), member)
	pipe.Expire(ctx, roomKey(roomID), m.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// UpdateHeartbeat 생존 신고 (TTL 연장)
func (m *Manager) UpdateHeartbeat(ctx context.Context, roomID string, connID int) error {
	ok, err := m.client.Expire(ctx, connKey(roomID, m.member(connID)), m.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("connection %d of %s not found", connID, roomID)
	}
	return m.client.Expire(ctx, roomKey(roomID), m.ttl).Err()
}

// RemovePresence drops one connection.
func (m *Manager) RemovePresence(ctx context.Context, roomID string, connID int) error {
	member := m.member(connID)
	pipe := m.client.TxPipeline()
	pipe.Del(ctx, connKey(roomID, member))
	pipe.SRem(ctx, roomKey(roomID), member)
	_, err := pipe.Exec(ctx)
	return err
}

// RemoveRoom drops every mirrored connection of a room.
func (m *Manager) RemoveRoom(ctx context.Context, roomID string) error {
	members, err := m.client.SMembers(ctx, roomKey(roomID)).Result()
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(members)+1)
	keys = append(keys, roomKey(roomID))
	for _, member := range members {
		keys = append(keys, connKey(roomID, member))
	}
	return m.client.Del(ctx, keys...).Err()
}

// GetPresence returns one connection of this server, or nil if it is gone.
func (m *Manager) GetPresence(ctx context.Context, roomID string, connID int) (*Data, error) {
	val, err := m.client.Get(ctx, connKey(roomID, m.member(connID))).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var data Data
	if err := json.Unmarshal([]byte(val), &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// ListPresence returns every live connection of a room, from every server,
// ordered by server and connection id. Index entries whose key expired are
// pruned.
func (m *Manager) ListPresence(ctx context.Context, roomID string) ([]Data, error) {
	members, err := m.client.SMembers(ctx, roomKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return []Data{}, nil
	}

	keys := make([]string, len(members))
	for i, member := range members {
		keys[i] = connKey(roomID, member)
	}

	// MGET으로 한 번에 조회
	results, err := m.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	list := make([]Data, 0, len(results))
	var stale []any
	for i, result := range results {
		strVal, ok := result.(string)
		if !ok {
			stale = append(stale, members[i])
			continue
		}

		var data Data
		if err := json.Unmarshal([]byte(strVal), &data); err == nil {
			list = append(list, data)
		}
	}

	if len(stale) > 0 {
		m.client.SRem(ctx, roomKey(roomID), stale...)
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].ServerID != list[j].ServerID {
			return list[i].ServerID < list[j].ServerID
		}
		return list[i].ConnectionID < list[j].ConnectionID
	})
	return list, nil
}
