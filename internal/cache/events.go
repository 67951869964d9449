package cache

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"realtime-board/internal/board"
)

// EventsChannel is the pubsub channel room events travel on between
// server instances.
const EventsChannel = "board_events"

type roomEvent struct {
	Origin string      `json:"origin"`
	RoomID string      `json:"roomId"`
	Event  board.Event `json:"event"`
}

// PublishEvent sends ev to the replicas of roomID on every instance. origin
// identifies the publishing instance so it can skip its own events.
func (r *RedisClient) PublishEvent(ctx context.Context, origin, roomID string, ev board.Event) error {
	data, err := json.Marshal(roomEvent{Origin: origin, RoomID: roomID, Event: ev})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, EventsChannel, data).Err()
}

// SubscribeEvents calls fn for every published room event until ctx is done.
// A dropped subscription is re-established after a short pause.
func (r *RedisClient) SubscribeEvents(ctx context.Context, fn func(origin, roomID string, ev board.Event)) {
	for {
		sub := r.client.Subscribe(ctx, EventsChannel)
		ch := sub.Channel()

	receive:
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break receive
				}
				var re roomEvent
				if err := json.Unmarshal([]byte(msg.Payload), &re); err != nil {
					log.WithError(err).Error("[Redis] Unable to parse room event")
					continue
				}
				fn(re.Origin, re.RoomID, re.Event)
			}
		}

		sub.Close()
		if ctx.Err() != nil {
			return
		}
		log.Warn("[Redis] Event subscription closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
