package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

func ownerKey(roomID string) string {
	return "room:" + roomID + ":owner"
}

// 소유자가 일치할 때만 만료 연장/삭제
var (
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// AcquireRoom makes owner the instance hosting roomID unless another
// instance already does. It returns the current holder; the lease is
// owner's when the two are equal.
func (r *RedisClient) AcquireRoom(ctx context.Context, roomID, owner string, ttl time.Duration) (string, error) {
	key := ownerKey(roomID)
	ok, err := r.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return owner, nil
	}

	holder, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired in between
		return r.AcquireRoom(ctx, roomID, owner, ttl)
	}
	if err != nil {
		return "", err
	}
	if holder == owner {
		if err := r.RenewRoom(ctx, roomID, owner, ttl); err != nil {
			return "", err
		}
	}
	return holder, nil
}

// RenewRoom extends owner's lease. It fails with ErrLeaseLost when the
// lease has expired or moved to another instance.
func (r *RedisClient) RenewRoom(ctx context.Context, roomID, owner string, ttl time.Duration) error {
	n, err := renewScript.Run(ctx, r.client, []string{ownerKey(roomID)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// ReleaseRoom gives up owner's lease. A lease held by someone else is left
// alone.
func (r *RedisClient) ReleaseRoom(ctx context.Context, roomID, owner string) error {
	return releaseScript.Run(ctx, r.client, []string{ownerKey(roomID)}, owner).Err()
}

// ErrLeaseLost is returned when renewing a lease this instance no longer holds.
var ErrLeaseLost = errors.New("room lease lost")
