package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const cancelLockPrefix = "cancelling:"

// releaseScript deletes the lock only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// AcquireCancelLock marks a reservation as being cancelled. It returns false
// when another cancel holds the mark.
func (c *Cache) AcquireCancelLock(ctx context.Context, reservationID, owner string, ttl time.Duration) (bool, error) {
	res := c.client.SetNX(ctx, cancelLockPrefix+reservationID, owner, ttl)
	return res.Val(), res.Err()
}

func (c *Cache) ReleaseCancelLock(ctx context.Context, reservationID, owner string) error {
	return releaseScript.Run(ctx, c.client, []string{cancelLockPrefix + reservationID}, owner).Err()
}

// CancelsInFlight reports which of ids currently hold a cancel mark.
func (c *Cache) CancelsInFlight(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cancelLockPrefix + id
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		if v != nil {
			out[ids[i]] = true
		}
	}
	return out, nil
}
