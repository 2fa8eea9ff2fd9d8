package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempPrefix = "idemp:reservations:"

type Idempotency struct {
	client *redis.Client
}

func NewIdempotency(client *redis.Client) *Idempotency {
	return &Idempotency{client: client}
}

type StoredResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// Load returns nil, nil when nothing is stored under key.
func (i *Idempotency) Load(ctx context.Context, key string) (*StoredResponse, error) {
	val, err := i.client.Get(ctx, idempPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var resp StoredResponse
	if err := json.Unmarshal(val, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Begin claims key for one in-flight request. It returns false if another
// request holds the claim.
func (i *Idempotency) Begin(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return i.client.SetNX(ctx, idempPrefix+key+":lock", 1, ttl).Result()
}

// Save stores the response and drops the claim.
func (i *Idempotency) Save(ctx context.Context, key string, resp StoredResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	pipe := i.client.TxPipeline()
	pipe.Set(ctx, idempPrefix+key, data, ttl)
	pipe.Del(ctx, idempPrefix+key+":lock")
	_, err = pipe.Exec(ctx)
	return err
}

func (i *Idempotency) Abort(ctx context.Context, key string) error {
	return i.client.Del(ctx, idempPrefix+key+":lock").Err()
}
