package idempotency

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	redisadapter "github.com/robertarktes/hotel-reservations-admin/internal/adapters/redis"
	"github.com/robertarktes/hotel-reservations-admin/internal/observability"
)

var (
	ErrInProgress = errors.New("a request with this idempotency key is in progress")
	ErrInvalidKey = errors.New("invalid idempotency key")
)

const lockTTL = 30 * time.Second

type Store interface {
	Load(ctx context.Context, key string) (*redisadapter.StoredResponse, error)
	Begin(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Save(ctx context.Context, key string, resp redisadapter.StoredResponse, ttl time.Duration) error
	Abort(ctx context.Context, key string) error
}

type Idempotency struct {
	store  Store
	ttl    time.Duration
	logger observability.Logger
}

func NewIdempotency(store Store, ttl time.Duration, logger observability.Logger) *Idempotency {
	return &Idempotency{store: store, ttl: ttl, logger: logger}
}

type Response struct {
	Status int
	Body   []byte
}

func ValidKey(key string) bool {
	return len(key) >= 16 && len(key) <= 128
}

// Do runs fn once per key and replays its response for later calls with the
// same key. Server errors are not remembered so the client can retry. An
// empty key runs fn without any bookkeeping.
func (i *Idempotency) Do(ctx context.Context, key string, fn func() Response) (Response, bool, error) {
	if key == "" {
		return fn(), false, nil
	}
	if !ValidKey(key) {
		return Response{}, false, ErrInvalidKey
	}

	stored, err := i.store.Load(ctx, key)
	if err != nil {
		return Response{}, false, errors.Wrap(err, "load idempotent response")
	}
	if stored != nil {
		return Response(*stored), true, nil
	}

	ok, err := i.store.Begin(ctx, key, lockTTL)
	if err != nil {
		return Response{}, false, errors.Wrap(err, "claim idempotency key")
	}
	if !ok {
		return Response{}, false, ErrInProgress
	}

	resp := fn()
	if resp.Status >= http.StatusInternalServerError {
		if err := i.store.Abort(ctx, key); err != nil {
			i.logger.WithError(err).Warn("failed to release idempotency key")
		}
		return resp, false, nil
	}
	if err := i.store.Save(ctx, key, redisadapter.StoredResponse(resp), i.ttl); err != nil {
		i.logger.WithError(err).Warn("failed to store idempotent response")
	}
	return resp, false, nil
}
