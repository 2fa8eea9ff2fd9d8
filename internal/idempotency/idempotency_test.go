package idempotency

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	redisadapter "github.com/robertarktes/hotel-reservations-admin/internal/adapters/redis"
	"github.com/robertarktes/hotel-reservations-admin/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu    sync.Mutex
	resp  map[string]redisadapter.StoredResponse
	locks map[string]bool
}

func newMemStore() *memStore {
	return &memStore{resp: map[string]redisadapter.StoredResponse{}, locks: map[string]bool{}}
}

func (m *memStore) Load(_ context.Context, key string) (*redisadapter.StoredResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resp[key]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memStore) Begin(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] {
		return false, nil
	}
	m.locks[key] = true
	return true, nil
}

func (m *memStore) Save(_ context.Context, key string, r redisadapter.StoredResponse, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resp[key] = r
	delete(m.locks, key)
	return nil
}

func (m *memStore) Abort(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, key)
	return nil
}

const key = "0123456789abcdef-key"

func TestDo_ReplaysStoredResponse(t *testing.T) {
	idemp := NewIdempotency(newMemStore(), time.Hour, observability.NewNopLogger())
	calls := 0
	fn := func() Response {
		calls++
		return Response{Status: http.StatusCreated, Body: []byte(`{"id":"r1"}`)}
	}

	first, replayed, err := idemp.Do(context.Background(), key, fn)
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := idemp.Do(context.Background(), key, fn)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestDo_ServerErrorsAreNotRemembered(t *testing.T) {
	idemp := NewIdempotency(newMemStore(), time.Hour, observability.NewNopLogger())
	status := http.StatusBadGateway
	fn := func() Response { return Response{Status: status} }

	_, _, err := idemp.Do(context.Background(), key, fn)
	require.NoError(t, err)

	status = http.StatusCreated
	resp, replayed, err := idemp.Do(context.Background(), key, fn)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, http.StatusCreated, resp.Status)
}

func TestDo_InProgressAndInvalidKey(t *testing.T) {
	store := newMemStore()
	idemp := NewIdempotency(store, time.Hour, observability.NewNopLogger())
	_, _ = store.Begin(context.Background(), key, time.Minute)

	_, _, err := idemp.Do(context.Background(), key, func() Response { return Response{Status: http.StatusCreated} })
	assert.ErrorIs(t, err, ErrInProgress)

	_, _, err = idemp.Do(context.Background(), "short", func() Response { return Response{} })
	assert.ErrorIs(t, err, ErrInvalidKey)

	resp, replayed, err := idemp.Do(context.Background(), "", func() Response { return Response{Status: http.StatusCreated} })
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, http.StatusCreated, resp.Status)
}
