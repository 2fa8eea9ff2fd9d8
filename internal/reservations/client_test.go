package reservations_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/hotel-reservations-admin/internal/domain"
	"github.com/robertarktes/hotel-reservations-admin/internal/observability"
	"github.com/robertarktes/hotel-reservations-admin/internal/record"
	"github.com/robertarktes/hotel-reservations-admin/internal/reservations"
	"github.com/robertarktes/hotel-reservations-admin/internal/reservations/reservationstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []reservations.Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, ev reservations.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func booking(in, out time.Time) domain.Booking {
	return domain.Booking{
		GuestName:      "Ana Torres",
		Email:          "ana@example.com",
		Phone:          "600000000",
		RoomID:         "101",
		NumberOfGuests: 2,
		CheckIn:        in,
		CheckOut:       out,
	}
}

func newClient(t *testing.T, opts reservations.Options) (*reservations.Client, *reservationstest.Collection, *recordingNotifier) {
	t.Helper()
	coll := reservationstest.New()
	n := &recordingNotifier{}
	return reservations.NewClient(coll, n, observability.NewNopLogger(), opts), coll, n
}

func TestClient_CreateForcesConfirmed(t *testing.T) {
	ctx := context.Background()
	c, coll, n := newClient(t, reservations.Options{})

	for _, status := range []domain.Status{"", domain.StatusCancelled, "pending"} {
		b := booking(date(2024, 6, 1), date(2024, 6, 5))
		b.Status = status
		id, err := c.Create(ctx, b)
		require.NoError(t, err)

		doc, ok := coll.Doc(id)
		require.True(t, ok)
		assert.Equal(t, string(domain.StatusConfirmed), doc[record.FieldStatus])
	}
	assert.Equal(t, []string{reservations.EventCreated, reservations.EventCreated, reservations.EventCreated}, n.types())
}

func TestClient_CreateThenList(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newClient(t, reservations.Options{})

	id, err := c.Create(ctx, booking(date(2024, 6, 1), date(2024, 6, 5)))
	require.NoError(t, err)

	list, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, domain.StatusConfirmed, list[0].Status)
	assert.False(t, list[0].CreatedAt.IsZero())
	assert.True(t, date(2024, 6, 1).Equal(list[0].CheckIn))
	assert.True(t, date(2024, 6, 5).Equal(list[0].CheckOut))
}

func TestClient_CreateFailure(t *testing.T) {
	c, coll, n := newClient(t, reservations.Options{})
	coll.FailInsert = errors.New("deadline exceeded")

	_, err := c.Create(context.Background(), booking(date(2024, 6, 1), date(2024, 6, 5)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStoreWrite))
	assert.Equal(t, "could not create reservation, please retry", domain.UserMessage(err))
	assert.Empty(t, n.types())
}

func TestClient_ListFailures(t *testing.T) {
	ctx := context.Background()
	c, coll, _ := newClient(t, reservations.Options{})

	coll.FailFind = errors.New("connection refused")
	_, err := c.List(ctx)
	assert.True(t, errors.Is(err, domain.ErrStoreRead))

	coll.FailFind = nil
	coll.Put("broken", record.Document{record.FieldStatus: "confirmed"})
	_, err = c.List(ctx)
	assert.True(t, errors.Is(err, domain.ErrMalformedRecord))
	assert.Equal(t, "could not load reservations", domain.UserMessage(err))
}

func TestClient_CancelTwice(t *testing.T) {
	ctx := context.Background()
	c, coll, n := newClient(t, reservations.Options{})

	id, err := c.Create(ctx, booking(date(2024, 6, 1), date(2024, 6, 5)))
	require.NoError(t, err)

	require.NoError(t, c.Cancel(ctx, id))
	doc, _ := coll.Doc(id)
	assert.Equal(t, string(domain.StatusCancelled), doc[record.FieldStatus])
	assert.NotNil(t, doc[record.FieldUpdatedAt])

	err = c.Cancel(ctx, id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAlreadyCancelled))
	assert.Equal(t, "reservation is already cancelled", domain.UserMessage(err))
	assert.Equal(t, []string{reservations.EventCreated, reservations.EventCancelled}, n.types())
}

func TestClient_CancelMissingDoesNotWrite(t *testing.T) {
	c, coll, _ := newClient(t, reservations.Options{})

	err := c.Cancel(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.Equal(t, 0, coll.Writes())
}

func TestClient_ConcurrentCancelExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newClient(t, reservations.Options{})
	id, err := c.Create(ctx, booking(date(2024, 6, 1), date(2024, 6, 5)))
	require.NoError(t, err)

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Cancel(ctx, id)
		}(i)
	}
	wg.Wait()

	var ok, already int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrAlreadyCancelled):
			already++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, already)
}

func TestClient_CancelStoreFailure(t *testing.T) {
	c, coll, _ := newClient(t, reservations.Options{})
	coll.FailCancel = errors.New("network")

	err := c.Cancel(context.Background(), "r1")
	assert.True(t, errors.Is(err, domain.ErrStoreWrite))
	assert.Equal(t, "could not cancel reservation", domain.UserMessage(err))
}

func TestClient_Update(t *testing.T) {
	ctx := context.Background()
	c, coll, n := newClient(t, reservations.Options{})
	id, err := c.Create(ctx, booking(date(2024, 6, 1), date(2024, 6, 5)))
	require.NoError(t, err)

	out := date(2024, 6, 7)
	guests := 3
	require.NoError(t, c.Update(ctx, id, domain.Patch{CheckOut: &out, NumberOfGuests: &guests}))

	doc, _ := coll.Doc(id)
	assert.Equal(t, out, doc[record.FieldCheckOut])
	assert.Equal(t, 3, doc[record.FieldNumberOfGuests])
	assert.Equal(t, "Ana Torres", doc[record.FieldGuestName])
	assert.NotNil(t, doc[record.FieldUpdatedAt])

	require.Len(t, n.events, 2)
	assert.Equal(t, []string{record.FieldCheckOut, record.FieldNumberOfGuests}, n.events[1].Fields)
}

func TestClient_UpdateRejectsStatus(t *testing.T) {
	c, coll, _ := newClient(t, reservations.Options{})
	s := domain.StatusConfirmed

	err := c.Update(context.Background(), "r1", domain.Patch{Status: &s})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	assert.Equal(t, 0, coll.Writes())
}

func TestClient_UpdateMissingPolicies(t *testing.T) {
	name := "Luis"
	patch := domain.Patch{GuestName: &name}

	t.Run("reject", func(t *testing.T) {
		c, _, _ := newClient(t, reservations.Options{UpdateMissing: reservations.RejectMissing})
		err := c.Update(context.Background(), "ghost", patch)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
	t.Run("ignore", func(t *testing.T) {
		c, coll, n := newClient(t, reservations.Options{UpdateMissing: reservations.IgnoreMissing})
		require.NoError(t, c.Update(context.Background(), "ghost", patch))
		_, ok := coll.Doc("ghost")
		assert.False(t, ok)
		assert.Empty(t, n.types())
	})
	t.Run("upsert", func(t *testing.T) {
		c, coll, _ := newClient(t, reservations.Options{UpdateMissing: reservations.UpsertMissing})
		require.NoError(t, c.Update(context.Background(), "ghost", patch))
		doc, ok := coll.Doc("ghost")
		require.True(t, ok)
		assert.Equal(t, "Luis", doc[record.FieldGuestName])
		assert.Equal(t, string(domain.StatusConfirmed), doc[record.FieldStatus])
	})
}

func TestClient_ListByDateRange(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newClient(t, reservations.Options{})

	early, err := c.Create(ctx, booking(date(2024, 6, 1), date(2024, 6, 5)))
	require.NoError(t, err)
	touching, err := c.Create(ctx, booking(date(2024, 6, 10), date(2024, 6, 12)))
	require.NoError(t, err)
	cancelled, err := c.Create(ctx, booking(date(2024, 6, 9), date(2024, 6, 11)))
	require.NoError(t, err)
	require.NoError(t, c.Cancel(ctx, cancelled))
	_, err = c.Create(ctx, booking(date(2024, 7, 1), date(2024, 7, 3)))
	require.NoError(t, err)

	got, err := c.ListByDateRange(ctx, date(2024, 6, 5), date(2024, 6, 10))
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, b := range got {
		ids = append(ids, b.ID)
	}
	assert.Equal(t, []string{early, touching}, ids)

	none, err := c.ListByDateRange(ctx, date(2025, 1, 1), date(2025, 1, 31))
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestClient_NotifierFailureDoesNotFailOperation(t *testing.T) {
	c, _, n := newClient(t, reservations.Options{})
	n.err = errors.New("broker down")

	_, err := c.Create(context.Background(), booking(date(2024, 6, 1), date(2024, 6, 5)))
	assert.NoError(t, err)
}
