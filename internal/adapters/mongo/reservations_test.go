package mongo_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/hotel-reservations-admin/internal/adapters/mongo"
	"github.com/robertarktes/hotel-reservations-admin/internal/domain"
	"github.com/robertarktes/hotel-reservations-admin/internal/feed"
	"github.com/robertarktes/hotel-reservations-admin/internal/observability"
	"github.com/robertarktes/hotel-reservations-admin/internal/record"
	"github.com/robertarktes/hotel-reservations-admin/internal/reservations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// startMongo runs a single node replica set; change streams need one.
func startMongo(t *testing.T) *mongodriver.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			Cmd:          []string{"--replSet", "rs0", "--bind_ip_all"},
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(context.Background()) })

	code, _, err := container.Exec(ctx, []string{"mongosh", "--quiet", "--eval",
		"rs.initiate({_id: 'rs0', members: [{_id: 0, host: 'localhost:27017'}]})"})
	require.NoError(t, err)
	require.Equal(t, 0, code)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)

	client, err := mongodriver.Connect(ctx, options.Client().
		ApplyURI("mongodb://"+host+":"+port.Port()+"/?directConnection=true"))
	require.NoError(t, err)
	t.Cleanup(func() { client.Disconnect(context.Background()) })

	require.Eventually(t, func() bool {
		return client.Ping(ctx, readpref.Primary()) == nil
	}, 30*time.Second, 250*time.Millisecond)

	return client.Database("hotel_test")
}

func newStore(t *testing.T, db *mongodriver.Database, policy reservations.MissingPolicy) (*reservations.Client, *mongo.ReservationCollection) {
	logger := observability.NewNopLogger()
	coll := mongo.NewReservationCollection(db, "reservations_"+strings.ReplaceAll(t.Name(), "/", "_"), 5*time.Second, logger)
	return reservations.NewClient(coll, nil, logger, reservations.Options{UpdateMissing: policy}), coll
}

func day(d int) time.Time { return time.Date(2024, 6, d, 0, 0, 0, 0, time.UTC) }

func booking(in, out time.Time) domain.Booking {
	return domain.Booking{
		GuestName: "Ana Torres", Email: "ana@example.com", Phone: "600000000",
		RoomID: "101", NumberOfGuests: 2, CheckIn: in, CheckOut: out,
		Status: domain.StatusCancelled,
	}
}

func TestReservationCollection_Lifecycle(t *testing.T) {
	db := startMongo(t)
	ctx := context.Background()

	t.Run("create then list", func(t *testing.T) {
		client, _ := newStore(t, db, reservations.RejectMissing)
		id, err := client.Create(ctx, booking(day(1), day(5)))
		require.NoError(t, err)

		list, err := client.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		got := list[0]
		assert.Equal(t, id, got.ID)
		assert.Equal(t, domain.StatusConfirmed, got.Status)
		assert.False(t, got.CreatedAt.IsZero())
		assert.Nil(t, got.UpdatedAt)
		assert.True(t, day(1).Equal(got.CheckIn))
		assert.True(t, day(5).Equal(got.CheckOut))
		assert.Equal(t, 2, got.NumberOfGuests)
	})

	t.Run("cancel", func(t *testing.T) {
		client, coll := newStore(t, db, reservations.RejectMissing)
		id, err := client.Create(ctx, booking(day(1), day(5)))
		require.NoError(t, err)

		require.NoError(t, client.Cancel(ctx, id))
		assert.True(t, errors.Is(client.Cancel(ctx, id), domain.ErrAlreadyCancelled))
		assert.True(t, errors.Is(client.Cancel(ctx, "6650f1f1f1f1f1f1f1f1f1f1"), domain.ErrNotFound))

		doc, err := coll.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "cancelled", doc[record.FieldStatus])
		assert.NotNil(t, doc[record.FieldUpdatedAt])
	})

	t.Run("concurrent cancel", func(t *testing.T) {
		client, _ := newStore(t, db, reservations.RejectMissing)
		id, err := client.Create(ctx, booking(day(1), day(5)))
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make([]error, 5)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = client.Cancel(ctx, id)
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
			} else {
				assert.True(t, errors.Is(err, domain.ErrAlreadyCancelled))
			}
		}
		assert.Equal(t, 1, succeeded)
	})

	t.Run("update", func(t *testing.T) {
		client, _ := newStore(t, db, reservations.RejectMissing)
		id, err := client.Create(ctx, booking(day(1), day(5)))
		require.NoError(t, err)

		out := day(8)
		name := "$not a field path"
		require.NoError(t, client.Update(ctx, id, domain.Patch{CheckOut: &out, GuestName: &name}))
		assert.True(t, errors.Is(client.Update(ctx, "ghost", domain.Patch{GuestName: &name}), domain.ErrNotFound))

		list, err := client.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.True(t, out.Equal(list[0].CheckOut))
		assert.Equal(t, name, list[0].GuestName)
		assert.NotNil(t, list[0].UpdatedAt)
	})

	t.Run("update upsert", func(t *testing.T) {
		client, _ := newStore(t, db, reservations.UpsertMissing)
		in, out, name := day(2), day(4), "$literal guest"
		require.NoError(t, client.Update(ctx, "walk-in-1", domain.Patch{CheckIn: &in, CheckOut: &out, GuestName: &name}))

		list, err := client.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "walk-in-1", list[0].ID)
		assert.Equal(t, name, list[0].GuestName)
		assert.Equal(t, domain.StatusConfirmed, list[0].Status)
	})

	t.Run("date range", func(t *testing.T) {
		client, _ := newStore(t, db, reservations.RejectMissing)
		a, err := client.Create(ctx, booking(day(1), day(5)))
		require.NoError(t, err)
		c, err := client.Create(ctx, booking(day(3), day(6)))
		require.NoError(t, err)
		require.NoError(t, client.Cancel(ctx, c))
		_, err = client.Create(ctx, booking(day(20), day(22)))
		require.NoError(t, err)

		got, err := client.ListByDateRange(ctx, day(5), day(10))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, a, got[0].ID)
	})
}

func TestReservationCollection_LiveFeed(t *testing.T) {
	db := startMongo(t)
	ctx := context.Background()
	client, coll := newStore(t, db, reservations.RejectMissing)

	b1, err := client.Create(ctx, booking(day(1), day(5)))
	require.NoError(t, err)
	_, err = client.Create(ctx, booking(day(2), day(6)))
	require.NoError(t, err)

	f := feed.New(coll, observability.NewNopLogger())
	f.Activate(ctx)
	defer f.Deactivate()

	require.Eventually(t, func() bool {
		s := f.State()
		return s.Phase() == feed.Ready && len(s.Reservations) == 2
	}, 10*time.Second, 50*time.Millisecond)

	require.NoError(t, client.Cancel(ctx, b1))
	require.Eventually(t, func() bool {
		s := f.State()
		return len(s.Reservations) == 2 && s.Reservations[0].Status == domain.StatusCancelled
	}, 10*time.Second, 50*time.Millisecond)
	assert.Equal(t, domain.StatusConfirmed, f.State().Reservations[1].Status)
}
