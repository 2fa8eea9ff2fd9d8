package firestore

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/cockroachdb/errors"
	"github.com/robertarktes/hotel-reservations-admin/internal/domain"
	"github.com/robertarktes/hotel-reservations-admin/internal/observability"
	"github.com/robertarktes/hotel-reservations-admin/internal/record"
	"github.com/robertarktes/hotel-reservations-admin/internal/reservations"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ reservations.Collection = (*ReservationCollection)(nil)

type ReservationCollection struct {
	client  *firestore.Client
	name    string
	timeout time.Duration
	logger  observability.Logger
}

func NewReservationCollection(client *firestore.Client, name string, timeout time.Duration, logger observability.Logger) *ReservationCollection {
	return &ReservationCollection{client: client, name: name, timeout: timeout, logger: logger}
}

func (c *ReservationCollection) col() *firestore.CollectionRef {
	return c.client.Collection(c.name)
}

// EncodeTime returns t unchanged: the Go client stores time.Time as a
// Firestore timestamp.
func (c *ReservationCollection) EncodeTime(t time.Time) any {
	return t
}

func (c *ReservationCollection) Insert(ctx context.Context, doc record.Document) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	data := map[string]interface{}(copyDoc(doc))
	data[record.FieldCreatedAt] = firestore.ServerTimestamp

	ref := c.col().NewDoc()
	if _, err := ref.Create(ctx, data); err != nil {
		return "", errors.Wrap(err, "create reservation")
	}
	return ref.ID, nil
}

func (c *ReservationCollection) FindAll(ctx context.Context) ([]record.Raw, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	snaps, err := c.col().Documents(ctx).GetAll()
	if err != nil {
		return nil, errors.Wrap(err, "list reservations")
	}
	sortByCreatedAt(snaps)
	return toRaws(snaps), nil
}

// FindByStatus sorts locally like FindAll; ordering by createdAt in the query
// would need a composite index.
func (c *ReservationCollection) FindByStatus(ctx context.Context, s domain.Status) ([]record.Raw, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	snaps, err := c.col().Where(record.FieldStatus, "==", string(s)).Documents(ctx).GetAll()
	if err != nil {
		return nil, errors.Wrap(err, "query reservations by status")
	}
	sortByCreatedAt(snaps)
	return toRaws(snaps), nil
}

func (c *ReservationCollection) Get(ctx context.Context, id string) (record.Document, error) {
	if id == "" {
		return nil, domain.ErrNotFound
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	snap, err := c.col().Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get reservation")
	}
	return record.Document(snap.Data()), nil
}

func (c *ReservationCollection) CancelIfConfirmed(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	ref := c.col().Doc(id)
	var cancelled bool
	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		cancelled = false
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if snap.Data()[record.FieldStatus] != string(domain.StatusConfirmed) {
			return nil
		}
		cancelled = true
		return tx.Update(ref, []firestore.Update{
			{Path: record.FieldStatus, Value: string(domain.StatusCancelled)},
			{Path: record.FieldUpdatedAt, Value: firestore.ServerTimestamp},
		})
	})
	if err != nil {
		return false, errors.Wrap(err, "cancel reservation")
	}
	return cancelled, nil
}

func (c *ReservationCollection) Update(ctx context.Context, id string, fields record.Document, upsert bool) (bool, error) {
	if id == "" {
		return false, nil
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	ref := c.col().Doc(id)
	var matched bool
	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		matched = false
		_, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			if !upsert {
				return nil
			}
			data := map[string]interface{}(copyDoc(fields))
			data[record.FieldStatus] = string(domain.StatusConfirmed)
			data[record.FieldCreatedAt] = firestore.ServerTimestamp
			data[record.FieldUpdatedAt] = firestore.ServerTimestamp
			return tx.Create(ref, data)
		case err != nil:
			return err
		}
		matched = true
		updates := make([]firestore.Update, 0, len(fields)+1)
		for k, v := range fields {
			updates = append(updates, firestore.Update{Path: k, Value: v})
		}
		updates = append(updates, firestore.Update{Path: record.FieldUpdatedAt, Value: firestore.ServerTimestamp})
		return tx.Update(ref, updates)
	})
	if err != nil {
		return false, errors.Wrap(err, "update reservation")
	}
	return matched, nil
}

// Watch relies on Firestore query snapshots, which always carry the full
// result set. The query is the bare collection: an orderBy would hide
// documents without createdAt.
func (c *ReservationCollection) Watch(ctx context.Context, deliver func([]record.Raw)) error {
	it := c.col().Snapshots(ctx)
	defer it.Stop()

	for {
		qs, err := it.Next()
		if err != nil {
			if ctx.Err() != nil || status.Code(err) == codes.Canceled {
				return nil
			}
			return errors.Wrap(err, "query snapshots")
		}
		snaps, err := qs.Documents.GetAll()
		if err != nil {
			return errors.Wrap(err, "read snapshot")
		}
		sortByCreatedAt(snaps)
		c.logger.WithField("count", len(snaps)).Debug("reservations snapshot")
		deliver(toRaws(snaps))
	}
}

func (c *ReservationCollection) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func toRaws(snaps []*firestore.DocumentSnapshot) []record.Raw {
	out := make([]record.Raw, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, record.Raw{ID: s.Ref.ID, Data: record.Document(s.Data())})
	}
	return out
}

// sortByCreatedAt orders snapshots by arrival. Documents without a createdAt
// timestamp go last, in the order the store returned them.
func sortByCreatedAt(snaps []*firestore.DocumentSnapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		ti, iok := createdAt(snaps[i])
		tj, jok := createdAt(snaps[j])
		if iok != jok {
			return iok
		}
		return iok && ti.Before(tj)
	})
}

func createdAt(s *firestore.DocumentSnapshot) (time.Time, bool) {
	t, ok := s.Data()[record.FieldCreatedAt].(time.Time)
	return t, ok
}

func copyDoc(d record.Document) record.Document {
	out := make(record.Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
