package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/hotel-reservations-admin/internal/domain"
	"github.com/robertarktes/hotel-reservations-admin/internal/observability"
	"github.com/robertarktes/hotel-reservations-admin/internal/record"
	"github.com/robertarktes/hotel-reservations-admin/internal/reservations"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ reservations.Collection = (*ReservationCollection)(nil)

type ReservationCollection struct {
	coll    *mongo.Collection
	timeout time.Duration
	logger  observability.Logger
}

func NewReservationCollection(db *mongo.Database, name string, timeout time.Duration, logger observability.Logger) *ReservationCollection {
	return &ReservationCollection{
		coll:    db.Collection(name),
		timeout: timeout,
		logger:  logger,
	}
}

func (c *ReservationCollection) EncodeTime(t time.Time) any {
	return primitive.NewDateTimeFromTime(t)
}

// Insert upserts a fresh ObjectID so createdAt can come from $currentDate in
// the same write.
func (c *ReservationCollection) Insert(ctx context.Context, doc record.Document) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	id := primitive.NewObjectID()
	_, err := c.coll.UpdateOne(
		ctx,
		bson.M{"_id": id},
		bson.M{
			"$setOnInsert": bson.M(doc),
			"$currentDate": bson.M{record.FieldCreatedAt: true},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return "", errors.Wrap(err, "upsert reservation")
	}
	return id.Hex(), nil
}

func (c *ReservationCollection) FindAll(ctx context.Context) ([]record.Raw, error) {
	return c.find(ctx, bson.M{})
}

func (c *ReservationCollection) FindByStatus(ctx context.Context, status domain.Status) ([]record.Raw, error) {
	return c.find(ctx, bson.M{record.FieldStatus: string(status)})
}

func (c *ReservationCollection) find(ctx context.Context, filter bson.M) ([]record.Raw, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cur, err := c.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "find reservations")
	}
	defer cur.Close(ctx)

	var out []record.Raw
	for cur.Next(ctx) {
		var m bson.M
		if err := cur.Decode(&m); err != nil {
			return nil, errors.Wrap(err, "decode reservation")
		}
		out = append(out, toRaw(m))
	}
	if err := cur.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate reservations")
	}
	return out, nil
}

func (c *ReservationCollection) Get(ctx context.Context, id string) (record.Document, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var m bson.M
	err := c.coll.FindOne(ctx, bson.M{"_id": docID(id)}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find reservation")
	}
	return toRaw(m).Data, nil
}

func (c *ReservationCollection) CancelIfConfirmed(ctx context.Context, id string) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.coll.UpdateOne(
		ctx,
		bson.M{"_id": docID(id), record.FieldStatus: string(domain.StatusConfirmed)},
		bson.M{
			"$set":         bson.M{record.FieldStatus: string(domain.StatusCancelled)},
			"$currentDate": bson.M{record.FieldUpdatedAt: true},
		},
	)
	if err != nil {
		return false, errors.Wrap(err, "cancel reservation")
	}
	return res.MatchedCount == 1, nil
}

func (c *ReservationCollection) Update(ctx context.Context, id string, fields record.Document, upsert bool) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var (
		res *mongo.UpdateResult
		err error
	)
	if upsert {
		res, err = c.coll.UpdateOne(ctx, bson.M{"_id": docID(id)}, upsertPipeline(fields), options.Update().SetUpsert(true))
	} else {
		update := bson.M{"$currentDate": bson.M{record.FieldUpdatedAt: true}}
		if len(fields) > 0 {
			update["$set"] = bson.M(fields)
		}
		res, err = c.coll.UpdateOne(ctx, bson.M{"_id": docID(id)}, update)
	}
	if err != nil {
		return false, errors.Wrap(err, "update reservation")
	}
	return res.MatchedCount > 0, nil
}

// upsertPipeline stamps updatedAt on every write and fills createdAt and
// status only when the document is new. Values go through $literal so user
// strings starting with '$' are not read as field paths.
func upsertPipeline(fields record.Document) mongo.Pipeline {
	set := bson.M{}
	for k, v := range fields {
		set[k] = bson.M{"$literal": v}
	}
	set[record.FieldUpdatedAt] = "$$NOW"
	set[record.FieldCreatedAt] = bson.M{"$ifNull": bson.A{"$" + record.FieldCreatedAt, "$$NOW"}}
	set[record.FieldStatus] = bson.M{"$ifNull": bson.A{"$" + record.FieldStatus, string(domain.StatusConfirmed)}}
	return mongo.Pipeline{{{Key: "$set", Value: set}}}
}

// Watch opens the change stream before the first read so no change between
// the two is lost. Each change triggers a full re-read.
func (c *ReservationCollection) Watch(ctx context.Context, deliver func([]record.Raw)) error {
	cs, err := c.coll.Watch(ctx, mongo.Pipeline{})
	if err != nil {
		return errors.Wrap(err, "open change stream")
	}
	defer cs.Close(context.Background())

	raws, err := c.FindAll(ctx)
	if err != nil {
		return err
	}
	deliver(raws)

	for cs.Next(ctx) {
		// a burst of buffered events costs a single re-read
		for cs.RemainingBatchLength() > 0 && cs.Next(ctx) {
		}
		raws, err := c.FindAll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.logger.WithField("count", len(raws)).Debug("reservations changed")
		deliver(raws)
	}
	if ctx.Err() != nil {
		return nil
	}
	return errors.Wrap(cs.Err(), "change stream")
}

func (c *ReservationCollection) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// docID maps an external id to the stored _id. Ids minted by Insert are
// ObjectIDs; anything else (upserted ids) is kept as a string.
func docID(id string) any {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

func toRaw(m bson.M) record.Raw {
	var id string
	switch v := m["_id"].(type) {
	case primitive.ObjectID:
		id = v.Hex()
	case string:
		id = v
	}
	delete(m, "_id")
	return record.Raw{ID: id, Data: record.Document(m)}
}
