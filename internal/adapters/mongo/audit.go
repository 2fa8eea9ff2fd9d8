package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/hotel-reservations-admin/internal/observability"
	"github.com/robertarktes/hotel-reservations-admin/internal/reservations"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("reservation_audit"),
		logger: logger,
	}
}

type AuditLog struct {
	ID            primitive.ObjectID `bson:"_id"`
	MessageID     string             `bson:"message_id"`
	Action        string             `bson:"action"`
	ReservationID string             `bson:"reservation_id"`
	Fields        []string           `bson:"fields,omitempty"`
	OccurredAt    time.Time          `bson:"occurred_at"`
	RecordedAt    time.Time          `bson:"recorded_at"`
}

// LogEvent stores one reservation event. Redelivered messages with the same
// message id are stored once.
func (a *AuditLogger) LogEvent(ctx context.Context, messageID string, ev reservations.Event) error {
	entry := AuditLog{
		ID:            primitive.NewObjectID(),
		MessageID:     messageID,
		Action:        ev.Type,
		ReservationID: ev.ReservationID,
		Fields:        ev.Fields,
		OccurredAt:    ev.OccurredAt,
		RecordedAt:    time.Now().UTC(),
	}
	_, err := a.coll.UpdateOne(
		ctx,
		bson.M{"message_id": messageID},
		bson.M{"$setOnInsert": entry},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		a.logger.WithError(err).WithField("reservation_id", ev.ReservationID).Error("failed to insert audit log")
		return errors.Wrap(err, "insert audit log")
	}
	return nil
}

func (a *AuditLogger) History(ctx context.Context, reservationID string) ([]AuditLog, error) {
	cur, err := a.coll.Find(ctx,
		bson.M{"reservation_id": reservationID},
		options.Find().SetSort(bson.D{{Key: "occurred_at", Value: 1}}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "find audit logs")
	}
	var out []AuditLog
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode audit logs")
	}
	return out, nil
}
