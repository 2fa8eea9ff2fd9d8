package reservations

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/hotel-reservations-admin/internal/domain"
	"github.com/robertarktes/hotel-reservations-admin/internal/observability"
	"github.com/robertarktes/hotel-reservations-admin/internal/record"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	msgCreate           = "could not create reservation, please retry"
	msgList             = "could not load reservations"
	msgRange            = "could not load reservations for the date range"
	msgCancel           = "could not cancel reservation"
	msgUpdate           = "could not update reservation"
	msgNotFound         = "reservation does not exist"
	msgAlreadyCancelled = "reservation is already cancelled"
	msgStatusViaUpdate  = "status can only be changed by cancelling the reservation"
)

type MissingPolicy string

const (
	RejectMissing MissingPolicy = "reject"
	IgnoreMissing MissingPolicy = "ignore"
	UpsertMissing MissingPolicy = "upsert"
)

type Options struct {
	UpdateMissing MissingPolicy
}

type Client struct {
	coll     Collection
	notifier Notifier
	logger   observability.Logger
	opts     Options
}

// NewClient builds a client over coll. notifier may be nil.
func NewClient(coll Collection, notifier Notifier, logger observability.Logger, opts Options) *Client {
	if opts.UpdateMissing == "" {
		opts.UpdateMissing = RejectMissing
	}
	return &Client{coll: coll, notifier: notifier, logger: logger, opts: opts}
}

// Create stores b as a new confirmed reservation and returns its id. Any
// status set by the caller is ignored.
func (c *Client) Create(ctx context.Context, b domain.Booking) (id string, err error) {
	ctx, done := c.observe(ctx, "create")
	defer done(&err)

	b.Status = domain.StatusConfirmed
	id, err = c.coll.Insert(ctx, record.FromBooking(b, c.coll.EncodeTime))
	if err != nil {
		c.logger.WithError(err).WithField("op", "create").Error("failed to create reservation")
		return "", domain.Fail(errors.Wrap(err, "insert reservation"), domain.ErrStoreWrite, msgCreate)
	}
	c.logger.WithField("reservation_id", id).Info("reservation created")
	c.notify(ctx, EventCreated, id, nil)
	return id, nil
}

func (c *Client) List(ctx context.Context) (out []domain.Booking, err error) {
	ctx, done := c.observe(ctx, "list")
	defer done(&err)

	raws, err := c.coll.FindAll(ctx)
	if err != nil {
		c.logger.WithError(err).WithField("op", "list").Error("failed to list reservations")
		return nil, domain.Fail(errors.Wrap(err, "find reservations"), domain.ErrStoreRead, msgList)
	}
	out, err = record.ParseAll(raws)
	if err != nil {
		c.logger.WithError(err).WithField("op", "list").Error("malformed reservation")
		return nil, errors.WithHint(err, msgList)
	}
	return out, nil
}

// Cancel moves a confirmed reservation to cancelled in one conditional
// write. When nothing was written a single read tells a missing reservation
// apart from one that is already cancelled.
func (c *Client) Cancel(ctx context.Context, id string) (err error) {
	ctx, done := c.observe(ctx, "cancel")
	defer done(&err)
	log := c.logger.WithField("op", "cancel").WithField("reservation_id", id)

	ok, err := c.coll.CancelIfConfirmed(ctx, id)
	if err != nil {
		log.WithError(err).Error("failed to cancel reservation")
		return domain.Fail(errors.Wrap(err, "cancel reservation"), domain.ErrStoreWrite, msgCancel)
	}
	if ok {
		log.Info("reservation cancelled")
		c.notify(ctx, EventCancelled, id, nil)
		return nil
	}

	doc, err := c.coll.Get(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		log.Warn("cancel of unknown reservation")
		return errors.WithHint(errors.Wrapf(err, "reservation %s", id), msgNotFound)
	case err != nil:
		log.WithError(err).Error("failed to read reservation after cancel miss")
		return domain.Fail(errors.Wrap(err, "get reservation"), domain.ErrStoreRead, msgCancel)
	}
	if s, _ := doc[record.FieldStatus].(string); domain.Status(s) == domain.StatusCancelled {
		log.Warn("reservation already cancelled")
		return errors.WithHint(errors.Wrapf(domain.ErrAlreadyCancelled, "reservation %s", id), msgAlreadyCancelled)
	}
	log.Error("reservation has an unexpected status")
	return errors.WithHint(errors.Wrapf(domain.ErrMalformedRecord, "reservation %s: status %v", id, doc[record.FieldStatus]), msgCancel)
}

// Update merges the fields present in p into the reservation. A missing id
// is handled according to Options.UpdateMissing.
func (c *Client) Update(ctx context.Context, id string, p domain.Patch) (err error) {
	ctx, done := c.observe(ctx, "update")
	defer done(&err)
	log := c.logger.WithField("op", "update").WithField("reservation_id", id)

	if p.Status != nil {
		return errors.WithHint(errors.Wrap(domain.ErrInvalidInput, "status in patch"), msgStatusViaUpdate)
	}

	fields := record.FromPatch(p, c.coll.EncodeTime)
	matched, err := c.coll.Update(ctx, id, fields, c.opts.UpdateMissing == UpsertMissing)
	if err != nil {
		log.WithError(err).Error("failed to update reservation")
		return domain.Fail(errors.Wrap(err, "update reservation"), domain.ErrStoreWrite, msgUpdate)
	}
	if !matched && c.opts.UpdateMissing == RejectMissing {
		log.Warn("update of unknown reservation")
		return errors.WithHint(errors.Wrapf(domain.ErrNotFound, "reservation %s", id), msgNotFound)
	}
	if !matched && c.opts.UpdateMissing == IgnoreMissing {
		log.Warn("update of unknown reservation ignored")
		return nil
	}

	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	c.notify(ctx, EventUpdated, id, names)
	return nil
}

// ListByDateRange returns confirmed reservations whose stay overlaps
// [start, end], both ends inclusive. The status filter runs in the store.
func (c *Client) ListByDateRange(ctx context.Context, start, end time.Time) (out []domain.Booking, err error) {
	ctx, done := c.observe(ctx, "list_by_date_range")
	defer done(&err)

	raws, err := c.coll.FindByStatus(ctx, domain.StatusConfirmed)
	if err != nil {
		c.logger.WithError(err).WithField("op", "list_by_date_range").Error("failed to list reservations")
		return nil, domain.Fail(errors.Wrap(err, "find confirmed reservations"), domain.ErrStoreRead, msgRange)
	}
	all, err := record.ParseAll(raws)
	if err != nil {
		c.logger.WithError(err).WithField("op", "list_by_date_range").Error("malformed reservation")
		return nil, errors.WithHint(err, msgRange)
	}

	out = make([]domain.Booking, 0, len(all))
	for _, b := range all {
		if b.Status == domain.StatusConfirmed && b.Overlaps(start, end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (c *Client) notify(ctx context.Context, typ, id string, fields []string) {
	if c.notifier == nil {
		return
	}
	ev := Event{Type: typ, ReservationID: id, OccurredAt: time.Now().UTC(), Fields: fields}
	if err := c.notifier.Notify(ctx, ev); err != nil {
		observability.EventPublishFailures.Inc()
		c.logger.WithError(err).WithField("event", typ).WithField("reservation_id", id).Warn("failed to publish reservation event")
	}
}

var tracer = otel.Tracer("reservations")

func (c *Client) observe(ctx context.Context, op string) (context.Context, func(*error)) {
	ctx, span := tracer.Start(ctx, "reservations."+op)
	span.SetAttributes(attribute.String("reservations.op", op))
	start := time.Now()
	return ctx, func(errp *error) {
		observability.StoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if err := *errp; err != nil {
			observability.StoreOpErrors.WithLabelValues(op, errorKind(err)).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, domain.UserMessage(err))
		}
		span.End()
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrAlreadyCancelled):
		return "already_cancelled"
	case errors.Is(err, domain.ErrMalformedRecord):
		return "malformed_record"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, domain.ErrStoreWrite):
		return "store_write"
	case errors.Is(err, domain.ErrStoreRead):
		return "store_read"
	}
	return "other"
}
