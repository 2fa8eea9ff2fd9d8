package reservations

import (
	"context"
	"time"

	"github.com/robertarktes/hotel-reservations-admin/internal/domain"
	"github.com/robertarktes/hotel-reservations-admin/internal/record"
)

// Collection is the single remote collection holding reservations. All
// timestamps it stamps come from the store's clock, never the caller's.
type Collection interface {
	// Insert stores doc under a new store-assigned id and stamps createdAt.
	Insert(ctx context.Context, doc record.Document) (string, error)
	// FindAll returns every document in arrival order.
	FindAll(ctx context.Context) ([]record.Raw, error)
	// FindByStatus is FindAll with an equality filter evaluated by the store.
	FindByStatus(ctx context.Context, status domain.Status) ([]record.Raw, error)
	// Get returns domain.ErrNotFound when id does not exist.
	Get(ctx context.Context, id string) (record.Document, error)
	// CancelIfConfirmed atomically sets status=cancelled and stamps updatedAt,
	// only if the document exists and is confirmed. It reports whether it wrote.
	CancelIfConfirmed(ctx context.Context, id string) (bool, error)
	// Update merges fields and stamps updatedAt. It reports whether id existed.
	// With upsert a missing id is created as a confirmed reservation.
	Update(ctx context.Context, id string, fields record.Document, upsert bool) (bool, error)
	// Watch delivers the full collection once, then again after every change,
	// until ctx is done or the subscription fails.
	Watch(ctx context.Context, deliver func([]record.Raw)) error
	// EncodeTime converts t to the store's native timestamp.
	EncodeTime(t time.Time) any
}

const (
	EventCreated   = "reservation.created"
	EventCancelled = "reservation.cancelled"
	EventUpdated   = "reservation.updated"
)

type Event struct {
	Type          string    `json:"type"`
	ReservationID string    `json:"reservation_id"`
	OccurredAt    time.Time `json:"occurred_at"`
	Fields        []string  `json:"fields,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}
