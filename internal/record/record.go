// Package record converts between raw store documents and domain bookings.
package record

import (
	"fmt"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/hotel-reservations-admin/internal/domain"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document field names as persisted in the reservations collection.
const (
	FieldGuestName      = "guestName"
	FieldEmail          = "email"
	FieldPhone          = "phone"
	FieldRoomID         = "roomId"
	FieldNumberOfGuests = "numberOfGuests"
	FieldCheckIn        = "checkIn"
	FieldCheckOut       = "checkOut"
	FieldStatus         = "status"
	FieldCreatedAt      = "createdAt"
	FieldUpdatedAt      = "updatedAt"
)

// Document is a raw stored reservation without its id.
type Document map[string]any

// TimeEncoder turns a time into the store's native timestamp value.
type TimeEncoder func(time.Time) any

// Raw pairs a document with the id the store assigned to it.
type Raw struct {
	ID   string
	Data Document
}

var now = time.Now

// Parse validates doc and builds a booking from it.
func Parse(id string, doc Document) (domain.Booking, error) {
	if id == "" {
		return domain.Booking{}, malformed("id", "missing")
	}
	b := domain.Booking{ID: id}

	var err error
	if b.CheckIn, err = requiredTime(doc, FieldCheckIn); err != nil {
		return domain.Booking{}, err
	}
	if b.CheckOut, err = requiredTime(doc, FieldCheckOut); err != nil {
		return domain.Booking{}, err
	}

	status, err := optionalString(doc, FieldStatus)
	if err != nil {
		return domain.Booking{}, err
	}
	b.Status = domain.Status(status)
	if status == "" {
		return domain.Booking{}, malformed(FieldStatus, "missing")
	}
	if !b.Status.Valid() {
		return domain.Booking{}, malformed(FieldStatus, "unknown value %q", status)
	}

	for field, dst := range map[string]*string{
		FieldGuestName: &b.GuestName,
		FieldEmail:     &b.Email,
		FieldPhone:     &b.Phone,
		FieldRoomID:    &b.RoomID,
	} {
		if *dst, err = optionalString(doc, field); err != nil {
			return domain.Booking{}, err
		}
	}

	if v, ok := doc[FieldNumberOfGuests]; ok && v != nil {
		n, ok := toInt(v)
		if !ok {
			return domain.Booking{}, malformed(FieldNumberOfGuests, "not an integer: %T", v)
		}
		b.NumberOfGuests = n
	}

	// A missing createdAt reads as now, matching how the admin view has always
	// rendered documents whose server timestamp has not landed yet.
	created, ok, err := optionalTime(doc, FieldCreatedAt)
	if err != nil {
		return domain.Booking{}, err
	}
	if !ok {
		created = now()
	}
	b.CreatedAt = created

	updated, ok, err := optionalTime(doc, FieldUpdatedAt)
	if err != nil {
		return domain.Booking{}, err
	}
	if ok {
		b.UpdatedAt = &updated
	}
	return b, nil
}

// ParseAll parses every raw document, stopping at the first malformed one.
func ParseAll(raws []Raw) ([]domain.Booking, error) {
	out := make([]domain.Booking, 0, len(raws))
	for _, r := range raws {
		b, err := Parse(r.ID, r.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// FromBooking encodes every field of b except the id and the server-stamped
// timestamps.
func FromBooking(b domain.Booking, enc TimeEncoder) Document {
	return Document{
		FieldGuestName:      b.GuestName,
		FieldEmail:          b.Email,
		FieldPhone:          b.Phone,
		FieldRoomID:         b.RoomID,
		FieldNumberOfGuests: b.NumberOfGuests,
		FieldCheckIn:        enc(b.CheckIn),
		FieldCheckOut:       enc(b.CheckOut),
		FieldStatus:         string(b.Status),
	}
}

// FromPatch encodes only the fields present in p.
func FromPatch(p domain.Patch, enc TimeEncoder) Document {
	doc := Document{}
	setString(doc, FieldGuestName, p.GuestName)
	setString(doc, FieldEmail, p.Email)
	setString(doc, FieldPhone, p.Phone)
	setString(doc, FieldRoomID, p.RoomID)
	if p.NumberOfGuests != nil {
		doc[FieldNumberOfGuests] = *p.NumberOfGuests
	}
	if p.CheckIn != nil {
		doc[FieldCheckIn] = enc(*p.CheckIn)
	}
	if p.CheckOut != nil {
		doc[FieldCheckOut] = enc(*p.CheckOut)
	}
	if p.Status != nil {
		doc[FieldStatus] = string(*p.Status)
	}
	return doc
}

func setString(doc Document, field string, v *string) {
	if v != nil {
		doc[field] = *v
	}
}

func requiredTime(doc Document, field string) (time.Time, error) {
	t, ok, err := optionalTime(doc, field)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, malformed(field, "missing")
	}
	return t, nil
}

func optionalTime(doc Document, field string) (time.Time, bool, error) {
	v, ok := doc[field]
	if !ok || v == nil {
		return time.Time{}, false, nil
	}
	t, ok := toTime(v)
	if !ok {
		return time.Time{}, false, malformed(field, "not a timestamp: %T", v)
	}
	return t, true, nil
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case primitive.DateTime:
		return t.Time(), true
	case primitive.Timestamp:
		return time.Unix(int64(t.T), 0), true
	}
	return time.Time{}, false
}

func optionalString(doc Document, field string) (string, error) {
	v, ok := doc[field]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", malformed(field, "not a string: %T", v)
	}
	return s, nil
}

// toInt accepts integral values within the int32 range, whatever numeric
// type the driver decoded them into.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return toInt(int64(n))
	case int32:
		return int(n), true
	case int64:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
			return 0, false
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

func malformed(field, format string, args ...any) error {
	return errors.Wrapf(domain.ErrMalformedRecord, "field %s: %s", field, fmt.Sprintf(format, args...))
}
