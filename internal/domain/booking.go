package domain

import "time"

type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	return s == StatusConfirmed || s == StatusCancelled
}

type Booking struct {
	ID             string     `json:"id"`
	GuestName      string     `json:"guestName"`
	Email          string     `json:"email"`
	Phone          string     `json:"phone"`
	RoomID         string     `json:"roomId"`
	NumberOfGuests int        `json:"numberOfGuests"`
	CheckIn        time.Time  `json:"checkIn"`
	CheckOut       time.Time  `json:"checkOut"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      *time.Time `json:"updatedAt,omitempty"`
}

// Overlaps reports whether the stay intersects [start, end], both ends inclusive.
func (b Booking) Overlaps(start, end time.Time) bool {
	return !b.CheckOut.Before(start) && !b.CheckIn.After(end)
}

// Patch is a partial booking. Nil fields are left untouched on update.
type Patch struct {
	GuestName      *string    `json:"guestName,omitempty"`
	Email          *string    `json:"email,omitempty"`
	Phone          *string    `json:"phone,omitempty"`
	RoomID         *string    `json:"roomId,omitempty"`
	NumberOfGuests *int       `json:"numberOfGuests,omitempty"`
	CheckIn        *time.Time `json:"checkIn,omitempty"`
	CheckOut       *time.Time `json:"checkOut,omitempty"`
	Status         *Status    `json:"status,omitempty"`
}

func (p Patch) Empty() bool {
	return p.GuestName == nil && p.Email == nil && p.Phone == nil && p.RoomID == nil &&
		p.NumberOfGuests == nil && p.CheckIn == nil && p.CheckOut == nil && p.Status == nil
}
