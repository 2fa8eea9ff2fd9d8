package domain

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func day(d int) time.Time { return time.Date(2024, 6, d, 0, 0, 0, 0, time.UTC) }

func TestBooking_Overlaps(t *testing.T) {
	b := Booking{CheckIn: day(10), CheckOut: day(15)}

	assert.True(t, b.Overlaps(day(1), day(10)), "end touches check-in")
	assert.True(t, b.Overlaps(day(15), day(20)), "start touches check-out")
	assert.True(t, b.Overlaps(day(11), day(12)), "range inside stay")
	assert.True(t, b.Overlaps(day(1), day(30)), "stay inside range")
	assert.False(t, b.Overlaps(day(1), day(9)))
	assert.False(t, b.Overlaps(day(16), day(20)))
}

func TestUserMessage(t *testing.T) {
	err := Fail(errors.New("connection reset by peer"), ErrStoreWrite, "could not create reservation, please retry")
	wrapped := errors.Wrap(err, "create")

	assert.True(t, errors.Is(wrapped, ErrStoreWrite))
	assert.Equal(t, "could not create reservation, please retry", UserMessage(wrapped))
	assert.Equal(t, defaultUserMessage, UserMessage(errors.New("boom")))
	assert.Empty(t, UserMessage(nil))
}
