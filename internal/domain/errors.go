package domain

import "github.com/cockroachdb/errors"

var (
	ErrStoreRead        = errors.New("store read failed")
	ErrStoreWrite       = errors.New("store write failed")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyCancelled = errors.New("already cancelled")
	ErrMalformedRecord  = errors.New("malformed record")
	ErrInvalidInput     = errors.New("invalid input")
	// ErrCancelInProgress means another cancel of the same reservation holds
	// the busy mark. The outcome of that cancel is not known yet.
	ErrCancelInProgress = errors.New("cancel in progress")
)

const defaultUserMessage = "something went wrong, please retry"

// Fail marks err with one of the sentinels above and attaches msg as the
// user-facing hint. The original error stays in the chain for logging.
func Fail(err error, mark error, msg string) error {
	return errors.WithHint(errors.Mark(err, mark), msg)
}

// UserMessage returns the message meant for end users. Internal detail is
// never included.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	hints := errors.GetAllHints(err)
	if len(hints) == 0 {
		return defaultUserMessage
	}
	return hints[len(hints)-1]
}
