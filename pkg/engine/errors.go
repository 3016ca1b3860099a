package engine

import (
	"errors"
	"fmt"
)

// ErrEmptyMessage rejects a send whose text is empty after trimming. Raised
// before any network call.
var ErrEmptyMessage = errors.New("message text is empty")

// SendError reports a durable create that failed after the provisional entry
// was already visible. The rollback has been performed by the time the
// caller sees it; retrying is a caller decision.
type SendError struct {
	TempID string
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed (temp id %s): %v", e.TempID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
