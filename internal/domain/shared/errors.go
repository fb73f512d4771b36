package shared

import "errors"

// Error kinds shared by every component. Domain packages wrap these in typed errors
// so callers can match with errors.Is regardless of which component failed.
var (
	ErrNotFound      = errors.New("not found")
	ErrLimitExceeded = errors.New("credit limit exceeded")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidState  = errors.New("invalid state")
	ErrInvalidInput  = errors.New("invalid input")

	// ErrRemoteRejected is returned when the backing store refused a write. The local
	// optimistic mutation has already been rolled back when a caller sees it.
	ErrRemoteRejected = errors.New("remote store rejected the write")

	// ErrConnectivityLost only selects the offline path; it never reaches a caller.
	ErrConnectivityLost = errors.New("connectivity lost")

	// ErrPartialFailure marks a saga whose primary step applied but a later step did not.
	ErrPartialFailure = errors.New("partially applied")
)

// ErrRemote wraps a failed remote call, keeping both the kind and the cause matchable.
type ErrRemote struct {
	Op         string
	Collection string
	Err        error
}

func (e ErrRemote) Error() string {
	return "remote " + e.Op + " on " + e.Collection + " failed: " + e.Err.Error()
}

// Is matches ErrRemoteRejected
func (e ErrRemote) Is(target error) bool {
	return target == ErrRemoteRejected
}

func (e ErrRemote) Unwrap() error {
	return e.Err
}
