package till

import (
	"strconv"

	"github.com/till-ledger/internal/domain/shared"
)

// ErrSessionNotFound indicates a missing session
type ErrSessionNotFound struct {
	ID int64
}

func (e ErrSessionNotFound) Error() string {
	return "cash session not found: " + strconv.FormatInt(e.ID, 10)
}

func (e ErrSessionNotFound) Is(target error) bool {
	return target == shared.ErrNotFound
}

// ErrSessionClosed is returned for any mutation of a closed session
type ErrSessionClosed struct {
	ID int64
}

func (e ErrSessionClosed) Error() string {
	return "cash session " + strconv.FormatInt(e.ID, 10) + " is closed"
}

func (e ErrSessionClosed) Is(target error) bool {
	return target == shared.ErrInvalidState
}

// ErrSessionAlreadyOpen is returned when opening a second session for a date
type ErrSessionAlreadyOpen struct {
	Date string
	ID   int64
}

func (e ErrSessionAlreadyOpen) Error() string {
	return "session " + strconv.FormatInt(e.ID, 10) + " is already open for " + e.Date
}

func (e ErrSessionAlreadyOpen) Is(target error) bool {
	return target == shared.ErrInvalidState
}

// ErrOutflowExceedsAvailable rejects a till-out larger than the cash in the drawer
type ErrOutflowExceedsAvailable struct {
	SessionID int64
	Requested int64
	Available int64
}

func (e ErrOutflowExceedsAvailable) Error() string {
	return "outflow of " + shared.FormatAmount(e.Requested) + " exceeds available cash " +
		shared.FormatAmount(e.Available) + " in session " + strconv.FormatInt(e.SessionID, 10)
}

func (e ErrOutflowExceedsAvailable) Is(target error) bool {
	return target == shared.ErrInvalidAmount
}

// ErrNoOpenSession indicates that no session is open for a date
type ErrNoOpenSession struct {
	Date string
}

func (e ErrNoOpenSession) Error() string {
	return "no open cash session for " + e.Date
}

func (e ErrNoOpenSession) Is(target error) bool {
	return target == shared.ErrNotFound
}
