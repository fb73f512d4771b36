package entity

import (
	"strconv"

	"github.com/till-ledger/internal/domain/shared"
)

// ErrRecordNotFound indicates a record absent from both the local view and the remote store
type ErrRecordNotFound struct {
	Collection string
	ID         int64
}

func (e ErrRecordNotFound) Error() string {
	return e.Collection + " record not found: " + strconv.FormatInt(e.ID, 10)
}

func (e ErrRecordNotFound) Is(target error) bool {
	return target == shared.ErrNotFound
}

// ErrSchema is returned when a record or patch does not fit the collection schema
type ErrSchema struct {
	Collection string
	Reason     string
}

func (e ErrSchema) Error() string {
	return "invalid " + e.Collection + " record: " + e.Reason
}

func (e ErrSchema) Is(target error) bool {
	return target == shared.ErrInvalidInput
}
