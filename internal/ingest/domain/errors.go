package domain

import (
	"errors"
	"strings"
)

var (
	ErrInvalidSender  = errors.New("invalid_sender")
	ErrInvalidOptions = errors.New("invalid_options")
)

// ValidationError rejects a submission. It carries every accumulated message
// and the id of the rejection action that recorded them.
type ValidationError struct {
	ActionID int64
	Errors   []string
	Warnings []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Errors) == 0 {
		return "validation_error"
	}
	return "validation_error: " + strings.Join(e.Errors, "; ")
}
