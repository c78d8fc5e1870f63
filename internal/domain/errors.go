package domain

import "errors"

var (
	// ErrInvalidArgument reports malformed construction parameters.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidDate reports an unparseable date or a date outside the allowed range.
	ErrInvalidDate = errors.New("invalid date")
)
