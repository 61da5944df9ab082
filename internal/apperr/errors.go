package apperr

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidTrigger = errors.New("invalid trigger")
	ErrNotReady       = errors.New("not ready")
	ErrClosed         = errors.New("closed")
)
