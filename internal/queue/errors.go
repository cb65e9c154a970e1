package queue

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrUnauthenticated    = fmt.Errorf("%w: not authenticated", ErrValidation)
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrCounterUnavailable = errors.New("counter unavailable")
	ErrNotFound           = errors.New("not found")
	ErrQueueEmpty         = errors.New("no waiting tokens")
	ErrUpstream           = errors.New("upstream failure")
)
