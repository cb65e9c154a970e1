package store

import "errors"

var (
	ErrTokenNotFound      = errors.New("token not found")
	ErrCounterNotFound    = errors.New("counter not found")
	ErrCounterUnavailable = errors.New("counter unavailable")
	ErrStaleState         = errors.New("token state changed")
	ErrProfileNotFound    = errors.New("profile not found")
	ErrDuplicatePhone     = errors.New("phone already registered")
	ErrStatsNotFound      = errors.New("stats not found")
)
