package auth

import "errors"

// Authorization outcomes. They travel inside Result, never as panics.
var (
	ErrInvalidCode       = errors.New("invalid access code")
	ErrCodeAlreadyUsed   = errors.New("access code already used")
	ErrDeviceProbeFailed = errors.New("device not verified")
)
