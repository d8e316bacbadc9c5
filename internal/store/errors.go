package store

import "errors"

var (
	ErrConflict            = errors.New("conflict")
	ErrNotFound            = errors.New("not found")
	ErrIdempotencyConflict = errors.New("idempotency key conflict")
	ErrAlreadyCancelled    = errors.New("booking already cancelled")
	ErrPackageExhausted    = errors.New("package session exhausted or expired")
)
