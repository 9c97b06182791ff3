package store

import "errors"

var (
	ErrNotFound           = errors.New("sync record not found")
	ErrDuplicateOperation = errors.New("duplicate client operation")
	ErrConflictResolved   = errors.New("conflict already resolved")
	ErrInvalidTransition  = errors.New("invalid queue status transition")
)
