package jobs

import "errors"

var (
	ErrDuplicateJob = errors.New("job already exists")
	// ErrNotFound is also returned when the job exists but belongs to another account.
	ErrNotFound      = errors.New("job not found")
	ErrInvalidInput  = errors.New("invalid job input")
	ErrInvalidStatus = errors.New("invalid terminal status")
)
