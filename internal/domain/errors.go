package domain

import "errors"

// ErrInvalidJob is returned when an enqueue request cannot form a valid job.
var ErrInvalidJob = errors.New("invalid job")
