package radar

import "errors"

// ErrInvalidInput is returned when a rule or query fails validation.
var ErrInvalidInput = errors.New("radar: invalid input")

// ErrNotFound is returned when a run, rule, or cluster does not exist.
var ErrNotFound = errors.New("radar: not found")
