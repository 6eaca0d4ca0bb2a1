package taskqueue

import "errors"

var (
	// ErrUnavailable means the durable queue could not accept a submission.
	// CRUD callers log it and carry on; the reconciliation sweep re-submits
	// missing trigger tasks later.
	ErrUnavailable = errors.New("task queue unavailable")

	ErrStopped   = errors.New("task queue stopped")
	ErrNoHandler = errors.New("no handler registered for task kind")
)
