// Package taskqueue implements the durable keyed work queue that carries
// memenote's deferred side effects.
//
// # Model
//
// A task is (kind, key, payload, optional run-at). Submitting a task whose
// (kind, key) already has a pending row replaces that row and bumps its
// generation: the prior schedule is superseded, never duplicated. This is
// what makes a reminder's trigger key (a function of its id alone) safe to
// resubmit on every reschedule.
//
// Kinds with no run-at are due immediately. A poller claims due rows under
// a lease and hands them to a worker pool; the handler registered for the
// row's kind runs with a per-attempt timeout and bounded retries, and the
// row is consumed when the handler returns. A crash between claim and
// consume re-delivers the row after the lease expires, so handlers must be
// idempotent (at-least-once delivery).
//
// # Lifecycle
//
// The Service can be started and stopped repeatedly; Submit and Cancel work
// while stopped (rows persist and are picked up on the next start).
package taskqueue
