// Package reminder implements the deferred reminder dispatch pipeline.
//
// Three cooperating pieces sit on top of the store and the task queue:
//
//   - Lifecycle translates reminder create/update/delete into queue
//     submissions. The trigger task key is a function of the reminder id
//     alone, so resubmitting on reschedule always supersedes the previous
//     schedule instead of arming a second one.
//   - Executor is the handler behind trigger tasks. It re-reads current
//     state, discards orphaned/duplicate/superseded deliveries, and flips
//     the triggered flag through the store's conditional update — the only
//     linearization point in the pipeline.
//   - Dispatcher formats notify payloads and submits them under keys that
//     are unique per submission instant, because each one is a distinct
//     historical event and must never supersede an earlier one.
//
// A cron-driven reconciler re-submits trigger tasks that were lost to
// queue unavailability at CRUD time.
package reminder
