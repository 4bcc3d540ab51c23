// Package parallel executes a user callback over a sequence of inputs with a
// bounded number of invocations in flight, aggregating results and errors
// without losing either.
//
// Entry points
//   - Execute(ctx, source, fn, opts...): run fn over every value the source
//     yields, keeping up to WithParallel(n) invocations running concurrently.
//   - ExecuteWithInit(ctx, setup, fn, teardown, opts...): same, with a
//     setup-produced value threaded into every callback and into teardown.
//
// Both return a *Future carrying the aggregated *Results. The future is
// completable exactly once and exposes Abort for cooperative cancellation:
// running callbacks finish, no new ones start.
//
// Sources
// A source is built with FromSlice, FromChannel, FromIterator, or FromFunc.
// All shapes are normalized to a pull iterator before scheduling begins, so
// lazy and asynchronous producers (for example a buffer.Polling fed by a
// runner pool) drive the executor the same way a slice does.
//
// Defaults
// Unless overridden, a run uses:
//   - parallel: 1
//   - continue on error: true (WithStopOnError disables)
//   - store results: true (WithDiscardResults disables)
//   - fail the future on errors: true (WithErrorsCollected disables)
//   - retained errors: unbounded (WithMaxErrors caps)
//
// Error policy
// A callback error is collected into Results.Errors. A callback that returns
// an error matching ErrAbort instead marks the run aborted and is counted
// neither as fulfilled nor as failed. When errors were collected and the
// throw-on-error default is in effect, Await returns an *ExecutionError
// wrapping the results; otherwise Await returns the results with Errors
// populated.
//
// The subpackages buffer and pool provide a bounded FIFO with asynchronous
// push/pop and an auto-scaling runner pool; buffer.Polling composes the two
// into a backpressured, pool-fed source.
package parallel
