package parallel

import "context"

// MapChannel consumes a stream of input items from in, applies fn with
// bounded parallelism, and returns the run's future. Intake stops when in is
// closed or ctx is done.
//
// Unlike Map, MapChannel does not block: consume the future with Await. The
// input channel is drained lazily under the parallelism bound, so a slow run
// exerts backpressure on the producer through the channel itself.
func MapChannel[T, R any](
	ctx context.Context,
	in <-chan T,
	fn func(ctx context.Context, v T) (R, error),
	opts ...Option,
) *Future[R] {
	return Execute[T, R](ctx, FromChannel(in), fn, opts...)
}
