package service

// Result is the outcome of a service operation: either a value, tagged with
// whether it was served from the cache, or an error.
type Result[T any] struct {
	value     T
	fromCache bool
	err       error
}

func success[T any](value T, fromCache bool) Result[T] {
	return Result[T]{value: value, fromCache: fromCache}
}

func failure[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// Failed returns the error and true if the operation failed.
func (r Result[T]) Failed() (error, bool) {
	return r.err, r.err != nil
}

// Value returns the result value. It is the zero value when the operation
// failed.
func (r Result[T]) Value() T {
	return r.value
}

// FromCache reports whether the value was served from the cache.
func (r Result[T]) FromCache() bool {
	return r.fromCache
}
