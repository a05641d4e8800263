package backend

// Result is the outcome of a backend lookup: either data, or the reason the
// backend could not supply it. Callers that only read Data on success cannot
// mistake an outage for an empty answer.
type Result[T any] struct {
	data   T
	reason string
	ok     bool
}

// Ok wraps data from a successful lookup.
func Ok[T any](data T) Result[T] {
	return Result[T]{data: data, ok: true}
}

// Unavailable records a failed lookup.
func Unavailable[T any](reason string) Result[T] {
	if reason == "" {
		reason = "unavailable"
	}
	return Result[T]{reason: reason}
}

// IsOk reports whether the lookup succeeded.
func (r Result[T]) IsOk() bool {
	return r.ok
}

// Data returns the data and true on success, or the zero value and false.
func (r Result[T]) Data() (T, bool) {
	return r.data, r.ok
}

// Reason returns why the lookup failed, or "" on success.
func (r Result[T]) Reason() string {
	if r.ok {
		return ""
	}
	return r.reason
}

// OrZero returns the data on success and the zero value otherwise.
func (r Result[T]) OrZero() T {
	if r.ok {
		return r.data
	}
	var zero T
	return zero
}
