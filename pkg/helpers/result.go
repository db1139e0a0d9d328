package helpers

// Result carries either a value or the error that prevented producing it.
// Streams hand these out over channels so the consumer sees values and the
// terminal failure in the order the producer emitted them.
type Result[T any] struct {
	value T
	err   error
}

func NewValueResult[T any](value T) Result[T] {
	return Result[T]{value: value}
}

func NewErrorResult[T any](err error) Result[T] {
	return Result[T]{err: err}
}

func (r Result[T]) Value() (T, error) {
	return r.value, r.err
}

func (r Result[T]) Error() error {
	return r.err
}

func (r Result[T]) Ok() bool {
	return r.err == nil
}

func (r Result[T]) ValueOr(v T) T {
	if r.err != nil {
		return v
	}
	return r.value
}

// Drain reads c until it is closed and returns the last value seen.
// The first error aborts the drain; values received after it are discarded.
func Drain[T any](c <-chan Result[T]) (T, error) {
	var last T
	for r := range c {
		v, err := r.Value()
		if err != nil {
			var zero T
			// keep the producer unblocked
			go func() {
				for range c {
				}
			}()
			return zero, err
		}
		last = v
	}
	return last, nil
}
