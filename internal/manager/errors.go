package manager

// poolExhaustedError signals that no slot freed up within the acquire
// timeout, for 429 mapping.
type poolExhaustedError struct{ root string }

func (e poolExhaustedError) Error() string { return "instance pool exhausted: " + e.root }

// ErrPoolExhausted constructs a poolExhaustedError.
func ErrPoolExhausted(root string) error { return poolExhaustedError{root: root} }

// IsPoolExhausted reports whether err indicates backpressure (return 429).
func IsPoolExhausted(err error) bool {
	_, ok := err.(poolExhaustedError)
	return ok
}

// poolClosedError signals a request arriving after ShutdownAll.
type poolClosedError struct{}

func (poolClosedError) Error() string { return "instance pool is shut down" }

// IsPoolClosed reports whether err indicates the pool no longer accepts work.
func IsPoolClosed(err error) bool {
	_, ok := err.(poolClosedError)
	return ok
}
