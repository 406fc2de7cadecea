package errdefs

import "errors"

func classOf[T any](err error) (T, bool) {
	var target T
	for {
		if t, ok := err.(T); ok {
			return t, true
		}
		if err = errors.Unwrap(err); err == nil {
			return target, false
		}
	}
}

// IsInvalidRequest reports whether err carries the invalid-request class.
func IsInvalidRequest(err error) bool {
	_, ok := classOf[ErrInvalidRequest](err)
	return ok
}

// IsInvalidPackage reports whether err carries the invalid-package class.
func IsInvalidPackage(err error) bool {
	_, ok := classOf[ErrInvalidPackage](err)
	return ok
}

// IsPackageFailure reports whether err carries the package-failure class.
func IsPackageFailure(err error) bool {
	_, ok := classOf[ErrPackageFailure](err)
	return ok
}

// IsOutOfMemory reports whether err carries the out-of-memory class.
func IsOutOfMemory(err error) bool {
	_, ok := classOf[ErrOutOfMemory](err)
	return ok
}

// IsWorkerTimeout reports whether err carries the worker-timeout class.
func IsWorkerTimeout(err error) bool {
	_, ok := classOf[ErrWorkerTimeout](err)
	return ok
}

// IsQueueTimeout reports whether err carries the queue-timeout class.
func IsQueueTimeout(err error) bool {
	_, ok := classOf[ErrQueueTimeout](err)
	return ok
}

// IsTooLarge reports whether err carries the too-large class.
func IsTooLarge(err error) bool {
	_, ok := classOf[ErrTooLarge](err)
	return ok
}

// IsNotFound reports whether err carries the not-found class.
func IsNotFound(err error) bool {
	_, ok := classOf[ErrNotFound](err)
	return ok
}

// NotFoundWhat returns the missing resource kind of a not-found error, or
// the empty string if err is not one.
func NotFoundWhat(err error) string {
	if nf, ok := classOf[ErrNotFound](err); ok {
		return nf.What()
	}
	return ""
}

// IsTemporary reports whether retrying may succeed. Unclassified errors are
// temporary: they are server faults, not verdicts about the request.
func IsTemporary(err error) bool {
	if t, ok := classOf[ErrTemporary](err); ok {
		return t.Temporary()
	}
	switch {
	case IsInvalidRequest(err), IsInvalidPackage(err), IsTooLarge(err), IsNotFound(err):
		return false
	}
	return true
}
