// Package errdefs defines the error classes shared by the worker, package and
// HTTP layers. Errors are classified by behaviour through marker interfaces,
// so callers can wrap freely with github.com/pkg/errors without losing the
// class. The HTTP layer maps each class to a status code and RequestError
// body in exactly one place (api/server/httpstatus).
package errdefs

// ErrInvalidRequest is signalled when the request body, parts or parameters
// fail validation before any work is attempted.
type ErrInvalidRequest interface {
	InvalidRequest()
}

// ErrInvalidPackage is signalled when a package itself is at fault: a bad
// manifest, a static-file size mismatch, or question state its code cannot
// read.
type ErrInvalidPackage interface {
	InvalidPackage()
}

// ErrPackageFailure is signalled when code inside a package raised an
// unhandled error while serving a request.
type ErrPackageFailure interface {
	PackageFailure()
}

// ErrOutOfMemory is signalled when a worker exceeded its memory limit.
type ErrOutOfMemory interface {
	OutOfMemory()
}

// ErrWorkerTimeout is signalled when a worker exceeded its CPU-time or
// real-time limit and was killed.
type ErrWorkerTimeout interface {
	WorkerTimeout()
}

// ErrQueueTimeout is signalled when a request waited too long for a worker
// slot or for pool memory.
type ErrQueueTimeout interface {
	QueueTimeout()
}

// ErrTooLarge is signalled when a request part exceeds its byte cap.
type ErrTooLarge interface {
	TooLarge()
}

// ErrNotFound is signalled when a referenced resource does not exist.
// What() names the missing resource kind for the 404 body.
type ErrNotFound interface {
	NotFound()
	What() string
}

// ErrTemporary reports whether retrying the same request may succeed.
// Classes without this interface are treated as permanent.
type ErrTemporary interface {
	Temporary() bool
}

// Resource kinds reported by ErrNotFound.What.
const (
	NotFoundPackage       = "PACKAGE"
	NotFoundQuestionState = "QUESTION_STATE"
)
