package errdefs

type errInvalidRequest struct{ error }

func (errInvalidRequest) InvalidRequest() {}

func (e errInvalidRequest) Unwrap() error { return e.error }

// InvalidRequest classifies err as an invalid request.
func InvalidRequest(err error) error {
	if err == nil || IsInvalidRequest(err) {
		return err
	}
	return errInvalidRequest{err}
}

type errInvalidPackage struct{ error }

func (errInvalidPackage) InvalidPackage() {}

func (e errInvalidPackage) Unwrap() error { return e.error }

// InvalidPackage classifies err as a fault of the package itself.
func InvalidPackage(err error) error {
	if err == nil || IsInvalidPackage(err) {
		return err
	}
	return errInvalidPackage{err}
}

type errPackageFailure struct {
	error
	temporary bool
}

func (errPackageFailure) PackageFailure() {}

func (e errPackageFailure) Temporary() bool { return e.temporary }

func (e errPackageFailure) Unwrap() error { return e.error }

// PackageFailure classifies err as an unhandled error inside package code.
// The temporary bit is carried from the worker that reported it.
func PackageFailure(err error, temporary bool) error {
	if err == nil || IsPackageFailure(err) {
		return err
	}
	return errPackageFailure{err, temporary}
}

type errOutOfMemory struct{ error }

func (errOutOfMemory) OutOfMemory() {}

func (errOutOfMemory) Temporary() bool { return true }

func (e errOutOfMemory) Unwrap() error { return e.error }

// OutOfMemory classifies err as a worker memory-limit violation.
func OutOfMemory(err error) error {
	if err == nil || IsOutOfMemory(err) {
		return err
	}
	return errOutOfMemory{err}
}

type errWorkerTimeout struct{ error }

func (errWorkerTimeout) WorkerTimeout() {}

func (errWorkerTimeout) Temporary() bool { return true }

func (e errWorkerTimeout) Unwrap() error { return e.error }

// WorkerTimeout classifies err as a worker time-limit violation.
func WorkerTimeout(err error) error {
	if err == nil || IsWorkerTimeout(err) {
		return err
	}
	return errWorkerTimeout{err}
}

type errQueueTimeout struct{ error }

func (errQueueTimeout) QueueTimeout() {}

func (errQueueTimeout) Temporary() bool { return true }

func (e errQueueTimeout) Unwrap() error { return e.error }

// QueueTimeout classifies err as a timeout while waiting for pool capacity.
func QueueTimeout(err error) error {
	if err == nil || IsQueueTimeout(err) {
		return err
	}
	return errQueueTimeout{err}
}

type errTooLarge struct{ error }

func (errTooLarge) TooLarge() {}

func (e errTooLarge) Unwrap() error { return e.error }

// TooLarge classifies err as a request part exceeding its byte cap.
func TooLarge(err error) error {
	if err == nil || IsTooLarge(err) {
		return err
	}
	return errTooLarge{err}
}

type errNotFound struct {
	error
	what string
}

func (errNotFound) NotFound() {}

func (e errNotFound) What() string { return e.what }

func (e errNotFound) Unwrap() error { return e.error }

// NotFound classifies err as a missing resource of the given kind
// (NotFoundPackage or NotFoundQuestionState).
func NotFound(err error, what string) error {
	if err == nil || IsNotFound(err) {
		return err
	}
	return errNotFound{err, what}
}

type errServer struct{ error }

func (errServer) Temporary() bool { return true }

func (e errServer) Unwrap() error { return e.error }

// Server classifies err as an internal server fault, always temporary.
// Any error without another class is treated the same way by the HTTP
// layer, so this is only needed to stop a more specific class from being
// attached further up.
func Server(err error) error {
	if err == nil {
		return err
	}
	return errServer{err}
}
