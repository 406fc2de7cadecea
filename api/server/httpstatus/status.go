package httpstatus

import (
	"fmt"
	"net/http"

	"github.com/questionpy-org/questionpy-server/api/types"
	"github.com/questionpy-org/questionpy-server/errdefs"
)

// FromError translates a handler error into a status code and a response
// body. Handlers never format error bodies themselves.
func FromError(err error) (int, interface{}) {
	switch {
	case errdefs.IsNotFound(err):
		return http.StatusNotFound, types.NotFoundStatus{What: errdefs.NotFoundWhat(err)}
	case errdefs.IsTooLarge(err):
		return http.StatusRequestEntityTooLarge, requestError(types.ErrorCodeInvalidRequest, err)
	case errdefs.IsInvalidRequest(err):
		return http.StatusBadRequest, requestError(types.ErrorCodeInvalidRequest, err)
	case errdefs.IsInvalidPackage(err):
		return http.StatusBadRequest, requestError(types.ErrorCodeInvalidPackage, err)
	case errdefs.IsOutOfMemory(err):
		return http.StatusBadRequest, requestError(types.ErrorCodeOutOfMemory, err)
	case errdefs.IsWorkerTimeout(err):
		return http.StatusBadRequest, requestError(types.ErrorCodeWorkerTimeout, err)
	case errdefs.IsPackageFailure(err):
		return http.StatusBadRequest, requestError(types.ErrorCodePackageError, err)
	case errdefs.IsQueueTimeout(err):
		return http.StatusServiceUnavailable, requestError(types.ErrorCodeQueueWaitingTimeout, err)
	default:
		// Unclassified errors stay opaque: the class name is the whole
		// reason the host gets to see.
		return http.StatusInternalServerError, types.RequestError{
			ErrorCode: types.ErrorCodeServerError,
			Temporary: true,
			Reason:    fmt.Sprintf("%T", err),
		}
	}
}

func requestError(code types.ErrorCode, err error) types.RequestError {
	return types.RequestError{
		ErrorCode: code,
		Temporary: errdefs.IsTemporary(err),
		Reason:    err.Error(),
	}
}
