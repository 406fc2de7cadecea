package httpstatus

import (
	"net/http"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/questionpy-org/questionpy-server/api/types"
	"github.com/questionpy-org/questionpy-server/errdefs"
)

func TestFromError(t *testing.T) {
	base := errors.New("boom")
	for _, tc := range []struct {
		name      string
		err       error
		code      int
		errorCode types.ErrorCode
		temporary bool
	}{
		{"invalid request", errdefs.InvalidRequest(base), http.StatusBadRequest, types.ErrorCodeInvalidRequest, false},
		{"too large", errdefs.TooLarge(base), http.StatusRequestEntityTooLarge, types.ErrorCodeInvalidRequest, false},
		{"invalid package", errdefs.InvalidPackage(base), http.StatusBadRequest, types.ErrorCodeInvalidPackage, false},
		{"package failure permanent", errdefs.PackageFailure(base, false), http.StatusBadRequest, types.ErrorCodePackageError, false},
		{"package failure temporary", errdefs.PackageFailure(base, true), http.StatusBadRequest, types.ErrorCodePackageError, true},
		{"out of memory", errdefs.OutOfMemory(base), http.StatusBadRequest, types.ErrorCodeOutOfMemory, true},
		{"worker timeout", errdefs.WorkerTimeout(base), http.StatusBadRequest, types.ErrorCodeWorkerTimeout, true},
		{"queue timeout", errdefs.QueueTimeout(base), http.StatusServiceUnavailable, types.ErrorCodeQueueWaitingTimeout, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			code, body := FromError(tc.err)
			assert.Check(t, is.Equal(code, tc.code))
			reqErr, ok := body.(types.RequestError)
			assert.Assert(t, ok)
			assert.Check(t, is.Equal(reqErr.ErrorCode, tc.errorCode))
			assert.Check(t, is.Equal(reqErr.Temporary, tc.temporary))
		})
	}
}

func TestFromErrorNotFound(t *testing.T) {
	code, body := FromError(errdefs.NotFound(errors.New("gone"), errdefs.NotFoundQuestionState))
	assert.Check(t, is.Equal(code, http.StatusNotFound))
	nf, ok := body.(types.NotFoundStatus)
	assert.Assert(t, ok)
	assert.Check(t, is.Equal(nf.What, "QUESTION_STATE"))
}

// Unclassified errors surface only their type name, never the message.
func TestFromErrorOpaqueServerError(t *testing.T) {
	code, body := FromError(errors.New("contains secrets"))
	assert.Check(t, is.Equal(code, http.StatusInternalServerError))
	reqErr, ok := body.(types.RequestError)
	assert.Assert(t, ok)
	assert.Check(t, is.Equal(reqErr.ErrorCode, types.ErrorCodeServerError))
	assert.Check(t, reqErr.Temporary)
	assert.Check(t, !strings.Contains(reqErr.Reason, "secrets"))
}
