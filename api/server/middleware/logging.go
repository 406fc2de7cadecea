package middleware

import (
	"context"
	"net/http"

	"github.com/containerd/log"
	"github.com/google/uuid"

	"github.com/questionpy-org/questionpy-server/api/server/httputils"
)

// RequestIDMiddleware stamps every request with an ID and puts a scoped
// logger into the context, so everything down to the worker exchange logs
// under the same field.
func RequestIDMiddleware(handler httputils.APIFunc) httputils.APIFunc {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
		requestID := uuid.New().String()
		logger := log.G(ctx).WithFields(log.Fields{
			"request_id": requestID,
			"method":     r.Method,
			"uri":        r.RequestURI,
		})
		ctx = log.WithLogger(ctx, logger)
		logger.Debug("handling request")
		return handler(ctx, w, r, vars)
	}
}
