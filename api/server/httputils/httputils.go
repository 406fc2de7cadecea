package httputils

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"

	"github.com/pkg/errors"

	"github.com/questionpy-org/questionpy-server/errdefs"
)

// APIFunc is the signature of every route handler. Errors bubble up to the
// error middleware, which owns status codes and error bodies.
type APIFunc func(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error

// WriteJSON writes v as the response body with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// ReadJSON decodes the request body into v, rejecting trailing garbage.
func ReadJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return errdefs.InvalidRequest(errors.Wrap(err, "invalid JSON"))
	}
	if dec.More() {
		return errdefs.InvalidRequest(errors.New("unexpected content after JSON body"))
	}
	return nil
}

func matchesContentType(contentType, expectedType string) bool {
	mimetype, _, err := mime.ParseMediaType(contentType)
	return err == nil && mimetype == expectedType
}
