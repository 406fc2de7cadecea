package packages

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/questionpy-org/questionpy-server/api/server/httputils"
	"github.com/questionpy-org/questionpy-server/errdefs"
	"github.com/questionpy-org/questionpy-server/packages"
	"github.com/questionpy-org/questionpy-server/worker"
	"github.com/questionpy-org/questionpy-server/worker/ipc"
)

// parseMain decodes the main body part into the handler's envelope type.
func parseMain[T any](body *httputils.Body) (*T, error) {
	if body.Main == nil {
		return nil, errdefs.InvalidRequest(errors.New("missing main body part"))
	}
	var v T
	if err := json.Unmarshal(body.Main, &v); err != nil {
		return nil, errdefs.InvalidRequest(errors.Wrap(err, "invalid main body part"))
	}
	return &v, nil
}

// requireQuestionState enforces the parts where the state must pre-exist on
// the host side, so its absence is a not-found rather than a bad request.
func requireQuestionState(body *httputils.Body) (json.RawMessage, error) {
	if !body.HasQuestionState {
		return nil, errdefs.NotFound(errors.New("request carries no question state"), errdefs.NotFoundQuestionState)
	}
	return body.QuestionState, nil
}

// resolvePackage finds the archive behind the request. The URI hash is
// authoritative: a body part disagreeing with it is rejected before any
// worker is spawned. An unknown hash falls back to the body part, which is
// the upload path.
func (pr *packagesRouter) resolvePackage(ctx context.Context, vars map[string]string, body *httputils.Body) (packages.Location, error) {
	hash, err := packages.ParseHash(vars["hash"])
	if err != nil {
		return packages.Location{}, errdefs.InvalidRequest(err)
	}

	if body.Package != nil && body.Package.Hash != hash {
		return packages.Location{}, errdefs.InvalidPackage(errors.Errorf(
			"uploaded package hashes to %s, not the %s the URI names", body.Package.Hash, hash))
	}

	loc, err := pr.backend.PackageLocation(ctx, hash)
	if err == nil {
		return loc, nil
	}
	if !errdefs.IsNotFound(err) || body.Package == nil {
		return packages.Location{}, err
	}

	if !pr.backend.AllowLMSPackages() {
		return packages.Location{}, errdefs.InvalidRequest(errors.New("package uploads are disabled"))
	}
	if _, err := pr.backend.StorePackage(ctx, body.Package.Hash, body.Package.Data); err != nil {
		return packages.Location{}, err
	}
	return pr.backend.PackageLocation(ctx, hash)
}

// exchange runs one request/response pair against a fresh worker loaded with
// the package at loc.
func (pr *packagesRouter) exchange(ctx context.Context, loc packages.Location, req ipc.Message, expect uint32) (ipc.Message, error) {
	var resp ipc.Message
	err := pr.backend.WithWorker(ctx, loc, func(ctx context.Context, w worker.Worker) error {
		var err error
		resp, err = w.Send(ctx, req, expect, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// parseBody reads and caps the request body parts.
func (pr *packagesRouter) parseBody(r *http.Request) (*httputils.Body, error) {
	return httputils.ParseBody(r, pr.backend.MaxPackageSize())
}
