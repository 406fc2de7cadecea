package packages

import (
	"context"
	"net/http"
	"os"

	"github.com/pkg/errors"

	"github.com/questionpy-org/questionpy-server/api/server/httputils"
	"github.com/questionpy-org/questionpy-server/api/types"
	"github.com/questionpy-org/questionpy-server/errdefs"
	"github.com/questionpy-org/questionpy-server/packages"
	"github.com/questionpy-org/questionpy-server/worker/ipc"
)

func (pr *packagesRouter) getPackages(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	return httputils.WriteJSON(w, http.StatusOK, pr.backend.ListPackages())
}

func (pr *packagesRouter) getPackage(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	hash, err := packages.ParseHash(vars["hash"])
	if err != nil {
		return errdefs.InvalidRequest(err)
	}
	pkg, err := pr.backend.LookupPackage(hash)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, pkg.Info())
}

// postExtractInfo returns the manifest of an uploaded archive without
// indexing it. The archive only exists as a temporary file for the lifetime
// of one worker.
func (pr *packagesRouter) postExtractInfo(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	body, err := pr.parseBody(r)
	if err != nil {
		return err
	}
	if body.Package == nil {
		return errdefs.InvalidRequest(errors.New("missing package body part"))
	}

	tmp, err := os.CreateTemp("", "qpy-extract-*"+packages.PackageExt)
	if err != nil {
		return errors.Wrap(err, "staging uploaded package")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(body.Package.Data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "staging uploaded package")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "staging uploaded package")
	}

	resp, err := pr.exchange(ctx, packages.ZipLocation(tmp.Name()), &ipc.GetManifest{}, ipc.IDManifestResult)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusCreated, types.PackageVersionInfo{
		Hash:     string(body.Package.Hash),
		Manifest: resp.(*ipc.ManifestResult).Manifest,
	})
}

func (pr *packagesRouter) postOptions(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	body, err := pr.parseBody(r)
	if err != nil {
		return err
	}
	main, err := parseMain[types.RequestBaseData](body)
	if err != nil {
		return err
	}
	loc, err := pr.resolvePackage(ctx, vars, body)
	if err != nil {
		return err
	}

	resp, err := pr.exchange(ctx, loc, &ipc.GetOptionsForm{
		QuestionState: body.QuestionState,
		RequestUser:   main.RequestUser,
	}, ipc.IDOptionsFormResult)
	if err != nil {
		return err
	}
	result := resp.(*ipc.OptionsFormResult)
	return httputils.WriteJSON(w, http.StatusOK, types.QuestionEditFormResponse{
		Definition: result.Definition,
		FormData:   result.FormData,
	})
}

func (pr *packagesRouter) postQuestion(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	body, err := pr.parseBody(r)
	if err != nil {
		return err
	}
	main, err := parseMain[types.QuestionCreateArguments](body)
	if err != nil {
		return err
	}
	loc, err := pr.resolvePackage(ctx, vars, body)
	if err != nil {
		return err
	}

	resp, err := pr.exchange(ctx, loc, &ipc.CreateQuestionFromOptions{
		QuestionState: body.QuestionState,
		FormData:      main.FormData,
		RequestUser:   main.RequestUser,
	}, ipc.IDQuestionCreated)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, resp.(*ipc.QuestionCreated).QuestionCreated)
}

func (pr *packagesRouter) postAttemptStart(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	body, err := pr.parseBody(r)
	if err != nil {
		return err
	}
	main, err := parseMain[types.AttemptStartArguments](body)
	if err != nil {
		return err
	}
	questionState, err := requireQuestionState(body)
	if err != nil {
		return err
	}
	loc, err := pr.resolvePackage(ctx, vars, body)
	if err != nil {
		return err
	}

	resp, err := pr.exchange(ctx, loc, &ipc.StartAttempt{
		QuestionState: questionState,
		Variant:       main.Variant,
		RequestUser:   main.RequestUser,
	}, ipc.IDAttemptStarted)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusCreated, resp.(*ipc.AttemptStarted).AttemptStarted)
}

func (pr *packagesRouter) postAttemptView(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	body, err := pr.parseBody(r)
	if err != nil {
		return err
	}
	main, err := parseMain[types.AttemptViewArguments](body)
	if err != nil {
		return err
	}
	questionState, err := requireQuestionState(body)
	if err != nil {
		return err
	}
	loc, err := pr.resolvePackage(ctx, vars, body)
	if err != nil {
		return err
	}

	resp, err := pr.exchange(ctx, loc, &ipc.ViewAttempt{
		QuestionState: questionState,
		AttemptState:  main.AttemptState,
		ScoringState:  main.ScoringState,
		Response:      main.Response,
		RequestUser:   main.RequestUser,
	}, ipc.IDAttemptViewed)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusCreated, resp.(*ipc.AttemptViewed).AttemptModel)
}

func (pr *packagesRouter) postAttemptScore(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	body, err := pr.parseBody(r)
	if err != nil {
		return err
	}
	main, err := parseMain[types.AttemptScoreArguments](body)
	if err != nil {
		return err
	}
	questionState, err := requireQuestionState(body)
	if err != nil {
		return err
	}
	loc, err := pr.resolvePackage(ctx, vars, body)
	if err != nil {
		return err
	}

	resp, err := pr.exchange(ctx, loc, &ipc.ScoreAttempt{
		QuestionState: questionState,
		AttemptState:  main.AttemptState,
		ScoringState:  main.ScoringState,
		Response:      main.Response,
		RequestUser:   main.RequestUser,
	}, ipc.IDAttemptScored)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusCreated, resp.(*ipc.AttemptScored).AttemptScored)
}

// postStaticFile serves a file from the package's static inventory. The hash
// in the URL doubles as the cache key, so responses are immutable for a year.
func (pr *packagesRouter) postStaticFile(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	body := &httputils.Body{}
	if r.ContentLength != 0 {
		var err error
		if body, err = pr.parseBody(r); err != nil {
			return err
		}
	}
	loc, err := pr.resolvePackage(ctx, vars, body)
	if err != nil {
		return err
	}

	contents, err := packages.Open(loc)
	if err != nil {
		return err
	}
	defer contents.Close()
	manifest, err := contents.Manifest()
	if err != nil {
		return err
	}
	if manifest.Namespace != vars["namespace"] || manifest.ShortName != vars["shortname"] {
		return errdefs.NotFound(errors.Errorf(
			"package is %s, not %s.%s", manifest.Identifier(), vars["namespace"], vars["shortname"]), errdefs.NotFoundPackage)
	}

	name := vars["path"]
	static, ok := manifest.StaticFiles[name]
	if !ok {
		return errdefs.NotFound(errors.Errorf("package declares no static file %s", name), errdefs.NotFoundPackage)
	}
	data, err := contents.ReadStaticFile(name, static.Size)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", static.MimeType)
	w.Header().Set("Cache-Control", "public, immutable, max-age=31536000")
	_, err = w.Write(data)
	return err
}
