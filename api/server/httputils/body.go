package httputils

import (
	"bytes"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/questionpy-org/questionpy-server/api/types"
	"github.com/questionpy-org/questionpy-server/errdefs"
	"github.com/questionpy-org/questionpy-server/packages"
)

// Part names recognized in multipart bodies. Anything else is skipped.
const (
	partMain          = "main"
	partPackage       = "package"
	partQuestionState = "question_state"
)

// UploadedPackage is a package archive sent with the request, hashed while it
// was read.
type UploadedPackage struct {
	Hash packages.Hash
	Data []byte
}

// Body is the decomposed request body. Main is the JSON envelope; a plain
// application/json body is all main. QuestionState distinguishes absent from
// empty via HasQuestionState.
type Body struct {
	Main             []byte
	Package          *UploadedPackage
	QuestionState    []byte
	HasQuestionState bool
}

// readCapped reads r fully, failing once the part exceeds max bytes.
func readCapped(r io.Reader, max int64, what string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, errdefs.InvalidRequest(errors.Wrapf(err, "reading %s", what))
	}
	if int64(len(data)) > max {
		return nil, errdefs.TooLarge(errors.Errorf("%s exceeds the limit of %d bytes", what, max))
	}
	return data, nil
}

// ParseBody splits the request into its parts, applying a byte cap to each:
// main and question_state have fixed caps, the package cap is configured.
func ParseBody(r *http.Request, maxPackageSize int64) (*Body, error) {
	contentType := r.Header.Get("Content-Type")
	switch {
	case matchesContentType(contentType, "application/json"):
		main, err := readCapped(r.Body, types.MaxMainSize, partMain)
		if err != nil {
			return nil, err
		}
		return &Body{Main: main}, nil
	case matchesContentType(contentType, "multipart/form-data"):
		return parseMultipart(r, maxPackageSize)
	default:
		return nil, errdefs.InvalidRequest(errors.Errorf("unsupported content type %q", contentType))
	}
}

func parseMultipart(r *http.Request, maxPackageSize int64) (*Body, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, errdefs.InvalidRequest(errors.Wrap(err, "invalid multipart body"))
	}

	body := &Body{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return body, nil
		}
		if err != nil {
			return nil, errdefs.InvalidRequest(errors.Wrap(err, "reading multipart body"))
		}

		switch part.FormName() {
		case partMain:
			body.Main, err = readCapped(part, types.MaxMainSize, partMain)
		case partPackage:
			body.Package, err = readPackagePart(part, maxPackageSize)
		case partQuestionState:
			body.QuestionState, err = readCapped(part, types.MaxQuestionStateSize, partQuestionState)
			body.HasQuestionState = err == nil
		default:
			_, err = io.Copy(io.Discard, part)
		}
		part.Close()
		if err != nil {
			return nil, err
		}
	}
}

// readPackagePart buffers the archive and computes its hash in the same pass.
func readPackagePart(r io.Reader, max int64) (*UploadedPackage, error) {
	hasher := packages.NewHasher()
	var buf bytes.Buffer
	n, err := io.Copy(io.MultiWriter(&buf, hasher.Writer()), io.LimitReader(r, max+1))
	if err != nil {
		return nil, errdefs.InvalidRequest(errors.Wrap(err, "reading package"))
	}
	if n > max {
		return nil, errdefs.TooLarge(errors.Errorf("package exceeds the limit of %d bytes", max))
	}
	return &UploadedPackage{Hash: hasher.Sum(), Data: buf.Bytes()}, nil
}
