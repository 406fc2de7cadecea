package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/questionpy-org/questionpy-server/api/types"
	"github.com/questionpy-org/questionpy-server/packages"
	"github.com/questionpy-org/questionpy-server/worker/ipc"
)

// ErrMemoryExceeded marks a handler failure caused by the memory limit.
// Question types return (or panic with) errors wrapping it so the runtime
// reports MEMORY_EXCEEDED instead of UNKNOWN.
var ErrMemoryExceeded = errors.New("memory limit exceeded")

// Runtime serves one worker's dispatch loop.
type Runtime struct {
	conn *ipc.Conn

	limits     types.WorkerResourceLimits
	workerType string

	manifest *types.Manifest
	qt       QuestionType
}

// New wraps a worker-side connection.
func New(conn *ipc.Conn) *Runtime {
	return &Runtime{conn: conn}
}

// Run performs the bootstrap exchange and serves requests until Exit or a
// channel error. The first frame must be InitWorker; anything else aborts.
func (r *Runtime) Run(ctx context.Context) error {
	first, err := r.conn.Read()
	if err != nil {
		return errors.Wrap(err, "reading bootstrap frame")
	}
	init, ok := first.(*ipc.InitWorker)
	if !ok {
		return errors.Errorf("expected InitWorker as first message, got id %d", first.MessageID())
	}
	r.limits = init.Limits
	r.workerType = init.WorkerType
	if init.WorkerType == ipc.WorkerTypeProcess {
		if err := applyMemoryLimit(init.Limits.MaxMemory); err != nil {
			return errors.Wrap(err, "applying memory limit")
		}
	}
	if err := r.conn.Write(&ipc.InitWorkerDone{}); err != nil {
		return err
	}

	for {
		msg, err := r.conn.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if _, ok := msg.(*ipc.Exit); ok {
			log.G(ctx).Debug("worker exiting on request")
			return nil
		}
		resp := r.dispatch(ctx, msg)
		if err := r.conn.Write(resp); err != nil {
			return err
		}
	}
}

// dispatch routes one request to its handler and converts handler failures
// into WorkerError frames carrying the expected response ID.
func (r *Runtime) dispatch(ctx context.Context, msg ipc.Message) (resp ipc.Message) {
	expected := msg.MessageID() + ipc.ResponseOffset
	defer func() {
		if p := recover(); p != nil {
			resp = workerError(expected, fmt.Errorf("%v", p))
		}
	}()

	var err error
	switch m := msg.(type) {
	case *ipc.LoadPackage:
		err = r.loadPackage(m)
		resp = &ipc.LoadPackageDone{}
	case *ipc.GetManifest:
		if r.manifest == nil {
			err = errors.New("no package loaded")
		} else {
			resp = &ipc.ManifestResult{Manifest: *r.manifest}
		}
	case *ipc.GetOptionsForm:
		resp, err = r.getOptionsForm(m)
	case *ipc.CreateQuestionFromOptions:
		resp, err = r.createQuestion(m)
	case *ipc.StartAttempt:
		resp, err = r.startAttempt(m)
	case *ipc.ViewAttempt:
		resp, err = r.viewAttempt(m)
	case *ipc.ScoreAttempt:
		resp, err = r.scoreAttempt(m)
	default:
		err = errors.Errorf("no handler for message id %d", msg.MessageID())
	}
	if err != nil {
		log.G(ctx).WithError(err).WithField("message_id", msg.MessageID()).Debug("handler failed")
		return workerError(expected, err)
	}
	return resp
}

func workerError(expected uint32, err error) *ipc.WorkerError {
	kind := ipc.ErrorKindUnknown
	if isMemoryExceeded(err) {
		kind = ipc.ErrorKindMemoryExceeded
	}
	return &ipc.WorkerError{
		ExpectedResponseID: expected,
		Kind:               kind,
		Message:            err.Error(),
	}
}

func isMemoryExceeded(err error) bool {
	if errors.Is(err, ErrMemoryExceeded) {
		return true
	}
	return strings.Contains(err.Error(), "cannot allocate memory") ||
		strings.Contains(err.Error(), "out of memory")
}

func (r *Runtime) loadPackage(m *ipc.LoadPackage) error {
	if err := m.Location.Validate(); err != nil {
		return err
	}
	contents, err := packages.Open(m.Location)
	if err != nil {
		return err
	}
	defer contents.Close()
	manifest, err := contents.Manifest()
	if err != nil {
		return err
	}
	r.manifest = manifest
	if !m.Main {
		return nil
	}
	entrypoint := manifest.EntrypointOrDefault()
	if m.Location.Kind == packages.LocationFunction {
		entrypoint = m.Location.Entrypoint
	}
	qt, err := resolve(entrypoint, manifest)
	if err != nil {
		return err
	}
	r.qt = qt
	return nil
}

func (r *Runtime) requireMain() (QuestionType, error) {
	if r.qt == nil {
		return nil, errors.New("no main package loaded")
	}
	return r.qt, nil
}

func (r *Runtime) getOptionsForm(m *ipc.GetOptionsForm) (ipc.Message, error) {
	qt, err := r.requireMain()
	if err != nil {
		return nil, err
	}
	definition, formData, err := qt.GetOptionsForm(m.QuestionState, m.RequestUser)
	if err != nil {
		return nil, err
	}
	if formData == nil {
		formData = json.RawMessage(`{}`)
	}
	return &ipc.OptionsFormResult{Definition: definition, FormData: formData}, nil
}

func (r *Runtime) createQuestion(m *ipc.CreateQuestionFromOptions) (ipc.Message, error) {
	qt, err := r.requireMain()
	if err != nil {
		return nil, err
	}
	created, err := qt.CreateQuestionFromOptions(m.QuestionState, m.FormData, m.RequestUser)
	if err != nil {
		return nil, err
	}
	return &ipc.QuestionCreated{QuestionCreated: *created}, nil
}

func (r *Runtime) startAttempt(m *ipc.StartAttempt) (ipc.Message, error) {
	qt, err := r.requireMain()
	if err != nil {
		return nil, err
	}
	started, err := qt.StartAttempt(m.QuestionState, m.Variant, m.RequestUser)
	if err != nil {
		return nil, err
	}
	return &ipc.AttemptStarted{AttemptStarted: *started}, nil
}

func (r *Runtime) viewAttempt(m *ipc.ViewAttempt) (ipc.Message, error) {
	qt, err := r.requireMain()
	if err != nil {
		return nil, err
	}
	model, err := qt.ViewAttempt(m.QuestionState, m.AttemptState, m.ScoringState, m.Response, m.RequestUser)
	if err != nil {
		return nil, err
	}
	return &ipc.AttemptViewed{AttemptModel: *model}, nil
}

func (r *Runtime) scoreAttempt(m *ipc.ScoreAttempt) (ipc.Message, error) {
	qt, err := r.requireMain()
	if err != nil {
		return nil, err
	}
	scored, err := qt.ScoreAttempt(m.QuestionState, m.AttemptState, m.ScoringState, m.Response, m.RequestUser)
	if err != nil {
		return nil, err
	}
	return &ipc.AttemptScored{AttemptScored: *scored}, nil
}
