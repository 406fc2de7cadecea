package worker

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/questionpy-org/questionpy-server/api/types"
	"github.com/questionpy-org/questionpy-server/errdefs"
	"github.com/questionpy-org/questionpy-server/packages"
	"github.com/questionpy-org/questionpy-server/worker/ipc"
	"github.com/questionpy-org/questionpy-server/worker/runtime"
)

// InProcessWorker runs the worker runtime on a goroutine of the server
// process, exchanging frames over in-memory pipes. It exists for tests and
// debugging; it enforces neither memory nor time limits.
type InProcessWorker struct {
	link

	location packages.Location
	limits   types.WorkerResourceLimits
	manifest *types.Manifest

	sendMu sync.Mutex

	pipes    []io.Closer
	recvFail chan error
	runDone  chan error
	done     chan struct{}
}

// NewInProcessFactory returns a Factory producing in-process workers.
func NewInProcessFactory() Factory {
	return func(location packages.Location, limits types.WorkerResourceLimits) Worker {
		return &InProcessWorker{
			location: location,
			limits:   limits,
			recvFail: make(chan error, 1),
			runDone:  make(chan error, 1),
			done:     make(chan struct{}),
		}
	}
}

func (w *InProcessWorker) Start(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			w.Kill()
			var se *StartError
			if !errors.As(err, &se) {
				err = newStartError(err, errdefs.IsTemporary(err))
			}
		}
	}()

	if err := validateLocation(w.location); err != nil {
		return err
	}

	serverR, workerW := io.Pipe()
	workerR, serverW := io.Pipe()
	w.pipes = []io.Closer{serverR, workerW, workerR, serverW}
	w.conn = ipc.NewServerConn(serverR, serverW)
	workerConn := ipc.NewWorkerConn(workerR, workerW)

	go func() { w.runDone <- runtime.New(workerConn).Run(context.Background()) }()
	go w.link.receiveLoop(w.recvFail)
	go w.observe()

	if _, err := w.exchange(ctx, &ipc.InitWorker{Limits: w.limits, WorkerType: ipc.WorkerTypeThread}, ipc.IDInitWorkerDone, initTimeout); err != nil {
		return errors.Wrap(err, "worker bootstrap")
	}
	if _, err := w.exchange(ctx, &ipc.LoadPackage{Location: w.location, Main: true}, ipc.IDLoadPackageDone, loadTimeout); err != nil {
		return errors.Wrap(err, "loading package")
	}
	resp, err := w.exchange(ctx, &ipc.GetManifest{}, ipc.IDManifestResult, loadTimeout)
	if err != nil {
		return errors.Wrap(err, "fetching manifest")
	}
	w.manifest = &resp.(*ipc.ManifestResult).Manifest
	w.setState(Idle)
	return nil
}

func (w *InProcessWorker) observe() {
	var cause error
	select {
	case err := <-w.recvFail:
		cause = errors.Wrap(err, "worker channel failed")
	case err := <-w.runDone:
		if err == nil {
			cause = errors.Wrap(ErrNotRunning, "worker exited")
		} else {
			cause = errors.Wrap(err, "worker runtime failed")
		}
	}
	w.Kill()
	w.link.failAll(cause)
	close(w.done)
}

func (w *InProcessWorker) exchange(ctx context.Context, msg ipc.Message, expectID uint32, timeout time.Duration) (ipc.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return w.link.call(ctx, msg, expectID, nil, w.Kill)
}

// Send performs one exchange. In-process workers have no limit enforcer;
// the timeout only bounds the wait through the context.
func (w *InProcessWorker) Send(ctx context.Context, msg ipc.Message, expectID uint32, timeout time.Duration) (ipc.Message, error) {
	w.sendMu.Lock()
	defer w.sendMu.Unlock()

	if w.State() != Idle {
		return nil, ErrNotRunning
	}
	if timeout == 0 {
		timeout = w.limits.MaxCPUTimePerCall()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, types.RealTimeFactor*timeout)
		defer cancel()
	}
	return w.link.call(ctx, msg, expectID, nil, w.Kill)
}

func (w *InProcessWorker) Manifest() *types.Manifest { return w.manifest }

func (w *InProcessWorker) Stop(ctx context.Context, grace time.Duration) error {
	if w.conn == nil {
		return nil
	}
	if w.State() == Idle {
		if err := w.conn.Write(&ipc.Exit{}); err == nil {
			select {
			case <-w.done:
				return nil
			case <-time.After(grace):
			case <-ctx.Done():
			}
		}
	}
	w.Kill()
	<-w.done
	return nil
}

// Kill tears down the in-memory pipes, which unblocks both loops.
func (w *InProcessWorker) Kill() {
	for _, c := range w.pipes {
		_ = c.Close()
	}
}
