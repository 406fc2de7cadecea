package worker

import (
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/containerd/log"
	"github.com/moby/sys/reexec"
	"github.com/pkg/errors"

	"github.com/questionpy-org/questionpy-server/api/types"
	"github.com/questionpy-org/questionpy-server/errdefs"
	"github.com/questionpy-org/questionpy-server/packages"
	"github.com/questionpy-org/questionpy-server/worker/ipc"
)

// ProcessName is the reexec name the worker half of the binary registers
// itself under.
const ProcessName = "questionpy-worker"

const (
	initTimeout = 2 * time.Second
	loadTimeout = 4 * time.Second

	// minEnforcerSleep keeps the enforcer from busy-polling when a limit
	// is almost used up.
	minEnforcerSleep = 50 * time.Millisecond
)

// Limit-violation causes carried inside worker-timeout errors.
var (
	ErrCPUTimeExceeded  = errors.New("worker exceeded its CPU time limit")
	ErrRealTimeExceeded = errors.New("worker exceeded its real time limit")
)

// ProcessWorker runs a package in a child process spawned from this binary
// via reexec, speaking the framed protocol over the child's stdin/stdout.
type ProcessWorker struct {
	link

	location packages.Location
	limits   types.WorkerResourceLimits
	clk      clock.Clock

	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stderr   *tailBuffer
	manifest *types.Manifest

	sendMu sync.Mutex

	recvFail chan error
	procExit chan error
	done     chan struct{}
	killed   atomic.Bool
}

// NewProcessFactory returns a Factory producing process workers driven by
// clk (tests substitute a fake clock).
func NewProcessFactory(clk clock.Clock) Factory {
	return func(location packages.Location, limits types.WorkerResourceLimits) Worker {
		return &ProcessWorker{
			location: location,
			limits:   limits,
			clk:      clk,
			stderr:   newTailBuffer(defaultStderrLimit),
			recvFail: make(chan error, 1),
			procExit: make(chan error, 1),
			done:     make(chan struct{}),
		}
	}
}

// Start spawns the child and brings it to the idle state: bootstrap under
// initTimeout, package load under loadTimeout, then a manifest fetch.
func (w *ProcessWorker) Start(ctx context.Context) (err error) {
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

	w.cmd = reexec.Command(ProcessName)
	stdin, err := w.cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := w.cmd.StdoutPipe()
	if err != nil {
		return err
	}
	w.cmd.Stderr = w.stderr
	w.stdin = stdin
	w.conn = ipc.NewServerConn(stdout, stdin)

	if err := w.cmd.Start(); err != nil {
		return errors.Wrap(err, "spawning worker process")
	}
	log.G(ctx).WithFields(log.Fields{"pid": w.cmd.Process.Pid, "package": w.location.String()}).Debug("worker spawned")

	go w.link.receiveLoop(w.recvFail)
	go func() { w.procExit <- w.cmd.Wait() }()
	go w.observe(ctx)

	if _, err := w.exchange(ctx, &ipc.InitWorker{Limits: w.limits, WorkerType: ipc.WorkerTypeProcess}, ipc.IDInitWorkerDone, initTimeout); err != nil {
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

// observe supervises the worker: whichever of the receive loop or the
// process exit finishes first takes the worker down, killing the process if
// it is still alive and rejecting the outstanding call.
func (w *ProcessWorker) observe(ctx context.Context) {
	var cause error
	select {
	case err := <-w.recvFail:
		cause = errors.Wrap(err, "worker channel failed")
	case err := <-w.procExit:
		cause = w.classifyExit(err)
	}
	w.Kill()
	w.link.failAll(cause)
	log.G(ctx).WithError(cause).WithField("package", w.location.String()).Debug("worker terminated")
	close(w.done)
}

// classifyExit turns the process exit status into a classified error. A
// kernel OOM kill or an allocation failure on stderr count as the memory
// limit; a kill the server delivered itself keeps its original cause.
func (w *ProcessWorker) classifyExit(waitErr error) error {
	stderr := w.stderr.String()
	switch {
	case waitErr == nil:
		return errors.Wrap(ErrNotRunning, "worker exited")
	case !w.killed.Load() && killedByKernel(waitErr):
		return errdefs.OutOfMemory(errors.Errorf("worker killed by the kernel: %s", stderr))
	case containsAllocationFailure(stderr):
		return errdefs.OutOfMemory(errors.Errorf("worker died of allocation failure: %s", stderr))
	case stderr != "":
		return errors.Wrapf(waitErr, "worker died: %s", stderr)
	default:
		return errors.Wrap(waitErr, "worker died")
	}
}

func containsAllocationFailure(stderr string) bool {
	return strings.Contains(stderr, "out of memory") || strings.Contains(stderr, "cannot allocate memory")
}

// exchange is a start-phase call without limit enforcement but with a fixed
// deadline.
func (w *ProcessWorker) exchange(ctx context.Context, msg ipc.Message, expectID uint32, timeout time.Duration) (ipc.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return w.link.call(ctx, msg, expectID, nil, w.Kill)
}

// Send performs one request/response exchange under the time limits.
// timeout 0 means the per-call CPU budget; the wall-clock budget is three
// times that. On violation the worker is killed and never reused.
func (w *ProcessWorker) Send(ctx context.Context, msg ipc.Message, expectID uint32, timeout time.Duration) (ipc.Message, error) {
	w.sendMu.Lock()
	defer w.sendMu.Unlock()

	if w.State() != Idle {
		return nil, ErrNotRunning
	}
	if timeout == 0 {
		timeout = w.limits.MaxCPUTimePerCall()
	}

	stop := make(chan struct{})
	defer close(stop)
	verdict := w.enforceLimits(stop, timeout)

	resp, err := w.link.call(ctx, msg, expectID, verdict, w.Kill)
	if err != nil {
		if errdefs.IsOutOfMemory(err) {
			// Exceeded a limit; the worker must not serve another call.
			w.Kill()
		}
		return nil, err
	}
	return resp, nil
}

// enforceLimits watches the CPU and wall clocks of the running call. After
// an initial sleep of the full CPU budget it polls: once the consumed CPU
// time passes the budget, or the wall clock passes three times the budget,
// the verdict is reported. Closing stop retires the enforcer.
func (w *ProcessWorker) enforceLimits(stop <-chan struct{}, limit time.Duration) <-chan error {
	verdict := make(chan error, 1)
	pid := w.cmd.Process.Pid
	go func() {
		cpuStart, err := processCPUTime(pid)
		if err != nil {
			return
		}
		realStart := w.clk.Now()
		if !w.sleep(stop, limit) {
			return
		}
		for {
			cpu, err := processCPUTime(pid)
			if err != nil {
				// Process is gone; the observer handles it.
				return
			}
			remainingCPU := cpuStart + limit - cpu
			remainingReal := realStart.Add(types.RealTimeFactor * limit).Sub(w.clk.Now())
			if remainingCPU <= 0 {
				verdict <- errdefs.WorkerTimeout(ErrCPUTimeExceeded)
				return
			}
			if remainingReal <= 0 {
				verdict <- errdefs.WorkerTimeout(ErrRealTimeExceeded)
				return
			}
			next := remainingCPU
			if remainingReal < next {
				next = remainingReal
			}
			if next < minEnforcerSleep {
				next = minEnforcerSleep
			}
			if !w.sleep(stop, next) {
				return
			}
		}
	}()
	return verdict
}

func (w *ProcessWorker) sleep(stop <-chan struct{}, d time.Duration) bool {
	timer := w.clk.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stop:
		return false
	case <-timer.C():
		return true
	}
}

func (w *ProcessWorker) Manifest() *types.Manifest { return w.manifest }

// Stop sends Exit and waits up to grace for the observer to wind down,
// killing the worker if it overstays.
func (w *ProcessWorker) Stop(ctx context.Context, grace time.Duration) error {
	if w.cmd == nil || w.cmd.Process == nil {
		return nil
	}
	if w.State() == Idle {
		if err := w.conn.Write(&ipc.Exit{}); err == nil {
			select {
			case <-w.done:
				return nil
			case <-w.clk.After(grace):
			case <-ctx.Done():
			}
		}
	}
	w.Kill()
	<-w.done
	return nil
}

// Kill terminates the worker process unconditionally. Idempotent.
func (w *ProcessWorker) Kill() {
	if w.cmd == nil || w.cmd.Process == nil {
		return
	}
	if !w.killed.CompareAndSwap(false, true) {
		return
	}
	_ = w.stdin.Close()
	_ = w.cmd.Process.Kill()
}
