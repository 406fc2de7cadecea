// Package worker owns the server side of workers: spawning them, exchanging
// framed requests, observing their liveness and enforcing their limits, and
// pooling them under concurrency and memory bounds.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/questionpy-org/questionpy-server/api/types"
	"github.com/questionpy-org/questionpy-server/packages"
	"github.com/questionpy-org/questionpy-server/worker/ipc"
)

// State of a worker as seen by the server.
type State int32

const (
	NotRunning State = iota
	Idle
	ServerAwaitsResponse
)

func (s State) String() string {
	switch s {
	case NotRunning:
		return "NOT_RUNNING"
	case Idle:
		return "IDLE"
	case ServerAwaitsResponse:
		return "SERVER_AWAITS_RESPONSE"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Worker is one isolated executor loaded with one package. At most one
// exchange is in flight at any time; concurrent Send calls are serialized.
type Worker interface {
	// Start spawns the worker, performs the bootstrap exchange and loads
	// the package as main. Failures are StartErrors whose Temporary bit
	// tells the pool whether a retry may help.
	Start(ctx context.Context) error

	// Send writes msg and waits for the response with the given ID, up to
	// timeout (0 means the per-call CPU budget of the worker's limits). On
	// a limit violation the worker is killed and a worker-timeout error
	// returned.
	Send(ctx context.Context, msg ipc.Message, expectID uint32, timeout time.Duration) (ipc.Message, error)

	// Manifest of the loaded package, available once Start succeeded.
	Manifest() *types.Manifest

	State() State

	// Stop asks the worker to exit and waits up to grace before killing it.
	Stop(ctx context.Context, grace time.Duration) error

	// Kill terminates the worker unconditionally.
	Kill()
}

// Factory builds a worker for one package location.
type Factory func(location packages.Location, limits types.WorkerResourceLimits) Worker

// validateLocation opens the package server-side and checks its manifest
// before any worker is spawned. The worker loads and checks the archive
// again, but its failures arrive as opaque worker errors; a bad package must
// be rejected as such.
func validateLocation(loc packages.Location) error {
	contents, err := packages.Open(loc)
	if err != nil {
		return err
	}
	defer contents.Close()
	_, err = contents.Manifest()
	return err
}

// StartError wraps any failure before a worker reached the idle state.
type StartError struct {
	cause     error
	temporary bool
}

func newStartError(err error, temporary bool) *StartError {
	return &StartError{cause: err, temporary: temporary}
}

func (e *StartError) Error() string {
	return "worker start failed: " + e.cause.Error()
}

func (e *StartError) Unwrap() error { return e.cause }

// Temporary reports whether retrying the start may succeed, copied from the
// underlying failure (an init OOM is worth a retry, a bad manifest is not).
func (e *StartError) Temporary() bool { return e.temporary }
