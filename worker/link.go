package worker

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/questionpy-org/questionpy-server/errdefs"
	"github.com/questionpy-org/questionpy-server/worker/ipc"
)

// ErrNotRunning is returned for exchanges attempted on a dead worker.
var ErrNotRunning = errors.New("worker is not running")

type callResult struct {
	msg ipc.Message
	err error
}

type pendingCall struct {
	expectID uint32
	ch       chan callResult
}

// link is the exchange machinery shared by process and in-process workers:
// it tracks the single outstanding call, matches inbound frames against it
// and turns worker-reported errors into classified Go errors.
type link struct {
	conn *ipc.Conn

	mu      sync.Mutex
	state   State
	pending *pendingCall
	dead    error // non-nil once the worker is gone
}

func (l *link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *link) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// begin registers the outstanding call. The caller must already hold the
// per-worker send serialization, so a second outstanding call is a bug.
func (l *link) begin(expectID uint32) (*pendingCall, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dead != nil {
		return nil, l.dead
	}
	if l.pending != nil {
		return nil, errors.New("worker already has an outstanding request")
	}
	pc := &pendingCall{expectID: expectID, ch: make(chan callResult, 1)}
	l.pending = pc
	l.state = ServerAwaitsResponse
	return pc, nil
}

// finish clears the outstanding call after a delivered response.
func (l *link) finish() {
	l.mu.Lock()
	if l.state == ServerAwaitsResponse {
		l.state = Idle
	}
	l.pending = nil
	l.mu.Unlock()
}

// deliver routes an inbound frame to the outstanding call. It reports false
// for frames nothing waits for; the observer kills the worker then.
func (l *link) deliver(msg ipc.Message) bool {
	l.mu.Lock()
	pc := l.pending
	l.mu.Unlock()
	if pc == nil {
		return false
	}
	if we, ok := msg.(*ipc.WorkerError); ok {
		if we.ExpectedResponseID != pc.expectID {
			return false
		}
		return pc.send(callResult{err: workerErrorToErr(we)})
	}
	if msg.MessageID() != pc.expectID {
		return false
	}
	return pc.send(callResult{msg: msg})
}

// send is non-blocking; a second result for the same call (a misbehaving
// worker answering twice, or death racing a response) is dropped.
func (pc *pendingCall) send(res callResult) bool {
	select {
	case pc.ch <- res:
		return true
	default:
		return false
	}
}

// failAll transitions to NOT_RUNNING and rejects the outstanding call.
// Subsequent exchanges fail with the same cause.
func (l *link) failAll(cause error) {
	l.mu.Lock()
	l.state = NotRunning
	if l.dead == nil {
		l.dead = cause
	}
	pc := l.pending
	l.pending = nil
	l.mu.Unlock()
	if pc != nil {
		pc.send(callResult{err: cause})
	}
}

// workerErrorToErr maps a WorkerError frame onto the server error taxonomy.
func workerErrorToErr(we *ipc.WorkerError) error {
	err := errors.New(we.Message)
	switch we.Kind {
	case ipc.ErrorKindMemoryExceeded:
		return errdefs.OutOfMemory(err)
	default:
		return errdefs.PackageFailure(err, we.Temporary)
	}
}

// receiveLoop reads frames until the stream fails and reports the failure.
// Unexpected frames poison the worker the same way a read error does.
func (l *link) receiveLoop(fail chan<- error) {
	for {
		msg, err := l.conn.Read()
		if err != nil {
			fail <- err
			return
		}
		if !l.deliver(msg) {
			fail <- errors.Errorf("unexpected message id %d from worker", msg.MessageID())
			return
		}
	}
}

// call performs one exchange: write the request, await the matching
// response, a context cancellation or an enforcer verdict. abort is invoked
// before returning on any non-response outcome, and must make the worker die
// (which in turn fails the registered call through failAll).
func (l *link) call(ctx context.Context, msg ipc.Message, expectID uint32, verdict <-chan error, abort func()) (ipc.Message, error) {
	pc, err := l.begin(expectID)
	if err != nil {
		return nil, err
	}
	if err := l.conn.Write(msg); err != nil {
		abort()
		<-pc.ch
		return nil, errors.Wrap(err, "writing request to worker")
	}
	select {
	case res := <-pc.ch:
		if res.err != nil {
			l.finish()
			return nil, res.err
		}
		l.finish()
		return res.msg, nil
	case err := <-verdict:
		abort()
		<-pc.ch
		return nil, err
	case <-ctx.Done():
		// Mid-exchange state cannot be resumed; the worker dies with the
		// request.
		abort()
		<-pc.ch
		return nil, ctx.Err()
	}
}
