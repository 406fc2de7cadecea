package runtime

import (
	"context"
	"fmt"
	"os"

	"github.com/questionpy-org/questionpy-server/worker/ipc"
)

// Main is the entrypoint of a worker process. The parent speaks the framed
// protocol over our stdin/stdout; stdout is stolen first so package code
// writing to it lands on stderr instead of the channel.
func Main() {
	channel, err := StealStdout()
	if err != nil {
		fmt.Fprintln(os.Stderr, "worker: claiming channel:", err)
		os.Exit(1)
	}
	conn := ipc.NewWorkerConn(os.Stdin, channel)
	if err := New(conn).Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "worker:", err)
		os.Exit(1)
	}
	os.Exit(0)
}
