package runtime

import (
	"os"

	"golang.org/x/sys/unix"
)

// StealStdout moves the process's stdout aside for exclusive use as the
// framed channel and points fd 1 at stderr, so writes from package code can
// never corrupt a frame. Must run before anything writes to stdout.
func StealStdout() (*os.File, error) {
	fd, err := unix.Dup(int(os.Stdout.Fd()))
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(fd)
	if err := unix.Dup3(int(os.Stderr.Fd()), int(os.Stdout.Fd()), 0); err != nil {
		unix.Close(fd)
		return nil, err
	}
	channel := os.NewFile(uintptr(fd), "ipc")
	os.Stdout = os.Stderr
	return channel, nil
}
