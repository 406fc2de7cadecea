package worker

import (
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var clockTick = time.Second / 100 // USER_HZ is 100 on every supported kernel

// processCPUTime returns the user+system CPU time a process has consumed,
// read from /proc/<pid>/stat (fields utime and stime).
func processCPUTime(pid int) (time.Duration, error) {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0, err
	}
	// The comm field is parenthesized and may contain spaces; fields are
	// counted after the closing parenthesis.
	idx := strings.LastIndexByte(string(data), ')')
	if idx < 0 {
		return 0, errors.New("malformed stat file")
	}
	fields := strings.Fields(string(data[idx+1:]))
	// utime and stime are fields 14 and 15 of the full line; after comm and
	// state that leaves offsets 11 and 12.
	if len(fields) < 13 {
		return 0, errors.New("malformed stat file")
	}
	utime, err := strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return 0, err
	}
	stime, err := strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(utime+stime) * clockTick, nil
}

// killedByKernel reports whether err is an exit caused by SIGKILL that the
// server did not deliver itself, which on a memory-limited worker almost
// always means the kernel OOM killer.
func killedByKernel(err error) bool {
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return false
	}
	ws, ok := ee.Sys().(syscall.WaitStatus)
	if !ok {
		return false
	}
	return ws.Signaled() && ws.Signal() == unix.SIGKILL
}
