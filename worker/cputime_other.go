//go:build !linux

package worker

import "time"

// CPU accounting of child processes is only implemented on Linux; without
// it the enforcer falls back to the wall-clock limit alone.
func processCPUTime(pid int) (time.Duration, error) {
	return 0, nil
}

func killedByKernel(err error) bool {
	return false
}
