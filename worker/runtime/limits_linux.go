package runtime

import (
	"golang.org/x/sys/unix"
)

// applyMemoryLimit caps the address space of this process. The limit applies
// to everything the worker does from here on, including the package code.
func applyMemoryLimit(maxMemory uint64) error {
	if maxMemory == 0 {
		return nil
	}
	limit := unix.Rlimit{Cur: maxMemory, Max: maxMemory}
	return unix.Setrlimit(unix.RLIMIT_AS, &limit)
}
