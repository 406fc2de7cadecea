//go:build !linux

package runtime

// Memory limits are only enforced on Linux.
func applyMemoryLimit(maxMemory uint64) error {
	return nil
}
