//go:build !linux

package runtime

import "os"

// Without Dup3 the channel keeps fd 1 directly; package code must not write
// to stdout on non-Linux platforms, which only host development setups.
func StealStdout() (*os.File, error) {
	channel := os.Stdout
	os.Stdout = os.Stderr
	return channel, nil
}
