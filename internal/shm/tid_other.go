//go:build !linux

package shm

import "os"

// No portable thread id; the pid keeps the field populated.
func currentTID() int {
	return os.Getpid()
}
