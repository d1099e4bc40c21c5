//go:build linux

package shm

import "golang.org/x/sys/unix"

func currentTID() int {
	return unix.Gettid()
}
