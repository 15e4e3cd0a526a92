//go:build unix

package fsx

import (
	"os"

	"golang.org/x/sys/unix"
)

const oNonblock = unix.O_NONBLOCK

func setBlocking(f *os.File) error {
	return unix.SetNonblock(int(f.Fd()), false)
}
