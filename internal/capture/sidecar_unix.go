//go:build unix

package capture

import "golang.org/x/sys/unix"

const sidecarSupported = true

func interruptProcess(pid int) error {
	return unix.Kill(pid, unix.SIGINT)
}

func killProcess(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}
