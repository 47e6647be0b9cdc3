//go:build !unix

package capture

import (
	"errors"
	"os"
)

const sidecarSupported = false

func interruptProcess(int) error {
	return errors.New("interrupt not supported on this platform")
}

func killProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
