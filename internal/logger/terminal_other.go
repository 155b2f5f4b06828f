//go:build !linux && !windows

package logger

import "golang.org/x/sys/unix"

// isTerminal checks if the file descriptor is a terminal.
// BSD-derived systems (including macOS) use TIOCGETA.
func isTerminal(fd uintptr) bool {
	_, err := unix.IoctlGetTermios(int(fd), unix.TIOCGETA)
	return err == nil
}
