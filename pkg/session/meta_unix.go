//go:build !windows

package session

import (
	"io/fs"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// processUmask reads the process umask once. Reading requires briefly
// setting it, so this must not race with file creation elsewhere;
// doing it once up front avoids that.
var processUmask = sync.OnceValue(func() fs.FileMode {
	old := unix.Umask(0)
	unix.Umask(old)
	return fs.FileMode(old)
})

// wireMode extracts the permission bits (including setuid/setgid/
// sticky) for the wire, straight from the stat mode.
func wireMode(info fs.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint64(st.Mode) & permMask
	}
	return uint64(info.Mode().Perm())
}

// platformMode passes POSIX modes through untouched.
func platformMode(m fs.FileMode) fs.FileMode { return m }
