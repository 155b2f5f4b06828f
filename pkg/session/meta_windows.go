//go:build windows

package session

import "io/fs"

// Windows has no umask; the mode mapping below is the whole story.
func processUmask() fs.FileMode { return 0 }

// wireMode maps the reduced Windows permission model onto POSIX bits:
// read-only becomes 0444, read-write 0666. Execute is dropped.
func wireMode(info fs.FileInfo) uint64 {
	if info.Mode().Perm()&0o200 == 0 {
		return 0o444
	}
	return 0o666
}

// platformMode applies the same reduction to incoming modes.
func platformMode(m fs.FileMode) fs.FileMode {
	if m&0o200 == 0 {
		return 0o444
	}
	return 0o666
}
