//go:build darwin

package session

import (
	"io/fs"
	"syscall"
)

func accessTime(info fs.FileInfo) (uint64, bool) {
	if st, ok := info.Sys().(*syscall.Stat_t); ok && st.Atimespec.Sec > 0 {
		return uint64(st.Atimespec.Sec), true
	}
	return 0, false
}
