//go:build linux

package cache

import (
	"os"
	"syscall"
	"time"
)

// accessTime reads the last-access time from the underlying stat. Eviction
// order depends on it, so use the real atime where the platform exposes one.
func accessTime(fi os.FileInfo) time.Time {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return time.Unix(st.Atim.Sec, st.Atim.Nsec)
	}

	return fi.ModTime()
}
