//go:build !linux

package cache

import (
	"os"
	"time"
)

// accessTime falls back to the modification time where atime is not portable.
func accessTime(fi os.FileInfo) time.Time {
	return fi.ModTime()
}
