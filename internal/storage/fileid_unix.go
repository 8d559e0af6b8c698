//go:build unix

package storage

import (
	"os"
	"strconv"
	"syscall"
)

// fileID names the inode behind fi. A rename keeps it, so the id of a temp
// upload is also the id of the object it becomes.
func fileID(fi os.FileInfo) string {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return strconv.FormatUint(uint64(st.Ino), 16)
	}
	return strconv.FormatInt(fi.ModTime().UnixNano(), 16)
}
