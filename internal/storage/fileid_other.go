//go:build !unix

package storage

import (
	"os"
	"strconv"
)

func fileID(fi os.FileInfo) string {
	return strconv.FormatInt(fi.ModTime().UnixNano(), 16)
}
