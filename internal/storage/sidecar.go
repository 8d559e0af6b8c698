package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/natefinch/atomic"
)

// staleSidecarAge is how old a sidecar of no current content must be before
// a sweep removes it. Younger ones may belong to a Put that has written its
// sidecar but not yet renamed its content into place.
const staleSidecarAge = 10 * time.Minute

// sidecar is the metadata stored next to each object. Each version of the
// content file gets its own sidecar, named by the fileID of that version, so
// the rename that publishes the content also publishes its metadata.
// ModTimeNs and Size guard against a reused inode: a sidecar that does not
// match the file it describes is ignored.
type sidecar struct {
	Key          string    `json:"key"`
	ContentType  string    `json:"content_type"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag"`
	LastModified time.Time `json:"last_modified"`
	ModTimeNs    int64     `json:"mtime_ns"`
}

func (m sidecar) describes(fi os.FileInfo) bool {
	return m.Size == fi.Size() && m.ModTimeNs == fi.ModTime().UnixNano()
}

func writeSidecar(p ObjectPath, id string, meta sidecar) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}
	if err := atomic.WriteFile(p.sidecarPath(id), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}

func readSidecar(p ObjectPath, id string) (sidecar, error) {
	data, err := os.ReadFile(p.sidecarPath(id))
	if err != nil {
		return sidecar{}, err
	}

	var meta sidecar
	if err := json.Unmarshal(data, &meta); err != nil {
		return sidecar{}, fmt.Errorf("decode sidecar: %w", err)
	}
	return meta, nil
}

func removeSidecar(p ObjectPath, id string) error {
	if err := os.Remove(p.sidecarPath(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// removeSidecarOf removes the sidecar of the content version fi, unless the
// sidecar found under its id describes another file.
func removeSidecarOf(p ObjectPath, fi os.FileInfo) error {
	id := fileID(fi)
	meta, err := readSidecar(p, id)
	switch {
	case os.IsNotExist(err):
		return nil
	case err == nil && !meta.describes(fi):
		return nil
	}
	return removeSidecar(p, id)
}

// sweepSidecars removes the sidecars of p older than staleSidecarAge, except
// the one of version keep. They are left behind when two writers replace the
// same object at once, or by a crash between the sidecar write and the
// rename.
func sweepSidecars(p ObjectPath, keep string) {
	entries, err := os.ReadDir(p.Dir())
	if err != nil {
		return
	}

	prefix := sidecarPrefix + p.name() + "."
	for _, entry := range entries {
		id, ok := strings.CutPrefix(entry.Name(), prefix)
		if !ok {
			continue
		}
		id, ok = strings.CutSuffix(id, sidecarSuffix)
		if !ok || !isFileID(id) || id == keep {
			continue
		}

		fi, err := entry.Info()
		if err != nil || time.Since(fi.ModTime()) < staleSidecarAge {
			continue
		}
		_ = removeSidecar(p, id)
	}
}

// isFileID reports whether s can be a fileID. It keeps the sidecars of a key
// like "a" apart from those of "a.b".
func isFileID(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return false
		}
	}
	return true
}
