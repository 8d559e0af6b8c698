package storage

import (
	"path/filepath"
	"strings"
)

const (
	// ReservedPrefix marks names the store creates next to objects: in-flight
	// uploads and metadata sidecars. Key segments may not start with it.
	ReservedPrefix = ".simples3."

	tempPattern   = ReservedPrefix + "tmp-*"
	sidecarPrefix = ReservedPrefix + "meta."
	sidecarSuffix = ".json"

	MaxKeyLength     = 1024
	MaxSegmentLength = 200
)

// Mapper turns object keys into locations under <data_dir>/<bucket>.
type Mapper struct {
	root string
}

// NewMapper returns a Mapper rooted at <dataDir>/<bucket>.
func NewMapper(dataDir string, bucket string) *Mapper {
	return &Mapper{root: filepath.Join(dataDir, bucket)}
}

// Root returns the bucket directory.
func (m *Mapper) Root() string {
	return m.root
}

// ObjectPath is an object key that passed validation, together with its
// on-disk location. The zero value is not usable; obtain one from
// Mapper.Resolve.
type ObjectPath struct {
	key      string
	segments []string
	path     string
}

// Key returns the object key.
func (p ObjectPath) Key() string {
	return p.key
}

// Path returns the absolute path of the object content file.
func (p ObjectPath) Path() string {
	return p.path
}

// Dir returns the directory holding the object and its sidecar.
func (p ObjectPath) Dir() string {
	return filepath.Dir(p.path)
}

func (p ObjectPath) name() string {
	return p.segments[len(p.segments)-1]
}

// sidecarPath returns the sidecar of one version of the object, identified by
// the fileID of its content file.
func (p ObjectPath) sidecarPath(id string) string {
	return filepath.Join(p.Dir(), sidecarPrefix+p.name()+"."+id+sidecarSuffix)
}

func (p ObjectPath) valid() bool {
	return p.path != "" && len(p.segments) > 0
}

// Resolve validates key and maps it to a path below the bucket directory.
// It is the only constructor of ObjectPath.
func (m *Mapper) Resolve(key string) (ObjectPath, error) {
	if key == "" || len(key) > MaxKeyLength {
		return ObjectPath{}, ErrInvalidKey
	}

	segments := strings.Split(key, "/")
	for _, seg := range segments {
		if !validSegment(seg) {
			return ObjectPath{}, ErrInvalidKey
		}
	}

	parts := make([]string, 0, len(segments)+1)
	parts = append(parts, m.root)
	parts = append(parts, segments...)

	return ObjectPath{
		key:      key,
		segments: segments,
		path:     filepath.Join(parts...),
	}, nil
}

// ResolvePrefix returns the deepest directory whose every segment is fully
// named by prefix. A trailing partial segment only filters names inside that
// directory. ok is false when a complete segment would not be a valid key
// segment, in which case nothing can match the prefix.
func (m *Mapper) ResolvePrefix(prefix string) (dir string, ok bool) {
	idx := strings.LastIndex(prefix, "/")
	if idx == -1 {
		return m.root, true
	}

	segments := strings.Split(prefix[:idx], "/")
	for _, seg := range segments {
		if !validSegment(seg) {
			return "", false
		}
	}

	parts := make([]string, 0, len(segments)+1)
	parts = append(parts, m.root)
	parts = append(parts, segments...)
	return filepath.Join(parts...), true
}

// keyFor converts the absolute path of a content file back to its key.
func (m *Mapper) keyFor(path string) (string, bool) {
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func validSegment(seg string) bool {
	switch {
	case seg == "", seg == ".", seg == "..":
		return false
	case len(seg) > MaxSegmentLength:
		return false
	case strings.ContainsAny(seg, "/\\\x00"):
		return false
	case strings.HasPrefix(seg, ReservedPrefix):
		return false
	}
	return true
}

// isReservedName reports whether a directory entry belongs to the store
// rather than to an object.
func isReservedName(name string) bool {
	return strings.HasPrefix(name, ReservedPrefix)
}
