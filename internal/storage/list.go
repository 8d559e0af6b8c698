package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	DefaultMaxKeys = 1000
	MaxListKeys    = 1000
)

type ListOptions struct {
	Prefix    string
	Delimiter string
	// Marker, when set, restricts the listing to keys strictly greater than
	// it.
	Marker string
	// MaxKeys bounds the number of keys plus common prefixes returned. A
	// negative value selects DefaultMaxKeys.
	MaxKeys int
}

type ListResult struct {
	Objects        []ObjectInfo
	CommonPrefixes []string
	IsTruncated    bool
	// NextMarker is the last key or common prefix returned when the result
	// is truncated.
	NextMarker string
}

// List answers a prefix/delimiter query by walking the bucket directory. The
// result always reflects the filesystem at the time of the call.
func (s *Store) List(ctx context.Context, opts ListOptions) (result ListResult, err error) {
	ctx, span, start := s.start(ctx, "list", opts.Prefix)
	defer func() { s.finish(span, "list", start, int64(len(result.Objects)), err) }()

	maxKeys := opts.MaxKeys
	switch {
	case maxKeys < 0:
		maxKeys = DefaultMaxKeys
	case maxKeys > MaxListKeys:
		maxKeys = MaxListKeys
	}
	if maxKeys == 0 {
		return ListResult{}, nil
	}

	keys, err := s.walkKeys(ctx, opts.Prefix)
	if err != nil {
		return ListResult{}, err
	}
	slices.Sort(keys)

	var (
		seenPrefixes = make(map[string]struct{})
		count        int
		last         string
	)

	for _, key := range keys {
		if opts.Marker != "" && key <= opts.Marker {
			continue
		}

		entry := key
		isPrefix := false
		if opts.Delimiter != "" {
			rest := key[len(opts.Prefix):]
			if idx := strings.Index(rest, opts.Delimiter); idx != -1 {
				entry = opts.Prefix + rest[:idx+len(opts.Delimiter)]
				isPrefix = true
			}
		}

		if isPrefix {
			if _, ok := seenPrefixes[entry]; ok {
				continue
			}
			// A page that ended on a common prefix hands it back as the
			// marker; the keys under it must not produce it again.
			if opts.Marker != "" && entry <= opts.Marker {
				continue
			}
		}

		if count == maxKeys {
			result.IsTruncated = true
			break
		}

		if isPrefix {
			seenPrefixes[entry] = struct{}{}
			result.CommonPrefixes = append(result.CommonPrefixes, entry)
		} else {
			info, err := s.statKey(key)
			if errors.Is(err, ErrNoSuchKey) {
				// Deleted since the walk.
				continue
			}
			if err != nil {
				return ListResult{}, err
			}
			result.Objects = append(result.Objects, info)
		}

		count++
		last = entry
	}

	if result.IsTruncated {
		result.NextMarker = last
	}
	return result, nil
}

// walkKeys returns every object key starting with prefix, unsorted. A prefix
// that can not name a valid key yields no keys.
func (s *Store) walkKeys(ctx context.Context, prefix string) ([]string, error) {
	dir, ok := s.mapper.ResolvePrefix(prefix)
	if !ok {
		return nil, nil
	}

	var keys []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && isMissing(err) {
				return fs.SkipAll
			}
			if isMissing(err) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if path != dir && isReservedName(d.Name()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path == s.mapper.Root() {
				return nil
			}
			dirKey, ok := s.mapper.keyFor(path)
			if !ok {
				return fs.SkipDir
			}
			dirKey += "/"
			if !strings.HasPrefix(dirKey, prefix) && !strings.HasPrefix(prefix, dirKey) {
				return fs.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		key, ok := s.mapper.keyFor(path)
		if ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk bucket: %w", err)
	}
	return keys, nil
}

func (s *Store) statKey(key string) (ObjectInfo, error) {
	p, err := s.mapper.Resolve(key)
	if err != nil {
		// Files whose names are not valid keys are not objects.
		return ObjectInfo{}, ErrNoSuchKey
	}

	fi, err := os.Stat(p.Path())
	if isMissing(err) {
		return ObjectInfo{}, ErrNoSuchKey
	}
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("stat object: %w", err)
	}
	return s.describe(p, fi, nil)
}
