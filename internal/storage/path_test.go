package storage_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/eteran/simples3/internal/storage"

	"github.com/stretchr/testify/require"
)

func TestResolveMapsKeyUnderBucket(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	mapper := storage.NewMapper(dataDir, "bucket")

	p, err := mapper.Resolve("photos/2024/cat.jpg")
	require.NoError(t, err, "Resolve error")
	require.Equal(t, "photos/2024/cat.jpg", p.Key(), "key")
	require.Equal(t, filepath.Join(dataDir, "bucket", "photos", "2024", "cat.jpg"), p.Path(), "path")
	require.Equal(t, filepath.Join(dataDir, "bucket", "photos", "2024"), p.Dir(), "dir")
}

func TestResolveRejectsInvalidKeys(t *testing.T) {
	t.Parallel()

	mapper := storage.NewMapper(t.TempDir(), "bucket")

	tests := []struct {
		name string
		key  string
	}{
		{name: "parent", key: "../secret"},
		{name: "nested parent", key: "a/../../b"},
		{name: "dot segment", key: "a/./b"},
		{name: "only dot", key: "."},
		{name: "empty", key: ""},
		{name: "empty segment", key: "a//b"},
		{name: "leading slash", key: "/a"},
		{name: "trailing slash", key: "a/"},
		{name: "backslash", key: `a\..\b`},
		{name: "nul byte", key: "a\x00b"},
		{name: "reserved prefix", key: "dir/.simples3.meta.x.json"},
		{name: "segment too long", key: strings.Repeat("s", storage.MaxSegmentLength+1)},
		{name: "key too long", key: strings.Repeat("abc/", storage.MaxKeyLength/4) + "x"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := mapper.Resolve(tc.key)
			require.ErrorIs(t, err, storage.ErrInvalidKey, "Resolve(%q)", tc.key)
		})
	}
}

func TestResolveAcceptsDotPrefixedNames(t *testing.T) {
	t.Parallel()

	mapper := storage.NewMapper(t.TempDir(), "bucket")

	for _, key := range []string{"..foo", "a/...", ".hidden/.env", "a b/c+d"} {
		_, err := mapper.Resolve(key)
		require.NoErrorf(t, err, "Resolve(%q)", key)
	}
}

func TestResolvePrefix(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	mapper := storage.NewMapper(dataDir, "bucket")
	root := filepath.Join(dataDir, "bucket")

	tests := []struct {
		prefix  string
		wantDir string
		wantOK  bool
	}{
		{prefix: "", wantDir: root, wantOK: true},
		{prefix: "ab", wantDir: root, wantOK: true},
		{prefix: "a/", wantDir: filepath.Join(root, "a"), wantOK: true},
		{prefix: "a/b/c", wantDir: filepath.Join(root, "a", "b"), wantOK: true},
		{prefix: "../", wantOK: false},
		{prefix: "a/../", wantOK: false},
		{prefix: "a//", wantOK: false},
	}

	for _, tc := range tests {
		dir, ok := mapper.ResolvePrefix(tc.prefix)
		require.Equalf(t, tc.wantOK, ok, "ResolvePrefix(%q) ok", tc.prefix)
		if tc.wantOK {
			require.Equalf(t, tc.wantDir, dir, "ResolvePrefix(%q) dir", tc.prefix)
		}
	}
}
