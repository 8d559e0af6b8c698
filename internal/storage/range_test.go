package storage_test

import (
	"testing"

	"github.com/eteran/simples3/internal/storage"

	"github.com/stretchr/testify/require"
)

func TestParseAndResolveRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		header    string
		size      int64
		wantStart int64
		wantEnd   int64
		wantErr   bool
	}{
		{name: "bounded", header: "bytes=0-9", size: 100, wantStart: 0, wantEnd: 9},
		{name: "end clamped", header: "bytes=90-150", size: 100, wantStart: 90, wantEnd: 99},
		{name: "open ended", header: "bytes=10-", size: 100, wantStart: 10, wantEnd: 99},
		{name: "suffix", header: "bytes=-5", size: 100, wantStart: 95, wantEnd: 99},
		{name: "suffix larger than object", header: "bytes=-500", size: 100, wantStart: 0, wantEnd: 99},
		{name: "last byte", header: "bytes=99-99", size: 100, wantStart: 99, wantEnd: 99},
		{name: "start past end", header: "bytes=200-", size: 100, wantErr: true},
		{name: "start at size", header: "bytes=100-200", size: 100, wantErr: true},
		{name: "empty object", header: "bytes=0-", size: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			br, err := storage.ParseRange(tc.header)
			require.NoError(t, err, "ParseRange error")

			start, end, err := br.Resolve(tc.size)
			if tc.wantErr {
				require.ErrorIs(t, err, storage.ErrInvalidRange, "Resolve error")
				return
			}
			require.NoError(t, err, "Resolve error")
			require.Equal(t, tc.wantStart, start, "start")
			require.Equal(t, tc.wantEnd, end, "end")
		})
	}
}

func TestParseRangeMalformed(t *testing.T) {
	t.Parallel()

	for _, header := range []string{"", "bytes", "items=0-1", "bytes=a-b", "bytes=5-1", "bytes=0-1,3-4", "bytes=-0", "bytes=--1"} {
		_, err := storage.ParseRange(header)
		require.ErrorIsf(t, err, storage.ErrInvalidRange, "ParseRange(%q)", header)
	}
}

func TestContentRange(t *testing.T) {
	t.Parallel()

	require.Equal(t, "bytes 90-99/100", storage.ContentRange(90, 99, 100))
}
