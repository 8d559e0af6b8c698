package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteRange is a parsed single-range "Range: bytes=..." header. Start and End
// are inclusive; a negative Start means a suffix range of -Start bytes and a
// negative End means "to the end of the object".
type ByteRange struct {
	Start int64
	End   int64
}

// ParseRange parses the value of a Range header. Multiple ranges are not
// supported and yield ErrInvalidRange.
func ParseRange(value string) (*ByteRange, error) {
	rng, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes=")
	if !ok || strings.Contains(rng, ",") {
		return nil, ErrInvalidRange
	}

	startStr, endStr, ok := strings.Cut(rng, "-")
	if !ok {
		return nil, ErrInvalidRange
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	if startStr == "" {
		suffixLen, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || suffixLen <= 0 {
			return nil, ErrInvalidRange
		}
		return &ByteRange{Start: -suffixLen, End: -1}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return nil, ErrInvalidRange
	}

	if endStr == "" {
		return &ByteRange{Start: start, End: -1}, nil
	}

	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return nil, ErrInvalidRange
	}
	return &ByteRange{Start: start, End: end}, nil
}

// Resolve applies the range to an object of the given size and returns the
// inclusive offsets to serve. The end is clamped to size-1; a start past the
// last byte is not satisfiable.
func (br ByteRange) Resolve(size int64) (int64, int64, error) {
	if br.Start < 0 {
		suffixLen := -br.Start
		if size == 0 {
			return 0, 0, ErrInvalidRange
		}
		if suffixLen >= size {
			return 0, size - 1, nil
		}
		return size - suffixLen, size - 1, nil
	}

	if br.Start > size-1 {
		return 0, 0, ErrInvalidRange
	}

	end := br.End
	if end < 0 || end > size-1 {
		end = size - 1
	}
	return br.Start, end, nil
}

// ContentRange formats the Content-Range header value for a served range.
func ContentRange(start int64, end int64, size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", start, end, size)
}
