package storage

import (
	"strings"
	"time"
)

// Conditions carries the read-side conditional request headers.
type Conditions struct {
	IfMatch           string
	IfNoneMatch       string
	IfModifiedSince   time.Time
	IfUnmodifiedSince time.Time
}

// Check evaluates the conditions against an object's metadata. Entity tag
// conditions take precedence over the date based ones they correspond to.
func (c *Conditions) Check(info ObjectInfo) error {
	if c == nil {
		return nil
	}

	lastModified := info.LastModified.UTC().Truncate(time.Second)

	if c.IfMatch != "" {
		if !matchesETag(c.IfMatch, info.ETag) {
			return ErrPreconditionFailed
		}
	} else if !c.IfUnmodifiedSince.IsZero() && lastModified.After(c.IfUnmodifiedSince) {
		return ErrPreconditionFailed
	}

	if c.IfNoneMatch != "" {
		if matchesETag(c.IfNoneMatch, info.ETag) {
			return ErrNotModified
		}
	} else if !c.IfModifiedSince.IsZero() && !lastModified.After(c.IfModifiedSince) {
		return ErrNotModified
	}

	return nil
}

// matchesETag reports whether a comma separated If-Match/If-None-Match list
// names etag. Weak validators compare equal to their strong form.
func matchesETag(header string, etag string) bool {
	want := strings.Trim(etag, `"`)
	for token := range strings.SplitSeq(header, ",") {
		candidate := strings.TrimSpace(token)
		if candidate == "*" {
			return true
		}
		candidate = strings.TrimPrefix(candidate, "W/")
		if strings.Trim(candidate, `"`) == want {
			return true
		}
	}
	return false
}
