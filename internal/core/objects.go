package core

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/eteran/simples3/internal/storage"
)

// chunkOverhead bounds the framing an aws-chunked body adds on top of the
// decoded payload, as a fraction of the payload size.
const chunkOverhead = 32

func (s *Server) resolveKey(w http.ResponseWriter, r *http.Request, key string) (storage.ObjectPath, bool) {
	p, err := s.store.Mapper().Resolve(key)
	if err != nil {
		writeS3Error(w, r, ErrInvalidArgument)
		return storage.ObjectPath{}, false
	}
	return p, true
}

func setObjectHeaders(w http.ResponseWriter, info storage.ObjectInfo) {
	w.Header().Set("ETag", info.ETag)
	w.Header().Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
	w.Header().Set("Accept-Ranges", "bytes")
}

func parseConditions(r *http.Request) *storage.Conditions {
	cond := &storage.Conditions{
		IfMatch:     r.Header.Get("If-Match"),
		IfNoneMatch: r.Header.Get("If-None-Match"),
	}
	if t, err := http.ParseTime(r.Header.Get("If-Modified-Since")); err == nil {
		cond.IfModifiedSince = t
	}
	if t, err := http.ParseTime(r.Header.Get("If-Unmodified-Since")); err == nil {
		cond.IfUnmodifiedSince = t
	}
	return cond
}

// handlePutObject implements PUT /key. The body is streamed to the store,
// decoding aws-chunked framing first when the client uses it.
func (s *Server) handlePutObject(w http.ResponseWriter, r *http.Request, key string) {
	p, ok := s.resolveKey(w, r, key)
	if !ok {
		return
	}
	defer r.Body.Close()

	var (
		body       io.Reader
		contentSHA = r.Header.Get("X-Amz-Content-Sha256")
		maxSize    = s.cfg.MaxObjectSize
	)

	if isStreamingPayload(contentSHA) {
		decodedLen := int64(-1)
		if v := r.Header.Get("X-Amz-Decoded-Content-Length"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				writeS3Error(w, r, ErrIncompleteBody)
				return
			}
			decodedLen = n
		}
		if decodedLen > maxSize {
			writeS3Error(w, r, ErrEntityTooLarge)
			return
		}
		limited := http.MaxBytesReader(w, r.Body, maxSize+maxSize/chunkOverhead+64<<10)
		body = newChunkedReader(limited, decodedLen)
	} else {
		if r.ContentLength > maxSize {
			writeS3Error(w, r, ErrEntityTooLarge)
			return
		}
		body = http.MaxBytesReader(w, r.Body, maxSize)
	}

	info, err := s.store.Put(r.Context(), p, body, storage.PutOptions{
		ContentType:    r.Header.Get("Content-Type"),
		ExpectedSHA256: contentSHA,
	})
	if err != nil {
		writeStorageError(w, r, "Store object", key, err)
		return
	}

	slog.Debug("Stored object", "key", info.Key, "size", info.Size, "etag", info.ETag)

	w.Header().Set("ETag", info.ETag)
	w.WriteHeader(http.StatusOK)
}

// handleGetObject implements GET /key with optional Range and conditional
// headers.
func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request, key string) {
	p, ok := s.resolveKey(w, r, key)
	if !ok {
		return
	}

	opts := storage.GetOptions{Conditions: parseConditions(r)}
	if header := r.Header.Get("Range"); header != "" {
		// A Range header that does not parse is ignored and the whole
		// object is served.
		if br, err := storage.ParseRange(header); err == nil {
			opts.Range = br
		}
	}

	obj, err := s.store.Get(r.Context(), p, opts)
	if err != nil {
		var rangeErr *storage.RangeError
		switch {
		case errors.Is(err, storage.ErrNotModified):
			setObjectHeaders(w, obj.ObjectInfo)
		case errors.As(err, &rangeErr):
			w.Header().Set("Content-Range", "bytes */"+strconv.FormatInt(rangeErr.Size, 10))
		}
		writeStorageError(w, r, "Get object", key, err)
		return
	}
	defer obj.Body.Close()

	setObjectHeaders(w, obj.ObjectInfo)
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.End-obj.Start+1, 10))

	status := http.StatusOK
	if obj.Partial() {
		w.Header().Set("Content-Range", storage.ContentRange(obj.Start, obj.End, obj.Size))
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)

	if _, err := io.Copy(w, obj.Body); err != nil {
		slog.Error("Stream object", "key", key, "err", err)
	}
}

// handleHeadObject implements HEAD /key, returning metadata headers
// compatible with S3 but without a response body.
func (s *Server) handleHeadObject(w http.ResponseWriter, r *http.Request, key string) {
	p, ok := s.resolveKey(w, r, key)
	if !ok {
		return
	}

	info, err := s.store.Head(r.Context(), p, parseConditions(r))
	if err != nil {
		if errors.Is(err, storage.ErrNotModified) {
			setObjectHeaders(w, info)
		}
		writeStorageError(w, r, "Head object", key, err)
		return
	}

	setObjectHeaders(w, info)
	w.Header().Set("Content-Type", info.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.WriteHeader(http.StatusOK)
}

// handleDeleteObject implements DELETE /key. Deleting a missing key
// succeeds.
func (s *Server) handleDeleteObject(w http.ResponseWriter, r *http.Request, key string) {
	p, ok := s.resolveKey(w, r, key)
	if !ok {
		return
	}

	if err := s.store.Delete(r.Context(), p); err != nil {
		writeStorageError(w, r, "Delete object", key, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func formatLastModified(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
