package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxObjectSize int64 = 5 << 30
	DefaultContentType         = "application/octet-stream"
)

var tracer = otel.Tracer("github.com/eteran/simples3/internal/storage")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

// Object is an open object returned by Get. Start and End are the inclusive
// offsets served by Body.
type Object struct {
	ObjectInfo
	Body  io.ReadCloser
	Start int64
	End   int64
}

// Partial reports whether the object body covers less than the whole object.
func (o *Object) Partial() bool {
	return o.Start != 0 || o.End != o.Size-1
}

type PutOptions struct {
	// ContentType is stored with the object. When empty it is guessed from
	// the key's extension.
	ContentType string

	// ExpectedSHA256 is the hex digest the client announced for the body.
	// Values that are not a hex digest (such as UNSIGNED-PAYLOAD) are ignored.
	ExpectedSHA256 string
}

type GetOptions struct {
	Range      *ByteRange
	Conditions *Conditions
}

// Observer receives one call per completed store operation.
type Observer interface {
	Observe(op string, bytes int64, err error, dur time.Duration)
}

type StoreOption func(*Store)

func WithMaxObjectSize(size int64) StoreOption {
	return func(s *Store) {
		if size > 0 {
			s.maxObjectSize = size
		}
	}
}

func WithObserver(observer Observer) StoreOption {
	return func(s *Store) {
		s.observer = observer
	}
}

// Store keeps objects as plain files below the bucket directory, with a JSON
// sidecar per content version next to each one. It holds no state shared between requests: the
// atomic rename of a fully written temp file is the only serialization point
// between concurrent writers and readers.
type Store struct {
	mapper        *Mapper
	maxObjectSize int64
	observer      Observer
}

// NewStore creates the bucket directory if needed and returns a Store for it.
func NewStore(mapper *Mapper, opts ...StoreOption) (*Store, error) {
	s := &Store{
		mapper:        mapper,
		maxObjectSize: DefaultMaxObjectSize,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(mapper.Root(), 0o755); err != nil {
		return nil, fmt.Errorf("create bucket directory: %w", err)
	}
	return s, nil
}

// Mapper returns the mapper used to resolve keys for this store.
func (s *Store) Mapper() *Mapper {
	return s.mapper
}

func (s *Store) start(ctx context.Context, op string, key string) (context.Context, trace.Span, time.Time) {
	ctx, span := tracer.Start(ctx, "storage."+op, trace.WithAttributes(attribute.String("s3.key", key)))
	return ctx, span, time.Now()
}

func (s *Store) finish(span trace.Span, op string, start time.Time, n int64, err error) {
	if err != nil && !isClientError(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Int64("s3.bytes", n))
	span.End()

	if s.observer != nil {
		s.observer.Observe(op, n, err, time.Since(start))
	}
}

// Put stores body under p. The content is written to a temp file in the
// destination directory and hashed while it is written. The sidecar of the
// new version is written next, and the content is renamed into place last:
// that rename publishes the content and its metadata together.
func (s *Store) Put(ctx context.Context, p ObjectPath, body io.Reader, opts PutOptions) (info ObjectInfo, err error) {
	ctx, span, start := s.start(ctx, "put", p.Key())
	defer func() { s.finish(span, "put", start, info.Size, err) }()

	if !p.valid() {
		return ObjectInfo{}, ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}

	tmp, err := createTemp(p.Dir())
	if err != nil {
		return ObjectInfo{}, err
	}

	var (
		committed bool
		versionID string
	)
	defer func() {
		if committed {
			return
		}
		_ = tmp.Close()
		if rmErr := os.Remove(tmp.Name()); rmErr != nil && !os.IsNotExist(rmErr) {
			slog.Debug("Remove temp upload file", "key", p.Key(), "err", rmErr)
		}
		if versionID != "" {
			_ = removeSidecar(p, versionID)
		}
	}()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), io.LimitReader(body, s.maxObjectSize+1))
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("write object payload: %w", err)
	}
	if n > s.maxObjectSize {
		return ObjectInfo{}, ErrEntityTooLarge
	}

	sum := hex.EncodeToString(h.Sum(nil))
	if expected := strings.ToLower(opts.ExpectedSHA256); isSHA256Hex(expected) && expected != sum {
		return ObjectInfo{}, ErrContentSHA256Mismatch
	}

	if err := tmp.Chmod(0o644); err != nil {
		return ObjectInfo{}, fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return ObjectInfo{}, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return ObjectInfo{}, fmt.Errorf("close temp file: %w", err)
	}

	fi, err := os.Stat(tmp.Name())
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("stat temp file: %w", err)
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = ContentTypeFor(p.Key())
	}

	info = ObjectInfo{
		Key:          p.Key(),
		Size:         n,
		ContentType:  contentType,
		ETag:         QuoteETag(sum),
		LastModified: fi.ModTime().UTC(),
	}

	// The rename keeps the temp file's inode and mtime, so the sidecar
	// written for the temp file describes the object it turns into.
	id := fileID(fi)
	if err := writeSidecar(p, id, sidecar{
		Key:          info.Key,
		ContentType:  info.ContentType,
		Size:         info.Size,
		ETag:         info.ETag,
		LastModified: info.LastModified,
		ModTimeNs:    fi.ModTime().UnixNano(),
	}); err != nil {
		return ObjectInfo{}, err
	}
	versionID = id

	old, err := os.Lstat(p.Path())
	if err != nil || !old.Mode().IsRegular() {
		old = nil
	}

	if err := ReplaceFile(tmp.Name(), p.Path()); err != nil {
		return ObjectInfo{}, err
	}
	committed = true

	if old != nil && fileID(old) != id {
		if err := removeSidecarOf(p, old); err != nil {
			slog.Debug("Remove replaced sidecar", "key", p.Key(), "err", err)
		}
	}

	if err := SyncDir(p.Dir()); err != nil {
		slog.Debug("Sync object directory", "key", p.Key(), "err", err)
	}

	return info, nil
}

// Get opens the object at p. When the conditions fail or the range cannot be
// satisfied the returned Object carries the metadata but no Body, along with
// ErrNotModified, ErrPreconditionFailed or a *RangeError.
func (s *Store) Get(ctx context.Context, p ObjectPath, opts GetOptions) (obj *Object, err error) {
	_, span, start := s.start(ctx, "get", p.Key())
	defer func() {
		var n int64
		if obj != nil && obj.Body != nil {
			n = obj.End - obj.Start + 1
		}
		s.finish(span, "get", start, n, err)
	}()

	f, fi, err := s.open(p)
	if err != nil {
		return nil, err
	}

	info, err := s.describe(p, fi, f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	obj = &Object{ObjectInfo: info, Start: 0, End: info.Size - 1}

	if err := opts.Conditions.Check(info); err != nil {
		_ = f.Close()
		return obj, err
	}

	if opts.Range != nil {
		first, last, err := opts.Range.Resolve(info.Size)
		if err != nil {
			_ = f.Close()
			return obj, &RangeError{Size: info.Size}
		}
		obj.Start, obj.End = first, last
	}

	obj.Body = &sectionReadCloser{
		SectionReader: io.NewSectionReader(f, obj.Start, obj.End-obj.Start+1),
		closer:        f,
	}
	return obj, nil
}

// Head returns the metadata of the object at p. Like Get it returns the
// metadata alongside ErrNotModified or ErrPreconditionFailed.
func (s *Store) Head(ctx context.Context, p ObjectPath, cond *Conditions) (info ObjectInfo, err error) {
	_, span, start := s.start(ctx, "head", p.Key())
	defer func() { s.finish(span, "head", start, 0, err) }()

	f, fi, err := s.open(p)
	if err != nil {
		return ObjectInfo{}, err
	}
	defer f.Close()

	info, err = s.describe(p, fi, f)
	if err != nil {
		return ObjectInfo{}, err
	}
	return info, cond.Check(info)
}

// Delete removes the object content and its sidecar, pruning parent
// directories left empty. The content is first renamed to a temp name, so the
// version removed is known exactly even when a Put replaces the object
// concurrently. Deleting a missing key succeeds.
func (s *Store) Delete(ctx context.Context, p ObjectPath) (err error) {
	_, span, start := s.start(ctx, "delete", p.Key())
	defer func() { s.finish(span, "delete", start, 0, err) }()

	if !p.valid() {
		return ErrInvalidKey
	}

	fi, err := os.Lstat(p.Path())
	switch {
	case isMissing(err):
		return nil
	case err != nil:
		return fmt.Errorf("stat object: %w", err)
	case fi.IsDir():
		// A directory is a prefix of other keys, never an object.
		return nil
	}

	claimed, err := claimForDelete(p)
	if err != nil || claimed == "" {
		return err
	}

	// The sidecar goes first: while the claimed file exists its inode can
	// not be handed to a new upload.
	cfi, err := os.Lstat(claimed)
	if err != nil {
		return fmt.Errorf("stat removed object: %w", err)
	}
	if err := removeSidecar(p, fileID(cfi)); err != nil {
		return fmt.Errorf("remove sidecar: %w", err)
	}
	if err := os.Remove(claimed); err != nil && !isMissing(err) {
		return fmt.Errorf("remove object: %w", err)
	}

	keep := ""
	if cur, err := os.Lstat(p.Path()); err == nil {
		keep = fileID(cur)
	}
	sweepSidecars(p, keep)

	pruneEmptyDirs(p.Dir(), s.mapper.Root())
	return nil
}

// claimForDelete moves the content of p to a fresh temp name in the same
// directory and returns that name. It returns "" when there is nothing to
// delete any more.
func claimForDelete(p ObjectPath) (string, error) {
	tmp, err := os.CreateTemp(p.Dir(), tempPattern)
	if isMissing(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	_ = tmp.Close()

	if err := os.Rename(p.Path(), tmp.Name()); err != nil {
		_ = os.Remove(tmp.Name())
		if isMissing(err) || isConflict(err) {
			return "", nil
		}
		return "", fmt.Errorf("claim object: %w", err)
	}
	return tmp.Name(), nil
}

func (s *Store) open(p ObjectPath) (*os.File, os.FileInfo, error) {
	if !p.valid() {
		return nil, nil, ErrInvalidKey
	}

	f, err := os.Open(p.Path())
	if isMissing(err) {
		return nil, nil, ErrNoSuchKey
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open object: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("stat object: %w", err)
	}
	if !fi.Mode().IsRegular() {
		_ = f.Close()
		return nil, nil, ErrNoSuchKey
	}
	return f, fi, nil
}

// describe builds the metadata for the content file described by fi. The
// sidecar of that version is used when it matches the file; otherwise (a file
// placed or edited by hand) the metadata is derived from the file itself. f may be nil, in which case the file is opened on demand.
func (s *Store) describe(p ObjectPath, fi os.FileInfo, f *os.File) (ObjectInfo, error) {
	meta, err := readSidecar(p, fileID(fi))
	if err == nil && meta.describes(fi) {
		return ObjectInfo{
			Key:          p.Key(),
			Size:         fi.Size(),
			ContentType:  meta.ContentType,
			ETag:         meta.ETag,
			LastModified: fi.ModTime().UTC(),
		}, nil
	}
	if err != nil && !isMissing(err) {
		slog.Warn("Read object sidecar", "key", p.Key(), "err", err)
	}

	etag, err := hashContent(p, f)
	if err != nil {
		return ObjectInfo{}, err
	}

	return ObjectInfo{
		Key:          p.Key(),
		Size:         fi.Size(),
		ContentType:  ContentTypeFor(p.Key()),
		ETag:         etag,
		LastModified: fi.ModTime().UTC(),
	}, nil
}

func hashContent(p ObjectPath, f *os.File) (string, error) {
	if f == nil {
		opened, err := os.Open(p.Path())
		if isMissing(err) {
			return "", ErrNoSuchKey
		}
		if err != nil {
			return "", fmt.Errorf("open object: %w", err)
		}
		defer opened.Close()
		f = opened
	}

	h := sha256.New()
	if _, err := io.Copy(h, io.NewSectionReader(f, 0, 1<<62)); err != nil {
		return "", fmt.Errorf("hash object: %w", err)
	}
	return QuoteETag(hex.EncodeToString(h.Sum(nil))), nil
}

type sectionReadCloser struct {
	*io.SectionReader
	closer io.Closer
}

func (r *sectionReadCloser) Close() error {
	return r.closer.Close()
}

// QuoteETag wraps a hex digest in the double quotes S3 uses for entity tags.
func QuoteETag(hashHex string) string {
	return `"` + hashHex + `"`
}

// ContentTypeFor guesses a content type from the key's extension.
func ContentTypeFor(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return DefaultContentType
}

func isSHA256Hex(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func isMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

func isClientError(err error) bool {
	return errors.Is(err, ErrNoSuchKey) ||
		errors.Is(err, ErrInvalidKey) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrNotModified) ||
		errors.Is(err, ErrPreconditionFailed) ||
		errors.Is(err, ErrEntityTooLarge) ||
		errors.Is(err, ErrContentSHA256Mismatch) ||
		errors.Is(err, ErrKeyConflict)
}
