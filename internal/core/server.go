package core

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/eteran/simples3/internal/auth"
	"github.com/eteran/simples3/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

var bucketNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*[a-z0-9]$`)

// Server serves one bucket over a minimal S3-compatible HTTP API.
type Server struct {
	cfg       Config
	store     *storage.Store
	validator *auth.Validator
}

// NewServer validates cfg, creates the bucket directory and returns a Server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("DataDir must not be empty")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if !IsValidBucketName(cfg.Bucket) {
		return nil, fmt.Errorf("invalid bucket name %q", cfg.Bucket)
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.MaxObjectSize <= 0 {
		cfg.MaxObjectSize = storage.DefaultMaxObjectSize
	}

	validator := cfg.Validator
	if validator == nil {
		if cfg.Credentials.AccessKeyID == "" || cfg.Credentials.SecretAccessKey == "" {
			return nil, errors.New("access key and secret key must not be empty")
		}
		validator = auth.NewDefaultValidator(cfg.Credentials)
	}

	opts := []storage.StoreOption{storage.WithMaxObjectSize(cfg.MaxObjectSize)}
	if cfg.StorageObserver != nil {
		opts = append(opts, storage.WithObserver(cfg.StorageObserver))
	}

	store, err := storage.NewStore(storage.NewMapper(cfg.DataDir, cfg.Bucket), opts...)
	if err != nil {
		return nil, err
	}

	return &Server{cfg: cfg, store: store, validator: validator}, nil
}

// Bucket returns the name of the bucket this server exposes.
func (s *Server) Bucket() string {
	return s.cfg.Bucket
}

// Handler returns an http.Handler implementing the S3 API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID, LogRequest, Recoverer)
	r.Use(s.cfg.Middlewares...)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"ETag", "Content-Length", "Content-Range", "Last-Modified", RequestIDHeader},
		MaxAge:         300,
	}))
	r.Use(s.RequireAuthentication)

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeS3Error(w, r, ErrMethodNotAllowed)
	})

	r.Get("/*", s.handleGet)
	r.Head("/*", s.handleHead)
	r.Put("/*", s.handlePut)
	r.Delete("/*", s.handleDelete)

	return r
}

// target is what a request path addresses: either the bucket itself, or one
// object key.
type target struct {
	key         string
	bucketLevel bool
	bucket      string
}

// bucketSubresources mark a single-segment path as addressing a bucket
// rather than an object.
var bucketSubresources = []string{"location", "list-type"}

// resolveTarget interprets the request path. "/<key>" addresses an object
// directly. Path-style clients send "/<bucket>/<key>", so a leading segment
// equal to the bucket name is stripped; "/", "/<bucket>" and "/<bucket>/"
// address the bucket.
func (s *Server) resolveTarget(r *http.Request) target {
	p := strings.TrimPrefix(r.URL.Path, "/")
	if p == "" {
		return target{bucketLevel: true, bucket: s.cfg.Bucket}
	}

	first, rest, hasSlash := strings.Cut(p, "/")
	if first == s.cfg.Bucket {
		if rest == "" {
			return target{bucketLevel: true, bucket: first}
		}
		return target{key: rest}
	}

	if rest == "" {
		q := r.URL.Query()
		for _, sub := range bucketSubresources {
			if q.Has(sub) {
				return target{bucketLevel: true, bucket: first}
			}
		}
		if hasSlash && r.Method == http.MethodGet {
			return target{bucketLevel: true, bucket: first}
		}
	}

	return target{key: p}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	t := s.resolveTarget(r)
	if !t.bucketLevel {
		s.handleGetObject(w, r, t.key)
		return
	}
	if t.bucket != s.cfg.Bucket {
		writeS3Error(w, r, ErrNoSuchBucket)
		return
	}

	q := r.URL.Query()
	switch {
	case q.Has("location"):
		s.handleGetBucketLocation(w, r)
	case q.Get("list-type") == "2":
		s.handleListObjectsV2(w, r)
	default:
		s.handleListObjects(w, r)
	}
}

func (s *Server) handleHead(w http.ResponseWriter, r *http.Request) {
	t := s.resolveTarget(r)
	if !t.bucketLevel {
		s.handleHeadObject(w, r, t.key)
		return
	}
	if t.bucket != s.cfg.Bucket {
		writeS3Error(w, r, ErrNoSuchBucket)
		return
	}

	w.Header().Set("X-Amz-Bucket-Region", s.cfg.Region)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	t := s.resolveTarget(r)
	if t.bucketLevel {
		writeS3Error(w, r, ErrMethodNotAllowed)
		return
	}
	s.handlePutObject(w, r, t.key)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	t := s.resolveTarget(r)
	if t.bucketLevel {
		writeS3Error(w, r, ErrMethodNotAllowed)
		return
	}
	s.handleDeleteObject(w, r, t.key)
}

// IsValidBucketName implements the standard S3 bucket naming rules for
// "virtual hosted-style" buckets.
func IsValidBucketName(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}

	// Must consist only of lowercase letters, digits, dots, or hyphens,
	// and must start and end with a letter or digit.
	if !bucketNamePattern.MatchString(name) {
		return false
	}

	// Disallow patterns like "..", ".-", "-.".
	if strings.Contains(name, "..") {
		return false
	}

	for i := 1; i < len(name); i++ {
		if (name[i-1] == '.' && name[i] == '-') || (name[i-1] == '-' && name[i] == '.') {
			return false
		}
	}

	// Bucket name must not be formatted as an IPv4 address.
	return net.ParseIP(name) == nil
}
