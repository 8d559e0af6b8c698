package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/eteran/simples3/internal/ui"
)

var (
	//go:embed static
	staticFS embed.FS
)

// maxUploadSize bounds a single console upload; larger files should go
// through an S3 client.
const maxUploadSize = 512 << 20

type Server struct {
	client *minio.Client
	bucket string
}

func (s *Server) Home(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, ui.BrowseURL(""), http.StatusSeeOther)
}

func (s *Server) Browse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	prefix := r.PathValue("prefix")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		http.Redirect(w, r, ui.BrowseURL(prefix+"/"), http.StatusSeeOther)
		return
	}

	listing := ui.Listing{
		Bucket: s.bucket,
		Prefix: prefix,
		Error:  r.URL.Query().Get("error"),
	}

	opts := minio.ListObjectsOptions{
		Recursive: false,
		Prefix:    prefix,
	}

	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			slog.Error("List objects", "bucket", s.bucket, "prefix", prefix, "err", obj.Err)
			listing.Error = fmt.Sprintf("failed to list objects: %v", obj.Err)
			break
		}
		if strings.HasSuffix(obj.Key, "/") {
			listing.Folders = append(listing.Folders, ui.Folder{Prefix: obj.Key})
			continue
		}
		listing.Objects = append(listing.Objects, ui.Object{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}

	if err := ui.BrowsePage(listing).Render(ctx, w); err != nil {
		http.Error(w, fmt.Sprintf("failed to render browse page: %v", err), http.StatusInternalServerError)
		return
	}
}

func (s *Server) Download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := r.PathValue("key")

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to get object: %v", err), http.StatusBadGateway)
		return
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		status := http.StatusBadGateway
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			status = http.StatusNotFound
		}
		http.Error(w, fmt.Sprintf("failed to get object: %v", err), status)
		return
	}

	w.Header().Set("Content-Type", info.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(key)))
	if _, err := io.Copy(w, obj); err != nil {
		slog.Error("Stream object", "key", key, "err", err)
	}
}

func (s *Server) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read upload: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	prefix := r.FormValue("prefix")
	key := prefix + path.Base(header.Filename)

	contentType := header.Header.Get("Content-Type")
	if _, err := s.client.PutObject(ctx, s.bucket, key, file, header.Size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		slog.Error("Upload object", "key", key, "err", err)
		s.redirect(w, r, ui.BrowseURL(prefix)+"?error="+url.QueryEscape("upload failed: "+minio.ToErrorResponse(err).Code))
		return
	}

	slog.Info("Uploaded object", "key", key, "size", header.Size)
	s.redirect(w, r, ui.BrowseURL(prefix))
}

func (s *Server) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := r.PathValue("key")

	prefix := ""
	if i := strings.LastIndex(key, "/"); i >= 0 {
		prefix = key[:i+1]
	}

	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		slog.Error("Delete object", "key", key, "err", err)
		http.Error(w, fmt.Sprintf("failed to delete object: %v", err), http.StatusBadGateway)
		return
	}

	s.redirect(w, r, ui.BrowseURL(prefix))
}

// redirect sends the browser to target, telling htmx to follow it when the
// request came from an htmx attribute.
func (s *Server) redirect(w http.ResponseWriter, r *http.Request, target string) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusSeeOther)
		return
	}

	http.Redirect(w, r, target, http.StatusSeeOther)
}

// Handler returns the console routes.
func (s *Server) Handler() (http.Handler, error) {
	mux := http.NewServeMux()
	// Serve embedded static assets from /static/
	staticContent, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("failed to access embedded static assets: %w", err)
	}

	mux.HandleFunc("GET /{$}", s.Home)
	mux.HandleFunc("GET /browse/{prefix...}", s.Browse)
	mux.HandleFunc("GET /download/{key...}", s.Download)
	mux.HandleFunc("POST /upload", s.Upload)
	mux.HandleFunc("POST /delete/{key...}", s.Delete)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticContent))))
	return mux, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func Run(ctx context.Context) error {

	var (
		HttpPort    = getEnv("SIMPLES3_UI_PORT", "9100")
		S3Endpoint  = getEnv("SIMPLES3_UI_S3_ENDPOINT", "localhost:9000")
		S3AccessKey = getEnv("SIMPLES3_UI_S3_ACCESS_KEY", "mykey")
		S3SecretKey = getEnv("SIMPLES3_UI_S3_SECRET_KEY", "mysecret")
		S3Bucket    = getEnv("SIMPLES3_UI_S3_BUCKET", "simple-bucket")
		S3Region    = getEnv("SIMPLES3_UI_S3_REGION", "us-east-1")
		S3UseSSL    = getEnv("SIMPLES3_UI_S3_SSL", "false") == "true"
	)

	// Logging setup consistent with the main server.
	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           log.DebugLevel,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})
	slog.SetDefault(slog.New(handler))

	client, err := minio.New(S3Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(S3AccessKey, S3SecretKey, ""),
		Secure:       S3UseSSL,
		Region:       S3Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return fmt.Errorf("failed to create S3 client: %w", err)
	}

	server := &Server{
		client: client,
		bucket: S3Bucket,
	}

	mux, err := server.Handler()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + HttpPort,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Starting SimpleS3 UI server", "port", HttpPort, "s3_endpoint", S3Endpoint, "bucket", S3Bucket)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("simples3 UI server failed: %w", err)
	}

	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
