package core

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/eteran/simples3/internal/auth"

	"github.com/google/uuid"
)

const (
	ServerName      = "SimpleS3/1.0"
	RequestIDHeader = "X-Amz-Request-Id"
)

const redacted = "[REDACTED]"

// ResponseWriterWrapper is a wrapper around the default http.ResponseWriter.
// It intercepts the WriteHeader call and saves the response status code.
type ResponseWriterWrapper struct {
	http.ResponseWriter
	WrittenResponseCode int
}

// WriteHeader intercepts the status code and stores it, then calls the underlying WriteHeader.
func (w *ResponseWriterWrapper) WriteHeader(statusCode int) {
	w.WrittenResponseCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Write calls the underlying ResponseWriter's Write method.
func (w *ResponseWriterWrapper) Write(b []byte) (int, error) {
	if w.WrittenResponseCode == 0 {
		w.WrittenResponseCode = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *ResponseWriterWrapper) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

type LogEntry struct {
	IP         string
	AccessKey  string
	Method     string
	URL        string
	Proto      string
	RequestID  string
	DurationMS float64
	StatusCode int
}

func (e LogEntry) User() slog.Attr {
	if e.AccessKey == "" {
		return slog.Group("user", "ip", e.IP)
	}
	return slog.Group("user", "ip", e.IP, "access_key", e.AccessKey)
}

func (e LogEntry) Request() slog.Attr {
	return slog.Group("request",
		"id", e.RequestID,
		"proto", e.Proto,
		"method", e.Method,
		"url", e.URL,
		"duration_ms", e.DurationMS,
		"status_code", e.StatusCode,
	)
}

// redactURL hides the secret of query-string credentials and the signature
// of presigned URLs.
func redactURL(u *url.URL) string {
	q := u.Query()
	changed := false
	for _, name := range []string{auth.SecretKeyParam, auth.AmzSignatureParam} {
		if q.Has(name) {
			q.Set(name, redacted)
			changed = true
		}
	}
	if !changed {
		return u.String()
	}

	clone := *u
	clone.RawQuery = q.Encode()
	return clone.String()
}

// LogRequest is middleware that logs incoming HTTP requests.
func LogRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		entry := LogEntry{
			IP:        r.RemoteAddr,
			Method:    r.Method,
			URL:       redactURL(r.URL),
			Proto:     r.Proto,
			RequestID: w.Header().Get(RequestIDHeader),
		}

		writer := ResponseWriterWrapper{ResponseWriter: w}
		r = withUserSlot(r)

		start := time.Now()
		next.ServeHTTP(&writer, r)
		elapsed := time.Since(start).Nanoseconds()

		entry.DurationMS = float64(elapsed) / float64(time.Millisecond)
		entry.StatusCode = writer.WrittenResponseCode
		if user := UserFromContext(r.Context()); user != nil {
			entry.AccessKey = user.AccessKeyID
		}

		switch {
		case writer.WrittenResponseCode >= 500:
			slog.Error("Request", entry.User(), entry.Request())
		case writer.WrittenResponseCode >= 400:
			slog.Warn("Request", entry.User(), entry.Request())
		default:
			slog.Info("Request", entry.User(), entry.Request())
		}

		if slog.Default().Enabled(r.Context(), slog.LevelDebug) {
			var headerAttrs []any
			for key, values := range r.Header {
				for _, value := range values {
					switch http.CanonicalHeaderKey(key) {
					case "Authorization", "Cookie", http.CanonicalHeaderKey(auth.SecretKeyHeader):
						value = redacted
					}
					headerAttrs = append(headerAttrs, slog.String(key, value))
				}
			}

			slog.Debug("Request Headers", slog.Group("headers", headerAttrs...))
		}
	})
}

// RequestID stamps every response with the server name and a fresh request
// id, before any other middleware can write an error.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", ServerName)
		w.Header().Set(RequestIDHeader, uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

// RequireAuthentication is middleware that enforces authentication for S3 API
// requests. Nothing behind it runs for a rejected request.
func (s *Server) RequireAuthentication(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := s.validator.Authorize(r.Context(), r)
		if !decision.Authorized {
			slog.Warn("Reject request", "reason", decision.Reason.String(), "method", r.Method, "path", r.URL.Path)
			if s.cfg.AuthObserver != nil {
				s.cfg.AuthObserver.AuthRejected(decision.Reason.String())
			}
			writeS3Error(w, r, authError(decision.Reason))
			return
		}

		r = withUserSlot(r)
		r.Context().Value(userKey{}).(*userSlot).user = decision.User
		next.ServeHTTP(w, r)
	})
}

type userKey struct{}

// userSlot is filled in by RequireAuthentication. Middleware that runs
// before it, such as LogRequest, installs the slot so it can read the user
// once the request has been served.
type userSlot struct {
	user *auth.User
}

func withUserSlot(r *http.Request) *http.Request {
	if _, ok := r.Context().Value(userKey{}).(*userSlot); ok {
		return r
	}
	return r.WithContext(context.WithValue(r.Context(), userKey{}, &userSlot{}))
}

// UserFromContext returns the user authenticated for the request, if any.
func UserFromContext(ctx context.Context) *auth.User {
	if slot, ok := ctx.Value(userKey{}).(*userSlot); ok {
		return slot.user
	}
	return nil
}

func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					// we don't recover http.ErrAbortHandler so the response
					// to the client is aborted, this should not be logged
					panic(rvr)
				}

				slog.Error("Internal Error in HTTP handler", "error", rvr, "path", r.URL.Path)

				if r.Header.Get("Connection") != "Upgrade" {
					writeS3Error(w, r, ErrInternalError)
				}
			}
		}()

		next.ServeHTTP(w, r)
	})
}
