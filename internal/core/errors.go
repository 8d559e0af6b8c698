package core

import (
	"encoding/xml"
	"errors"
	"log/slog"
	"net/http"

	"github.com/eteran/simples3/internal/auth"
	"github.com/eteran/simples3/internal/storage"
)

// APIError is an S3 error code together with its HTTP status.
type APIError struct {
	Code    string
	Message string
	Status  int
}

var (
	ErrAccessDenied          = APIError{"AccessDenied", "Access Denied", http.StatusForbidden}
	ErrInvalidAccessKeyID    = APIError{"InvalidAccessKeyId", "The AWS Access Key Id you provided does not exist in our records.", http.StatusForbidden}
	ErrSignatureDoesNotMatch = APIError{"SignatureDoesNotMatch", "The request signature we calculated does not match the signature you provided.", http.StatusForbidden}
	ErrInvalidArgument       = APIError{"InvalidArgument", "The specified key is not valid.", http.StatusBadRequest}
	ErrNoSuchKey             = APIError{"NoSuchKey", "The specified key does not exist.", http.StatusNotFound}
	ErrNoSuchBucket          = APIError{"NoSuchBucket", "The specified bucket does not exist.", http.StatusNotFound}
	ErrInvalidRange          = APIError{"InvalidRange", "The requested range is not satisfiable.", http.StatusRequestedRangeNotSatisfiable}
	ErrPreconditionFailed    = APIError{"PreconditionFailed", "At least one of the preconditions you specified did not hold.", http.StatusPreconditionFailed}
	ErrNotModified           = APIError{"NotModified", "Not Modified", http.StatusNotModified}
	ErrEntityTooLarge        = APIError{"EntityTooLarge", "Your proposed upload exceeds the maximum allowed object size.", http.StatusRequestEntityTooLarge}
	ErrContentSHA256Mismatch = APIError{"XAmzContentSHA256Mismatch", "The provided 'x-amz-content-sha256' header does not match what was computed.", http.StatusBadRequest}
	ErrKeyConflict           = APIError{"KeyConflict", "The key conflicts with an existing object or prefix.", http.StatusConflict}
	ErrIncompleteBody        = APIError{"IncompleteBody", "The request body could not be decoded.", http.StatusBadRequest}
	ErrMethodNotAllowed      = APIError{"MethodNotAllowed", "The specified method is not allowed against this resource.", http.StatusMethodNotAllowed}
	ErrInternalError         = APIError{"InternalError", "We encountered an internal error. Please try again.", http.StatusInternalServerError}
)

// MapError translates a storage or request error into the S3 error the
// client sees. Unknown errors become InternalError.
func MapError(err error) APIError {
	var maxBytesErr *http.MaxBytesError

	switch {
	case errors.As(err, &maxBytesErr), errors.Is(err, storage.ErrEntityTooLarge):
		return ErrEntityTooLarge
	case errors.Is(err, storage.ErrInvalidKey):
		return ErrInvalidArgument
	case errors.Is(err, storage.ErrNoSuchKey):
		return ErrNoSuchKey
	case errors.Is(err, storage.ErrInvalidRange):
		return ErrInvalidRange
	case errors.Is(err, storage.ErrPreconditionFailed):
		return ErrPreconditionFailed
	case errors.Is(err, storage.ErrNotModified):
		return ErrNotModified
	case errors.Is(err, storage.ErrContentSHA256Mismatch):
		return ErrContentSHA256Mismatch
	case errors.Is(err, storage.ErrKeyConflict):
		return ErrKeyConflict
	case errors.Is(err, ErrMalformedChunk):
		return ErrIncompleteBody
	default:
		return ErrInternalError
	}
}

func authError(reason auth.Reason) APIError {
	switch reason {
	case auth.InvalidAccessKey:
		return ErrInvalidAccessKeyID
	case auth.SignatureMismatch:
		return ErrSignatureDoesNotMatch
	default:
		return ErrAccessDenied
	}
}

// writeS3Error writes a minimal S3-style XML error response. HEAD responses
// and 304 carry the status only.
func writeS3Error(w http.ResponseWriter, r *http.Request, apiErr APIError) {
	if r.Method == http.MethodHead || apiErr.Status == http.StatusNotModified {
		w.WriteHeader(apiErr.Status)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(apiErr.Status)
	_ = xml.NewEncoder(w).Encode(S3Error{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Resource:  r.URL.Path,
		RequestID: w.Header().Get(RequestIDHeader),
	})
}

// writeStorageError maps err and writes it. Errors that map to
// InternalError are logged, since the client only sees a generic message.
func writeStorageError(w http.ResponseWriter, r *http.Request, op string, key string, err error) {
	apiErr := MapError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		slog.Error(op, "key", key, "err", err)
	}
	writeS3Error(w, r, apiErr)
}

// writeXMLResponse encodes v as XML and writes it to w with a 200 OK status.
func writeXMLResponse(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(xml.Header)); err != nil {
		return err
	}
	return xml.NewEncoder(w).Encode(v)
}
