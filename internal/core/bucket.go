package core

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/eteran/simples3/internal/storage"
)

const encodingTypeURL = "url"

// listParams holds the query parameters shared by both listing APIs.
type listParams struct {
	prefix     string
	delimiter  string
	maxKeys    int
	encodeKeys bool
}

func parseListParams(r *http.Request) (listParams, bool) {
	q := r.URL.Query()
	params := listParams{
		prefix:     q.Get("prefix"),
		delimiter:  q.Get("delimiter"),
		maxKeys:    storage.DefaultMaxKeys,
		encodeKeys: q.Get("encoding-type") == encodingTypeURL,
	}

	if v := q.Get("max-keys"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return listParams{}, false
		}
		params.maxKeys = min(n, storage.MaxListKeys)
	}
	return params, true
}

// encode applies encoding-type=url to a name returned in a listing. Like S3,
// the delimiter "/" is left as is.
func (p listParams) encode(s string) string {
	if p.encodeKeys {
		return strings.ReplaceAll(url.QueryEscape(s), "%2F", "/")
	}
	return s
}

func (p listParams) encodingType() string {
	if p.encodeKeys {
		return encodingTypeURL
	}
	return ""
}

func (p listParams) summaries(result storage.ListResult) ([]ObjectSummary, []CommonPrefix) {
	contents := make([]ObjectSummary, 0, len(result.Objects))
	for _, obj := range result.Objects {
		contents = append(contents, ObjectSummary{
			Key:          p.encode(obj.Key),
			LastModified: formatLastModified(obj.LastModified),
			ETag:         obj.ETag,
			Size:         obj.Size,
			StorageClass: "STANDARD",
		})
	}

	var prefixes []CommonPrefix
	for _, prefix := range result.CommonPrefixes {
		prefixes = append(prefixes, CommonPrefix{Prefix: p.encode(prefix)})
	}
	return contents, prefixes
}

// handleListObjects implements GET /?prefix=&delimiter=&marker=&max-keys=.
func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request) {
	params, ok := parseListParams(r)
	if !ok {
		writeS3Error(w, r, APIError{"InvalidArgument", "Invalid max-keys value.", http.StatusBadRequest})
		return
	}
	marker := r.URL.Query().Get("marker")

	result, err := s.store.List(r.Context(), storage.ListOptions{
		Prefix:    params.prefix,
		Delimiter: params.delimiter,
		Marker:    marker,
		MaxKeys:   params.maxKeys,
	})
	if err != nil {
		writeStorageError(w, r, "List objects", params.prefix, err)
		return
	}

	contents, prefixes := params.summaries(result)
	resp := ListBucketResult{
		XMLNS:          s3XMLNamespace,
		Name:           s.cfg.Bucket,
		Prefix:         params.encode(params.prefix),
		Marker:         params.encode(marker),
		Delimiter:      params.encode(params.delimiter),
		MaxKeys:        params.maxKeys,
		EncodingType:   params.encodingType(),
		IsTruncated:    result.IsTruncated,
		Contents:       contents,
		CommonPrefixes: prefixes,
	}
	if result.IsTruncated {
		resp.NextMarker = params.encode(result.NextMarker)
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode ListBucketResult XML", "err", err)
	}
}

// handleListObjectsV2 implements GET /?list-type=2. The continuation token is
// the marker of the next page, base64url encoded.
func (s *Server) handleListObjectsV2(w http.ResponseWriter, r *http.Request) {
	params, ok := parseListParams(r)
	if !ok {
		writeS3Error(w, r, APIError{"InvalidArgument", "Invalid max-keys value.", http.StatusBadRequest})
		return
	}

	q := r.URL.Query()
	token := q.Get("continuation-token")
	startAfter := q.Get("start-after")

	marker := startAfter
	if token != "" {
		decoded, err := base64.RawURLEncoding.DecodeString(token)
		if err != nil {
			writeS3Error(w, r, APIError{"InvalidArgument", "The continuation token provided is incorrect.", http.StatusBadRequest})
			return
		}
		marker = string(decoded)
	}

	result, err := s.store.List(r.Context(), storage.ListOptions{
		Prefix:    params.prefix,
		Delimiter: params.delimiter,
		Marker:    marker,
		MaxKeys:   params.maxKeys,
	})
	if err != nil {
		writeStorageError(w, r, "List objects", params.prefix, err)
		return
	}

	contents, prefixes := params.summaries(result)
	resp := ListBucketResultV2{
		XMLNS:             s3XMLNamespace,
		Name:              s.cfg.Bucket,
		Prefix:            params.encode(params.prefix),
		Delimiter:         params.encode(params.delimiter),
		KeyCount:          len(contents) + len(prefixes),
		MaxKeys:           params.maxKeys,
		EncodingType:      params.encodingType(),
		IsTruncated:       result.IsTruncated,
		ContinuationToken: token,
		StartAfter:        params.encode(startAfter),
		Contents:          contents,
		CommonPrefixes:    prefixes,
	}
	if result.IsTruncated {
		resp.NextContinuationToken = base64.RawURLEncoding.EncodeToString([]byte(result.NextMarker))
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode ListBucketResult XML", "err", err)
	}
}

// handleGetBucketLocation implements GET /?location.
func (s *Server) handleGetBucketLocation(w http.ResponseWriter, r *http.Request) {
	resp := LocationConstraint{
		XMLNS:  s3XMLNamespace,
		Region: s.cfg.Region,
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode bucket location XML", "err", err)
	}
}
