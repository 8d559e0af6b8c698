package main

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/eteran/simples3/internal/core"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/require"
)

const bucket = "simple-bucket"

// newConsole starts an S3 server and a console talking to it.
func newConsole(t *testing.T) (*httptest.Server, *minio.Client) {
	t.Helper()

	srv, err := core.NewServer(core.NewConfig(
		core.WithDataDir(t.TempDir()),
		core.WithBucket(bucket),
		core.WithCredentials("mykey", "mysecret"),
	))
	require.NoError(t, err, "NewServer")
	s3 := httptest.NewServer(srv.Handler())
	t.Cleanup(s3.Close)

	u, err := url.Parse(s3.URL)
	require.NoError(t, err, "parse S3 url")
	client, err := minio.New(u.Host, &minio.Options{
		Creds:        credentials.NewStaticV4("mykey", "mysecret", ""),
		Region:       "us-east-1",
		BucketLookup: minio.BucketLookupPath,
	})
	require.NoError(t, err, "minio.New")

	console := &Server{client: client, bucket: bucket}
	handler, err := console.Handler()
	require.NoError(t, err, "Handler")

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts, client
}

func noRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

func TestBrowseShowsFoldersAndObjects(t *testing.T) {
	t.Parallel()

	ts, client := newConsole(t)
	for _, key := range []string{"docs/readme.md", "docs/img/logo.png", "top.txt"} {
		_, err := client.PutObject(t.Context(), bucket, key, strings.NewReader(key), int64(len(key)), minio.PutObjectOptions{})
		require.NoErrorf(t, err, "PutObject %s", key)
	}

	resp, err := http.Get(ts.URL + "/browse/docs/")
	require.NoError(t, err, "GET browse")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "read body")
	page := string(body)
	require.Contains(t, page, `href="/browse/docs/img/"`, "folder")
	require.Contains(t, page, `href="/download/docs/readme.md"`, "object")
	require.NotContains(t, page, "top.txt", "objects outside the prefix")

	client2 := &http.Client{CheckRedirect: noRedirect}
	resp, err = client2.Get(ts.URL + "/browse/docs")
	require.NoError(t, err, "GET browse without slash")
	defer resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/browse/docs/", resp.Header.Get("Location"))
}

func TestUploadDownloadDelete(t *testing.T) {
	t.Parallel()

	ts, client := newConsole(t)
	httpClient := &http.Client{CheckRedirect: noRedirect}

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	require.NoError(t, mw.WriteField("prefix", "notes/"), "prefix field")
	fw, err := mw.CreateFormFile("file", "todo.txt")
	require.NoError(t, err, "file field")
	_, err = fw.Write([]byte("buy milk"))
	require.NoError(t, err, "write file")
	require.NoError(t, mw.Close(), "close form")

	resp, err := httpClient.Post(ts.URL+"/upload", mw.FormDataContentType(), &form)
	require.NoError(t, err, "POST upload")
	resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode, "upload redirects")
	require.Equal(t, "/browse/notes/", resp.Header.Get("Location"))

	stat, err := client.StatObject(t.Context(), bucket, "notes/todo.txt", minio.StatObjectOptions{})
	require.NoError(t, err, "uploaded object exists")
	require.Equal(t, int64(len("buy milk")), stat.Size)

	resp, err = http.Get(ts.URL + "/download/notes/todo.txt")
	require.NoError(t, err, "GET download")
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err, "read download")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "buy milk", string(body))
	require.Equal(t, `attachment; filename="todo.txt"`, resp.Header.Get("Content-Disposition"))

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, ts.URL+"/delete/notes/todo.txt", nil)
	require.NoError(t, err, "build delete request")
	req.Header.Set("HX-Request", "true")
	resp, err = httpClient.Do(req)
	require.NoError(t, err, "POST delete")
	resp.Body.Close()
	require.Equal(t, "/browse/notes/", resp.Header.Get("HX-Redirect"))

	resp, err = http.Get(ts.URL + "/download/notes/todo.txt")
	require.NoError(t, err, "GET deleted download")
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStaticAssets(t *testing.T) {
	t.Parallel()

	ts, _ := newConsole(t)
	resp, err := http.Get(ts.URL + "/static/console.css")
	require.NoError(t, err, "GET static")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
