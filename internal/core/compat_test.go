package core_test

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/require"
)

func newMinioClient(t *testing.T, endpoint string) *minio.Client {
	t.Helper()

	u, err := url.Parse(endpoint)
	require.NoError(t, err, "parse endpoint")

	client, err := minio.New(u.Host, &minio.Options{
		Creds:        miniocreds.NewStaticV4(AccessKeyID, SecretAccessKey, ""),
		Secure:       false,
		Region:       "us-east-1",
		BucketLookup: minio.BucketLookupPath,
	})
	require.NoError(t, err, "create minio client")
	return client
}

func newAWSClient(endpoint string) *s3.Client {
	return s3.New(s3.Options{
		Region:                     "us-east-1",
		BaseEndpoint:               aws.String(endpoint),
		UsePathStyle:               true,
		Credentials:                credentials.NewStaticCredentialsProvider(AccessKeyID, SecretAccessKey, ""),
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})
}

func TestMinioClientRoundTrip(t *testing.T) {
	t.Parallel()

	_, httpSrv, _ := NewTestServer(t)
	client := newMinioClient(t, httpSrv.URL)
	ctx := t.Context()

	exists, err := client.BucketExists(ctx, Bucket)
	require.NoError(t, err, "BucketExists")
	require.True(t, exists, "bucket exists")

	body := []byte("hello from minio")
	info, err := client.PutObject(ctx, Bucket, "docs/readme.txt", bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "text/plain",
	})
	require.NoError(t, err, "PutObject")
	require.Equal(t, strings.Trim(sha256ETag(body), `"`), info.ETag, "PutObject ETag")

	for _, key := range []string{"docs/guide/intro.md", "top.bin"} {
		_, err := client.PutObject(ctx, Bucket, key, strings.NewReader(key), int64(len(key)), minio.PutObjectOptions{})
		require.NoErrorf(t, err, "PutObject %s", key)
	}

	stat, err := client.StatObject(ctx, Bucket, "docs/readme.txt", minio.StatObjectOptions{})
	require.NoError(t, err, "StatObject")
	require.Equal(t, int64(len(body)), stat.Size, "StatObject size")
	require.Equal(t, "text/plain", stat.ContentType, "StatObject content type")

	obj, err := client.GetObject(ctx, Bucket, "docs/readme.txt", minio.GetObjectOptions{})
	require.NoError(t, err, "GetObject")
	data, err := io.ReadAll(obj)
	require.NoError(t, err, "read object")
	require.NoError(t, obj.Close(), "close object")
	require.Equal(t, body, data, "GetObject body")

	opts := minio.GetObjectOptions{}
	require.NoError(t, opts.SetRange(6, 9), "SetRange")
	obj, err = client.GetObject(ctx, Bucket, "docs/readme.txt", opts)
	require.NoError(t, err, "ranged GetObject")
	data, err = io.ReadAll(obj)
	require.NoError(t, err, "read ranged object")
	require.NoError(t, obj.Close(), "close ranged object")
	require.Equal(t, "from", string(data), "ranged body")

	for _, useV1 := range []bool{false, true} {
		var keys []string
		for entry := range client.ListObjects(ctx, Bucket, minio.ListObjectsOptions{Prefix: "docs/", UseV1: useV1}) {
			require.NoError(t, entry.Err, "ListObjects entry")
			keys = append(keys, entry.Key)
		}
		slices.Sort(keys)
		require.Equalf(t, []string{"docs/guide/", "docs/readme.txt"}, keys, "delimited listing (v1=%v)", useV1)

		keys = nil
		for entry := range client.ListObjects(ctx, Bucket, minio.ListObjectsOptions{Recursive: true, MaxKeys: 1, UseV1: useV1}) {
			require.NoError(t, entry.Err, "ListObjects entry")
			keys = append(keys, entry.Key)
		}
		require.Equalf(t, []string{"docs/guide/intro.md", "docs/readme.txt", "top.bin"}, keys, "paginated recursive listing (v1=%v)", useV1)
	}

	require.NoError(t, client.RemoveObject(ctx, Bucket, "docs/readme.txt", minio.RemoveObjectOptions{}), "RemoveObject")

	_, err = client.StatObject(ctx, Bucket, "docs/readme.txt", minio.StatObjectOptions{})
	require.Error(t, err, "StatObject after remove")
	require.Equal(t, "NoSuchKey", minio.ToErrorResponse(err).Code, "error code after remove")
}

func TestMinioClientWrongSecret(t *testing.T) {
	t.Parallel()

	_, httpSrv, _ := NewTestServer(t)

	u, err := url.Parse(httpSrv.URL)
	require.NoError(t, err, "parse endpoint")
	client, err := minio.New(u.Host, &minio.Options{
		Creds:        miniocreds.NewStaticV4(AccessKeyID, "not-the-secret", ""),
		Region:       "us-east-1",
		BucketLookup: minio.BucketLookupPath,
	})
	require.NoError(t, err, "create minio client")

	_, err = client.PutObject(t.Context(), Bucket, "x", strings.NewReader("x"), 1, minio.PutObjectOptions{})
	require.Error(t, err, "PutObject with a wrong secret")
	require.Equal(t, "SignatureDoesNotMatch", minio.ToErrorResponse(err).Code, "error code")
}

func TestAWSClientRoundTrip(t *testing.T) {
	t.Parallel()

	_, httpSrv, _ := NewTestServer(t)
	client := newAWSClient(httpSrv.URL)
	ctx := t.Context()

	body := []byte("hello from the aws sdk")
	put, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(Bucket),
		Key:         aws.String("reports/2024/q1.csv"),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("text/csv"),
	})
	require.NoError(t, err, "PutObject")
	require.Equal(t, sha256ETag(body), aws.ToString(put.ETag), "PutObject ETag")

	for _, key := range []string{"reports/2024/q2.csv", "reports/summary.txt", "zeta"} {
		_, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(Bucket),
			Key:    aws.String(key),
			Body:   strings.NewReader(key),
		})
		require.NoErrorf(t, err, "PutObject %s", key)
	}

	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(Bucket),
		Key:    aws.String("reports/2024/q1.csv"),
	})
	require.NoError(t, err, "HeadObject")
	require.Equal(t, int64(len(body)), aws.ToInt64(head.ContentLength), "HeadObject length")
	require.Equal(t, "text/csv", aws.ToString(head.ContentType), "HeadObject content type")

	get, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(Bucket),
		Key:    aws.String("reports/2024/q1.csv"),
		Range:  aws.String("bytes=0-4"),
	})
	require.NoError(t, err, "GetObject")
	data, err := io.ReadAll(get.Body)
	require.NoError(t, err, "read object")
	require.NoError(t, get.Body.Close(), "close object")
	require.Equal(t, "hello", string(data), "ranged body")
	require.Equal(t, "bytes 0-4/22", aws.ToString(get.ContentRange), "Content-Range")

	var (
		keys     []string
		prefixes []string
	)
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(Bucket),
		Prefix:    aws.String("reports/"),
		Delimiter: aws.String("/"),
		MaxKeys:   aws.Int32(1),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		require.NoError(t, err, "ListObjectsV2 page")
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		for _, cp := range page.CommonPrefixes {
			prefixes = append(prefixes, aws.ToString(cp.Prefix))
		}
	}
	require.Equal(t, []string{"reports/summary.txt"}, keys, "listed keys")
	require.Equal(t, []string{"reports/2024/"}, prefixes, "listed prefixes")

	list, err := client.ListObjects(ctx, &s3.ListObjectsInput{Bucket: aws.String(Bucket)})
	require.NoError(t, err, "ListObjects")
	var all []string
	for _, obj := range list.Contents {
		all = append(all, aws.ToString(obj.Key))
	}
	require.True(t, slices.IsSorted(all), "keys sorted")
	require.Len(t, all, 4, "every object listed")

	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(Bucket),
		Key:    aws.String("reports/2024/q1.csv"),
	})
	require.NoError(t, err, "DeleteObject")

	_, err = client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(Bucket),
		Key:    aws.String("reports/2024/q1.csv"),
	})
	var noSuchKey *types.NoSuchKey
	require.True(t, errors.As(err, &noSuchKey), "GetObject after delete is NoSuchKey: %v", err)
}

func TestPresignedURLs(t *testing.T) {
	t.Parallel()

	_, httpSrv, _ := NewTestServer(t)
	client := newMinioClient(t, httpSrv.URL)
	ctx := t.Context()

	putURL, err := client.PresignedPutObject(ctx, Bucket, "shared/upload.txt", 5*time.Minute)
	require.NoError(t, err, "PresignedPutObject")

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, putURL.String(), strings.NewReader("uploaded via presigned url"))
	require.NoError(t, err, "build presigned PUT")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err, "presigned PUT")
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "presigned PUT status")

	getURL, err := client.PresignedGetObject(ctx, Bucket, "shared/upload.txt", 5*time.Minute, nil)
	require.NoError(t, err, "PresignedGetObject")

	resp, err = http.Get(getURL.String())
	require.NoError(t, err, "presigned GET")
	require.Equal(t, http.StatusOK, resp.StatusCode, "presigned GET status")
	require.Equal(t, "uploaded via presigned url", ReadBody(t, resp), "presigned GET body")
	resp.Body.Close()

	presigner := s3.NewPresignClient(newAWSClient(httpSrv.URL))
	signed, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(Bucket),
		Key:    aws.String("shared/upload.txt"),
	})
	require.NoError(t, err, "PresignGetObject")

	req, err = http.NewRequestWithContext(ctx, signed.Method, signed.URL, nil)
	require.NoError(t, err, "build aws presigned GET")
	for name, values := range signed.SignedHeader {
		if !strings.EqualFold(name, "Host") {
			req.Header[name] = values
		}
	}
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err, "aws presigned GET")
	require.Equal(t, http.StatusOK, resp.StatusCode, "aws presigned GET status")
	require.Equal(t, "uploaded via presigned url", ReadBody(t, resp), "aws presigned GET body")
	resp.Body.Close()

	tampered, err := url.Parse(getURL.String())
	require.NoError(t, err, "parse presigned URL")
	tampered.Path = "/" + Bucket + "/shared/other.txt"

	resp, err = http.Get(tampered.String())
	require.NoError(t, err, "tampered presigned GET")
	require.Equal(t, http.StatusForbidden, resp.StatusCode, "tampered presigned GET status")
	require.Equal(t, "SignatureDoesNotMatch", DecodeS3Error(t, resp.Body).Code, "tampered presigned GET code")
	resp.Body.Close()
}
