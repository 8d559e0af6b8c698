package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// getenv returns the value of the environment variable named by key or
// fallback if the variable is not present.
func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

const (
	ObjectName      = "example.txt"
	ObjectContent   = "Hello from the SimpleS3 example!\n"
	NestedObject    = "home/eteran/documents/report.txt"
	NestedContent   = "Quarterly numbers: 0123456789\n"
	CleanupPrefix   = "home/"
	RangeStart      = 19
	RangeEnd        = 28
	DownloadPattern = "downloaded_*"
)

// CheckBucket confirms the server answers for bucket.
func CheckBucket(ctx context.Context, client *minio.Client, bucketName string) error {
	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %q is not served by this endpoint", bucketName)
	}
	return nil
}

// UploadFile uploads an object to the specified bucket and returns its ETag.
func UploadFile(ctx context.Context, client *minio.Client, bucketName string, objectName string, objectContent []byte) (string, error) {
	reader := bytes.NewReader(objectContent)
	info, err := client.PutObject(ctx, bucketName, objectName, reader, int64(len(objectContent)), minio.PutObjectOptions{
		ContentType: "text/plain",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object %q to bucket %q: %w", objectName, bucketName, err)
	}

	slog.Info("Uploaded object to bucket", "object", objectName, "bucket", bucketName, "etag", info.ETag)
	return info.ETag, nil
}

// ListBucketObjects lists the objects and prefixes directly under prefix.
func ListBucketObjects(ctx context.Context, client *minio.Client, bucketName string, prefix string, recursive bool) error {
	slog.Info("Objects in bucket", "bucket", bucketName, "prefix", prefix, "recursive", recursive)
	for objectInfo := range client.ListObjects(ctx, bucketName, minio.ListObjectsOptions{Prefix: prefix, Recursive: recursive}) {
		if objectInfo.Err != nil {
			return fmt.Errorf("failed to list objects in bucket %q: %w", bucketName, objectInfo.Err)
		}
		slog.Info("Object in bucket", "key", objectInfo.Key, "size", objectInfo.Size, "etag", objectInfo.ETag)
	}
	return nil
}

// DownloadFile downloads an object from the specified bucket to a local file.
func DownloadFile(ctx context.Context, client *minio.Client, bucketName string, objectName string, downloadPath string) error {
	if err := client.FGetObject(ctx, bucketName, objectName, downloadPath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("failed to download object %q from bucket %q: %w", objectName, bucketName, err)
	}
	slog.Info("Downloaded object", "path", downloadPath)
	return nil
}

// ReadRange fetches bytes [start, end] of an object.
func ReadRange(ctx context.Context, client *minio.Client, bucketName string, objectName string, start int64, end int64) ([]byte, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(start, end); err != nil {
		return nil, err
	}

	obj, err := client.GetObject(ctx, bucketName, objectName, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get range of %q: %w", objectName, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read range of %q: %w", objectName, err)
	}

	slog.Info("Read object range", "object", objectName, "start", start, "end", end, "data", string(data))
	return data, nil
}

// ConditionalGet asks for the object only if it changed since etag was
// seen. It reports whether the server answered 304 Not Modified.
func ConditionalGet(ctx context.Context, client *minio.Client, bucketName string, objectName string, etag string) (bool, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetMatchETagExcept(etag); err != nil {
		return false, err
	}

	_, err := client.StatObject(ctx, bucketName, objectName, opts)
	if err == nil {
		slog.Info("Object changed since last read", "object", objectName)
		return false, nil
	}

	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == 304 {
		slog.Info("Object not modified", "object", objectName, "etag", etag)
		return true, nil
	}
	return false, fmt.Errorf("failed conditional get of %q: %w", objectName, err)
}

// DeletePrefix removes every object under prefix.
func DeletePrefix(ctx context.Context, client *minio.Client, bucketName string, prefix string) error {
	for objectInfo := range client.ListObjects(ctx, bucketName, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if objectInfo.Err != nil {
			return fmt.Errorf("failed to list objects under %q: %w", prefix, objectInfo.Err)
		}
		if err := client.RemoveObject(ctx, bucketName, objectInfo.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("failed to remove %q: %w", objectInfo.Key, err)
		}
		slog.Info("Removed object", "key", objectInfo.Key)
	}
	return nil
}

func Run(ctx context.Context, client *minio.Client, bucketName string) error {
	// 1. Make sure the endpoint serves the bucket.
	if err := CheckBucket(ctx, client, bucketName); err != nil {
		return err
	}

	// 2. Upload two objects, one nested under a prefix.
	etag, err := UploadFile(ctx, client, bucketName, ObjectName, []byte(ObjectContent))
	if err != nil {
		return err
	}
	if _, err := UploadFile(ctx, client, bucketName, NestedObject, []byte(NestedContent)); err != nil {
		return err
	}

	// 3. List the top level, then everything.
	if err := ListBucketObjects(ctx, client, bucketName, "", false); err != nil {
		return err
	}
	if err := ListBucketObjects(ctx, client, bucketName, "", true); err != nil {
		return err
	}

	// 4. Download the file.
	dir, err := os.MkdirTemp("", DownloadPattern)
	if err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := DownloadFile(ctx, client, bucketName, ObjectName, filepath.Join(dir, ObjectName)); err != nil {
		return err
	}

	// 5. Read just the digits of the nested object.
	data, err := ReadRange(ctx, client, bucketName, NestedObject, RangeStart, RangeEnd)
	if err != nil {
		return err
	}
	if want := NestedContent[RangeStart : RangeEnd+1]; string(data) != want {
		return fmt.Errorf("range read returned %q, want %q", data, want)
	}

	// 6. A conditional read with the current ETag is answered 304.
	notModified, err := ConditionalGet(ctx, client, bucketName, ObjectName, etag)
	if err != nil {
		return err
	}
	if !notModified {
		return errors.New("conditional read with the current ETag was not answered 304")
	}

	// 7. Clean up.
	if err := DeletePrefix(ctx, client, bucketName, CleanupPrefix); err != nil {
		return err
	}
	if err := client.RemoveObject(ctx, bucketName, ObjectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove %q: %w", ObjectName, err)
	}

	slog.Info("Example finished")
	return nil
}

func main() {
	endpoint := getenv("SIMPLES3_ENDPOINT", "localhost:9000")
	accessKey := getenv("SIMPLES3_ACCESS_KEY", "mykey")
	secretKey := getenv("SIMPLES3_SECRET_KEY", "mysecret")
	bucketName := getenv("SIMPLES3_BUCKET", "simple-bucket")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:       false,
		Region:       "us-east-1",
		BucketLookup: minio.BucketLookupPath,
	})

	if err != nil {
		slog.Error("failed to create MinIO client", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()

	if err := Run(ctx, client, bucketName); err != nil {
		slog.Error("error running example", "err", err)
		os.Exit(1)
	}
}
