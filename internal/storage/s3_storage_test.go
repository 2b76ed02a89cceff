package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != aws.ToInt64(params.ContentLength) {
		return nil, errors.New("content length mismatch")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(params.Bucket)+"/"+aws.ToString(params.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(params.Bucket)+"/"+aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(params.Bucket)+"/"+aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Storage_PutGetDelete(t *testing.T) {
	client := &fakeS3{objects: make(map[string][]byte)}
	storage := NewS3StorageWithClient(client, "disk", "https://cdn.example.com/")
	ctx := context.Background()

	obj, err := storage.Put(ctx, "ab/abc.txt", strings.NewReader("hello"), 5)
	require.NoError(t, err)
	require.Equal(t, int64(5), obj.Size)
	require.Equal(t, "https://cdn.example.com/ab/abc.txt", obj.URL)
	require.Contains(t, client.objects, "disk/ab/abc.txt")

	rc, err := storage.Get(ctx, "ab/abc.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "hello", string(data))

	require.NoError(t, storage.Delete(ctx, "ab/abc.txt"))
	_, err = storage.Get(ctx, "ab/abc.txt")
	require.Error(t, err)

	var noKey *types.NoSuchKey
	require.ErrorAs(t, err, &noKey)
}

func TestS3Storage_PutShortBody(t *testing.T) {
	storage := NewS3StorageWithClient(&fakeS3{objects: make(map[string][]byte)}, "disk", "")

	_, err := storage.Put(context.Background(), "short", strings.NewReader("abc"), 10)
	require.Error(t, err)
}

func TestNewS3StorageRequiresBucket(t *testing.T) {
	_, err := NewS3Storage(context.Background(), S3Options{})
	require.Error(t, err)
}
