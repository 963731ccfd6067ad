package attachments

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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestS3Store_UploadAndExists(t *testing.T) {
	fake := newFakeS3()
	s := newS3Store(fake, S3Options{Bucket: "listings", Region: "eu-west-1", Prefix: "inbox", MaxSizeBytes: 1 << 20}, nil)

	att, err := s.Upload(t.Context(), "front.png", bytes.NewReader(pngBytes))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(att.URL, "https://listings.s3.eu-west-1.amazonaws.com/inbox/"), att.URL)
	assert.Equal(t, "image/png", att.Type)

	key := strings.TrimPrefix(att.URL, "https://listings.s3.eu-west-1.amazonaws.com/")
	assert.Equal(t, pngBytes, fake.objects[key])
	assert.Equal(t, "image/png", fake.types[key])

	ok, err := s.Exists(t.Context(), att.URL)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(t.Context(), att.URL))
	ok, err = s.Exists(t.Context(), att.URL)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestS3Store_CustomEndpointURLs(t *testing.T) {
	s := newS3Store(newFakeS3(), S3Options{Bucket: "b", Region: "us-east-1", Endpoint: "http://minio:9000/"}, nil)

	att, err := s.Upload(t.Context(), "x.txt", strings.NewReader("x"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(att.URL, "http://minio:9000/b/"), att.URL)
}

func TestS3Store_PutFailureIsUploadError(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("503 slow down")
	s := newS3Store(fake, S3Options{Bucket: "b", Region: "r"}, nil)

	_, err := s.Upload(t.Context(), "x.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUpload)
}

func TestS3Store_ForeignURL(t *testing.T) {
	s := newS3Store(newFakeS3(), S3Options{Bucket: "b", Region: "r", Prefix: "inbox"}, nil)

	ok, err := s.Exists(t.Context(), "https://b.s3.r.amazonaws.com/other/x.png")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, s.Delete(t.Context(), "https://evil.example/x"), ErrForeignURL)
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(t.Context(), S3Options{Region: "us-east-1"}, nil)
	assert.Error(t, err)
}
