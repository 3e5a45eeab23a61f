package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/phrazzld/cutout/internal/artifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory objectAPI.
type fakeS3 struct {
	mu           sync.Mutex
	objects      map[string][]byte
	contentTypes map[string]string
	failErr      error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	f.contentTypes[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestStore_PutGetDelete(t *testing.T) {
	t.Parallel()
	fake := newFakeS3()
	s := NewWithClient(fake, "artifacts", "/cutout/")
	ctx := context.Background()

	locator, err := s.Put(ctx, "t1", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, "processed/t1.png", locator)
	assert.Contains(t, fake.objects, "artifacts/cutout/processed/t1.png")
	assert.Equal(t, "image/png", fake.contentTypes["cutout/processed/t1.png"])

	data, err := s.Get(ctx, locator)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)

	require.NoError(t, s.Delete(ctx, locator))
	assert.ErrorIs(t, s.Delete(ctx, locator), artifact.ErrNotFound)

	_, err = s.Get(ctx, locator)
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestStore_BackendFailure(t *testing.T) {
	t.Parallel()
	fake := newFakeS3()
	fake.failErr = errors.New("connection reset")
	s := NewWithClient(fake, "artifacts", "")

	_, err := s.Put(context.Background(), "t1", []byte("png"))
	assert.ErrorIs(t, err, artifact.ErrStorage)

	err = s.Delete(context.Background(), "processed/t1.png")
	assert.ErrorIs(t, err, artifact.ErrStorage)
	assert.NotErrorIs(t, err, artifact.ErrNotFound)
}

func TestStore_InvalidLocator(t *testing.T) {
	t.Parallel()
	s := NewWithClient(newFakeS3(), "artifacts", "")

	_, err := s.Get(context.Background(), "../t1.png")
	assert.ErrorIs(t, err, artifact.ErrInvalidLocator)
}

func TestNew_RequiresBucket(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}
