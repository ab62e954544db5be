package artifacts

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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/chatops/pkg/config"
)

func TestDigest(t *testing.T) {
	d := Digest([]byte("hello"))
	assert.Equal(t, "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", d)

	_, err := rawDigest("md5:abc")
	assert.Error(t, err)
	_, err = rawDigest("sha256:zz")
	assert.Error(t, err)
	_, err = rawDigest("sha256:abcd")
	assert.Error(t, err, "short digests are rejected")
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ref, err := s.Put(ctx, []byte("lint: 3 warnings"))
	require.NoError(t, err)
	assert.Equal(t, Digest([]byte("lint: 3 warnings")), ref.Digest)
	assert.FileExists(t, ref.Location)

	again, err := s.Put(ctx, []byte("lint: 3 warnings"))
	require.NoError(t, err)
	assert.Equal(t, ref, again, "identical output is stored once")

	got, err := s.Get(ctx, ref.Digest)
	require.NoError(t, err)
	assert.Equal(t, "lint: 3 warnings", string(got))

	require.NoError(t, s.Delete(ctx, ref.Digest))
	_, err = s.Get(ctx, ref.Digest)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete(ctx, ref.Digest), "deleting twice is fine")
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]; !ok {
		return nil, errors.New("not found")
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := NewS3StoreWithClient(fake, "ops-logs", "checks/")

	ref, err := s.Put(ctx, []byte("test: FAIL pkg/foo"))
	require.NoError(t, err)
	raw, _ := rawDigest(ref.Digest)
	assert.Equal(t, "s3://ops-logs/checks/"+raw+".log", ref.Location)

	_, err = s.Put(ctx, []byte("test: FAIL pkg/foo"))
	require.NoError(t, err)
	assert.Equal(t, 1, fake.puts)

	got, err := s.Get(ctx, ref.Digest)
	require.NoError(t, err)
	assert.Equal(t, "test: FAIL pkg/foo", string(got))

	require.NoError(t, s.Delete(ctx, ref.Digest))
	_, err = s.Get(ctx, ref.Digest)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.ArtifactsConfig{Backend: config.ArtifactsNone})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = Open(ctx, config.ArtifactsConfig{Backend: config.ArtifactsFS, Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "fs", s.Backend())

	_, err = Open(ctx, config.ArtifactsConfig{Backend: config.ArtifactsS3})
	assert.Error(t, err, "bucket is required")

	_, err = Open(ctx, config.ArtifactsConfig{Backend: "ftp"})
	assert.Error(t, err)
}
