package storage

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

	"github.com/yourorg/mediastore/internal/b2api"
)

type fakeS3 struct {
	mu        sync.Mutex
	buckets   []string
	objects   map[string][]byte // bucket/key
	parts     map[int32][]byte
	completed []types.CompletedPart
	aborted   bool
	lastRange string
	listErr   error
}

func newFakeS3(buckets ...string) *fakeS3 {
	return &fakeS3{buckets: buckets, objects: make(map[string][]byte), parts: make(map[int32][]byte)}
}

func (f *fakeS3) ListBuckets(context.Context, *s3.ListBucketsInput, ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := &s3.ListBucketsOutput{}
	for _, b := range f.buckets {
		out.Buckets = append(out.Buckets, types.Bucket{Name: aws.String(b)})
	}
	return out, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, _ := io.ReadAll(in.Body)
	f.mu.Lock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = b
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String("up-1")}, nil
}

func (f *fakeS3) UploadPart(_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	b, _ := io.ReadAll(in.Body)
	n := aws.ToInt32(in.PartNumber)
	f.mu.Lock()
	f.parts[n] = b
	f.mu.Unlock()
	return &s3.UploadPartOutput{ETag: aws.String(sha1Hex(b))}, nil
}

func (f *fakeS3) CompleteMultipartUpload(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = in.MultipartUpload.Parts
	var all []byte
	for _, p := range in.MultipartUpload.Parts {
		all = append(all, f.parts[aws.ToInt32(p.PartNumber)]...)
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = all
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.aborted = true
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Prefix)
	out := &s3.ListObjectsV2Output{}
	if b, ok := f.objects[key]; ok {
		out.Contents = []types.Object{{Key: in.Prefix, Size: aws.Int64(int64(len(b)))}}
	}
	return out, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	f.lastRange = aws.ToString(in.Range)
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(b)),
		ContentLength: aws.Int64(int64(len(b))),
		ContentType:   aws.String("text/plain"),
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func TestParseS3(t *testing.T) {
	b, k, err := parseS3("s3://media/a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "media", b)
	assert.Equal(t, "a/b.txt", k)

	for _, key := range []string{"a%2Fb.jpg", "song #1.mp3", "what?.jpg", "100%.jpg", "a/b/c"} {
		b, k, err := parseS3(s3URI("media", key))
		require.NoError(t, err, key)
		assert.Equal(t, "media", b)
		assert.Equal(t, key, k)
	}

	_, _, err = parseS3("https://media/a")
	assert.Error(t, err)
	_, _, err = parseS3("s3://media/")
	assert.Error(t, err)
}

func TestS3RemoteRoundTrip(t *testing.T) {
	fake := newFakeS3("media")
	c := newTestClient(t, newS3WithClient(fake), Options{
		Bucket:             "media",
		PublicBaseURL:      "https://s3.example",
		LargeFileThreshold: 50,
		PartSize:           10,
	})
	ctx := context.Background()

	res, err := c.Upload(ctx, "images", "cat.txt", []byte("meow"), "text/plain", UploadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "s3://media/images/cat.txt", res.FileID)

	d, err := c.Download(ctx, "images", "cat.txt", "bytes=0-1")
	require.NoError(t, err)
	body, _ := io.ReadAll(d.Body)
	d.Body.Close()
	assert.Equal(t, "meow", string(body))
	assert.Equal(t, "bytes=0-1", fake.lastRange)

	got := c.Remove(ctx, "images", []string{"cat.txt", "dog.txt"})
	assert.Equal(t, []DeleteResult{{Path: "cat.txt", Success: true}, {Path: "dog.txt", Error: NotFoundCode}}, got)
	assert.Empty(t, fake.objects)
}

func TestS3RemoteMultipart(t *testing.T) {
	fake := newFakeS3("media")
	c := newTestClient(t, newS3WithClient(fake), Options{
		Bucket:             "media",
		PublicBaseURL:      "https://s3.example",
		LargeFileThreshold: 50,
		PartSize:           10,
	})

	payload := make([]byte, 55)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}
	res, err := c.Upload(context.Background(), "media", "big.bin", payload, "", UploadOptions{})
	require.NoError(t, err)
	assert.True(t, res.Large)
	assert.Equal(t, "s3://media/big.bin", res.FileID)

	require.Len(t, fake.completed, 6)
	for i, p := range fake.completed {
		assert.Equal(t, int32(i+1), aws.ToInt32(p.PartNumber))
	}
	assert.Equal(t, payload, fake.objects["media/big.bin"])
}

func TestS3RemoteCancel(t *testing.T) {
	fake := newFakeS3("media")
	r := newS3WithClient(fake)
	ctx := context.Background()

	f, err := r.StartLargeFile(ctx, b2api.Session{}, b2api.StartLargeFileRequest{BucketID: "media", FileName: "x"})
	require.NoError(t, err)
	require.NoError(t, r.CancelLargeFile(ctx, b2api.Session{}, f.FileID))
	assert.True(t, fake.aborted)

	_, err = r.GetUploadPartURL(ctx, b2api.Session{}, f.FileID)
	assert.Error(t, err)
}

func TestS3RemoteSignedURLDegrades(t *testing.T) {
	c := newTestClient(t, newS3WithClient(newFakeS3("media")), Options{Bucket: "media", PublicBaseURL: "https://s3.example"})

	su, err := c.SignedURL(context.Background(), "media", "a.txt", 60)
	require.NoError(t, err)
	assert.False(t, su.Signed)
	assert.ErrorIs(t, su.Degraded, errors.ErrUnsupported)
	assert.Equal(t, "https://s3.example/media/a.txt", su.URL)
}

func TestS3RemoteAuthorizeFailure(t *testing.T) {
	fake := newFakeS3()
	fake.listErr = errors.New("InvalidAccessKeyId")
	c := newTestClient(t, newS3WithClient(fake), Options{PublicBaseURL: "https://s3.example"})

	_, err := c.Upload(context.Background(), "media", "a", []byte("x"), "", UploadOptions{})
	assert.ErrorIs(t, err, ErrAuthorizationFailed)
}

func TestS3RemoteKeysWithEscapes(t *testing.T) {
	fake := newFakeS3("media")
	c := newTestClient(t, newS3WithClient(fake), Options{Bucket: "media", PublicBaseURL: "https://s3.example"})
	ctx := context.Background()

	_, err := c.Upload(ctx, "images", "a/b.jpg", []byte("sibling"), "", UploadOptions{})
	require.NoError(t, err)

	keys := []string{"a%2Fb.jpg", "song #1.mp3", "what?.jpg", "100%.jpg"}
	for _, k := range keys {
		_, err := c.Upload(ctx, "images", k, []byte(k), "", UploadOptions{})
		require.NoError(t, err, k)

		d, err := c.Download(ctx, "images", k, "")
		require.NoError(t, err, k)
		body, _ := io.ReadAll(d.Body)
		d.Body.Close()
		assert.Equal(t, k, string(body))
	}

	got := c.Remove(ctx, "images", keys)
	for i, res := range got {
		assert.True(t, res.Success, keys[i])
	}
	assert.Equal(t, map[string][]byte{"media/images/a/b.jpg": []byte("sibling")}, fake.objects)
}
