package storage

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/mediastore/internal/b2api"
)

func TestSplitParts(t *testing.T) {
	parts := splitParts(60, 10)
	require.Len(t, parts, 6)
	assert.Equal(t, partRange{Number: 1, Start: 0, End: 10}, parts[0])
	assert.Equal(t, partRange{Number: 6, Start: 50, End: 60}, parts[5])

	parts = splitParts(55, 10)
	require.Len(t, parts, 6)
	assert.Equal(t, int64(55), parts[5].End)
}

func TestUploadSimpleBelowThreshold(t *testing.T) {
	r := newFakeRemote("media")
	c := newTestClient(t, r, Options{Bucket: "media", LargeFileThreshold: 50, PartSize: 10})

	payload := bytes.Repeat([]byte("x"), 49)
	res, err := c.Upload(context.Background(), "profiles", "/u/1.png", payload, "image/png", UploadOptions{FileInfo: map[string]string{"owner": "u1"}})
	require.NoError(t, err)

	assert.Equal(t, "media", res.Bucket)
	assert.Equal(t, "profiles/u/1.png", res.Path)
	assert.Equal(t, int64(49), res.Size)
	assert.Equal(t, sha1Hex(payload), res.ContentSHA1)
	assert.False(t, res.Large)
	assert.NotEmpty(t, res.FileID)

	assert.Equal(t, int32(1), r.uploadFiles.Load())
	assert.Zero(t, r.startLarge.Load())
	assert.Zero(t, r.uploadParts.Load())
	assert.Equal(t, "image/png", r.lastUpload.ContentType)
	assert.Equal(t, "u1", r.lastUpload.FileInfo["owner"])
}

func TestUploadLargeAtThreshold(t *testing.T) {
	r := newFakeRemote("media")
	c := newTestClient(t, r, Options{Bucket: "media", LargeFileThreshold: 50, PartSize: 10})

	res, err := c.Upload(context.Background(), "media", "a.bin", make([]byte, 50), "", UploadOptions{})
	require.NoError(t, err)
	assert.True(t, res.Large)
	assert.Equal(t, 5, res.Parts)
	assert.Zero(t, r.uploadFiles.Load())
}

func TestUploadLargeDefaults(t *testing.T) {
	r := newFakeRemote("media")
	c := newTestClient(t, r, Options{Bucket: "media"})

	payload := make([]byte, 60<<20)
	res, err := c.Upload(context.Background(), "videos", "v.mp4", payload, "video/mp4", UploadOptions{})
	require.NoError(t, err)

	assert.True(t, res.Large)
	assert.Equal(t, 6, res.Parts)
	assert.Equal(t, "large-1", res.FileID)
	assert.Equal(t, int32(1), r.startLarge.Load())
	assert.Equal(t, int32(6), r.uploadParts.Load())
	assert.Equal(t, int32(1), r.finishLarge.Load())
	assert.Len(t, r.finished, 6)
}

func TestUploadLargeHashesInPartOrder(t *testing.T) {
	r := newFakeRemote("media")
	// Later parts finish first.
	r.uploadPartFn = func(p b2api.PartRequest) error {
		time.Sleep(time.Duration(7-p.PartNumber) * 5 * time.Millisecond)
		return nil
	}
	c := newTestClient(t, r, Options{Bucket: "media", LargeFileThreshold: 50, PartSize: 10, UploadConcurrency: 6})

	payload := make([]byte, 60)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err := c.Upload(context.Background(), "media", "ordered.bin", payload, "", UploadOptions{})
	require.NoError(t, err)

	want := make([]string, 0, 6)
	for i := 0; i < 60; i += 10 {
		want = append(want, sha1Hex(payload[i:i+10]))
	}
	assert.Equal(t, want, r.finished)
}

func TestUploadLargeSetsWholeFileSHA1(t *testing.T) {
	r := newFakeRemote("media")
	var info map[string]string
	c := newTestClient(t, &startSpy{fakeRemote: r, info: &info}, Options{Bucket: "media", LargeFileThreshold: 50, PartSize: 10})

	payload := bytes.Repeat([]byte("ab"), 30)
	res, err := c.Upload(context.Background(), "media", "big.bin", payload, "", UploadOptions{})
	require.NoError(t, err)
	assert.Equal(t, sha1Hex(payload), info[largeFileSHA1Key])
	assert.Equal(t, sha1Hex(payload), res.ContentSHA1)
}

type startSpy struct {
	*fakeRemote
	info *map[string]string
}

func (s *startSpy) StartLargeFile(ctx context.Context, sess b2api.Session, r b2api.StartLargeFileRequest) (b2api.File, error) {
	*s.info = r.FileInfo
	return s.fakeRemote.StartLargeFile(ctx, sess, r)
}

func TestUploadLargePartFailure(t *testing.T) {
	for _, cancel := range []bool{false, true} {
		r := newFakeRemote("media")
		r.uploadPartFn = func(p b2api.PartRequest) error {
			if p.PartNumber == 3 {
				return errors.New("boom")
			}
			return nil
		}
		c := newTestClient(t, r, Options{Bucket: "media", LargeFileThreshold: 50, PartSize: 10, CancelFailedLargeFiles: cancel})

		_, err := c.Upload(context.Background(), "media", "broken.bin", make([]byte, 60), "", UploadOptions{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUploadFailed)
		var upErr *UploadError
		require.ErrorAs(t, err, &upErr)
		assert.Equal(t, 3, upErr.Part)

		assert.Zero(t, r.finishLarge.Load())
		if cancel {
			assert.Equal(t, int32(1), r.cancelLarge.Load())
		} else {
			assert.Zero(t, r.cancelLarge.Load())
		}
	}
}

func TestUploadRejectsEmptyPath(t *testing.T) {
	r := newFakeRemote("media")
	c := newTestClient(t, r, Options{Bucket: "media"})

	_, err := c.Upload(context.Background(), "media", "/", []byte("x"), "", UploadOptions{})
	assert.ErrorIs(t, err, ErrInvalidPath)
	assert.Zero(t, r.authorizeCalls.Load())
}

func TestUploadUnknownBucket(t *testing.T) {
	r := newFakeRemote("media")
	c := newTestClient(t, r, Options{})

	_, err := c.Upload(context.Background(), "nope", "a.txt", []byte("x"), "", UploadOptions{})
	assert.ErrorIs(t, err, ErrBucketNotFound)
	assert.Zero(t, r.uploadFiles.Load())
}
