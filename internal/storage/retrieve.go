package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/yourorg/mediastore/internal/b2api"
	"github.com/yourorg/mediastore/internal/metrics"
)

// ObjectHandle is a path resolved to a concrete remote file. It is only valid
// for the operation that produced it.
type ObjectHandle struct {
	Bucket   string
	BucketID string
	Path     string
	File     b2api.File
}

// Download is an open object body. The caller must close Body.
type Download struct {
	Body          io.ReadCloser
	Header        http.Header
	File          b2api.File
	ContentLength int64
	// Partial is true when the remote honoured the Range header.
	Partial bool
}

// lookup finds the file stored under exactly ref.Key(path) with a one-entry
// prefix listing. Names sort, so an exact match is always the first entry.
func (c *Client) lookup(ctx context.Context, s b2api.Session, ref BucketRef, path string) (ObjectHandle, error) {
	key := ref.Key(path)
	bucketID, err := c.bucketID(ctx, s, ref.Physical)
	if err != nil {
		return ObjectHandle{}, err
	}
	res, err := c.remote.ListFileNames(ctx, s, b2api.ListFileNamesRequest{
		BucketID:     bucketID,
		Prefix:       key,
		MaxFileCount: 1,
	})
	if err != nil {
		c.checkAuth(s, err)
		return ObjectHandle{}, fmt.Errorf("list file names %s: %w", key, err)
	}
	if len(res.Files) == 0 || res.Files[0].FileName != key {
		return ObjectHandle{}, fmt.Errorf("%s/%s: %w", ref.Physical, key, ErrNotFound)
	}
	return ObjectHandle{Bucket: ref.Physical, BucketID: bucketID, Path: key, File: res.Files[0]}, nil
}

// Download streams the object at path. A failed ranged request is retried once
// as a full download.
func (c *Client) Download(ctx context.Context, bucket, path, rangeHeader string) (*Download, error) {
	s, err := c.ensureAuthorized(ctx)
	if err != nil {
		return nil, err
	}
	h, err := c.lookup(ctx, s, c.Resolve(bucket), path)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.DownloadsTotal.WithLabelValues("not_found").Inc()
		} else {
			metrics.DownloadsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	d, err := c.remote.DownloadFileByID(ctx, s, h.File.FileID, rangeHeader)
	if err != nil && rangeHeader != "" {
		c.checkAuth(s, err)
		metrics.RangeFallbacks.Inc()
		c.log.Warn("ranged download failed, retrying full object",
			zap.String("path", h.Path),
			zap.String("range", rangeHeader),
			zap.Error(err),
		)
		d, err = c.remote.DownloadFileByID(ctx, s, h.File.FileID, "")
	}
	if err != nil {
		c.checkAuth(s, err)
		metrics.DownloadsTotal.WithLabelValues("error").Inc()
		return nil, &DownloadError{Path: h.Path, Err: err}
	}

	metrics.DownloadsTotal.WithLabelValues("ok").Inc()
	return &Download{
		Body:          d.Body,
		Header:        d.Header,
		File:          mergeFile(d.File, h.File),
		ContentLength: d.ContentLength,
		Partial:       d.StatusCode == http.StatusPartialContent,
	}, nil
}

// mergeFile fills gaps in the download's file description from the listing.
func mergeFile(got, listed b2api.File) b2api.File {
	if got.FileID == "" {
		got.FileID = listed.FileID
	}
	if got.FileName == "" {
		got.FileName = listed.FileName
	}
	if got.BucketID == "" {
		got.BucketID = listed.BucketID
	}
	if got.ContentSHA1 == "" {
		got.ContentSHA1 = listed.ContentSHA1
	}
	if got.ContentType == "" {
		got.ContentType = listed.ContentType
	}
	if got.FileInfo == nil {
		got.FileInfo = listed.FileInfo
	}
	if got.UploadTimestamp == 0 {
		got.UploadTimestamp = listed.UploadTimestamp
	}
	return got
}
