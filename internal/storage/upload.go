package storage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/mediastore/internal/b2api"
	"github.com/yourorg/mediastore/internal/metrics"
)

// largeFileSHA1Key is the file info key B2 uses for a large file's whole-content hash.
const largeFileSHA1Key = "large_file_sha1"

type UploadOptions struct {
	// FileInfo is stored with the object (X-Bz-Info-* / S3 metadata).
	FileInfo map[string]string
}

type UploadResult struct {
	Bucket      string
	Path        string
	FileID      string
	Size        int64
	ContentType string
	ContentSHA1 string
	Large       bool
	Parts       int
}

// partRange is one slice of a large payload; Number starts at 1.
type partRange struct {
	Number     int
	Start, End int64
}

func splitParts(size, partSize int64) []partRange {
	n := (size + partSize - 1) / partSize
	parts := make([]partRange, 0, n)
	for i := int64(0); i < n; i++ {
		end := (i + 1) * partSize
		if end > size {
			end = size
		}
		parts = append(parts, partRange{Number: int(i) + 1, Start: i * partSize, End: end})
	}
	return parts
}

func sha1Hex(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

// Upload stores payload under path in the logical bucket. Payloads below the
// large-file threshold go up in one request; larger ones are split into parts.
func (c *Client) Upload(ctx context.Context, bucket, path string, payload []byte, contentType string, opts UploadOptions) (*UploadResult, error) {
	if strings.Trim(path, "/") == "" {
		return nil, fmt.Errorf("upload: %w", ErrInvalidPath)
	}
	s, err := c.ensureAuthorized(ctx)
	if err != nil {
		return nil, err
	}
	ref := c.Resolve(bucket)
	bucketID, err := c.bucketID(ctx, s, ref.Physical)
	if err != nil {
		return nil, err
	}
	key := ref.Key(path)

	if int64(len(payload)) < c.opts.LargeFileThreshold {
		return c.uploadSimple(ctx, s, ref, bucketID, key, payload, contentType, opts)
	}
	return c.uploadLarge(ctx, s, ref, bucketID, key, payload, contentType, opts)
}

func (c *Client) uploadSimple(ctx context.Context, s b2api.Session, ref BucketRef, bucketID, key string, payload []byte, contentType string, opts UploadOptions) (*UploadResult, error) {
	fail := func(err error) (*UploadResult, error) {
		c.checkAuth(s, err)
		metrics.UploadsTotal.WithLabelValues("simple", "failure").Inc()
		return nil, &UploadError{Path: key, Err: err}
	}

	u, err := c.remote.GetUploadURL(ctx, s, bucketID)
	if err != nil {
		return fail(fmt.Errorf("get upload url: %w", err))
	}
	sum := sha1Hex(payload)
	f, err := c.remote.UploadFile(ctx, u, b2api.UploadRequest{
		FileName:    key,
		ContentType: contentType,
		ContentSHA1: sum,
		Body:        payload,
		FileInfo:    opts.FileInfo,
	})
	if err != nil {
		return fail(err)
	}

	metrics.UploadsTotal.WithLabelValues("simple", "success").Inc()
	metrics.UploadBytes.Add(float64(len(payload)))
	c.log.Debug("uploaded",
		zap.String("bucket", ref.Physical),
		zap.String("path", key),
		zap.String("size", humanize.IBytes(uint64(len(payload)))),
	)
	return &UploadResult{
		Bucket:      ref.Physical,
		Path:        key,
		FileID:      f.FileID,
		Size:        int64(len(payload)),
		ContentType: firstNonEmpty(f.ContentType, contentType),
		ContentSHA1: sum,
	}, nil
}

func (c *Client) uploadLarge(ctx context.Context, s b2api.Session, ref BucketRef, bucketID, key string, payload []byte, contentType string, opts UploadOptions) (*UploadResult, error) {
	size := int64(len(payload))
	parts := splitParts(size, c.opts.PartSize)
	whole := sha1Hex(payload)

	info := make(map[string]string, len(opts.FileInfo)+1)
	for k, v := range opts.FileInfo {
		info[k] = v
	}
	if _, ok := info[largeFileSHA1Key]; !ok {
		info[largeFileSHA1Key] = whole
	}

	started, err := c.remote.StartLargeFile(ctx, s, b2api.StartLargeFileRequest{
		BucketID:    bucketID,
		FileName:    key,
		ContentType: contentType,
		FileInfo:    info,
	})
	if err != nil {
		c.checkAuth(s, err)
		metrics.UploadsTotal.WithLabelValues("large", "failure").Inc()
		return nil, &UploadError{Path: key, Err: fmt.Errorf("start large file: %w", err)}
	}
	log := c.log.With(zap.String("path", key), zap.String("fileId", started.FileID))
	log.Debug("large file started",
		zap.Int("parts", len(parts)),
		zap.String("size", humanize.IBytes(uint64(size))),
		zap.String("partSize", humanize.IBytes(uint64(c.opts.PartSize))),
	)

	// Each worker writes only its own index, so the list stays in part order.
	hashes := make([]string, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.UploadConcurrency)
	for i, p := range parts {
		g.Go(func() error {
			body := payload[p.Start:p.End]
			sum := sha1Hex(body)
			u, err := c.remote.GetUploadPartURL(gctx, s, started.FileID)
			if err != nil {
				c.checkAuth(s, err)
				return &UploadError{Path: key, Part: p.Number, Err: fmt.Errorf("get upload part url: %w", err)}
			}
			if _, err := c.remote.UploadPart(gctx, u, b2api.PartRequest{PartNumber: p.Number, ContentSHA1: sum, Body: body}); err != nil {
				c.checkAuth(s, err)
				return &UploadError{Path: key, Part: p.Number, Err: err}
			}
			hashes[i] = sum
			metrics.PartsUploaded.Inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.UploadsTotal.WithLabelValues("large", "failure").Inc()
		c.abandonLargeFile(ctx, s, started.FileID, log, err)
		return nil, err
	}

	done, err := c.remote.FinishLargeFile(ctx, s, started.FileID, hashes)
	if err != nil {
		c.checkAuth(s, err)
		metrics.UploadsTotal.WithLabelValues("large", "failure").Inc()
		return nil, &UploadError{Path: key, Err: fmt.Errorf("finish large file: %w", err)}
	}

	metrics.UploadsTotal.WithLabelValues("large", "success").Inc()
	metrics.UploadBytes.Add(float64(size))
	log.Info("large file uploaded", zap.Int("parts", len(parts)), zap.String("size", humanize.IBytes(uint64(size))))
	return &UploadResult{
		Bucket:      ref.Physical,
		Path:        key,
		FileID:      firstNonEmpty(done.FileID, started.FileID),
		Size:        size,
		ContentType: firstNonEmpty(done.ContentType, contentType),
		ContentSHA1: whole,
		Large:       true,
		Parts:       len(parts),
	}, nil
}

// abandonLargeFile handles a large file whose parts failed. The session stays
// open remotely unless CancelFailedLargeFiles is set.
func (c *Client) abandonLargeFile(ctx context.Context, s b2api.Session, fileID string, log *zap.Logger, cause error) {
	if !c.opts.CancelFailedLargeFiles {
		log.Warn("large file upload failed; session left unfinished", zap.Error(cause))
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.RequestTimeout)
	defer cancel()
	if err := c.remote.CancelLargeFile(cctx, s, fileID); err != nil {
		log.Warn("cancel large file failed", zap.Error(err), zap.NamedError("cause", cause))
		return
	}
	log.Info("large file cancelled after failure", zap.Error(cause))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
