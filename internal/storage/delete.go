package storage

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/yourorg/mediastore/internal/b2api"
	"github.com/yourorg/mediastore/internal/metrics"
)

// NotFoundCode is the DeleteResult.Error of a path with no stored object.
const NotFoundCode = "not_found"

type DeleteResult struct {
	Path    string
	Success bool
	Error   string
}

// Remove deletes every path independently. One failure never stops the rest;
// the result has one entry per path, in input order.
func (c *Client) Remove(ctx context.Context, bucket string, paths []string) []DeleteResult {
	results := make([]DeleteResult, len(paths))
	for i, p := range paths {
		results[i].Path = p
	}

	s, err := c.ensureAuthorized(ctx)
	if err != nil {
		for i := range results {
			results[i].Error = err.Error()
		}
		metrics.DeletesTotal.WithLabelValues("error").Add(float64(len(paths)))
		return results
	}

	ref := c.Resolve(bucket)
	for i, p := range paths {
		if err := c.removeOne(ctx, s, ref, p); err != nil {
			if errors.Is(err, ErrNotFound) {
				results[i].Error = NotFoundCode
				metrics.DeletesTotal.WithLabelValues("not_found").Inc()
				continue
			}
			results[i].Error = err.Error()
			metrics.DeletesTotal.WithLabelValues("error").Inc()
			c.log.Warn("delete failed", zap.String("bucket", ref.Physical), zap.String("path", p), zap.Error(err))
			continue
		}
		results[i].Success = true
		metrics.DeletesTotal.WithLabelValues("ok").Inc()
	}
	return results
}

func (c *Client) removeOne(ctx context.Context, s b2api.Session, ref BucketRef, path string) error {
	h, err := c.lookup(ctx, s, ref, path)
	if err != nil {
		return err
	}
	if err := c.remote.DeleteFileVersion(ctx, s, h.File.FileName, h.File.FileID); err != nil {
		c.checkAuth(s, err)
		return err
	}
	c.log.Debug("deleted", zap.String("bucket", h.Bucket), zap.String("path", h.Path), zap.String("fileId", h.File.FileID))
	return nil
}
