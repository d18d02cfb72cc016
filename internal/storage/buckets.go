package storage

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/yourorg/mediastore/internal/b2api"
	"github.com/yourorg/mediastore/internal/metrics"
)

// BucketRef is a logical bucket resolved to its physical bucket.
type BucketRef struct {
	Logical  string
	Physical string
	prefix   string
}

// Key maps an object path to the remote file name inside Physical.
func (b BucketRef) Key(path string) string {
	return b.prefix + strings.TrimLeft(path, "/")
}

// Resolve maps a logical bucket name to a physical bucket. It never touches
// the network: a feature override wins, then the shared bucket with a
// "<logical>/" prefix, and otherwise the logical name is used as is.
func (c *Client) Resolve(logical string) BucketRef {
	if physical, ok := c.opts.BucketOverrides[Feature(logical)]; ok {
		return BucketRef{Logical: logical, Physical: physical}
	}
	if global := c.opts.Bucket; global != "" {
		if logical == global {
			return BucketRef{Logical: logical, Physical: global}
		}
		return BucketRef{Logical: logical, Physical: global, prefix: logical + "/"}
	}
	return BucketRef{Logical: logical, Physical: logical}
}

// bucketID returns the remote ID of a physical bucket, listing buckets on the
// first lookup of each name. Entries are never evicted.
func (c *Client) bucketID(ctx context.Context, s b2api.Session, physical string) (string, error) {
	if id, ok := c.cachedBucketID(physical); ok {
		metrics.BucketLookups.WithLabelValues("hit").Inc()
		return id, nil
	}

	ch := c.flight.DoChan("bucket:"+physical, func() (any, error) {
		if id, ok := c.cachedBucketID(physical); ok {
			return id, nil
		}
		// Shared by every waiter on this name; one caller's cancellation must not fail the rest.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.RequestTimeout)
		defer cancel()
		buckets, err := c.remote.ListBuckets(lctx, s)
		if err != nil {
			c.checkAuth(s, err)
			metrics.BucketLookups.WithLabelValues("error").Inc()
			return "", fmt.Errorf("list buckets: %w", err)
		}
		for _, b := range buckets {
			if b.BucketName == physical {
				c.bucketMu.Lock()
				c.bucketIDs[physical] = b.BucketID
				c.bucketMu.Unlock()
				metrics.BucketLookups.WithLabelValues("miss").Inc()
				c.log.Debug("bucket resolved", zap.String("bucket", physical), zap.String("bucketId", b.BucketID))
				return b.BucketID, nil
			}
		}
		metrics.BucketLookups.WithLabelValues("not_found").Inc()
		return "", &BucketNotFoundError{Name: physical}
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) cachedBucketID(physical string) (string, bool) {
	c.bucketMu.RLock()
	defer c.bucketMu.RUnlock()
	id, ok := c.bucketIDs[physical]
	return id, ok
}
