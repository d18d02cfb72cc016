package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/mediastore/internal/b2api"
	"github.com/yourorg/mediastore/internal/metrics"
)

// SignedURL is the result of a signed URL request. When the remote refused to
// issue a download token, URL is the plain public URL, Signed is false and
// Degraded says why.
type SignedURL struct {
	URL       string
	Signed    bool
	ExpiresAt time.Time
	Degraded  error
}

// PublicURL builds {base}/{bucket}/{path}. Base is PublicBaseURL if set,
// otherwise the download URL learned from authorization.
func (c *Client) PublicURL(ctx context.Context, bucket, path string) (string, error) {
	base, err := c.fileBaseURL(ctx)
	if err != nil {
		return "", err
	}
	ref := c.Resolve(bucket)
	return objectURL(base, ref.Physical, ref.Key(path)), nil
}

// SignedURL returns a URL carrying a download token scoped to exactly this
// object, valid for at least a minute. If no token can be obtained it falls
// back to the public URL; see SignedURL.Signed.
func (c *Client) SignedURL(ctx context.Context, bucket, path string, ttlSeconds int) (*SignedURL, error) {
	public, err := c.PublicURL(ctx, bucket, path)
	if err != nil {
		return nil, err
	}
	ttl := max(minSignedURLTTL, ttlSeconds)

	token, err := c.downloadToken(ctx, c.Resolve(bucket), path, ttl)
	if err != nil {
		metrics.SignedURLs.WithLabelValues("degraded").Inc()
		c.log.Warn("signed url degraded to public url",
			zap.String("bucket", bucket),
			zap.String("path", path),
			zap.Error(err),
		)
		return &SignedURL{URL: public, Degraded: err}, nil
	}

	metrics.SignedURLs.WithLabelValues("signed").Inc()
	return &SignedURL{
		URL:       public + "?Authorization=" + url.QueryEscape(token),
		Signed:    true,
		ExpiresAt: c.now().Add(time.Duration(ttl) * time.Second),
	}, nil
}

func (c *Client) downloadToken(ctx context.Context, ref BucketRef, path string, ttl int) (string, error) {
	s, err := c.ensureAuthorized(ctx)
	if err != nil {
		return "", err
	}
	bucketID, err := c.bucketID(ctx, s, ref.Physical)
	if err != nil {
		return "", err
	}
	da, err := c.remote.GetDownloadAuthorization(ctx, s, b2api.DownloadAuthorizationRequest{
		BucketID:               bucketID,
		FileNamePrefix:         ref.Key(path),
		ValidDurationInSeconds: ttl,
	})
	if err != nil {
		c.checkAuth(s, err)
		return "", fmt.Errorf("get download authorization: %w", err)
	}
	if da.AuthorizationToken == "" {
		return "", errors.New("get download authorization: empty token")
	}
	return da.AuthorizationToken, nil
}

func (c *Client) fileBaseURL(ctx context.Context) (string, error) {
	if c.opts.PublicBaseURL != "" {
		return strings.TrimRight(c.opts.PublicBaseURL, "/"), nil
	}
	s, err := c.ensureAuthorized(ctx)
	if err != nil {
		return "", err
	}
	if s.DownloadURL != "" {
		return strings.TrimRight(s.DownloadURL, "/") + "/file", nil
	}
	return DefaultPublicBaseURL, nil
}

func objectURL(base, bucket, key string) string {
	return base + "/" + b2api.EncodeSegment(bucket) + "/" + b2api.EncodePath(key)
}
