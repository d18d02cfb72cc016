package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/yourorg/mediastore/internal/b2api"
)

const (
	DefaultLargeFileThreshold = 50 << 20
	DefaultPartSize           = 10 << 20
	DefaultUploadConcurrency  = 4
	DefaultAuthRetryDelay     = 250 * time.Millisecond
	DefaultRequestTimeout     = 60 * time.Second
	// DefaultPublicBaseURL is used when authorization did not report a download URL.
	DefaultPublicBaseURL = "https://f000.backblazeb2.com/file"

	minSignedURLTTL = 60
)

// Feature is a logical bucket that may be pinned to its own physical bucket.
type Feature string

const (
	FeatureProfiles   Feature = "profiles"
	FeatureAlbums     Feature = "albums"
	FeatureVideos     Feature = "videos"
	FeatureImages     Feature = "images"
	FeatureAudio      Feature = "audio"
	FeatureThumbnails Feature = "thumbnails"
)

// Features lists every feature key that accepts a bucket override.
func Features() []Feature {
	return []Feature{FeatureProfiles, FeatureAlbums, FeatureVideos, FeatureImages, FeatureAudio, FeatureThumbnails}
}

type Options struct {
	Credentials b2api.Credentials

	// Bucket is the single shared physical bucket. Logical buckets without an
	// override are stored under "<logical>/" inside it.
	Bucket          string
	BucketOverrides map[Feature]string

	LargeFileThreshold int64
	PartSize           int64
	// UploadConcurrency bounds parallel part uploads; 1 uploads parts sequentially.
	UploadConcurrency int

	// PublicBaseURL replaces the download URL learned from authorization.
	PublicBaseURL string

	AuthRetryDelay time.Duration
	RequestTimeout time.Duration

	// CancelFailedLargeFiles cancels the remote large-file session when a part
	// fails. Off by default: the session is left for the remote to expire.
	CancelFailedLargeFiles bool
}

func (o *Options) setDefaults() {
	if o.LargeFileThreshold <= 0 {
		o.LargeFileThreshold = DefaultLargeFileThreshold
	}
	if o.PartSize <= 0 {
		o.PartSize = DefaultPartSize
	}
	if o.UploadConcurrency <= 0 {
		o.UploadConcurrency = DefaultUploadConcurrency
	}
	if o.AuthRetryDelay <= 0 {
		o.AuthRetryDelay = DefaultAuthRetryDelay
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
}

// Client is the object-storage client core. Build one per process with New and
// share it; it caches the account authorization and bucket IDs for its lifetime.
type Client struct {
	remote Remote
	opts   Options
	log    *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	session b2api.Session

	bucketMu  sync.RWMutex
	bucketIDs map[string]string

	flight singleflight.Group
}

// New creates a client over remote. A nil logger disables logging.
func New(remote Remote, opts Options, logger *zap.Logger) (*Client, error) {
	if remote == nil {
		return nil, errors.New("storage: nil remote")
	}
	opts.setDefaults()
	if opts.PartSize >= opts.LargeFileThreshold {
		return nil, fmt.Errorf("storage: part size %d must be smaller than large file threshold %d", opts.PartSize, opts.LargeFileThreshold)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	overrides := make(map[Feature]string, len(opts.BucketOverrides))
	for k, v := range opts.BucketOverrides {
		if v != "" {
			overrides[k] = v
		}
	}
	opts.BucketOverrides = overrides

	return &Client{
		remote:    remote,
		opts:      opts,
		log:       logger.Named("storage"),
		now:       time.Now,
		bucketIDs: make(map[string]string),
	}, nil
}
