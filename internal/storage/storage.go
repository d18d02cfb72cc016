package storage

import (
	"context"

	"github.com/yourorg/mediastore/internal/b2api"
)

// ObjectStore is what the HTTP layer needs from object storage. Paths are
// object paths inside a logical bucket; prefixing is applied internally.
type ObjectStore interface {
	// Upload stores payload at path and returns the remote reference to persist.
	Upload(ctx context.Context, bucket, path string, payload []byte, contentType string, opts UploadOptions) (*UploadResult, error)
	// PublicURL returns the unsigned download URL of path.
	PublicURL(ctx context.Context, bucket, path string) (string, error)
	// SignedURL returns a time-boxed URL; check SignedURL.Signed for degradation.
	SignedURL(ctx context.Context, bucket, path string, ttlSeconds int) (*SignedURL, error)
	// Download opens path, honouring an optional HTTP Range header value.
	Download(ctx context.Context, bucket, path, rangeHeader string) (*Download, error)
	// Remove deletes each path independently; one result per path, in order.
	Remove(ctx context.Context, bucket string, paths []string) []DeleteResult
}

// Remote is the object-store protocol the client drives. b2api.Client speaks
// it natively; S3Remote maps it onto an S3-compatible endpoint.
type Remote interface {
	Authorize(ctx context.Context, creds b2api.Credentials) (b2api.Authorization, error)
	ListBuckets(ctx context.Context, s b2api.Session) ([]b2api.Bucket, error)
	GetUploadURL(ctx context.Context, s b2api.Session, bucketID string) (b2api.UploadURL, error)
	UploadFile(ctx context.Context, u b2api.UploadURL, r b2api.UploadRequest) (b2api.File, error)
	StartLargeFile(ctx context.Context, s b2api.Session, r b2api.StartLargeFileRequest) (b2api.File, error)
	GetUploadPartURL(ctx context.Context, s b2api.Session, fileID string) (b2api.UploadURL, error)
	UploadPart(ctx context.Context, u b2api.UploadURL, r b2api.PartRequest) (b2api.Part, error)
	FinishLargeFile(ctx context.Context, s b2api.Session, fileID string, partSHA1s []string) (b2api.File, error)
	CancelLargeFile(ctx context.Context, s b2api.Session, fileID string) error
	ListFileNames(ctx context.Context, s b2api.Session, r b2api.ListFileNamesRequest) (b2api.ListFileNamesResponse, error)
	DownloadFileByID(ctx context.Context, s b2api.Session, fileID, rangeHeader string) (*b2api.Download, error)
	GetDownloadAuthorization(ctx context.Context, s b2api.Session, r b2api.DownloadAuthorizationRequest) (b2api.DownloadAuthorization, error)
	DeleteFileVersion(ctx context.Context, s b2api.Session, fileName, fileID string) error
}

var (
	_ Remote      = (*b2api.Client)(nil)
	_ Remote      = (*S3Remote)(nil)
	_ ObjectStore = (*Client)(nil)
)
