package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/yourorg/mediastore/internal/b2api"
)

// s3API is the subset of the S3 client S3Remote uses; allows test fakes.
type s3API interface {
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Remote drives the same protocol against an S3-compatible endpoint (B2's
// S3 API, MinIO). Bucket IDs are bucket names, file IDs are s3://bucket/key
// URIs and large files are S3 multipart uploads keyed by upload ID.
type S3Remote struct {
	region string

	mu      sync.Mutex
	client  s3API
	uploads map[string]*s3Upload
}

type s3Upload struct {
	bucket, key, uploadID string

	mu    sync.Mutex
	etags map[int32]string
}

// NewS3 creates an S3 remote; the SDK client is built on Authorize.
// Env support: AWS_ENDPOINT_URL_S3, AWS_S3_FORCE_PATH_STYLE.
func NewS3(region string) *S3Remote {
	return &S3Remote{region: region, uploads: make(map[string]*s3Upload)}
}

func newS3WithClient(c s3API) *S3Remote {
	return &S3Remote{client: c, uploads: make(map[string]*s3Upload)}
}

func (r *S3Remote) api(ctx context.Context, creds b2api.Credentials) (s3API, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}
	opts := []func(*config.LoadOptions) error{
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(creds.AccountID, creds.ApplicationKey, "")),
	}
	if r.region != "" {
		opts = append(opts, config.WithRegion(r.region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	r.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if ep := os.Getenv("AWS_ENDPOINT_URL_S3"); ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
		if strings.EqualFold(os.Getenv("AWS_S3_FORCE_PATH_STYLE"), "true") {
			o.UsePathStyle = true
		}
	})
	return r.client, nil
}

func (r *S3Remote) current() (s3API, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil, errors.New("s3: not authorized")
	}
	return r.client, nil
}

// Authorize builds the SDK client and checks the keys with ListBuckets. S3
// signs every request, so the returned token only marks the session as live.
func (r *S3Remote) Authorize(ctx context.Context, creds b2api.Credentials) (b2api.Authorization, error) {
	c, err := r.api(ctx, creds)
	if err != nil {
		return b2api.Authorization{}, err
	}
	if _, err := c.ListBuckets(ctx, &s3.ListBucketsInput{}); err != nil {
		return b2api.Authorization{}, err
	}
	return b2api.Authorization{
		AccountID:          creds.AccountID,
		AuthorizationToken: "sigv4",
		APIURL:             os.Getenv("AWS_ENDPOINT_URL_S3"),
	}, nil
}

func (r *S3Remote) ListBuckets(ctx context.Context, _ b2api.Session) ([]b2api.Bucket, error) {
	c, err := r.current()
	if err != nil {
		return nil, err
	}
	out, err := c.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, err
	}
	buckets := make([]b2api.Bucket, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		name := aws.ToString(b.Name)
		buckets = append(buckets, b2api.Bucket{BucketID: name, BucketName: name})
	}
	return buckets, nil
}

func (r *S3Remote) GetUploadURL(_ context.Context, _ b2api.Session, bucketID string) (b2api.UploadURL, error) {
	return b2api.UploadURL{BucketID: bucketID, UploadURL: "s3://" + bucketID}, nil
}

func (r *S3Remote) UploadFile(ctx context.Context, u b2api.UploadURL, req b2api.UploadRequest) (b2api.File, error) {
	c, err := r.current()
	if err != nil {
		return b2api.File{}, err
	}
	ct := s3ContentType(req.ContentType)
	_, err = c.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.BucketID),
		Key:           aws.String(req.FileName),
		Body:          bytes.NewReader(req.Body),
		ContentLength: aws.Int64(int64(len(req.Body))),
		ContentType:   aws.String(ct),
		Metadata:      req.FileInfo,
	})
	if err != nil {
		return b2api.File{}, err
	}
	return b2api.File{
		FileID:        s3URI(u.BucketID, req.FileName),
		FileName:      req.FileName,
		BucketID:      u.BucketID,
		ContentLength: int64(len(req.Body)),
		ContentSHA1:   req.ContentSHA1,
		ContentType:   ct,
		FileInfo:      req.FileInfo,
		Action:        "upload",
	}, nil
}

func (r *S3Remote) StartLargeFile(ctx context.Context, _ b2api.Session, req b2api.StartLargeFileRequest) (b2api.File, error) {
	c, err := r.current()
	if err != nil {
		return b2api.File{}, err
	}
	ct := s3ContentType(req.ContentType)
	out, err := c.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(req.BucketID),
		Key:         aws.String(req.FileName),
		ContentType: aws.String(ct),
		Metadata:    req.FileInfo,
	})
	if err != nil {
		return b2api.File{}, err
	}
	id := aws.ToString(out.UploadId)
	r.mu.Lock()
	r.uploads[id] = &s3Upload{bucket: req.BucketID, key: req.FileName, uploadID: id, etags: make(map[int32]string)}
	r.mu.Unlock()
	return b2api.File{FileID: id, FileName: req.FileName, BucketID: req.BucketID, ContentType: ct, Action: "start"}, nil
}

func (r *S3Remote) upload(fileID string) (*s3Upload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	up, ok := r.uploads[fileID]
	if !ok {
		return nil, fmt.Errorf("s3: unknown large file %q", fileID)
	}
	return up, nil
}

func (r *S3Remote) GetUploadPartURL(_ context.Context, _ b2api.Session, fileID string) (b2api.UploadURL, error) {
	up, err := r.upload(fileID)
	if err != nil {
		return b2api.UploadURL{}, err
	}
	return b2api.UploadURL{BucketID: up.bucket, FileID: fileID, UploadURL: s3URI(up.bucket, up.key)}, nil
}

func (r *S3Remote) UploadPart(ctx context.Context, u b2api.UploadURL, req b2api.PartRequest) (b2api.Part, error) {
	c, err := r.current()
	if err != nil {
		return b2api.Part{}, err
	}
	up, err := r.upload(u.FileID)
	if err != nil {
		return b2api.Part{}, err
	}
	num := int32(req.PartNumber)
	out, err := c.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(up.bucket),
		Key:           aws.String(up.key),
		UploadId:      aws.String(up.uploadID),
		PartNumber:    aws.Int32(num),
		Body:          bytes.NewReader(req.Body),
		ContentLength: aws.Int64(int64(len(req.Body))),
	})
	if err != nil {
		return b2api.Part{}, err
	}
	up.mu.Lock()
	up.etags[num] = aws.ToString(out.ETag)
	up.mu.Unlock()
	return b2api.Part{FileID: u.FileID, PartNumber: req.PartNumber, ContentLength: int64(len(req.Body)), ContentSHA1: req.ContentSHA1}, nil
}

// FinishLargeFile completes the multipart upload. S3 identifies parts by
// ETag, so the SHA-1 list only fixes how many parts there are.
func (r *S3Remote) FinishLargeFile(ctx context.Context, _ b2api.Session, fileID string, partSHA1s []string) (b2api.File, error) {
	c, err := r.current()
	if err != nil {
		return b2api.File{}, err
	}
	up, err := r.upload(fileID)
	if err != nil {
		return b2api.File{}, err
	}

	up.mu.Lock()
	parts := make([]types.CompletedPart, 0, len(up.etags))
	for num, etag := range up.etags {
		parts = append(parts, types.CompletedPart{PartNumber: aws.Int32(num), ETag: aws.String(etag)})
	}
	up.mu.Unlock()
	if len(parts) != len(partSHA1s) {
		return b2api.File{}, fmt.Errorf("s3: finish %s: have %d parts, expected %d", up.key, len(parts), len(partSHA1s))
	}
	sort.Slice(parts, func(i, j int) bool { return aws.ToInt32(parts[i].PartNumber) < aws.ToInt32(parts[j].PartNumber) })

	_, err = c.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(up.bucket),
		Key:             aws.String(up.key),
		UploadId:        aws.String(up.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return b2api.File{}, err
	}
	r.forget(fileID)
	return b2api.File{FileID: s3URI(up.bucket, up.key), FileName: up.key, BucketID: up.bucket, Action: "upload"}, nil
}

func (r *S3Remote) CancelLargeFile(ctx context.Context, _ b2api.Session, fileID string) error {
	c, err := r.current()
	if err != nil {
		return err
	}
	up, err := r.upload(fileID)
	if err != nil {
		return err
	}
	_, err = c.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(up.bucket),
		Key:      aws.String(up.key),
		UploadId: aws.String(up.uploadID),
	})
	if err != nil {
		return err
	}
	r.forget(fileID)
	return nil
}

func (r *S3Remote) forget(fileID string) {
	r.mu.Lock()
	delete(r.uploads, fileID)
	r.mu.Unlock()
}

func (r *S3Remote) ListFileNames(ctx context.Context, _ b2api.Session, req b2api.ListFileNamesRequest) (b2api.ListFileNamesResponse, error) {
	c, err := r.current()
	if err != nil {
		return b2api.ListFileNamesResponse{}, err
	}
	in := &s3.ListObjectsV2Input{Bucket: aws.String(req.BucketID)}
	if req.Prefix != "" {
		in.Prefix = aws.String(req.Prefix)
	}
	if req.MaxFileCount > 0 {
		in.MaxKeys = aws.Int32(int32(req.MaxFileCount))
	}
	out, err := c.ListObjectsV2(ctx, in)
	if err != nil {
		return b2api.ListFileNamesResponse{}, err
	}
	files := make([]b2api.File, 0, len(out.Contents))
	for _, o := range out.Contents {
		key := aws.ToString(o.Key)
		files = append(files, b2api.File{
			FileID:        s3URI(req.BucketID, key),
			FileName:      key,
			BucketID:      req.BucketID,
			ContentLength: aws.ToInt64(o.Size),
		})
	}
	return b2api.ListFileNamesResponse{Files: files}, nil
}

func (r *S3Remote) DownloadFileByID(ctx context.Context, _ b2api.Session, fileID, rangeHeader string) (*b2api.Download, error) {
	c, err := r.current()
	if err != nil {
		return nil, err
	}
	bucket, key, err := parseS3(fileID)
	if err != nil {
		return nil, err
	}
	in := &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if rangeHeader != "" {
		in.Range = aws.String(rangeHeader)
	}
	out, err := c.GetObject(ctx, in)
	if err != nil {
		return nil, err
	}

	size := aws.ToInt64(out.ContentLength)
	h := make(http.Header)
	h.Set("Content-Length", strconv.FormatInt(size, 10))
	if out.ContentType != nil {
		h.Set("Content-Type", aws.ToString(out.ContentType))
	}
	if out.ETag != nil {
		h.Set("ETag", aws.ToString(out.ETag))
	}
	status := http.StatusOK
	if out.ContentRange != nil {
		h.Set("Content-Range", aws.ToString(out.ContentRange))
		status = http.StatusPartialContent
	}
	body := out.Body
	if body == nil {
		body = io.NopCloser(bytes.NewReader(nil))
	}
	return &b2api.Download{
		Body:          body,
		Header:        h,
		StatusCode:    status,
		ContentLength: size,
		File: b2api.File{
			FileID:        fileID,
			FileName:      key,
			BucketID:      bucket,
			ContentLength: size,
			ContentType:   aws.ToString(out.ContentType),
			FileInfo:      out.Metadata,
		},
	}, nil
}

// GetDownloadAuthorization is not available over S3; signed URLs degrade.
func (r *S3Remote) GetDownloadAuthorization(context.Context, b2api.Session, b2api.DownloadAuthorizationRequest) (b2api.DownloadAuthorization, error) {
	return b2api.DownloadAuthorization{}, fmt.Errorf("s3: download authorization: %w", errors.ErrUnsupported)
}

func (r *S3Remote) DeleteFileVersion(ctx context.Context, _ b2api.Session, _, fileID string) error {
	c, err := r.current()
	if err != nil {
		return err
	}
	bucket, key, err := parseS3(fileID)
	if err != nil {
		return err
	}
	_, err = c.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	return err
}

func s3URI(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}

// parseS3 splits an s3URI. The key is taken verbatim: object keys may hold
// "%", "#" or "?", so this is not URL parsing.
func parseS3(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 uri: %q", uri)
	}
	return bucket, key, nil
}

func s3ContentType(ct string) string {
	if ct == "" || ct == b2api.AutoContentType {
		return "application/octet-stream"
	}
	return ct
}
