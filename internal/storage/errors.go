package storage

import (
	"errors"
	"fmt"

	"github.com/yourorg/mediastore/internal/b2api"
)

var (
	// ErrAuthorizationFailed means the account could not be authorized, retry included.
	ErrAuthorizationFailed = errors.New("authorization failed")
	// ErrBucketNotFound means no remote bucket has the configured name.
	ErrBucketNotFound = errors.New("bucket not found")
	// ErrUploadFailed covers simple uploads and any failed part of a large file.
	ErrUploadFailed = errors.New("upload failed")
	// ErrNotFound indicates no object exists at the requested path.
	ErrNotFound = errors.New("not found")
	// ErrDownloadFailed means both the ranged and the full download failed.
	ErrDownloadFailed = errors.New("download failed")
	// ErrInvalidPath rejects empty object paths.
	ErrInvalidPath = errors.New("invalid object path")
)

type AuthorizationError struct {
	StatusCode int
	Message    string
	Err        error
}

func newAuthorizationError(err error) *AuthorizationError {
	e := &AuthorizationError{Err: err, Message: err.Error()}
	var apiErr *b2api.APIError
	if errors.As(err, &apiErr) {
		e.StatusCode = apiErr.Status
		if apiErr.Message != "" {
			e.Message = apiErr.Message
		}
	}
	return e
}

func (e *AuthorizationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("authorization failed (status %d): %s", e.StatusCode, e.Message)
	}
	return "authorization failed: " + e.Message
}

func (e *AuthorizationError) Unwrap() error        { return e.Err }
func (e *AuthorizationError) Is(target error) bool { return target == ErrAuthorizationFailed }

type BucketNotFoundError struct {
	Name string
}

func (e *BucketNotFoundError) Error() string        { return fmt.Sprintf("bucket %q not found", e.Name) }
func (e *BucketNotFoundError) Is(target error) bool { return target == ErrBucketNotFound }

// UploadError reports a failed upload. Part is 0 for simple uploads and for
// session-level steps (start, finish).
type UploadError struct {
	Path string
	Part int
	Err  error
}

func (e *UploadError) Error() string {
	if e.Part > 0 {
		return fmt.Sprintf("upload %s: part %d: %v", e.Path, e.Part, e.Err)
	}
	return fmt.Sprintf("upload %s: %v", e.Path, e.Err)
}

func (e *UploadError) Unwrap() error        { return e.Err }
func (e *UploadError) Is(target error) bool { return target == ErrUploadFailed }

type DownloadError struct {
	Path string
	Err  error
}

func (e *DownloadError) Error() string        { return fmt.Sprintf("download %s: %v", e.Path, e.Err) }
func (e *DownloadError) Unwrap() error        { return e.Err }
func (e *DownloadError) Is(target error) bool { return target == ErrDownloadFailed }
