package b2api

import (
	"io"
	"net/http"
)

// Authorization is the result of b2_authorize_account.
type Authorization struct {
	AccountID               string `json:"accountId"`
	AuthorizationToken      string `json:"authorizationToken"`
	APIURL                  string `json:"apiUrl"`
	DownloadURL             string `json:"downloadUrl"`
	RecommendedPartSize     int64  `json:"recommendedPartSize"`
	AbsoluteMinimumPartSize int64  `json:"absoluteMinimumPartSize"`
}

// Session is what every authenticated call needs from an authorization.
type Session struct {
	AccountID string
	Token     string
	APIURL    string
	// DownloadURL is only needed for downloads.
	DownloadURL string
}

type Bucket struct {
	BucketID   string `json:"bucketId"`
	BucketName string `json:"bucketName"`
	BucketType string `json:"bucketType,omitempty"`
}

// UploadURL is scoped to one bucket (simple uploads) or one large file (parts).
type UploadURL struct {
	BucketID           string `json:"bucketId,omitempty"`
	FileID             string `json:"fileId,omitempty"`
	UploadURL          string `json:"uploadUrl"`
	AuthorizationToken string `json:"authorizationToken"`
}

// File is the file description returned by uploads, listings and finish.
type File struct {
	FileID          string            `json:"fileId"`
	FileName        string            `json:"fileName"`
	BucketID        string            `json:"bucketId,omitempty"`
	ContentLength   int64             `json:"contentLength"`
	ContentSHA1     string            `json:"contentSha1,omitempty"`
	ContentType     string            `json:"contentType,omitempty"`
	FileInfo        map[string]string `json:"fileInfo,omitempty"`
	Action          string            `json:"action,omitempty"`
	UploadTimestamp int64             `json:"uploadTimestamp,omitempty"`
}

// Part is the result of uploading one part of a large file.
type Part struct {
	FileID        string `json:"fileId"`
	PartNumber    int    `json:"partNumber"`
	ContentLength int64  `json:"contentLength"`
	ContentSHA1   string `json:"contentSha1"`
}

// UploadRequest describes a simple (single-shot) upload.
type UploadRequest struct {
	FileName    string
	ContentType string
	// ContentSHA1 is the hex SHA-1 of Body.
	ContentSHA1 string
	Body        []byte
	FileInfo    map[string]string
}

// PartRequest describes one part of a large file.
type PartRequest struct {
	PartNumber  int
	ContentSHA1 string
	Body        []byte
}

// StartLargeFileRequest opens a large-file session.
type StartLargeFileRequest struct {
	BucketID    string            `json:"bucketId"`
	FileName    string            `json:"fileName"`
	ContentType string            `json:"contentType"`
	FileInfo    map[string]string `json:"fileInfo,omitempty"`
}

type ListFileNamesRequest struct {
	BucketID      string `json:"bucketId"`
	Prefix        string `json:"prefix,omitempty"`
	StartFileName string `json:"startFileName,omitempty"`
	MaxFileCount  int    `json:"maxFileCount,omitempty"`
}

type ListFileNamesResponse struct {
	Files        []File `json:"files"`
	NextFileName string `json:"nextFileName,omitempty"`
}

type DownloadAuthorizationRequest struct {
	BucketID               string `json:"bucketId"`
	FileNamePrefix         string `json:"fileNamePrefix"`
	ValidDurationInSeconds int    `json:"validDurationInSeconds"`
}

type DownloadAuthorization struct {
	BucketID           string `json:"bucketId"`
	FileNamePrefix     string `json:"fileNamePrefix"`
	AuthorizationToken string `json:"authorizationToken"`
}

// Download is an open download body. The caller must close Body.
type Download struct {
	Body          io.ReadCloser
	Header        http.Header
	StatusCode    int
	ContentLength int64
	File          File
}
