package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourorg/mediastore/internal/b2api"
)

// fakeRemote is an in-memory Remote. Hooks override single operations; the
// counters record how often each operation ran.
type fakeRemote struct {
	authorizeCalls atomic.Int32
	listBuckets    atomic.Int32
	uploadFiles    atomic.Int32
	startLarge     atomic.Int32
	uploadParts    atomic.Int32
	finishLarge    atomic.Int32
	cancelLarge    atomic.Int32
	listFiles      atomic.Int32
	downloads      atomic.Int32
	deletes        atomic.Int32

	authorizeFn    func(n int32) (b2api.Authorization, error)
	listBucketsFn  func(ctx context.Context) error
	uploadPartFn   func(r b2api.PartRequest) error
	downloadFn     func(fileID, rangeHeader string) (*b2api.Download, error)
	downloadAuthFn func(r b2api.DownloadAuthorizationRequest) (b2api.DownloadAuthorization, error)
	deleteFn       func(fileName string) error

	mu         sync.Mutex
	buckets    []b2api.Bucket
	files      map[string]b2api.File // by name
	bodies     map[string][]byte     // by file ID
	finished   []string              // part SHA-1s passed to FinishLargeFile
	lastUpload b2api.UploadRequest
	nextID     int
}

func newFakeRemote(buckets ...string) *fakeRemote {
	f := &fakeRemote{
		files:  make(map[string]b2api.File),
		bodies: make(map[string][]byte),
	}
	for i, name := range buckets {
		f.buckets = append(f.buckets, b2api.Bucket{BucketID: fmt.Sprintf("bkt-%d", i+1), BucketName: name})
	}
	return f
}

func (f *fakeRemote) put(name string, body []byte) b2api.File {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	file := b2api.File{FileID: fmt.Sprintf("file-%d", f.nextID), FileName: name, ContentLength: int64(len(body))}
	f.files[name] = file
	f.bodies[file.FileID] = body
	return file
}

func (f *fakeRemote) Authorize(_ context.Context, _ b2api.Credentials) (b2api.Authorization, error) {
	n := f.authorizeCalls.Add(1)
	if f.authorizeFn != nil {
		return f.authorizeFn(n)
	}
	return b2api.Authorization{
		AccountID:          "acct",
		AuthorizationToken: fmt.Sprintf("tok-%d", n),
		APIURL:             "https://api.example",
		DownloadURL:        "https://dl.example",
	}, nil
}

func (f *fakeRemote) ListBuckets(ctx context.Context, _ b2api.Session) ([]b2api.Bucket, error) {
	f.listBuckets.Add(1)
	if f.listBucketsFn != nil {
		if err := f.listBucketsFn(ctx); err != nil {
			return nil, err
		}
	}
	return f.buckets, nil
}

func (f *fakeRemote) GetUploadURL(_ context.Context, s b2api.Session, bucketID string) (b2api.UploadURL, error) {
	return b2api.UploadURL{BucketID: bucketID, UploadURL: "https://up.example", AuthorizationToken: s.Token}, nil
}

func (f *fakeRemote) UploadFile(_ context.Context, u b2api.UploadURL, r b2api.UploadRequest) (b2api.File, error) {
	f.uploadFiles.Add(1)
	f.mu.Lock()
	f.lastUpload = r
	f.mu.Unlock()
	file := f.put(r.FileName, r.Body)
	file.BucketID = u.BucketID
	return file, nil
}

func (f *fakeRemote) StartLargeFile(_ context.Context, _ b2api.Session, r b2api.StartLargeFileRequest) (b2api.File, error) {
	f.startLarge.Add(1)
	return b2api.File{FileID: "large-1", FileName: r.FileName, BucketID: r.BucketID, FileInfo: r.FileInfo}, nil
}

func (f *fakeRemote) GetUploadPartURL(_ context.Context, _ b2api.Session, fileID string) (b2api.UploadURL, error) {
	return b2api.UploadURL{FileID: fileID, UploadURL: "https://up.example/part"}, nil
}

func (f *fakeRemote) UploadPart(_ context.Context, u b2api.UploadURL, r b2api.PartRequest) (b2api.Part, error) {
	f.uploadParts.Add(1)
	if f.uploadPartFn != nil {
		if err := f.uploadPartFn(r); err != nil {
			return b2api.Part{}, err
		}
	}
	return b2api.Part{FileID: u.FileID, PartNumber: r.PartNumber, ContentSHA1: r.ContentSHA1, ContentLength: int64(len(r.Body))}, nil
}

func (f *fakeRemote) FinishLargeFile(_ context.Context, _ b2api.Session, fileID string, sha1s []string) (b2api.File, error) {
	f.finishLarge.Add(1)
	f.mu.Lock()
	f.finished = append([]string(nil), sha1s...)
	f.mu.Unlock()
	return b2api.File{FileID: fileID, Action: "upload"}, nil
}

func (f *fakeRemote) CancelLargeFile(context.Context, b2api.Session, string) error {
	f.cancelLarge.Add(1)
	return nil
}

func (f *fakeRemote) ListFileNames(_ context.Context, _ b2api.Session, r b2api.ListFileNamesRequest) (b2api.ListFileNamesResponse, error) {
	f.listFiles.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.files))
	for name := range f.files {
		if strings.HasPrefix(name, r.Prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if r.MaxFileCount > 0 && len(names) > r.MaxFileCount {
		names = names[:r.MaxFileCount]
	}
	res := b2api.ListFileNamesResponse{}
	for _, name := range names {
		res.Files = append(res.Files, f.files[name])
	}
	return res, nil
}

func (f *fakeRemote) DownloadFileByID(_ context.Context, _ b2api.Session, fileID, rangeHeader string) (*b2api.Download, error) {
	f.downloads.Add(1)
	if f.downloadFn != nil {
		return f.downloadFn(fileID, rangeHeader)
	}
	f.mu.Lock()
	body := f.bodies[fileID]
	f.mu.Unlock()
	return &b2api.Download{
		Body:          io.NopCloser(bytes.NewReader(body)),
		Header:        http.Header{},
		StatusCode:    http.StatusOK,
		ContentLength: int64(len(body)),
		File:          b2api.File{FileID: fileID},
	}, nil
}

func (f *fakeRemote) GetDownloadAuthorization(_ context.Context, _ b2api.Session, r b2api.DownloadAuthorizationRequest) (b2api.DownloadAuthorization, error) {
	if f.downloadAuthFn != nil {
		return f.downloadAuthFn(r)
	}
	return b2api.DownloadAuthorization{BucketID: r.BucketID, FileNamePrefix: r.FileNamePrefix, AuthorizationToken: "dl-token"}, nil
}

func (f *fakeRemote) DeleteFileVersion(_ context.Context, _ b2api.Session, fileName, _ string) error {
	f.deletes.Add(1)
	if f.deleteFn != nil {
		if err := f.deleteFn(fileName); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if file, ok := f.files[fileName]; ok {
		delete(f.bodies, file.FileID)
		delete(f.files, fileName)
	}
	return nil
}

func newTestClient(t *testing.T, r Remote, opts Options) *Client {
	t.Helper()
	if opts.AuthRetryDelay == 0 {
		opts.AuthRetryDelay = time.Millisecond
	}
	c, err := New(r, opts, zap.NewNop())
	require.NoError(t, err)
	return c
}
