package b2api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAPIURL is where b2_authorize_account lives.
	DefaultAPIURL = "https://api.backblazeb2.com"
	// AutoContentType asks B2 to pick the content type from the file name.
	AutoContentType = "b2/x-auto"

	apiPrefix      = "/b2api/v2/"
	defaultTimeout = 60 * time.Second
)

// Credentials identify the account. They never change after construction.
type Credentials struct {
	AccountID      string
	ApplicationKey string
}

// Client speaks the native B2 v2 JSON API over HTTP. It keeps no session
// state of its own; every authenticated call takes a Session.
type Client struct {
	apiURL  string
	http    *http.Client
	timeout time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client (tests, custom transports).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeout bounds each API call. Downloads are bounded only until the
// response headers arrive; the body may stream for as long as the caller reads.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient creates a client; apiURL defaults to DefaultAPIURL if empty.
func NewClient(apiURL string, opts ...Option) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	c := &Client{
		apiURL:  strings.TrimRight(apiURL, "/"),
		timeout: defaultTimeout,
		// No Client.Timeout: it would also cut off download bodies.
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Authorize(ctx context.Context, creds Credentials) (Authorization, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+apiPrefix+"b2_authorize_account", nil)
	if err != nil {
		return Authorization{}, err
	}
	req.SetBasicAuth(creds.AccountID, creds.ApplicationKey)

	var out Authorization
	if err := c.do(req, "b2_authorize_account", &out); err != nil {
		return Authorization{}, err
	}
	return out, nil
}

func (c *Client) ListBuckets(ctx context.Context, s Session) ([]Bucket, error) {
	in := map[string]string{"accountId": s.AccountID}
	var out struct {
		Buckets []Bucket `json:"buckets"`
	}
	if err := c.call(ctx, s, "b2_list_buckets", in, &out); err != nil {
		return nil, err
	}
	return out.Buckets, nil
}

func (c *Client) GetUploadURL(ctx context.Context, s Session, bucketID string) (UploadURL, error) {
	var out UploadURL
	err := c.call(ctx, s, "b2_get_upload_url", map[string]string{"bucketId": bucketID}, &out)
	return out, err
}

func (c *Client) UploadFile(ctx context.Context, u UploadURL, r UploadRequest) (File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.UploadURL, bytes.NewReader(r.Body))
	if err != nil {
		return File{}, err
	}
	ct := r.ContentType
	if ct == "" {
		ct = AutoContentType
	}
	req.Header.Set("Authorization", u.AuthorizationToken)
	req.Header.Set("X-Bz-File-Name", EncodePath(r.FileName))
	req.Header.Set("Content-Type", ct)
	req.Header.Set("X-Bz-Content-Sha1", r.ContentSHA1)
	for k, v := range r.FileInfo {
		req.Header.Set("X-Bz-Info-"+k, EncodeSegment(v))
	}

	var out File
	if err := c.do(req, "b2_upload_file", &out); err != nil {
		return File{}, err
	}
	return out, nil
}

func (c *Client) StartLargeFile(ctx context.Context, s Session, r StartLargeFileRequest) (File, error) {
	if r.ContentType == "" {
		r.ContentType = AutoContentType
	}
	var out File
	err := c.call(ctx, s, "b2_start_large_file", r, &out)
	return out, err
}

func (c *Client) GetUploadPartURL(ctx context.Context, s Session, fileID string) (UploadURL, error) {
	var out UploadURL
	err := c.call(ctx, s, "b2_get_upload_part_url", map[string]string{"fileId": fileID}, &out)
	return out, err
}

func (c *Client) UploadPart(ctx context.Context, u UploadURL, r PartRequest) (Part, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.UploadURL, bytes.NewReader(r.Body))
	if err != nil {
		return Part{}, err
	}
	req.Header.Set("Authorization", u.AuthorizationToken)
	req.Header.Set("X-Bz-Part-Number", strconv.Itoa(r.PartNumber))
	req.Header.Set("X-Bz-Content-Sha1", r.ContentSHA1)

	var out Part
	if err := c.do(req, "b2_upload_part", &out); err != nil {
		return Part{}, err
	}
	return out, nil
}

func (c *Client) FinishLargeFile(ctx context.Context, s Session, fileID string, partSHA1s []string) (File, error) {
	in := struct {
		FileID        string   `json:"fileId"`
		PartSHA1Array []string `json:"partSha1Array"`
	}{fileID, partSHA1s}
	var out File
	err := c.call(ctx, s, "b2_finish_large_file", in, &out)
	return out, err
}

func (c *Client) CancelLargeFile(ctx context.Context, s Session, fileID string) error {
	return c.call(ctx, s, "b2_cancel_large_file", map[string]string{"fileId": fileID}, nil)
}

func (c *Client) ListFileNames(ctx context.Context, s Session, r ListFileNamesRequest) (ListFileNamesResponse, error) {
	var out ListFileNamesResponse
	err := c.call(ctx, s, "b2_list_file_names", r, &out)
	return out, err
}

// DownloadFileByID opens the file body. rangeHeader is passed through as the
// HTTP Range header when non-empty.
func (c *Client) DownloadFileByID(ctx context.Context, s Session, fileID, rangeHeader string) (*Download, error) {
	base := strings.TrimRight(s.DownloadURL, "/")
	u := base + apiPrefix + "b2_download_file_by_id?fileId=" + url.QueryEscape(fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", s.Token)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	ctx, cancel := context.WithCancel(ctx)
	headers := time.AfterFunc(c.timeout, cancel)
	resp, err := c.http.Do(req.WithContext(ctx))
	if !headers.Stop() && err == nil {
		resp.Body.Close()
		err = fmt.Errorf("b2_download_file_by_id: no response within %s", c.timeout)
	}
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		defer cancel()
		defer resp.Body.Close()
		return nil, decodeError(resp, "b2_download_file_by_id")
	}

	name := resp.Header.Get("X-Bz-File-Name")
	if dec, err := url.PathUnescape(name); err == nil {
		name = dec
	}
	return &Download{
		Body:          &cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
		Header:        resp.Header,
		StatusCode:    resp.StatusCode,
		ContentLength: resp.ContentLength,
		File: File{
			FileID:        resp.Header.Get("X-Bz-File-Id"),
			FileName:      name,
			ContentLength: resp.ContentLength,
			ContentSHA1:   resp.Header.Get("X-Bz-Content-Sha1"),
			ContentType:   resp.Header.Get("Content-Type"),
		},
	}, nil
}

func (c *Client) GetDownloadAuthorization(ctx context.Context, s Session, r DownloadAuthorizationRequest) (DownloadAuthorization, error) {
	var out DownloadAuthorization
	err := c.call(ctx, s, "b2_get_download_authorization", r, &out)
	return out, err
}

func (c *Client) DeleteFileVersion(ctx context.Context, s Session, fileName, fileID string) error {
	in := map[string]string{"fileName": fileName, "fileId": fileID}
	return c.call(ctx, s, "b2_delete_file_version", in, nil)
}

// call POSTs a JSON body to {apiUrl}/b2api/v2/{op}.
func (c *Client) call(ctx context.Context, s Session, op string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", op, err)
	}
	u := strings.TrimRight(s.APIURL, "/") + apiPrefix + op
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", s.Token)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, op, out)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	ctx, cancel := context.WithTimeout(req.Context(), c.timeout)
	defer cancel()
	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp, op)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func decodeError(resp *http.Response, op string) error {
	apiErr := &APIError{Op: op, Status: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if len(body) > 0 && json.Unmarshal(body, apiErr) != nil {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	// The body's status wins if present, but a missing one must not zero it.
	if apiErr.Status == 0 {
		apiErr.Status = resp.StatusCode
	}
	if apiErr.Code == "" {
		apiErr.Code = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// cancelOnClose releases a download's context once the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
