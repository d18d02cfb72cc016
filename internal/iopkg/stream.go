// Package iopkg opens local sources and destinations named by path, file://
// URI or "-" for stdin/stdout.
package iopkg

import (
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Stdio is the name that selects stdin for Open and stdout for CreateWriter.
const Stdio = "-"

// Open returns a ReadCloser and (if known) size for a path, file:// URI or "-".
func Open(uri string) (io.ReadCloser, int64, error) {
	if uri == Stdio {
		return io.NopCloser(os.Stdin), -1, nil
	}
	p, err := localPath(uri)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, 0, err
	}
	var sz int64 = -1
	if st, err := f.Stat(); err == nil && st.Mode().IsRegular() {
		sz = st.Size()
	}
	return f, sz, nil
}

// ReadAll reads the whole source; uploads need the payload in memory to hash it.
func ReadAll(uri string) ([]byte, error) {
	rc, _, err := Open(uri)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// CreateWriter creates the destination, making parent directories as needed.
// Closing the stdout writer is a no-op.
func CreateWriter(uri string) (io.Writer, io.Closer, error) {
	if uri == Stdio || uri == "" {
		return os.Stdout, closerFunc(func() error { return nil }), nil
	}
	p, err := localPath(uri)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.Create(p)
	if err != nil {
		return nil, nil, err
	}
	return f, f, nil
}

func localPath(uri string) (string, error) {
	if !strings.Contains(uri, "://") {
		return uri, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	if u.Scheme != "file" {
		return "", errors.New("unsupported scheme: " + u.Scheme)
	}
	return strings.TrimPrefix(uri, "file://"), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
