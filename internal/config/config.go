// Package config loads storage client settings from the environment and an
// optional config file.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/yourorg/mediastore/internal/b2api"
	"github.com/yourorg/mediastore/internal/storage"
)

const (
	BackendB2 = "b2"
	BackendS3 = "s3"

	// minPartSize is the smallest part B2 and S3 accept for every part but the last.
	minPartSize = 5 * 1000 * 1000
)

// ErrValidation wraps every error returned by Validate.
var ErrValidation = errors.New("invalid configuration")

type Config struct {
	Backend        string
	AccountID      string
	ApplicationKey string
	APIURL         string

	Bucket          string
	BucketOverrides map[storage.Feature]string

	LargeFileThreshold int64
	PartSize           int64
	UploadConcurrency  int

	PublicBaseURL          string
	RequestTimeout         time.Duration
	CancelFailedLargeFiles bool
	Debug                  bool

	S3Region string
}

// FromEnv loads configuration from environment variables only.
func FromEnv() (Config, error) {
	return Load("")
}

// Load reads path (any format viper understands) when non-empty, then applies
// environment variables on top.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("backend", BackendB2)
	v.SetDefault("api_url", b2api.DefaultAPIURL)
	v.SetDefault("large_file_threshold", "50MiB")
	v.SetDefault("part_size", "10MiB")
	v.SetDefault("upload_concurrency", storage.DefaultUploadConcurrency)
	v.SetDefault("request_timeout", storage.DefaultRequestTimeout.String())
	v.SetDefault("s3_region", "us-west-004")

	bind(v, "backend", "STORAGE_BACKEND")
	bind(v, "account_id", "B2_ACCOUNT_ID", "B2_KEY_ID")
	bind(v, "application_key", "B2_APPLICATION_KEY")
	bind(v, "api_url", "B2_API_URL")
	bind(v, "bucket", "B2_BUCKET")
	bind(v, "large_file_threshold", "B2_LARGE_FILE_THRESHOLD")
	bind(v, "part_size", "B2_PART_SIZE")
	bind(v, "upload_concurrency", "B2_UPLOAD_CONCURRENCY")
	bind(v, "public_base_url", "B2_PUBLIC_BASE_URL")
	bind(v, "request_timeout", "B2_REQUEST_TIMEOUT")
	bind(v, "cancel_failed_large_files", "B2_CANCEL_FAILED_LARGE_FILES")
	bind(v, "debug", "B2_DEBUG")
	bind(v, "s3_region", "AWS_REGION")
	for _, f := range storage.Features() {
		bind(v, "bucket_"+string(f), "B2_BUCKET_"+strings.ToUpper(string(f)))
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	timeout, err := parseDuration(v, "request_timeout")
	if err != nil {
		return Config{}, err
	}
	threshold, err := parseSize(v, "large_file_threshold")
	if err != nil {
		return Config{}, err
	}
	partSize, err := parseSize(v, "part_size")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Backend:                strings.ToLower(v.GetString("backend")),
		AccountID:              v.GetString("account_id"),
		ApplicationKey:         v.GetString("application_key"),
		APIURL:                 v.GetString("api_url"),
		Bucket:                 v.GetString("bucket"),
		BucketOverrides:        make(map[storage.Feature]string),
		LargeFileThreshold:     threshold,
		PartSize:               partSize,
		UploadConcurrency:      v.GetInt("upload_concurrency"),
		PublicBaseURL:          v.GetString("public_base_url"),
		RequestTimeout:         timeout,
		CancelFailedLargeFiles: v.GetBool("cancel_failed_large_files"),
		Debug:                  v.GetBool("debug"),
		S3Region:               v.GetString("s3_region"),
	}
	for _, f := range storage.Features() {
		if b := v.GetString("bucket_" + string(f)); b != "" {
			cfg.BucketOverrides[f] = b
		}
	}
	return cfg, nil
}

func bind(v *viper.Viper, key string, envs ...string) {
	_ = v.BindEnv(append([]string{key}, envs...)...)
}

// parseSize accepts plain byte counts and human units ("10MiB", "50 MB").
func parseSize(v *viper.Viper, key string) (int64, error) {
	raw := strings.TrimSpace(v.GetString(key))
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %v", key, ErrValidation, err)
	}
	return int64(n), nil
}

// parseDuration accepts Go durations ("90s", "2m") and bare numbers, which
// are seconds.
func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %v", key, ErrValidation, err)
	}
	return d, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendB2, BackendS3:
	default:
		errs = append(errs, fmt.Errorf("backend %q must be %q or %q", c.Backend, BackendB2, BackendS3))
	}
	if c.AccountID == "" || c.ApplicationKey == "" {
		errs = append(errs, errors.New("account id and application key are required"))
	}
	if c.PartSize < minPartSize {
		errs = append(errs, fmt.Errorf("part size %s is below the %s minimum", humanize.IBytes(uint64(c.PartSize)), humanize.Bytes(minPartSize)))
	}
	if c.LargeFileThreshold <= c.PartSize {
		errs = append(errs, fmt.Errorf("large file threshold %s must exceed part size %s", humanize.IBytes(uint64(c.LargeFileThreshold)), humanize.IBytes(uint64(c.PartSize))))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.UploadConcurrency < 1 {
		errs = append(errs, errors.New("upload concurrency must be at least 1"))
	}
	if c.Backend == BackendS3 && c.PublicBaseURL == "" {
		errs = append(errs, errors.New("s3 backend requires a public base url"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrValidation, errors.Join(errs...))
	}
	return nil
}

// Storage converts the config into client options.
func (c Config) Storage() storage.Options {
	overrides := make(map[storage.Feature]string, len(c.BucketOverrides))
	for k, v := range c.BucketOverrides {
		overrides[k] = v
	}
	return storage.Options{
		Credentials:            b2api.Credentials{AccountID: c.AccountID, ApplicationKey: c.ApplicationKey},
		Bucket:                 c.Bucket,
		BucketOverrides:        overrides,
		LargeFileThreshold:     c.LargeFileThreshold,
		PartSize:               c.PartSize,
		UploadConcurrency:      c.UploadConcurrency,
		PublicBaseURL:          c.PublicBaseURL,
		RequestTimeout:         c.RequestTimeout,
		CancelFailedLargeFiles: c.CancelFailedLargeFiles,
	}
}

// NewRemote builds the protocol backend selected by Backend.
func (c Config) NewRemote() storage.Remote {
	if c.Backend == BackendS3 {
		return storage.NewS3(c.S3Region)
	}
	return b2api.NewClient(c.APIURL, b2api.WithTimeout(c.RequestTimeout))
}
