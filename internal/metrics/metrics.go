package metrics

import (
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mediastore"

var (
	AuthorizeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "authorize_total",
		Help:      "Account authorization attempts by result.",
	}, []string{"result"})
	BucketLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bucket_lookups_total",
		Help:      "Bucket ID resolutions by result (hit, miss, not_found, error).",
	}, []string{"result"})
	UploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploads_total",
		Help:      "Uploads by mode (simple, large) and result.",
	}, []string{"mode", "result"})
	UploadBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upload_bytes_total",
		Help:      "Payload bytes of successful uploads.",
	})
	PartsUploaded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "parts_uploaded_total",
		Help:      "Large-file parts uploaded.",
	})
	DownloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloads_total",
		Help:      "Downloads by result (ok, not_found, error).",
	}, []string{"result"})
	RangeFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "range_fallbacks_total",
		Help:      "Ranged downloads retried as full-object downloads.",
	})
	DeletesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deletes_total",
		Help:      "Per-path deletions by result (ok, not_found, error).",
	}, []string{"result"})
	SignedURLs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signed_urls_total",
		Help:      "Signed URL requests by outcome (signed, degraded).",
	}, []string{"outcome"})
)

var initOnce sync.Once

// Init registers collectors with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			AuthorizeTotal, BucketLookups, UploadsTotal, UploadBytes, PartsUploaded,
			DownloadsTotal, RangeFallbacks, DeletesTotal, SignedURLs,
		)
	})
}

// Serve starts a /metrics server on the given addr (e.g., ":9090"). Blocks; run it in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}

// AddrFromEnv returns listen address from METRICS_ADDR or default ":9090".
func AddrFromEnv() string {
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		return v
	}
	return ":9090"
}
