package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yourorg/mediastore/internal/config"
	"github.com/yourorg/mediastore/internal/iopkg"
	msmetrics "github.com/yourorg/mediastore/internal/metrics"
	"github.com/yourorg/mediastore/internal/storage"
)

type app struct {
	configPath  string
	metricsAddr string

	log   *zap.Logger
	store *storage.Client
	out   io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(&app{out: os.Stdout}).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "mediactl",
		Short:        "Upload, sign, fetch and delete media objects",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (yaml, json or toml); env vars override it")
	root.PersistentFlags().StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running (default METRICS_ADDR, off when unset)")

	root.AddCommand(a.uploadCmd(), a.urlCmd(), a.signCmd(), a.getCmd(), a.rmCmd())
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := getenv("LOG_LEVEL", "info")
	if cfg.Debug {
		level = "debug"
	}
	a.log = newZap(level)

	msmetrics.Init()
	addr := a.metricsAddr
	if addr == "" && os.Getenv("METRICS_ADDR") != "" {
		addr = msmetrics.AddrFromEnv()
	}
	if addr != "" {
		go func() {
			if err := msmetrics.Serve(addr); err != nil {
				a.log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	a.store, err = storage.New(cfg.NewRemote(), cfg.Storage(), a.log)
	if err != nil {
		return err
	}
	a.log.Debug("client ready",
		zap.String("backend", cfg.Backend),
		zap.String("bucket", cfg.Bucket),
		zap.String("threshold", humanize.IBytes(uint64(cfg.LargeFileThreshold))),
		zap.String("partSize", humanize.IBytes(uint64(cfg.PartSize))),
	)
	return nil
}

func (a *app) uploadCmd() *cobra.Command {
	var contentType string
	cmd := &cobra.Command{
		Use:   "upload <bucket> <path> <file|->",
		Short: "Upload a local file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := iopkg.ReadAll(args[2])
			if err != nil {
				return err
			}
			if contentType == "" {
				contentType = detectContentType(payload)
			}
			res, err := a.store.Upload(cmd.Context(), args[0], args[1], payload, contentType, storage.UploadOptions{})
			if err != nil {
				return err
			}
			return a.print(res)
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "content type; sniffed from the data when empty")
	return cmd
}

func (a *app) urlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "url <bucket> <path>",
		Short: "Print the public URL of an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.store.PublicURL(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, u)
			return err
		},
	}
}

func (a *app) signCmd() *cobra.Command {
	var ttl int
	cmd := &cobra.Command{
		Use:   "sign <bucket> <path>",
		Short: "Print a time-limited download URL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			su, err := a.store.SignedURL(cmd.Context(), args[0], args[1], ttl)
			if err != nil {
				return err
			}
			out := map[string]any{"url": su.URL, "signed": su.Signed}
			if su.Signed {
				out["expiresAt"] = su.ExpiresAt
			}
			if su.Degraded != nil {
				out["degraded"] = su.Degraded.Error()
			}
			return a.print(out)
		},
	}
	cmd.Flags().IntVar(&ttl, "ttl", 3600, "validity in seconds (minimum 60)")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	var rangeHeader, output string
	cmd := &cobra.Command{
		Use:   "get <bucket> <path>",
		Short: "Download an object to stdout or a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.store.Download(cmd.Context(), args[0], args[1], rangeHeader)
			if err != nil {
				return err
			}
			defer d.Body.Close()

			w := a.out
			if output != "" {
				f, c, err := iopkg.CreateWriter(output)
				if err != nil {
					return err
				}
				defer c.Close()
				w = f
			}
			n, err := io.Copy(w, d.Body)
			if err != nil {
				return err
			}
			a.log.Info("downloaded",
				zap.String("path", args[1]),
				zap.String("size", humanize.IBytes(uint64(n))),
				zap.Bool("partial", d.Partial),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&rangeHeader, "range", "", `HTTP Range header value, e.g. "bytes=0-1023"`)
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func (a *app) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <bucket> <path>...",
		Short: "Delete objects; reports one result per path",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			results := a.store.Remove(cmd.Context(), args[0], args[1:])
			if err := a.print(results); err != nil {
				return err
			}
			for _, r := range results {
				if !r.Success && r.Error != storage.NotFoundCode {
					return fmt.Errorf("delete %s: %s", r.Path, r.Error)
				}
			}
			return nil
		},
	}
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// detectContentType sniffs payload; unknown data falls back to the remote's
// own detection.
func detectContentType(payload []byte) string {
	mt := mimetype.Detect(payload)
	if mt.Is("application/octet-stream") {
		return ""
	}
	return mt.String()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func newZap(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
