// Package fetch downloads remote sources to local files.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/time/rate"

	"blockgen/pkg/version"
)

const (
	defaultTimeout     = 10 * time.Minute
	defaultDialTimeout = 15 * time.Second
)

// DownloadError reports a failed download of URL.
type DownloadError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// Config tunes the Fetcher. Zero fields fall back to defaults.
type Config struct {
	// Timeout bounds a whole download, including reading the body.
	Timeout time.Duration
	// UserAgent is sent with every request.
	UserAgent string
	// MinInterval is the minimum delay between the start of two downloads.
	MinInterval time.Duration
	// Progress renders a progress bar on stderr while downloading.
	Progress bool
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Timeout:   defaultTimeout,
		UserAgent: version.UserAgent(),
	}
}

// Fetcher streams HTTP resources to disk.
type Fetcher struct {
	client  *http.Client
	config  Config
	limiter *rate.Limiter
	log     *slog.Logger
}

// New creates a Fetcher.
func New(config Config, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.UserAgent == "" {
		config.UserAgent = version.UserAgent()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.MinInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(config.MinInterval), 1)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: time.Minute,
		ForceAttemptHTTP2:     true,
	}

	return &Fetcher{
		client:  &http.Client{Transport: transport, Timeout: config.Timeout},
		config:  config,
		limiter: limiter,
		log:     log,
	}
}

// Fetch downloads url into dest and returns the number of bytes written. The body
// is streamed to disk; on failure the partial file is removed and a *DownloadError
// is returned.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string) (int64, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return 0, &DownloadError{URL: url, Err: err}
	}

	f.log.Info("downloading source", "url", url, "path", dest)
	written, err := f.fetch(ctx, url, dest)
	if err != nil {
		if removeErr := os.Remove(dest); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			f.log.Warn("failed to remove partial download", "path", dest, "error", removeErr)
		}
		return 0, err
	}
	f.log.Debug("downloaded source", "url", url, "bytes", written)
	return written, nil
}

func (f *Fetcher) fetch(ctx context.Context, url, dest string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &DownloadError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, &DownloadError{URL: url, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			f.log.Warn("failed to close response body", "url", url, "error", err)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return 0, &DownloadError{URL: url, StatusCode: resp.StatusCode}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return 0, &DownloadError{URL: url, Err: err}
	}
	file, err := os.Create(dest) // #nosec G304 -- dest is inside the run workspace.
	if err != nil {
		return 0, &DownloadError{URL: url, Err: err}
	}

	var w io.Writer = file
	if f.config.Progress {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(filepath.Base(dest)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(os.Stderr) }),
		)
		defer func() { _ = bar.Finish() }()
		w = io.MultiWriter(file, bar)
	}

	written, copyErr := io.Copy(w, resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		return written, &DownloadError{URL: url, Err: copyErr}
	}
	if closeErr != nil {
		return written, &DownloadError{URL: url, Err: closeErr}
	}
	return written, nil
}
