// Package fetch implements the remote fetcher: it downloads provider files
// over HTTP preserving the provider's modification timestamp, retries
// transient failures with exponential backoff behind a circuit breaker, and
// paces requests so the provider is not hammered.
//
// The resolution engine treats this package as a black box that either
// returns a local path, reports the resource absent (*ErrNotFound), or fails
// after exhausting its own retry budget (*ErrFetchFailed).
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// DownloadMode controls what happens when the local file already exists.
type DownloadMode string

const (
	// ModeForce always downloads, overwriting the local file.
	ModeForce DownloadMode = "force"
	// ModeUpdate downloads only when the remote file is newer (default).
	ModeUpdate DownloadMode = "update"
	// ModeNoUpdate never re-downloads an existing local file.
	ModeNoUpdate DownloadMode = "no_update"
)

// ParseMode converts a config string into a DownloadMode.
func ParseMode(s string) (DownloadMode, error) {
	switch DownloadMode(strings.ToLower(s)) {
	case ModeForce:
		return ModeForce, nil
	case ModeUpdate, "":
		return ModeUpdate, nil
	case ModeNoUpdate:
		return ModeNoUpdate, nil
	}
	return "", fmt.Errorf("invalid download mode %q", s)
}

// ErrNotFound reports that the provider confirmed the resource absent.
type ErrNotFound struct {
	Locator string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("remote resource %q not found", e.Locator)
}

// ErrFetchFailed reports a transport failure that persisted through the
// fetcher's whole retry budget.
type ErrFetchFailed struct {
	Locator string
	Err     error
}

func (e *ErrFetchFailed) Error() string {
	return fmt.Sprintf("fetch %q failed: %v", e.Locator, e.Err)
}

func (e *ErrFetchFailed) Unwrap() error { return e.Err }

// errServerStatus marks retryable HTTP status codes.
var errServerStatus = errors.New("server error status")

// Options bundle the fetcher's resilience settings.
type Options struct {
	Mode           DownloadMode
	Retries        int           // attempts per download, default 5
	Timeout        time.Duration // per-request timeout, default 60s
	RequestsPerSec float64       // default 4
}

// Client downloads files from a single remote provider.
type Client struct {
	base    *url.URL
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	mode    DownloadMode
	retries int
	log     zerolog.Logger
}

// New creates a fetcher for the given server URL ("https://host" or bare
// "host", in which case https is assumed).
func New(server string, opts Options, log zerolog.Logger) (*Client, error) {
	if !strings.Contains(server, "://") {
		server = "https://" + server
	}
	base, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", server, err)
	}

	if opts.Retries <= 0 {
		opts.Retries = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 4
	}
	if opts.Mode == "" {
		opts.Mode = ModeUpdate
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        base.Host,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &Client{
		base:    base,
		http:    &http.Client{Timeout: opts.Timeout},
		breaker: cb,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1),
		mode:    opts.Mode,
		retries: opts.Retries,
		log:     log.With().Str("component", "fetch").Logger(),
	}, nil
}

// remoteURL joins the server base with a provider-relative locator.
func (c *Client) remoteURL(remotePath string) string {
	u := *c.base
	u.Path = path.Join(u.Path, remotePath)
	return u.String()
}

// Download fetches remotePath into localDir, preserving the provider's
// Last-Modified timestamp on the local file. It returns the local path.
//
// When the local file already exists the DownloadMode decides: no_update
// skips unconditionally, update skips if the modification times match, force
// always downloads.
func (c *Client) Download(ctx context.Context, remotePath, localDir string) (string, error) {
	localPath := filepath.Join(localDir, path.Base(remotePath))

	if _, err := os.Stat(localPath); err == nil && c.mode == ModeNoUpdate {
		c.log.Debug().Str("file", localPath).Msg("skipping download, file exists")
		return localPath, nil
	}

	locator := c.remoteURL(remotePath)

	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			c.log.Warn().Str("url", locator).Int("attempt", attempt+1).Msg("retrying download")
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff(attempt)):
			}
		}

		done, err := c.tryDownload(ctx, locator, localPath)
		if err == nil {
			if done {
				c.log.Debug().Str("file", localPath).Msg("downloaded")
			}
			return localPath, nil
		}

		var notFound *ErrNotFound
		if errors.As(err, &notFound) {
			c.log.Warn().Str("url", locator).Msg("file not available on provider")
			return "", err
		}
		lastErr = err
	}

	return "", &ErrFetchFailed{Locator: locator, Err: lastErr}
}

// tryDownload performs one download attempt. The boolean reports whether
// bytes were actually transferred (false means an up-to-date skip).
func (c *Client) tryDownload(ctx context.Context, locator, localPath string) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}

	result, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
		if err != nil {
			return nil, err
		}
		return c.http.Do(req)
	})
	if err != nil {
		return false, err
	}
	resp := result.(*http.Response)
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, &ErrNotFound{Locator: locator}
	case resp.StatusCode >= 500:
		return false, fmt.Errorf("%w: %s", errServerStatus, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("unexpected status %s", resp.Status)
	}

	remoteMtime, _ := http.ParseTime(resp.Header.Get("Last-Modified"))

	// In update mode an unchanged file is not transferred again.
	if c.mode == ModeUpdate && !remoteMtime.IsZero() {
		if info, err := os.Stat(localPath); err == nil && info.ModTime().Equal(remoteMtime) {
			c.log.Debug().Str("file", localPath).Msg("skipping download, file already updated")
			return false, nil
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".fetch-*")
	if err != nil {
		return false, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return false, fmt.Errorf("read body: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, err
	}
	if err := os.Rename(tmp.Name(), localPath); err != nil {
		return false, err
	}

	if !remoteMtime.IsZero() {
		if err := os.Chtimes(localPath, remoteMtime, remoteMtime); err != nil {
			return false, fmt.Errorf("preserve mtime: %w", err)
		}
	}
	return true, nil
}

// Exists checks whether a remote resource is present, via a HEAD request.
func (c *Client) Exists(ctx context.Context, remotePath string) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}
	locator := c.remoteURL(remotePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, locator, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	}
	return false, fmt.Errorf("unexpected status %s for %s", resp.Status, locator)
}

// backoff returns the exponential delay before retry attempt n (1-based).
func backoff(attempt int) time.Duration {
	d := 500 * time.Millisecond << (attempt - 1)
	if d > 5*time.Second {
		return 5 * time.Second
	}
	return d
}
