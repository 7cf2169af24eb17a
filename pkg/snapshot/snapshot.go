// Package snapshot fetches single still images over HTTP. It backs the
// degraded image mode of the stream client: one request per refresh, no
// session and no retry.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pion/logging"
)

const (
	// DefaultTimeout bounds one fetch.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxBytes limits the size of an image body.
	DefaultMaxBytes = 16 << 20

	// cacheBustParam is appended to every request so proxies never serve a
	// stale image.
	cacheBustParam = "t"
)

// Snapshot errors.
var (
	// ErrInvalidURL is returned when the endpoint is empty or not http(s).
	ErrInvalidURL = errors.New("snapshot: invalid endpoint URL")

	// ErrStatus is wrapped around non-200 responses.
	ErrStatus = errors.New("snapshot: unexpected status")

	// ErrTooLarge is returned when the body exceeds MaxBytes.
	ErrTooLarge = errors.New("snapshot: image too large")

	// ErrEmpty is returned when the body is empty.
	ErrEmpty = errors.New("snapshot: empty image")
)

// Config configures a Fetcher.
type Config struct {
	// URL is the image endpoint.
	URL string

	// Client performs the requests. Default: a client with Timeout.
	Client *http.Client

	// Timeout bounds one fetch when Client is nil. Default: DefaultTimeout.
	Timeout time.Duration

	// MaxBytes limits the body size. Default: DefaultMaxBytes.
	MaxBytes int64

	// LoggerFactory is the factory for creating loggers.
	// If nil, pion's default factory is used.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: c.Timeout}
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
}

// Image is one fetched still.
type Image struct {
	Data        []byte
	ContentType string
	FetchedAt   time.Time
}

// Fetcher retrieves still images.
type Fetcher struct {
	config Config
	base   *url.URL
	log    logging.LeveledLogger
}

// New creates a fetcher.
func New(config Config) (*Fetcher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	base, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	return &Fetcher{
		config: config,
		base:   base,
		log:    config.LoggerFactory.NewLogger("snapshot"),
	}, nil
}

// Fetch performs one GET. Errors are returned directly; there is no retry.
func (f *Fetcher) Fetch(ctx context.Context) (*Image, error) {
	now := time.Now()

	u := *f.base
	q := u.Query()
	q.Set(cacheBustParam, strconv.FormatInt(now.UnixMilli(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: build request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := f.config.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %s", ErrStatus, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("snapshot: read body: %w", err)
	}
	if int64(len(data)) > f.config.MaxBytes {
		return nil, ErrTooLarge
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	f.log.Tracef("fetched %d bytes", len(data))
	return &Image{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
		FetchedAt:   now,
	}, nil
}
