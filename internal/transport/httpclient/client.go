// Package httpclient implements loader.Transport over net/http.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/progressive-loader/internal/loader"
	"github.com/JakeFAU/progressive-loader/internal/metrics"
	"github.com/JakeFAU/progressive-loader/internal/ratelimit"
)

// Config tunes the HTTP transport.
type Config struct {
	UserAgent string
	// ConnectTimeout bounds dialing.
	ConnectTimeout time.Duration
	// ResponseHeaderTimeout bounds the wait for response headers.
	ResponseHeaderTimeout time.Duration
	// IdleTimeout aborts a transfer when no bytes arrive for this long. Zero
	// disables the watchdog.
	IdleTimeout time.Duration
	// Headers are added to every request.
	Headers map[string]string
	// RatePerHost caps requests per second to any one host. Zero disables it.
	RatePerHost float64
	RateBurst   int
}

// Client opens streaming GET requests.
type Client struct {
	cfg     Config
	client  *http.Client
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// New builds a Client with a pooled transport. Compression is disabled so the
// declared Content-Length always matches the bytes read from the body.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return NewWithHTTPClient(cfg, &http.Client{Transport: newHTTPTransport(cfg)}, logger)
}

// NewWithHTTPClient wraps an existing http.Client (primarily for testing).
func NewWithHTTPClient(cfg Config, client *http.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		client:  client,
		limiter: ratelimit.New(ratelimit.Config{RPS: cfg.RatePerHost, Burst: cfg.RateBurst}),
		logger:  logger,
	}
}

func newHTTPTransport(cfg Config) *http.Transport {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		DisableCompression:    true,
	}
}

// Open issues a GET for url. Any status is returned to the caller; the body
// is wrapped so every successful read resets the idle watchdog.
func (c *Client) Open(ctx context.Context, url string) (*loader.Response, error) {
	if err := c.limiter.Wait(ctx, url); err != nil {
		return nil, err
	}
	wctx, wd := newWatchdog(ctx, c.cfg.IdleTimeout)
	req, err := http.NewRequestWithContext(wctx, http.MethodGet, url, nil)
	if err != nil {
		wd.Stop()
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		wd.Stop()
		metrics.ObserveOpen(url, 0)
		return nil, fmt.Errorf("perform request: %w", causeOf(wctx, err))
	}
	metrics.ObserveOpen(url, resp.StatusCode)
	c.logger.Debug("response headers received",
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Int64("content_length", resp.ContentLength),
	)
	return &loader.Response{
		StatusCode:    resp.StatusCode,
		ContentLength: resp.ContentLength,
		ContentType:   resp.Header.Get("Content-Type"),
		Body:          &watchedBody{ctx: wctx, rc: resp.Body, wd: wd},
	}, nil
}

type watchedBody struct {
	ctx context.Context
	rc  io.ReadCloser
	wd  *watchdog
}

func (b *watchedBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.wd.Kick()
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return n, causeOf(b.ctx, err)
	}
	return n, err //nolint:wrapcheck
}

func (b *watchedBody) Close() error {
	b.wd.Stop()
	return b.rc.Close() //nolint:wrapcheck
}

// causeOf attaches the watchdog cause to err when the context was canceled
// for idleness.
func causeOf(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); errors.Is(cause, ErrIdleTimeout) {
		return fmt.Errorf("%w: %w", cause, err)
	}
	return err
}
