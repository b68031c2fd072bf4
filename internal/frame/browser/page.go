// Package browser drives a headless Chrome page that hosts the content frame.
// A Page implements loader.ProgressDisplay, loader.Surface and
// loader.ContentTarget against the page's DOM.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/progressive-loader/internal/loader"
)

// Config controls the hosting page and its selectors.
type Config struct {
	// PageURL is the hosting page to open.
	PageURL string

	// FrameOrigin is the origin messages are posted to. It defaults to the
	// origin of PageURL.
	FrameOrigin string

	FrameSelector    string
	ProgressSelector string
	LoadingSelector  string

	UserAgent         string
	Headers           map[string]string
	NavigationTimeout time.Duration

	// ActionTimeout bounds each DOM update.
	ActionTimeout time.Duration

	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
}

func (c Config) withDefaults() Config {
	if c.FrameSelector == "" {
		c.FrameSelector = "#gameFrame"
	}
	if c.ProgressSelector == "" {
		c.ProgressSelector = "#progress-bar"
	}
	if c.LoadingSelector == "" {
		c.LoadingSelector = "#loading-screen"
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 45 * time.Second
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 5 * time.Second
	}
	return c
}

// Page is an open browser tab.
type Page struct {
	cfg         Config
	origin      string
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger
	slot        chan struct{} // serializes deliveries
}

// OriginOf returns scheme://host[:port] for raw.
func OriginOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q has no origin", raw)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}

// Open launches Chrome and navigates to cfg.PageURL.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Page, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageURL == "" {
		return nil, errors.New("browser page url is required")
	}
	origin := cfg.FrameOrigin
	if origin == "" {
		o, err := OriginOf(cfg.PageURL)
		if err != nil {
			return nil, err
		}
		origin = o
	}
	if origin == "*" {
		return nil, errors.New("browser frame origin must be explicit")
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	p := &Page{
		cfg:         cfg,
		origin:      origin,
		ctx:         tabCtx,
		cancel:      tabCancel,
		allocCancel: allocCancel,
		logger:      logger,
		slot:        make(chan struct{}, 1),
	}

	// The first Run starts the browser; it must see the long-lived tab
	// context rather than the navigation timeout.
	if err := chromedp.Run(tabCtx); err != nil {
		p.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	navCtx, navCancel := context.WithTimeout(tabCtx, cfg.NavigationTimeout)
	defer navCancel()
	stop := context.AfterFunc(ctx, navCancel)
	defer stop()

	var docStatus atomic.Int64
	chromedp.ListenTarget(navCtx, func(ev any) {
		if resp, ok := ev.(*network.EventResponseReceived); ok &&
			resp.Type == network.ResourceTypeDocument && resp.Response != nil {
			docStatus.CompareAndSwap(0, resp.Response.Status)
		}
	})

	actions := []chromedp.Action{
		networkSetupAction(cfg),
		chromedp.Navigate(cfg.PageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if err := chromedp.Run(navCtx, actions...); err != nil {
		p.Close()
		return nil, fmt.Errorf("open page %s: %w", cfg.PageURL, err)
	}
	if status := docStatus.Load(); status >= 400 {
		p.Close()
		return nil, fmt.Errorf("open page %s: status %d", cfg.PageURL, status)
	}
	logger.Info("browser page ready", zap.String("page", cfg.PageURL), zap.String("frame_origin", origin))
	return p, nil
}

func networkSetupAction(cfg Config) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(cfg.Headers) > 0 {
			headers := make(network.Headers, len(cfg.Headers))
			for k, v := range cfg.Headers {
				headers[k] = v
			}
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// Close shuts the tab and the browser.
func (p *Page) Close() {
	p.cancel()
	p.allocCancel()
}

// SetProgress sets the width of the progress element.
func (p *Page) SetProgress(percent int) {
	p.eval("set progress", progressScript(p.cfg.ProgressSelector, percent))
}

// HideLoading hides the loading screen.
func (p *Page) HideLoading() {
	p.eval("hide loading", displayScript(p.cfg.LoadingSelector, "none"))
}

// RevealContent shows the content frame.
func (p *Page) RevealContent() {
	p.eval("reveal content", displayScript(p.cfg.FrameSelector, "block"))
}

// Origin implements loader.ContentTarget.
func (p *Page) Origin() string {
	return p.origin
}

// Deliver posts the payload into the frame window.
func (p *Page) Deliver(ctx context.Context, msg loader.Message) error {
	field := msg.Field
	if field == "" {
		field = loader.DefaultMessageField
	}
	select {
	case p.slot <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("wait for frame: %w", ctx.Err())
	}
	defer func() { <-p.slot }()

	runCtx, cancel := context.WithTimeout(p.ctx, p.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var posted int
	script := deliverScript(p.cfg.FrameSelector, field, msg.TargetOrigin, msg.Payload)
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &posted)); err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	if posted < 0 {
		return fmt.Errorf("content frame %q not found", p.cfg.FrameSelector)
	}
	if posted != len(msg.Payload) {
		return fmt.Errorf("posted %d bytes, expected %d", posted, len(msg.Payload))
	}
	return nil
}

// eval runs a DOM update. The display and surface interfaces have no error
// return, so failures are logged.
func (p *Page) eval(op, script string) {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.ActionTimeout)
	defer cancel()
	var found bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &found)); err != nil {
		p.logger.Warn("browser update failed", zap.String("op", op), zap.Error(err))
		return
	}
	if !found {
		p.logger.Warn("browser element missing", zap.String("op", op))
	}
}
