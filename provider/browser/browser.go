// Package browser provides a screenshot backend driven by headless
// Chromium over the DevTools protocol.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/mosaicdev/assetgen"
)

// Config holds browser configuration.
type Config struct {
	// ControlURL connects to an already-running browser. When empty, a
	// headless instance is launched and owned by the backend.
	ControlURL string

	// Bin is an explicit Chromium binary path. Empty lets the launcher
	// resolve (and download) one.
	Bin string

	// NoSandbox disables the Chromium sandbox, needed in most containers.
	NoSandbox bool

	// ViewportWidth and ViewportHeight are the default capture size when a
	// request carries no dimensions.
	ViewportWidth  int
	ViewportHeight int

	// NavigationTimeout bounds page navigation and load.
	NavigationTimeout time.Duration

	// SettleDelay is waited after load before capturing, for late-rendering
	// content.
	SettleDelay time.Duration

	// FullPage captures the full scroll height instead of the viewport.
	FullPage bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ViewportWidth:     1920,
		ViewportHeight:    1080,
		NavigationTimeout: 30 * time.Second,
		SettleDelay:       2 * time.Second,
	}
}

// Backend implements the screenshot capability. The browser is launched
// lazily on first use and reused across attempts and slots.
type Backend struct {
	cfg *Config

	mu      sync.Mutex
	browser *rod.Browser
	cleanup func()
}

var _ assetgen.Backend = (*Backend)(nil)

// New creates a screenshot backend. Nil config means DefaultConfig.
func New(cfg *Config) *Backend {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Backend{cfg: cfg}
}

// Kind reports the capability this backend provides.
func (b *Backend) Kind() assetgen.BackendKind {
	return assetgen.BackendScreenshot
}

func (b *Backend) ensureStarted() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		return b.browser, nil
	}

	controlURL := b.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(true)
		if b.cfg.Bin != "" {
			l = l.Bin(b.cfg.Bin)
		}
		if b.cfg.NoSandbox {
			l = l.NoSandbox(true)
		}
		url, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launching browser: %w", err)
		}
		controlURL = url
		b.cleanup = l.Cleanup
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		if b.cleanup != nil {
			b.cleanup()
			b.cleanup = nil
		}
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}

	b.browser = browser
	return browser, nil
}

// Invoke navigates to the request's target URL and captures a PNG
// screenshot. The request's dimensions, when set, override the configured
// viewport.
func (b *Backend) Invoke(ctx context.Context, req *assetgen.GenerationRequest) (*assetgen.Image, error) {
	browser, err := b.ensureStarted()
	if err != nil {
		return nil, b.transportError(err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, b.transportError(fmt.Errorf("opening page: %w", err))
	}
	defer page.Close()

	width, height := b.cfg.ViewportWidth, b.cfg.ViewportHeight
	if req.Dimensions != nil {
		width, height = req.Dimensions.Width, req.Dimensions.Height
	}
	if width > 0 && height > 0 {
		metrics := proto.EmulationSetDeviceMetricsOverride{
			Width:             width,
			Height:            height,
			DeviceScaleFactor: 1,
		}
		if err := metrics.Call(page); err != nil {
			return nil, b.transportError(fmt.Errorf("setting viewport: %w", err))
		}
	}

	timed := page.Context(ctx)
	if b.cfg.NavigationTimeout > 0 {
		timed = timed.Timeout(b.cfg.NavigationTimeout)
	}
	if err := timed.Navigate(req.Prompt); err != nil {
		return nil, b.transportError(fmt.Errorf("navigating to %s: %w", req.Prompt, err))
	}
	if err := timed.WaitLoad(); err != nil {
		return nil, b.transportError(fmt.Errorf("waiting for load: %w", err))
	}

	if b.cfg.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, b.transportError(ctx.Err())
		case <-time.After(b.cfg.SettleDelay):
		}
	}

	data, err := page.Context(ctx).Screenshot(b.cfg.FullPage, nil)
	if err != nil {
		return nil, b.transportError(fmt.Errorf("capturing screenshot: %w", err))
	}
	if len(data) == 0 {
		return nil, &assetgen.BackendError{
			Backend:    b.Kind(),
			Diagnostic: "screenshot produced no bytes",
			Err:        assetgen.ErrEmptyPayload,
		}
	}

	return &assetgen.Image{Data: data, MIMEType: "image/png"}, nil
}

// Close shuts the browser down and cleans up a launched instance.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	if b.cleanup != nil {
		b.cleanup()
		b.cleanup = nil
	}
	return err
}

// transportError wraps browser failures. Everything here is connection or
// rendering infrastructure, so the default retry path applies.
func (b *Backend) transportError(err error) error {
	return &assetgen.BackendError{
		Backend:    b.Kind(),
		Diagnostic: err.Error(),
		Transport:  true,
		Err:        err,
	}
}
