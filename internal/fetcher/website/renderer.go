package website

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/collegepulse/collegescraper/internal/metrics"
)

// RendererConfig controls the headless-browser fallback.
type RendererConfig struct {
	MaxParallel       int
	NavigationTimeout time.Duration
}

// Renderer executes JavaScript-dependent pages in headless Chrome. One
// browser allocator is created lazily on first use and shared across all
// fetches; pages are opened and closed per render.
type Renderer struct {
	cfg     RendererConfig
	limiter chan struct{}

	mu          sync.Mutex
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewRenderer creates a Renderer. The browser process is not started until
// the first Render call.
func NewRenderer(cfg RendererConfig) *Renderer {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	return &Renderer{
		cfg:     cfg,
		limiter: make(chan struct{}, cfg.MaxParallel),
	}
}

func (r *Renderer) alloc() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.allocator == nil {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", "new"),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("hide-scrollbars", true),
			chromedp.Flag("enable-automation", false),
		)
		r.allocator, r.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}
	return r.allocator
}

// Close shuts down the shared browser allocator if it was ever started.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.allocCancel != nil {
		r.allocCancel()
		r.allocator = nil
		r.allocCancel = nil
	}
}

// Render navigates the page with a headless browser and returns the fully
// rendered DOM.
func (r *Renderer) Render(ctx context.Context, targetURL, userAgent string) (string, error) {
	select {
	case r.limiter <- struct{}{}:
	case <-ctx.Done():
		return "", fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
	defer func() { <-r.limiter }()

	metrics.ObserveHeadlessRender()

	taskCtx, taskCancel := chromedp.NewContext(r.alloc())
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, r.cfg.NavigationTimeout)
	defer cancel()

	var html string
	actions := []chromedp.Action{
		r.networkSetupAction(userAgent),
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

func (r *Renderer) networkSetupAction(userAgent string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}
