package scrape

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/chromedp/chromedp"
)

// ChromeRenderer fetches pages through headless Chrome so script-driven and
// lazy-loaded content is present in the returned HTML. Satisfies Renderer.
type ChromeRenderer struct {
	opts []chromedp.ExecAllocatorOption
}

// NewChromeRenderer configures a headless allocator. A fresh browser per
// Render keeps crashes isolated to one article at the cost of startup time;
// the render path is the slow path already.
func NewChromeRenderer() *ChromeRenderer {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.NoSandbox,
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(userAgents[rand.Intn(len(userAgents))]),
	)
	return &ChromeRenderer{opts: opts}
}

// Render navigates to the URL, scrolls to the bottom to trigger lazy
// loading, and returns the settled outer HTML. The caller bounds ctx with
// the hard render timeout.
func (r *ChromeRenderer) Render(ctx context.Context, url string) (string, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, r.opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(2*time.Second),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("chromedp: %w", err)
	}

	return html, nil
}
