package alonhadat

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"bds-warehouse/utils"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// PageFetcher returns the rendered HTML of a listing page.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// ChromeFetcher renders pages in a shared headless browser.
type ChromeFetcher struct {
	chromeBin string
	timeout   time.Duration
	logger    *utils.Logger

	once        sync.Once
	browserCtx  context.Context
	cancelAlloc context.CancelFunc
	cancelTab   context.CancelFunc
}

// NewChromeFetcher returns a fetcher that starts Chrome on first use. An empty
// chromeBin searches the usual install locations.
func NewChromeFetcher(chromeBin string, timeout time.Duration, logger *utils.Logger) *ChromeFetcher {
	return &ChromeFetcher{chromeBin: chromeBin, timeout: timeout, logger: logger}
}

func (f *ChromeFetcher) start() {
	bin := f.chromeBin
	if bin == "" {
		bin = findChromeBinary()
	}
	f.logger.Info("[alonhadat] Using browser binary: %q", bin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.UserAgent(userAgent),
	)
	if bin != "" {
		opts = append(opts, chromedp.ExecPath(bin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	// Suppress chromedp log noise
	browserCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...any) {}))
	f.browserCtx, f.cancelAlloc, f.cancelTab = browserCtx, cancelAlloc, cancelTab
}

// Fetch navigates a fresh tab to url and returns the document HTML once the
// listing section is present.
func (f *ChromeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.once.Do(f.start)

	tabCtx, cancelTab := chromedp.NewContext(f.browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, f.timeout)
	defer cancelTimeout()

	// stop the tab when the caller gives up
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("chromedp fetch %s: %w", url, err)
	}
	return html, nil
}

// Close shuts the browser down.
func (f *ChromeFetcher) Close() {
	if f.cancelTab != nil {
		f.cancelTab()
		f.cancelAlloc()
	}
}

// findChromeBinary locates a Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	for _, name := range []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	for _, p := range []string{
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
