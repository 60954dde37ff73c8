// Package alonhadat crawls sale listings from alonhadat.com.vn.
package alonhadat

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"bds-warehouse/config"
	"bds-warehouse/metrics"
	"bds-warehouse/models"
	"bds-warehouse/utils"
)

// Crawler walks the result pages of one listing category.
type Crawler struct {
	cfg     config.CrawlConfig
	base    *url.URL
	fetcher PageFetcher
	logger  *utils.Logger
	retry   *utils.RetryConfig
	now     func() time.Time
}

// New creates a Crawler for cfg.BaseURL that loads pages through fetcher.
func New(cfg config.CrawlConfig, fetcher PageFetcher, logger *utils.Logger) (*Crawler, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("alonhadat: base url: %w", err)
	}
	return &Crawler{
		cfg:     cfg,
		base:    base,
		fetcher: fetcher,
		logger:  logger,
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
		now: time.Now,
	}, nil
}

// PageURL returns the address of result page n (1-based).
func (c *Crawler) PageURL(n int) string {
	if n <= 1 {
		return c.base.String()
	}
	return fmt.Sprintf("%s/trang-%d", c.base.String(), n)
}

type pageResult struct {
	listings []models.RawListing
	err      error
}

// Crawl fetches up to cfg.Pages result pages. Pages are loaded in windows of
// MaxConcurrency and consumed in order; the crawl stops at the first page
// with no listings. A key already collected from an earlier page is dropped.
func (c *Crawler) Crawl(ctx context.Context) ([]models.RawListing, error) {
	c.logger.Info("[alonhadat] Starting crawl of %s, up to %d pages", c.base, c.cfg.Pages)

	crawlDate := c.now()
	seen := utils.NewKeySet()
	var out []models.RawListing

	window := max(c.cfg.MaxConcurrency, 1)
	for first := 1; first <= c.cfg.Pages; first += window {
		last := min(first+window-1, c.cfg.Pages)
		results := c.fetchWindow(ctx, first, last, crawlDate)

		for i, res := range results {
			page := first + i
			if res.err != nil {
				return out, fmt.Errorf("alonhadat: page %d: %w", page, res.err)
			}
			if len(res.listings) == 0 {
				c.logger.Warn("[alonhadat] Page %d returned 0 listings, stopping", page)
				return out, nil
			}
			for _, l := range res.listings {
				if !seen.Add(l.Key) {
					c.logger.Debug("[alonhadat] Skipping duplicate or keyless listing %q", l.URL)
					continue
				}
				out = append(out, l)
			}
			c.logger.Info("[alonhadat] Page %d done, %d listings so far", page, len(out))
		}
	}

	c.logger.Info("[alonhadat] Crawl complete, %d unique listings", seen.Len())
	return out, nil
}

func (c *Crawler) fetchWindow(ctx context.Context, first, last int, crawlDate time.Time) []pageResult {
	results := make([]pageResult, last-first+1)
	pool := utils.NewWorkerPool(c.cfg.MaxConcurrency, c.cfg.RateLimitMs)
	var mu sync.Mutex

	for page := first; page <= last; page++ {
		page := page
		pool.Submit(func() {
			listings, err := c.fetchPage(ctx, page, crawlDate)
			mu.Lock()
			results[page-first] = pageResult{listings: listings, err: err}
			mu.Unlock()
		})
	}
	pool.Wait()
	return results
}

func (c *Crawler) fetchPage(ctx context.Context, page int, crawlDate time.Time) ([]models.RawListing, error) {
	pageURL := c.PageURL(page)
	var listings []models.RawListing

	err := c.retry.Do(ctx, fmt.Sprintf("fetch-page-%d", page), func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		html, err := c.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			metrics.PagesFetchedTotal.WithLabelValues("error").Inc()
			return err
		}
		listings, err = ParsePage(html, c.base, crawlDate)
		return err
	})
	if err != nil {
		return nil, err
	}

	result := "ok"
	if len(listings) == 0 {
		result = "empty"
	}
	metrics.PagesFetchedTotal.WithLabelValues(result).Inc()
	c.logger.Debug("[alonhadat] %s: %d cards", pageURL, len(listings))
	return listings, nil
}
