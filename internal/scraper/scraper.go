// Package scraper fetches event listings from venue websites and
// converts them into raw event candidates. Each venue adapter handles
// its own pagination; the shared client enforces request politeness.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"culturesync/internal/models"
)

const (
	// politenessDelay is the pause between successive page requests to
	// one venue site. It is mandatory and is not skipped on retry.
	politenessDelay = 400 * time.Millisecond

	requestTimeout = 20 * time.Second
	userAgent      = "culturesync/1.0"
)

// Adapter produces a finite sequence of raw event candidates in one
// pass. Adapters emit raw Dutch date strings; date normalization is the
// sink path's job.
type Adapter interface {
	Name() string
	Scrape(ctx context.Context) ([]models.Event, error)
}

// Client wraps an HTTP client shared by venue adapters, with retries
// and a politeness delay between page fetches.
type Client struct {
	logger *slog.Logger
	rest   *resty.Client
	delay  time.Duration
	first  bool
}

// NewClient creates a polite scraping client.
func NewClient(logger *slog.Logger) *Client {
	rest := resty.New().
		SetRetryCount(2).
		SetRetryWaitTime(2 * time.Second).
		SetTimeout(requestTimeout).
		SetHeader("User-Agent", userAgent)
	return &Client{logger: logger, rest: rest, delay: politenessDelay, first: true}
}

// FetchPage performs one GET, sleeping the politeness delay first for
// every request after the initial one.
func (c *Client) FetchPage(ctx context.Context, url string) ([]byte, error) {
	if !c.first {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.delay):
		}
	}
	c.first = false

	resp, err := c.rest.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("fetch %s returned status %d", url, resp.StatusCode())
	}
	return resp.Body(), nil
}

// seenURLs deduplicates candidates within a single run. Some sites
// return overlapping pages or date windows, so the same event URL can
// appear more than once.
type seenURLs map[string]bool

// add reports whether the url was new. Candidates without a URL are
// always considered new; identity dedup downstream still catches them.
func (s seenURLs) add(url string) bool {
	if url == "" {
		return true
	}
	if s[url] {
		return false
	}
	s[url] = true
	return true
}

// ScrapeAll runs each adapter in sequence and combines their events.
// An adapter failure is logged and skipped; the remaining adapters
// still run.
func ScrapeAll(ctx context.Context, logger *slog.Logger, adapters []Adapter) []models.Event {
	var combined []models.Event
	for _, a := range adapters {
		events, err := a.Scrape(ctx)
		if err != nil {
			logger.Error("Venue scrape failed, continuing with remaining venues.", "venue", a.Name(), "error", err)
		}
		logger.Info("Scraped venue.", "venue", a.Name(), "events", len(events))
		combined = append(combined, events...)
	}
	return combined
}
