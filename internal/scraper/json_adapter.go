package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"culturesync/internal/models"
)

// listingResponse is the JSON shape of page-numbered programme APIs as
// used by Pakhuis de Zwijger-style sites.
type listingResponse struct {
	Events []listingEvent `json:"events"`
}

type listingEvent struct {
	Title       string `json:"title"`
	Date        string `json:"date"`
	Type        string `json:"type"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// JSONListAdapter scrapes a paginated JSON programme listing. It walks
// page numbers until a page yields zero new candidates or the page
// ceiling is hit, deduplicating by URL within the run because pages can
// overlap while the programme shifts underneath.
type JSONListAdapter struct {
	logger *slog.Logger
	client *Client
	cfg    VenueConfig
}

func NewJSONListAdapter(logger *slog.Logger, client *Client, cfg VenueConfig) *JSONListAdapter {
	return &JSONListAdapter{logger: logger, client: client, cfg: cfg}
}

func (a *JSONListAdapter) Name() string {
	return a.cfg.Name
}

func (a *JSONListAdapter) Scrape(ctx context.Context) ([]models.Event, error) {
	var events []models.Event
	seen := seenURLs{}

	for page := 1; page <= a.cfg.MaxPages; page++ {
		url := fmt.Sprintf(a.cfg.URL, page)
		body, err := a.client.FetchPage(ctx, url)
		if err != nil {
			// Keep what this adapter collected so far.
			return events, fmt.Errorf("page %d: %w", page, err)
		}

		var listing listingResponse
		if err := json.Unmarshal(body, &listing); err != nil {
			return events, fmt.Errorf("page %d is not valid listing JSON: %w", page, err)
		}

		added := 0
		for _, item := range listing.Events {
			if item.Title == "" || !seen.add(item.URL) {
				continue
			}
			eventType := item.Type
			if eventType == "" {
				eventType = a.cfg.EventType
			}
			events = append(events, models.Event{
				SourceName:  a.cfg.Name,
				SourceType:  models.SourceTypeScraper,
				Title:       item.Title,
				Type:        eventType,
				RawDate:     item.Date,
				Description: item.Description,
				URL:         item.URL,
			})
			added++
		}
		a.logger.Debug("Scraped listing page.", "venue", a.cfg.Name, "page", page, "new", added)
		if added == 0 {
			break
		}
	}
	return events, nil
}
