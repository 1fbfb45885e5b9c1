package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/net/html"

	"culturesync/internal/models"
)

// HTMLListAdapter scrapes a paginated HTML agenda. De Balie-style
// agenda pages mark each event as an <article> with the title in a
// heading link, the date in an element with class "date", and an
// optional description and type in similarly classed elements.
type HTMLListAdapter struct {
	logger *slog.Logger
	client *Client
	cfg    VenueConfig
}

func NewHTMLListAdapter(logger *slog.Logger, client *Client, cfg VenueConfig) *HTMLListAdapter {
	return &HTMLListAdapter{logger: logger, client: client, cfg: cfg}
}

func (a *HTMLListAdapter) Name() string {
	return a.cfg.Name
}

func (a *HTMLListAdapter) Scrape(ctx context.Context) ([]models.Event, error) {
	var events []models.Event
	seen := seenURLs{}

	for page := 1; page <= a.cfg.MaxPages; page++ {
		url := fmt.Sprintf(a.cfg.URL, page)
		body, err := a.client.FetchPage(ctx, url)
		if err != nil {
			return events, fmt.Errorf("page %d: %w", page, err)
		}

		candidates, err := parseAgendaPage(body)
		if err != nil {
			return events, fmt.Errorf("page %d: %w", page, err)
		}

		added := 0
		for _, c := range candidates {
			if c.Title == "" || !seen.add(c.URL) {
				continue
			}
			if c.Type == "" {
				c.Type = a.cfg.EventType
			}
			c.SourceName = a.cfg.Name
			c.SourceType = models.SourceTypeScraper
			events = append(events, c)
			added++
		}
		a.logger.Debug("Scraped agenda page.", "venue", a.cfg.Name, "page", page, "new", added)
		if added == 0 {
			break
		}
	}
	return events, nil
}

// parseAgendaPage extracts event candidates from one agenda page.
func parseAgendaPage(body []byte) ([]models.Event, error) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse agenda HTML: %w", err)
	}

	var events []models.Event
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "article" {
			if ev, ok := parseArticle(n); ok {
				events = append(events, ev)
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return events, nil
}

func parseArticle(article *html.Node) (models.Event, bool) {
	var ev models.Event
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && ev.URL == "":
				ev.URL = attrValue(n, "href")
			case isHeading(n.Data) && ev.Title == "":
				ev.Title = strings.TrimSpace(textContent(n))
			case hasClass(n, "date") && ev.RawDate == "":
				ev.RawDate = strings.TrimSpace(textContent(n))
			case hasClass(n, "description") && ev.Description == "":
				ev.Description = strings.TrimSpace(textContent(n))
			case hasClass(n, "type") && ev.Type == "":
				ev.Type = strings.TrimSpace(textContent(n))
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(article)
	return ev, ev.Title != ""
}

func isHeading(tag string) bool {
	switch tag {
	case "h1", "h2", "h3", "h4":
		return true
	}
	return false
}

func hasClass(n *html.Node, class string) bool {
	for _, field := range strings.Fields(attrValue(n, "class")) {
		if field == class {
			return true
		}
	}
	return false
}

func attrValue(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		sb.WriteString(textContent(child))
	}
	return sb.String()
}
