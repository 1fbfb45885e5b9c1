package models

import (
	"fmt"
	"strings"
)

// Source types for events, matching the values the sinks store.
const (
	SourceTypeNewsletter = "newsletter"
	SourceTypeScraper    = "scraper"
)

// MaxDescriptionRunes bounds descriptions for display sinks.
const MaxDescriptionRunes = 500

// Event is the canonical event representation all sources converge to.
// It is internal and independent of any specific source or sink; an
// event with multiple dates expands to one row per date on write.
type Event struct {
	SourceName  string   // Venue or newsletter sender
	SourceType  string   // "newsletter" or "scraper"
	Title       string   // Event or performer name
	Type        string   // Free-form category (concert, debate, ...), may be empty
	Dates       []string // Resolved ISO dates (YYYY-MM-DD); may be empty
	RawDate     string   // Original free-form date string, for scraper sources
	Description string
	URL         string
}

// Row is a single persisted occurrence: one event on one date.
type Row struct {
	SourceName  string
	SourceType  string
	Title       string
	Type        string
	Date        string // ISO YYYY-MM-DD
	Description string
	URL         string
}

// Validate checks the event at the adapter boundary so malformed shapes
// fail fast instead of deep inside a sink.
func (e *Event) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("event has empty title")
	}
	if strings.TrimSpace(e.SourceName) == "" {
		return fmt.Errorf("event %q has empty source name", e.Title)
	}
	switch e.SourceType {
	case SourceTypeNewsletter, SourceTypeScraper:
	default:
		return fmt.Errorf("event %q has unknown source type %q", e.Title, e.SourceType)
	}
	return nil
}

// Rows expands the event into one row per resolved date. An event with
// zero resolvable dates produces zero rows.
func (e *Event) Rows() []Row {
	rows := make([]Row, 0, len(e.Dates))
	for _, date := range e.Dates {
		if date == "" {
			continue
		}
		rows = append(rows, Row{
			SourceName:  e.SourceName,
			SourceType:  e.SourceType,
			Title:       e.Title,
			Type:        e.Type,
			Date:        date,
			Description: e.Description,
			URL:         e.URL,
		})
	}
	return rows
}

// Key returns the identity key for a title/date pair. Two rows sharing
// this key are the same logical occurrence and must collapse to one row
// per sink. The key intentionally ignores source name and description,
// so a wording update overwrites rather than duplicates.
func Key(title, date string) string {
	return strings.ToLower(strings.TrimSpace(title)) + "\x00" + date
}

// Key returns the identity key of the row.
func (r Row) Key() string {
	return Key(r.Title, r.Date)
}

// DedupeRows collapses rows sharing an identity key, keeping the first
// occurrence. Returns the deduplicated slice and the number removed.
func DedupeRows(rows []Row) ([]Row, int) {
	seen := make(map[string]bool, len(rows))
	out := rows[:0:0]
	for _, r := range rows {
		k := r.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out, len(rows) - len(out)
}

// TruncateDescription bounds a description for display sinks.
func TruncateDescription(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxDescriptionRunes {
		return s
	}
	return string(runes[:MaxDescriptionRunes-1]) + "…"
}
