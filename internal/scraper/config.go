package scraper

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// VenueConfig describes one venue listing to scrape. URL is a format
// string receiving the page number.
type VenueConfig struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"` // "json" or "html"
	URL       string `yaml:"url"`
	MaxPages  int    `yaml:"max_pages"`
	EventType string `yaml:"event_type"` // default category when the listing has none
}

// Config is the venue roster file.
type Config struct {
	Venues []VenueConfig `yaml:"venues"`
}

// LoadConfig reads and validates the venue roster YAML.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read venue config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse venue config %s: %w", path, err)
	}
	if len(cfg.Venues) == 0 {
		return nil, fmt.Errorf("venue config %s lists no venues", path)
	}
	for i := range cfg.Venues {
		v := &cfg.Venues[i]
		if v.Name == "" || v.URL == "" {
			return nil, fmt.Errorf("venue entry %d is missing name or url", i)
		}
		if v.MaxPages <= 0 {
			v.MaxPages = 10
		}
	}
	return &cfg, nil
}

// BuildAdapters constructs one adapter per configured venue.
func BuildAdapters(logger *slog.Logger, cfg *Config) ([]Adapter, error) {
	adapters := make([]Adapter, 0, len(cfg.Venues))
	for _, v := range cfg.Venues {
		switch v.Kind {
		case "json":
			adapters = append(adapters, NewJSONListAdapter(logger, NewClient(logger), v))
		case "html":
			adapters = append(adapters, NewHTMLListAdapter(logger, NewClient(logger), v))
		default:
			return nil, fmt.Errorf("venue %s has unknown kind %q", v.Name, v.Kind)
		}
	}
	return adapters, nil
}
