package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"culturesync/internal/extractor"
	"culturesync/internal/google"
	"culturesync/internal/ledger"
	"culturesync/internal/models"
	"culturesync/internal/pgstore"
	"culturesync/internal/pipeline"
	"culturesync/internal/scraper"
)

const ledgerFile = "processed_ids.json"

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "culturesync",
		Usage: "Collect Amsterdam cultural events from newsletters and venue sites into Sheets and Postgres.",
		Commands: []*cli.Command{
			authCommand(),
			extractCommand(),
			scrapeCommand(),
			seedCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Action: func(c *cli.Context) error {
			logger := setupLogger("info")
			logger.Info("Starting Google authentication flow.")

			config, err := google.GetOAuthConfigForAuthFlow(os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET"))
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(config, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			if err := google.SaveToken("token.json", token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", "token.json")
			return nil
		},
	}
}

func extractCommand() *cli.Command {
	return &cli.Command{
		Name:  "extract",
		Usage: "Fetch newsletter emails, extract events and write them to the sinks.",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "days", Value: 7, Usage: "Mailbox lookback window in days."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be written without making changes."},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(os.Getenv("LOG_LEVEL"))
			ctx := c.Context

			// Required credentials are checked before any side effect.
			ex, err := extractor.NewClient(logger, extractor.Options{
				APIKey: os.Getenv("ANTHROPIC_API_KEY"),
				Model:  os.Getenv("ANTHROPIC_MODEL"),
			})
			if err != nil {
				return err
			}

			clientID := os.Getenv("GOOGLE_CLIENT_ID")
			clientSecret := os.Getenv("GOOGLE_CLIENT_SECRET")
			mailbox, err := google.NewMailClient(ctx, logger, clientID, clientSecret)
			if err != nil {
				return fmt.Errorf("failed to create mail client: %w", err)
			}

			var sheetSink pipeline.SheetSink
			if sheetID := os.Getenv("GOOGLE_SHEET_ID"); sheetID != "" {
				sink, err := google.NewSheetsSink(ctx, logger, clientID, clientSecret, sheetID)
				if err != nil {
					return fmt.Errorf("failed to create spreadsheet sink: %w", err)
				}
				sheetSink = sink
			} else {
				logger.Info("GOOGLE_SHEET_ID not set, spreadsheet sink disabled.")
			}

			store, err := pgstore.Open(ctx, logger, os.Getenv("DATABASE_URL"))
			if err != nil {
				return err
			}
			defer store.Close()

			led := ledger.New(logger, ledgerFile, store)
			p := pipeline.NewEmailPipeline(logger, mailbox, ex, led, sheetSink, store,
				c.Int("days"), c.Bool("dry-run"))
			return p.Run(ctx)
		},
	}
}

func scrapeCommand() *cli.Command {
	return &cli.Command{
		Name:  "scrape",
		Usage: "Scrape venue websites and sync the events into Postgres.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "venues", Value: "venues.yaml", Usage: "Venue roster config file."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be written without making changes."},
			&cli.IntFlag{Name: "watch", Usage: "Run the scrape every N seconds instead of once."},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(os.Getenv("LOG_LEVEL"))
			ctx := c.Context

			cfg, err := scraper.LoadConfig(c.String("venues"))
			if err != nil {
				return err
			}

			store, err := pgstore.Open(ctx, logger, os.Getenv("DATABASE_URL"))
			if err != nil {
				return err
			}
			defer store.Close()

			run := func(ctx context.Context) error {
				// Fresh adapters per cycle so the per-run URL seen-sets
				// start empty.
				adapters, err := scraper.BuildAdapters(logger, cfg)
				if err != nil {
					return err
				}
				scrape := func(ctx context.Context) []models.Event {
					return scraper.ScrapeAll(ctx, logger, adapters)
				}
				p := pipeline.NewScrapePipeline(logger, scrape, store, c.Bool("dry-run"))
				return p.Run(ctx)
			}

			if c.IsSet("watch") {
				interval := time.Duration(c.Int("watch")) * time.Second
				logger.Info("Starting watcher.", "interval", interval)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for ; true; <-ticker.C {
					if err := run(ctx); err != nil {
						logger.Error("Scrape cycle failed", "error", err)
					}
				}
				return nil
			}

			logger.Info("Running a single scrape cycle.")
			return run(ctx)
		},
	}
}

// Venues with scrapers that may not be present in the events store yet.
var seedVenues = []pgstore.Venue{
	{Name: "Concertgebouw", Address: "Concertgebouwplein 10, 1071 LN Amsterdam", Latitude: 52.3558, Longitude: 4.8785, Website: "https://www.concertgebouw.nl"},
	{Name: "Pakhuis de Zwijger", Address: "Piet Heinkade 179, 1019 HC Amsterdam", Latitude: 52.3769, Longitude: 4.9220, Website: "https://dezwijger.nl"},
	{Name: "De Balie", Address: "Kleine-Gartmanplantsoen 10, 1017 RR Amsterdam", Latitude: 52.3631, Longitude: 4.8833, Website: "https://debalie.nl"},
	{Name: "Paradiso", Address: "Weteringschans 6-8, 1017 SG Amsterdam", Latitude: 52.3623, Longitude: 4.8839, Website: "https://paradiso.nl"},
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Upsert the built-in venue roster into Postgres.",
		Action: func(c *cli.Context) error {
			logger := setupLogger(os.Getenv("LOG_LEVEL"))
			ctx := c.Context

			store, err := pgstore.Open(ctx, logger, os.Getenv("DATABASE_URL"))
			if err != nil {
				return err
			}
			if !store.Enabled() {
				return fmt.Errorf("DATABASE_URL environment variable not set")
			}
			defer store.Close()

			if err := store.UpsertVenues(ctx, seedVenues); err != nil {
				return err
			}
			logger.Info("Seeded venues.", "count", len(seedVenues))
			return nil
		},
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
