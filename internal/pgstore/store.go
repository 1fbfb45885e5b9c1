// Package pgstore is the relational sink: events, processed emails,
// scraper run manifests and the venue roster, all in Postgres.
package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"culturesync/internal/models"
)

const (
	operationTimeout = 10 * time.Second
	existingKeysPage = 1000
)

// Store wraps the Postgres connection. A nil *Store is valid and turns
// every operation into a no-op, so callers without a configured
// DATABASE_URL need no special casing.
type Store struct {
	logger *slog.Logger
	db     *sql.DB
}

// Open connects to Postgres and ensures the schema exists. An empty DSN
// returns a nil store (deliberate no-op) with a log line, not an error.
func Open(ctx context.Context, logger *slog.Logger, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		logger.Info("DATABASE_URL not set, relational sink disabled.")
		return nil, nil
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	s := &Store{logger: logger, db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return s, nil
}

// Enabled reports whether the store is configured.
func (s *Store) Enabled() bool {
	return s != nil && s.db != nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id BIGSERIAL PRIMARY KEY,
			source_name TEXT NOT NULL,
			source_type TEXT NOT NULL,
			event_title TEXT NOT NULL,
			event_type TEXT NOT NULL DEFAULT '',
			event_date DATE NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (event_title, event_date)
		)`,
		`CREATE TABLE IF NOT EXISTS processed_emails (
			item_id TEXT PRIMARY KEY,
			subject TEXT NOT NULL DEFAULT '',
			sender TEXT NOT NULL DEFAULT '',
			processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS scraper_runs (
			id UUID PRIMARY KEY,
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			total_scraped INTEGER NOT NULL DEFAULT 0,
			parsed_rows INTEGER NOT NULL DEFAULT 0,
			skipped_unparseable_dates INTEGER NOT NULL DEFAULT 0,
			new_events_estimated INTEGER NOT NULL DEFAULT 0,
			error_message TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS venues (
			name TEXT PRIMARY KEY,
			address TEXT NOT NULL DEFAULT '',
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			website TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// UpsertEvents writes the rows in one multi-row upsert keyed on
// (event_title, event_date): a resubmission with changed wording
// overwrites the old row instead of duplicating it. The caller is
// expected to have deduplicated the batch by identity key already.
func (s *Store) UpsertEvents(ctx context.Context, rows []models.Row) error {
	if !s.Enabled() {
		return nil
	}
	if len(rows) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	var sb strings.Builder
	sb.WriteString(`INSERT INTO events
		(source_name, source_type, event_title, event_type, event_date, description, url, updated_at)
		VALUES `)
	args := make([]any, 0, len(rows)*7)
	for i, r := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 7
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, NOW())",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args, r.SourceName, r.SourceType, r.Title, r.Type, r.Date, r.Description, r.URL)
	}
	sb.WriteString(` ON CONFLICT (event_title, event_date) DO UPDATE SET
		source_name = EXCLUDED.source_name,
		source_type = EXCLUDED.source_type,
		event_type = EXCLUDED.event_type,
		description = EXCLUDED.description,
		url = EXCLUDED.url,
		updated_at = NOW()`)

	if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to upsert %d event rows: %w", len(rows), err)
	}
	return nil
}

// ExistingKeys returns the identity keys of stored rows whose date lies
// in [from, to] for the given source type, fetched in fixed-size pages.
// It exists only to estimate how many upserted rows are genuinely new;
// the estimate is advisory telemetry, racy under concurrent runs, and
// never a correctness gate.
func (s *Store) ExistingKeys(ctx context.Context, sourceType, from, to string) (map[string]bool, error) {
	if !s.Enabled() {
		return map[string]bool{}, nil
	}

	keys := make(map[string]bool)
	for offset := 0; ; offset += existingKeysPage {
		page, err := s.existingKeysPage(ctx, sourceType, from, to, offset)
		if err != nil {
			return nil, err
		}
		for _, k := range page {
			keys[k] = true
		}
		if len(page) < existingKeysPage {
			return keys, nil
		}
	}
}

func (s *Store) existingKeysPage(ctx context.Context, sourceType, from, to string, offset int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_title, event_date::text
		FROM events
		WHERE source_type = $1 AND event_date BETWEEN $2 AND $3
		ORDER BY event_date, event_title
		LIMIT $4 OFFSET $5`,
		sourceType, from, to, existingKeysPage, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing event keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var title, date string
		if err := rows.Scan(&title, &date); err != nil {
			return nil, err
		}
		keys = append(keys, models.Key(title, date))
	}
	return keys, rows.Err()
}

// LoadProcessed returns all processed email ids. Implements the remote
// half of the ledger contract.
func (s *Store) LoadProcessed(ctx context.Context) (map[string]bool, error) {
	if !s.Enabled() {
		return map[string]bool{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT item_id FROM processed_emails`)
	if err != nil {
		return nil, fmt.Errorf("failed to load processed emails: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// MarkProcessed upserts one processed email keyed on item_id.
func (s *Store) MarkProcessed(ctx context.Context, id, subject, sender string) error {
	if !s.Enabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_emails (item_id, subject, sender)
		VALUES ($1, $2, $3)
		ON CONFLICT (item_id) DO NOTHING`,
		id, subject, sender)
	if err != nil {
		return fmt.Errorf("failed to mark email %s processed: %w", id, err)
	}
	return nil
}

// RunOutcome summarizes one synchronization attempt for the manifest.
type RunOutcome struct {
	Failed       bool
	ParsedRows   int
	SkippedDates int
	NewEstimated int
	ErrorMessage string
}

// StartRun inserts a manifest row with status "running" and returns its
// id. Manifest writes are best-effort: a failure is logged and an empty
// id returned, never an aborted pipeline.
func (s *Store) StartRun(ctx context.Context, totalScraped int) string {
	if !s.Enabled() {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scraper_runs (id, status, started_at, total_scraped)
		VALUES ($1, 'running', NOW(), $2)`,
		id, totalScraped)
	if err != nil {
		s.logger.Warn("Could not create run manifest row.", "error", err)
		return ""
	}
	return id
}

// FinishRun updates the manifest row exactly once with the final
// status and counts. Best-effort like StartRun.
func (s *Store) FinishRun(ctx context.Context, id string, outcome RunOutcome) {
	if !s.Enabled() || id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	status := "completed"
	var errMsg sql.NullString
	if outcome.Failed {
		status = "failed"
		errMsg = sql.NullString{String: outcome.ErrorMessage, Valid: outcome.ErrorMessage != ""}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE scraper_runs
		SET status = $2, finished_at = NOW(), parsed_rows = $3,
		    skipped_unparseable_dates = $4, new_events_estimated = $5,
		    error_message = $6
		WHERE id = $1`,
		id, status, outcome.ParsedRows, outcome.SkippedDates, outcome.NewEstimated, errMsg)
	if err != nil {
		s.logger.Warn("Could not update run manifest row.", "id", id, "error", err)
	}
}

// Venue is one row of the venue roster.
type Venue struct {
	Name      string
	Address   string
	Latitude  float64
	Longitude float64
	Website   string
}

// UpsertVenues seeds or refreshes the venue roster, keyed on name.
func (s *Store) UpsertVenues(ctx context.Context, venues []Venue) error {
	if !s.Enabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	for _, v := range venues {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO venues (name, address, latitude, longitude, website)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (name) DO UPDATE SET
				address = EXCLUDED.address,
				latitude = EXCLUDED.latitude,
				longitude = EXCLUDED.longitude,
				website = EXCLUDED.website`,
			v.Name, v.Address, v.Latitude, v.Longitude, v.Website)
		if err != nil {
			return fmt.Errorf("failed to upsert venue %s: %w", v.Name, err)
		}
	}
	return nil
}
