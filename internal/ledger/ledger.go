// Package ledger tracks which input items (emails) have already been
// converted into events, so the extraction cost is never paid twice.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// RemoteStore is the remote half of the ledger. A nil RemoteStore is
// valid: the ledger then degrades to local-only.
type RemoteStore interface {
	// LoadProcessed returns the ids recorded remotely.
	LoadProcessed(ctx context.Context) (map[string]bool, error)
	// MarkProcessed records one processed item remotely.
	MarkProcessed(ctx context.Context, id, subject, sender string) error
}

// Ledger persists processed-item ids redundantly in a local JSON file
// and an optional remote table. The read path takes the union of both,
// so an item processed by either store is never reprocessed.
type Ledger struct {
	logger *slog.Logger
	path   string
	remote RemoteStore

	ids map[string]bool
}

// New creates a ledger backed by the JSON file at path. remote may be nil.
func New(logger *slog.Logger, path string, remote RemoteStore) *Ledger {
	return &Ledger{logger: logger, path: path, remote: remote, ids: map[string]bool{}}
}

// Load reads the local file and merges in the remote ids. A missing
// local file means an empty ledger. A remote read failure is logged and
// degrades to local-only; it never fails the load.
func (l *Ledger) Load(ctx context.Context) error {
	l.ids = map[string]bool{}

	data, err := os.ReadFile(l.path)
	switch {
	case os.IsNotExist(err):
		l.logger.Info("No local ledger file found, starting fresh.", "file", l.path)
	case err != nil:
		return fmt.Errorf("failed to read ledger file %s: %w", l.path, err)
	default:
		var ids []string
		if err := json.Unmarshal(data, &ids); err != nil {
			return fmt.Errorf("failed to parse ledger file %s: %w", l.path, err)
		}
		for _, id := range ids {
			l.ids[id] = true
		}
	}
	local := len(l.ids)

	if l.remote != nil {
		remote, err := l.remote.LoadProcessed(ctx)
		if err != nil {
			l.logger.Warn("Could not load processed ids from remote store, continuing with local only.", "error", err)
		} else {
			for id := range remote {
				l.ids[id] = true
			}
		}
	}

	l.logger.Info("Loaded processed-item ledger.", "local", local, "total", len(l.ids))
	return nil
}

// Processed reports whether an item has already been processed by
// either store.
func (l *Ledger) Processed(id string) bool {
	return l.ids[id]
}

// Len returns the number of known processed ids.
func (l *Ledger) Len() int {
	return len(l.ids)
}

// MarkProcessed records the item in memory and upserts it remotely.
// Remote failure is logged, not propagated: the local file saved by
// Save remains the durable source of truth. Call Save afterwards to
// persist locally.
func (l *Ledger) MarkProcessed(ctx context.Context, id, subject, sender string) {
	l.ids[id] = true
	if l.remote == nil {
		return
	}
	if err := l.remote.MarkProcessed(ctx, id, subject, sender); err != nil {
		l.logger.Warn("Could not save processed item to remote store.", "id", id, "error", err)
	}
}

// Save overwrites the local file with the full sorted id list. The
// write goes to a temp file first and is renamed into place, so a crash
// mid-save never leaves a truncated ledger.
func (l *Ledger) Save() error {
	ids := make([]string, 0, len(l.ids))
	for id := range l.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".ledger-*")
	if err != nil {
		return fmt.Errorf("failed to create temp ledger file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write temp ledger file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp ledger file: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace ledger file: %w", err)
	}
	return nil
}
