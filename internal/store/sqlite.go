// Package store persists classifications so a restart does not reclassify
// messages that were already seen.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"inboxsync/internal/backend"
)

// SQLiteStore is a classification cache keyed by account and message id.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

type classificationRow struct {
	MessageID      string    `db:"message_id"`
	Tags           string    `db:"tags"`
	PriorityScore  float64   `db:"priority_score"`
	PriorityLabel  string    `db:"priority_label"`
	Sentiment      string    `db:"sentiment"`
	Confidence     float64   `db:"confidence"`
	ReasoningShort string    `db:"reasoning_short"`
	ClassifiedAt   time.Time `db:"classified_at"`
}

// NewSQLiteStore opens (or creates) the database at dbPath, enables WAL
// mode and applies pending migrations. ":memory:" gives a private
// in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// one connection keeps ":memory:" databases coherent and serialises writers
	db.SetMaxOpenConns(1)

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// Put inserts or replaces the classification of one message.
func (s *SQLiteStore) Put(ctx context.Context, account, id string, c backend.Classification) error {
	tags, err := json.Marshal(c.Tags)
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}
	if c.Tags == nil {
		tags = []byte("[]")
	}

	const query = `
		INSERT OR REPLACE INTO classifications (
			account, message_id, tags, priority_score, priority_label,
			sentiment, confidence, reasoning_short, classified_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		normalizeAccount(account), id, string(tags), c.PriorityScore, string(c.PriorityLabel),
		string(c.Sentiment), c.Confidence, c.ReasoningShort, s.now().UTC())
	if err != nil {
		return fmt.Errorf("storing classification %s: %w", id, err)
	}
	return nil
}

// Load returns the stored classifications among ids. Unknown ids are
// simply absent from the result.
func (s *SQLiteStore) Load(ctx context.Context, account string, ids []string) (map[string]backend.Classification, error) {
	out := make(map[string]backend.Classification, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`
		SELECT message_id, tags, priority_score, priority_label, sentiment,
		       confidence, reasoning_short, classified_at
		FROM classifications
		WHERE account = ? AND message_id IN (?)`, normalizeAccount(account), ids)
	if err != nil {
		return nil, fmt.Errorf("building load query: %w", err)
	}

	var rows []classificationRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("loading classifications: %w", err)
	}
	for _, r := range rows {
		c, err := r.toClassification()
		if err != nil {
			return nil, err
		}
		out[r.MessageID] = c
	}
	return out, nil
}

// Count returns how many classifications are stored for account.
func (s *SQLiteStore) Count(ctx context.Context, account string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM classifications WHERE account = ?", normalizeAccount(account))
	if err != nil {
		return 0, fmt.Errorf("counting classifications: %w", err)
	}
	return n, nil
}

// Clear deletes everything stored for account.
func (s *SQLiteStore) Clear(ctx context.Context, account string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM classifications WHERE account = ?", normalizeAccount(account)); err != nil {
		return fmt.Errorf("clearing classifications: %w", err)
	}
	return nil
}

// Prune deletes classifications stored before cutoff and returns how many
// were removed.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM classifications WHERE classified_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning classifications: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r classificationRow) toClassification() (backend.Classification, error) {
	var tags []string
	if err := json.Unmarshal([]byte(r.Tags), &tags); err != nil {
		return backend.Classification{}, fmt.Errorf("decoding tags for %s: %w", r.MessageID, err)
	}
	return backend.Classification{
		Tags:           tags,
		PriorityScore:  r.PriorityScore,
		PriorityLabel:  backend.PriorityLabel(r.PriorityLabel),
		Sentiment:      backend.Sentiment(r.Sentiment),
		Confidence:     r.Confidence,
		ReasoningShort: r.ReasoningShort,
	}, nil
}

func normalizeAccount(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}
