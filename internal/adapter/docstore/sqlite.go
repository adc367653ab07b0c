// Package docstore implements the transcript document store on SQLite.
package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/step6836/CloudRAG/internal/adapter/docstore/migrations"
	"github.com/step6836/CloudRAG/internal/domain"
	"github.com/step6836/CloudRAG/internal/port"
)

// SQLiteStore keeps transcripts, chunk mappings and metadata in one SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ port.DocumentStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates the database at path and applies pending migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// Pragmas in the DSN apply to every pooled connection.
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, time.Now().Unix()); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// InsertDocument inserts a transcript, replacing any existing row with the
// same company, quarter and fiscal year. A replaced transcript gets a new id
// and loses its chunk mapping.
func (s *SQLiteStore) InsertDocument(ctx context.Context, doc domain.NewDocument) (int64, error) {
	if err := validateNewDocument(doc); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var existing int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM transcripts WHERE company = ? AND quarter = ? AND fiscal_year = ?`,
		doc.Company, doc.Quarter, doc.FiscalYear).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return 0, fmt.Errorf("looking up transcript: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, `DELETE FROM embedding_chunks WHERE transcript_id = ?`, existing); err != nil {
			return 0, fmt.Errorf("deleting chunk mapping: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM transcripts WHERE id = ?`, existing); err != nil {
			return 0, fmt.Errorf("deleting transcript: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO transcripts (company, quarter, fiscal_year, raw_text, word_count, source_url, transcript_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.Company, doc.Quarter, doc.FiscalYear, doc.Text, WordCount(doc.Text),
		nullString(doc.SourceURL), nullString(doc.TranscriptDate), time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("inserting transcript: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading transcript id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transcript: %w", err)
	}
	return id, nil
}

// ListDocuments returns transcripts, optionally for one company (case-insensitive).
func (s *SQLiteStore) ListDocuments(ctx context.Context, company string) ([]domain.Document, error) {
	query := `
		SELECT id, company, quarter, fiscal_year, raw_text, word_count, source_url, transcript_date, created_at
		FROM transcripts`
	var args []any
	if company != "" {
		query += ` WHERE company = ? COLLATE NOCASE`
		args = append(args, company)
	}
	query += ` ORDER BY company ASC, fiscal_year DESC, quarter DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transcripts: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		var (
			doc             domain.Document
			sourceURL, date sql.NullString
			createdAt       int64
		)
		if err := rows.Scan(&doc.ID, &doc.Company, &doc.Quarter, &doc.FiscalYear, &doc.RawText,
			&doc.WordCount, &sourceURL, &date, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning transcript: %w", err)
		}
		doc.SourceURL = sourceURL.String
		doc.TranscriptDate = date.String
		doc.CreatedAt = time.Unix(createdAt, 0).UTC()
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Companies returns the distinct companies in ascending order.
func (s *SQLiteStore) Companies(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT company FROM transcripts ORDER BY company ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing companies: %w", err)
	}
	defer rows.Close()

	var companies []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		companies = append(companies, c)
	}
	return companies, rows.Err()
}

// RecordChunkPositions replaces the chunk mapping of a transcript.
func (s *SQLiteStore) RecordChunkPositions(ctx context.Context, documentID int64, texts []string, positions []int) error {
	if len(texts) != len(positions) {
		return fmt.Errorf("%w: %d chunk texts but %d positions", domain.ErrInvalidInput, len(texts), len(positions))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM embedding_chunks WHERE transcript_id = ?`, documentID); err != nil {
		return fmt.Errorf("clearing chunk mapping: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embedding_chunks (transcript_id, chunk_index, chunk_text, vector_position)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for i, text := range texts {
		if _, err := stmt.ExecContext(ctx, documentID, i, text, positions[i]); err != nil {
			return fmt.Errorf("inserting chunk %d of transcript %d: %w", i, documentID, err)
		}
	}
	return tx.Commit()
}

// MaxChunkPosition returns the largest recorded vector position, or -1.
func (s *SQLiteStore) MaxChunkPosition(ctx context.Context) (int, error) {
	var pos sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(vector_position) FROM embedding_chunks`).Scan(&pos); err != nil {
		return 0, fmt.Errorf("reading max chunk position: %w", err)
	}
	if !pos.Valid {
		return -1, nil
	}
	return int(pos.Int64), nil
}

// AggregateStats returns transcript, chunk, company and word counts.
func (s *SQLiteStore) AggregateStats(ctx context.Context) (domain.StoreStats, error) {
	var stats domain.StoreStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT company), COALESCE(SUM(word_count), 0) FROM transcripts
	`).Scan(&stats.TotalDocuments, &stats.TotalCompanies, &stats.TotalWords)
	if err != nil {
		return stats, fmt.Errorf("counting transcripts: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_chunks`).Scan(&stats.TotalChunks); err != nil {
		return stats, fmt.Errorf("counting chunks: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT company, COUNT(*), COALESCE(SUM(word_count), 0)
		FROM transcripts GROUP BY company ORDER BY company ASC
	`)
	if err != nil {
		return stats, fmt.Errorf("per-company stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cs domain.CompanyStats
		if err := rows.Scan(&cs.Company, &cs.TranscriptCount, &cs.TotalWords); err != nil {
			return stats, err
		}
		stats.PerCompany = append(stats.PerCompany, cs)
	}
	return stats, rows.Err()
}

// GetMeta returns the value stored under key.
func (s *SQLiteStore) GetMeta(ctx context.Context, key string) (domain.MetaValue, bool, error) {
	var kind, text string
	err := s.db.QueryRowContext(ctx, `SELECT kind, value FROM metadata WHERE key = ?`, key).Scan(&kind, &text)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MetaValue{}, false, nil
	}
	if err != nil {
		return domain.MetaValue{}, false, fmt.Errorf("reading metadata %q: %w", key, err)
	}

	v, err := domain.DecodeMetaValue(kind, text)
	if err != nil {
		return domain.MetaValue{}, false, fmt.Errorf("metadata %q: %w", key, err)
	}
	return v, true, nil
}

// SetMeta stores value under key.
func (s *SQLiteStore) SetMeta(ctx context.Context, key string, value domain.MetaValue) error {
	kind, text := value.Encode()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value, kind, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			kind = excluded.kind,
			updated_at = excluded.updated_at
	`, key, text, kind, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("writing metadata %q: %w", key, err)
	}
	return nil
}

// DeleteOldQuarters keeps the newest keep transcripts per company.
func (s *SQLiteStore) DeleteOldQuarters(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("%w: keep must be non-negative, got %d", domain.ErrInvalidInput, keep)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const stale = `
		SELECT id FROM (
			SELECT id, ROW_NUMBER() OVER (
				PARTITION BY company ORDER BY fiscal_year DESC, quarter DESC
			) AS rn
			FROM transcripts
		) WHERE rn > ?`

	if _, err := tx.ExecContext(ctx, `DELETE FROM embedding_chunks WHERE transcript_id IN (`+stale+`)`, keep); err != nil {
		return 0, fmt.Errorf("deleting stale chunk mappings: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM transcripts WHERE id IN (`+stale+`)`, keep)
	if err != nil {
		return 0, fmt.Errorf("deleting stale transcripts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing prune: %w", err)
	}
	return int(n), nil
}

func validateNewDocument(doc domain.NewDocument) error {
	if strings.TrimSpace(doc.Company) == "" || strings.TrimSpace(doc.Quarter) == "" || strings.TrimSpace(doc.FiscalYear) == "" {
		return fmt.Errorf("%w: company, quarter and fiscal year are required", domain.ErrInvalidInput)
	}
	return nil
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
