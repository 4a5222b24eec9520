// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ledger records per-paper stage outcomes in SQLite so a harvest
// can be resumed and audited. It stores outcomes only, never paper content.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/arxiv-harvest/internal/arxivid"
)

// Status is the outcome of one stage for one paper.
type Status string

const (
	StatusPending Status = "pending"
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
)

// Stage names a pipeline stage.
type Stage string

const (
	StageDownload   Stage = "download"
	StageReferences Stage = "references"
)

// Outcome is what a download worker reports for one paper.
type Outcome struct {
	ID              arxivid.Identifier
	LatestVersion   int
	Revisions       int
	RevisionsFailed int
	Err             error
}

// Row is one paper's ledger entry.
type Row struct {
	Key              string    `json:"key" yaml:"key"`
	ArxivID          string    `json:"arxiv_id" yaml:"arxiv_id"`
	LatestVersion    int       `json:"latest_version" yaml:"latest_version"`
	Revisions        int       `json:"revisions" yaml:"revisions"`
	RevisionsFailed  int       `json:"revisions_failed" yaml:"revisions_failed"`
	DownloadStatus   Status    `json:"download_status" yaml:"download_status"`
	DownloadError    string    `json:"download_error,omitempty" yaml:"download_error,omitempty"`
	References       int       `json:"references" yaml:"references"`
	ReferencesStatus Status    `json:"references_status" yaml:"references_status"`
	ReferencesError  string    `json:"references_error,omitempty" yaml:"references_error,omitempty"`
	UpdatedAt        time.Time `json:"updated_at" yaml:"updated_at"`
}

// Downloaded reports whether the download stage succeeded.
func (r Row) Downloaded() bool {
	return r.DownloadStatus == StatusOK
}

// Completed reports whether both stages succeeded.
func (r Row) Completed() bool {
	return r.Downloaded() && r.ReferencesStatus == StatusOK
}

// Totals aggregates the ledger for the status command.
type Totals struct {
	Papers           int `json:"papers" yaml:"papers"`
	Downloaded       int `json:"downloaded" yaml:"downloaded"`
	DownloadFailed   int `json:"download_failed" yaml:"download_failed"`
	Revisions        int `json:"revisions" yaml:"revisions"`
	RevisionsFailed  int `json:"revisions_failed" yaml:"revisions_failed"`
	ReferencesSaved  int `json:"references_saved" yaml:"references_saved"`
	ReferencesFailed int `json:"references_failed" yaml:"references_failed"`
	References       int `json:"references" yaml:"references"`
}

// Ledger is safe for concurrent use by every worker of a run.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the ledger database at path and ensures the schema.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time; workers queue on the pool instead of on SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db, now: time.Now}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return l, nil
}

// Close releases the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS papers (
			key TEXT PRIMARY KEY,
			arxiv_id TEXT NOT NULL,
			latest_version INTEGER NOT NULL DEFAULT 0,
			revisions INTEGER NOT NULL DEFAULT 0,
			revisions_failed INTEGER NOT NULL DEFAULT 0,
			download_status TEXT NOT NULL DEFAULT 'pending',
			download_error TEXT NOT NULL DEFAULT '',
			refs INTEGER NOT NULL DEFAULT 0,
			references_status TEXT NOT NULL DEFAULT 'pending',
			references_error TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_papers_download ON papers(download_status)`,
		`CREATE INDEX IF NOT EXISTS idx_papers_references ON papers(references_status)`,
	}
	for _, stmt := range statements {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

func (l *Ledger) timestamp() string {
	return l.now().UTC().Format(time.RFC3339)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func statusOf(err error) Status {
	if err != nil {
		return StatusFailed
	}
	return StatusOK
}

// RecordDownload stores a download worker's outcome for one paper. A new
// download resets the reference stage to pending.
func (l *Ledger) RecordDownload(ctx context.Context, o Outcome) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO papers (key, arxiv_id, latest_version, revisions, revisions_failed,
			download_status, download_error, references_status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?)
		ON CONFLICT(key) DO UPDATE SET
			latest_version = excluded.latest_version,
			revisions = excluded.revisions,
			revisions_failed = excluded.revisions_failed,
			download_status = excluded.download_status,
			download_error = excluded.download_error,
			references_status = CASE WHEN excluded.download_status = 'ok'
				THEN 'pending' ELSE papers.references_status END,
			updated_at = excluded.updated_at`,
		o.ID.Key(), o.ID.String(), o.LatestVersion, o.Revisions, o.RevisionsFailed,
		statusOf(o.Err), errText(o.Err), l.timestamp())
	if err != nil {
		return fmt.Errorf("recording download for %s: %w", o.ID, err)
	}
	return nil
}

// RecordReferences stores the reference stage outcome for one paper.
func (l *Ledger) RecordReferences(ctx context.Context, id arxivid.Identifier, count int, refErr error) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO papers (key, arxiv_id, refs, references_status, references_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			refs = excluded.refs,
			references_status = excluded.references_status,
			references_error = excluded.references_error,
			updated_at = excluded.updated_at`,
		id.Key(), id.String(), count, statusOf(refErr), errText(refErr), l.timestamp())
	if err != nil {
		return fmt.Errorf("recording references for %s: %w", id, err)
	}
	return nil
}

// Get returns the row for id, or false when the ledger has none.
func (l *Ledger) Get(ctx context.Context, id arxivid.Identifier) (Row, bool, error) {
	rows, err := l.query(ctx, `WHERE key = ?`, id.Key())
	if err != nil {
		return Row{}, false, err
	}
	if len(rows) == 0 {
		return Row{}, false, nil
	}
	return rows[0], true, nil
}

// Summary aggregates every row.
func (l *Ledger) Summary(ctx context.Context) (Totals, error) {
	var t Totals
	err := l.db.QueryRowContext(ctx, `
		SELECT
			count(*),
			coalesce(sum(download_status = 'ok'), 0),
			coalesce(sum(download_status = 'failed'), 0),
			coalesce(sum(revisions), 0),
			coalesce(sum(revisions_failed), 0),
			coalesce(sum(references_status = 'ok'), 0),
			coalesce(sum(references_status = 'failed'), 0),
			coalesce(sum(refs), 0)
		FROM papers`).Scan(
		&t.Papers, &t.Downloaded, &t.DownloadFailed, &t.Revisions,
		&t.RevisionsFailed, &t.ReferencesSaved, &t.ReferencesFailed, &t.References)
	if err != nil {
		return Totals{}, fmt.Errorf("summarizing ledger: %w", err)
	}
	return t, nil
}

// Failures lists rows whose given stage failed, in key order.
func (l *Ledger) Failures(ctx context.Context, stage Stage) ([]Row, error) {
	switch stage {
	case StageDownload:
		return l.query(ctx, `WHERE download_status = 'failed'`)
	case StageReferences:
		return l.query(ctx, `WHERE references_status = 'failed'`)
	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
}

func (l *Ledger) query(ctx context.Context, where string, args ...any) ([]Row, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT key, arxiv_id, latest_version, revisions, revisions_failed,
			download_status, download_error, refs, references_status,
			references_error, updated_at
		FROM papers `+where+` ORDER BY key`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var updated string
		if err := rows.Scan(&r.Key, &r.ArxivID, &r.LatestVersion, &r.Revisions,
			&r.RevisionsFailed, &r.DownloadStatus, &r.DownloadError, &r.References,
			&r.ReferencesStatus, &r.ReferencesError, &updated); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		r.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		out = append(out, r)
	}
	return out, rows.Err()
}
