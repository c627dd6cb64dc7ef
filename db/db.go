package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/nijaru/yt-mentions/models"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrNoRun is returned when the store holds no completed run.
var ErrNoRun = errors.New("no run recorded")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		query       TEXT NOT NULL,
		keyword     TEXT NOT NULL,
		max_videos  INTEGER NOT NULL,
		format      TEXT NOT NULL DEFAULT '',
		started_at  TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS videos (
		run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		position  INTEGER NOT NULL,
		title     TEXT NOT NULL,
		link      TEXT NOT NULL,
		file_path TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS skips (
		run_id   TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		title    TEXT NOT NULL,
		link     TEXT NOT NULL,
		reason   TEXT NOT NULL,
		PRIMARY KEY (run_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS mentions (
		run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		position      INTEGER NOT NULL,
		video_title   TEXT NOT NULL,
		timestamp_url TEXT NOT NULL,
		text          TEXT NOT NULL,
		PRIMARY KEY (run_id, position)
	)`,
}

// Store keeps the outcome of pipeline runs in SQLite. With the default
// in-memory DSN nothing outlives the process.
type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	logrus.WithField("dsn", dsn).Info("Initializing run store")

	if path := filePath(dsn); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
			return nil, errors.Wrap(err, "creating directory for database")
		}
	}

	conn, err := sql.Open("sqlite3", withForeignKeys(dsn))
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}

	// One connection keeps a shared in-memory database alive and serializes writers.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	for _, stmt := range schema {
		if _, err := conn.Exec(stmt); err != nil {
			conn.Close()
			return nil, errors.Wrap(err, "creating tables")
		}
	}

	return &Store{db: conn}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveRun writes run and its rows in one transaction.
func (s *Store) SaveRun(ctx context.Context, run *models.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, query, keyword, max_videos, format, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Request.Query, run.Request.Keyword, run.Request.MaxVideos,
		string(run.Request.Format), run.StartedAt.UTC(), run.FinishedAt.UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "inserting run")
	}

	if err := insertRows(ctx, tx,
		"INSERT INTO videos (run_id, position, title, link, file_path) VALUES (?, ?, ?, ?, ?)",
		len(run.Videos), func(i int) []any {
			v := run.Videos[i]
			return []any{run.ID, i, v.Title, v.Link, v.FilePath}
		}); err != nil {
		return errors.Wrap(err, "inserting videos")
	}

	if err := insertRows(ctx, tx,
		"INSERT INTO skips (run_id, position, title, link, reason) VALUES (?, ?, ?, ?, ?)",
		len(run.Skipped), func(i int) []any {
			sk := run.Skipped[i]
			return []any{run.ID, i, sk.Title, sk.Link, sk.Reason}
		}); err != nil {
		return errors.Wrap(err, "inserting skips")
	}

	if err := insertRows(ctx, tx,
		"INSERT INTO mentions (run_id, position, video_title, timestamp_url, text) VALUES (?, ?, ?, ?, ?)",
		len(run.Mentions), func(i int) []any {
			m := run.Mentions[i]
			return []any{run.ID, i, m.VideoTitle, m.TimestampURL, m.Text}
		}); err != nil {
		return errors.Wrap(err, "inserting mentions")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}
	return nil
}

func insertRows(ctx context.Context, tx *sql.Tx, query string, n int, args func(i int) []any) error {
	if n == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return errors.Wrap(err, "preparing statement")
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return err
		}
	}
	return nil
}

// CurrentRun returns the most recently started run with all of its rows.
func (s *Store) CurrentRun(ctx context.Context) (*models.Run, error) {
	var (
		run    models.Run
		format string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, query, keyword, max_videos, format, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT 1`,
	).Scan(&run.ID, &run.Request.Query, &run.Request.Keyword, &run.Request.MaxVideos,
		&format, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoRun
		}
		return nil, errors.Wrap(err, "querying current run")
	}
	run.Request.Format = models.Format(format)

	if run.Videos, err = s.videos(ctx, run.ID); err != nil {
		return nil, err
	}
	if run.Skipped, err = s.skips(ctx, run.ID); err != nil {
		return nil, err
	}
	if run.Mentions, err = s.Mentions(ctx, run.ID); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *Store) Mentions(ctx context.Context, runID string) ([]models.Mention, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT video_title, timestamp_url, text FROM mentions WHERE run_id = ? ORDER BY position", runID)
	if err != nil {
		return nil, errors.Wrap(err, "querying mentions")
	}
	defer rows.Close()

	var out []models.Mention
	for rows.Next() {
		var m models.Mention
		if err := rows.Scan(&m.VideoTitle, &m.TimestampURL, &m.Text); err != nil {
			return nil, errors.Wrap(err, "scanning mention")
		}
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "iterating mentions")
}

func (s *Store) videos(ctx context.Context, runID string) ([]models.Video, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT title, link, file_path FROM videos WHERE run_id = ? ORDER BY position", runID)
	if err != nil {
		return nil, errors.Wrap(err, "querying videos")
	}
	defer rows.Close()

	var out []models.Video
	for rows.Next() {
		var v models.Video
		if err := rows.Scan(&v.Title, &v.Link, &v.FilePath); err != nil {
			return nil, errors.Wrap(err, "scanning video")
		}
		out = append(out, v)
	}
	return out, errors.Wrap(rows.Err(), "iterating videos")
}

func (s *Store) skips(ctx context.Context, runID string) ([]models.Skip, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT title, link, reason FROM skips WHERE run_id = ? ORDER BY position", runID)
	if err != nil {
		return nil, errors.Wrap(err, "querying skips")
	}
	defer rows.Close()

	var out []models.Skip
	for rows.Next() {
		var sk models.Skip
		if err := rows.Scan(&sk.Title, &sk.Link, &sk.Reason); err != nil {
			return nil, errors.Wrap(err, "scanning skip")
		}
		out = append(out, sk)
	}
	return out, errors.Wrap(rows.Err(), "iterating skips")
}

// Clear removes every run.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	for _, table := range []string{"mentions", "skips", "videos", "runs"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return errors.Wrapf(err, "clearing %s", table)
		}
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

// filePath returns the on-disk path of dsn, or "" for in-memory databases.
func filePath(dsn string) string {
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return ""
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}
