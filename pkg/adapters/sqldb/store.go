package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
)

var (
	_ ports.DurableStore  = (*Store)(nil)
	_ ports.SessionLister = (*Store)(nil)
)

// Dialect selects the placeholder style and schema types of the database.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Store is a DurableStore backed by a SQL database.
//
// It expects an *sql.DB opened with a driver matching the dialect, e.g.
// "modernc.org/sqlite" or "github.com/jackc/pgx/v5/stdlib". Timestamps are
// stored as Unix nanoseconds so the version marker survives exactly.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New initializes the schema in db and returns a Store.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	switch dialect {
	case SQLite, Postgres:
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	s := &Store{db: db, dialect: dialect}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) initSchema(ctx context.Context) error {
	statements := []string{`
		CREATE TABLE IF NOT EXISTS journey_progress (
			user_id          TEXT    NOT NULL,
			playbook_id      TEXT    NOT NULL,
			id               TEXT    NOT NULL,
			playbook_version INTEGER NOT NULL,
			status           TEXT    NOT NULL,
			current_index    INTEGER NOT NULL,
			frontier_index   INTEGER NOT NULL,
			started_at       BIGINT  NOT NULL,
			completed_at     BIGINT  NOT NULL,
			updated_at       BIGINT  NOT NULL,
			revision         BIGINT  NOT NULL,
			external_ref     TEXT    NOT NULL,
			PRIMARY KEY (user_id, playbook_id)
		)`, `
		CREATE TABLE IF NOT EXISTS journey_responses (
			user_id      TEXT   NOT NULL,
			playbook_id  TEXT   NOT NULL,
			item_id      TEXT   NOT NULL,
			id           TEXT   NOT NULL,
			payload      TEXT   NOT NULL,
			completed_at BIGINT NOT NULL,
			updated_at   BIGINT NOT NULL,
			PRIMARY KEY (user_id, playbook_id, item_id)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites '?' placeholders into the dialect's style.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

const progressColumns = `user_id, playbook_id, id, playbook_version, status, current_index, frontier_index,
	started_at, completed_at, updated_at, revision, external_ref`

// LoadProgress returns domain.ErrProgressNotFound when no row exists.
func (s *Store) LoadProgress(ctx context.Context, key domain.SessionKey) (domain.Progress, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+progressColumns+`
		FROM journey_progress WHERE user_id = ? AND playbook_id = ?`),
		key.UserID, key.PlaybookID)

	p, err := scanProgress(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Progress{}, domain.ErrProgressNotFound
	}
	if err != nil {
		return domain.Progress{}, fmt.Errorf("failed to load progress: %w", err)
	}
	return p, nil
}

// SaveProgress inserts (expectedRevision 0) or updates the row guarded by its revision.
func (s *Store) SaveProgress(ctx context.Context, p domain.Progress, expectedRevision int64) error {
	var (
		res sql.Result
		err error
	)
	if expectedRevision == 0 {
		res, err = s.exec(ctx, `INSERT INTO journey_progress (`+progressColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, playbook_id) DO NOTHING`,
			p.UserID, p.PlaybookID, p.ID, p.PlaybookVersion, string(p.Status), p.CurrentIndex, p.FrontierIndex,
			nanos(p.StartedAt), nanos(p.CompletedAt), nanos(p.UpdatedAt), p.Revision, p.ExternalRef)
	} else {
		res, err = s.exec(ctx, `UPDATE journey_progress
			SET id = ?, playbook_version = ?, status = ?, current_index = ?, frontier_index = ?,
				started_at = ?, completed_at = ?, updated_at = ?, revision = ?, external_ref = ?
			WHERE user_id = ? AND playbook_id = ? AND revision = ?`,
			p.ID, p.PlaybookVersion, string(p.Status), p.CurrentIndex, p.FrontierIndex,
			nanos(p.StartedAt), nanos(p.CompletedAt), nanos(p.UpdatedAt), p.Revision, p.ExternalRef,
			p.UserID, p.PlaybookID, expectedRevision)
	}
	if err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	if affected == 0 {
		return domain.ErrStaleWrite
	}
	return nil
}

// DeleteProgress removes the progress row.
func (s *Store) DeleteProgress(ctx context.Context, key domain.SessionKey) error {
	if _, err := s.exec(ctx, `DELETE FROM journey_progress WHERE user_id = ? AND playbook_id = ?`,
		key.UserID, key.PlaybookID); err != nil {
		return fmt.Errorf("failed to delete progress: %w", err)
	}
	return nil
}

// SaveResponse upserts the response in a single statement. The stored id and
// completed_at of an existing row are kept and updated_at never moves backwards.
func (s *Store) SaveResponse(ctx context.Context, r domain.Response) (domain.Response, error) {
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return domain.Response{}, fmt.Errorf("failed to encode payload: %w", err)
	}
	if r.Payload == nil {
		payload = []byte("{}")
	}

	_, err = s.exec(ctx, `INSERT INTO journey_responses
			(user_id, playbook_id, item_id, id, payload, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, playbook_id, item_id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = CASE
				WHEN excluded.updated_at > journey_responses.updated_at THEN excluded.updated_at
				ELSE journey_responses.updated_at + 1
			END`,
		r.UserID, r.PlaybookID, r.ItemID, r.ID, string(payload), nanos(r.CompletedAt), nanos(r.UpdatedAt))
	if err != nil {
		return domain.Response{}, fmt.Errorf("failed to save response: %w", err)
	}

	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT user_id, playbook_id, item_id, id, payload, completed_at, updated_at
		FROM journey_responses WHERE user_id = ? AND playbook_id = ? AND item_id = ?`),
		r.UserID, r.PlaybookID, r.ItemID)
	stored, err := scanResponse(row)
	if err != nil {
		return domain.Response{}, fmt.Errorf("failed to read back response: %w", err)
	}
	return stored, nil
}

// GetResponses returns the responses of a session keyed by item id.
func (s *Store) GetResponses(ctx context.Context, key domain.SessionKey) (map[string]domain.Response, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT user_id, playbook_id, item_id, id, payload, completed_at, updated_at
		FROM journey_responses WHERE user_id = ? AND playbook_id = ?`),
		key.UserID, key.PlaybookID)
	if err != nil {
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.Response)
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan response: %w", err)
		}
		out[r.ItemID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate responses: %w", err)
	}
	return out, nil
}

// DeleteResponses removes every response of the session.
func (s *Store) DeleteResponses(ctx context.Context, key domain.SessionKey) error {
	if _, err := s.exec(ctx, `DELETE FROM journey_responses WHERE user_id = ? AND playbook_id = ?`,
		key.UserID, key.PlaybookID); err != nil {
		return fmt.Errorf("failed to delete responses: %w", err)
	}
	return nil
}

// ListSessions returns every session with a progress row, ordered by key.
func (s *Store) ListSessions(ctx context.Context) ([]domain.SessionKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, playbook_id FROM journey_progress ORDER BY user_id, playbook_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var keys []domain.SessionKey
	for rows.Next() {
		var k domain.SessionKey
		if err := rows.Scan(&k.UserID, &k.PlaybookID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProgress(row scanner) (domain.Progress, error) {
	var (
		p                           domain.Progress
		status                      string
		started, completed, updated int64
	)
	err := row.Scan(&p.UserID, &p.PlaybookID, &p.ID, &p.PlaybookVersion, &status, &p.CurrentIndex, &p.FrontierIndex,
		&started, &completed, &updated, &p.Revision, &p.ExternalRef)
	if err != nil {
		return domain.Progress{}, err
	}
	p.Status = domain.Status(status)
	p.StartedAt = fromNanos(started)
	p.CompletedAt = fromNanos(completed)
	p.UpdatedAt = fromNanos(updated)
	return p, nil
}

func scanResponse(row scanner) (domain.Response, error) {
	var (
		r                  domain.Response
		payload            string
		completed, updated int64
	)
	if err := row.Scan(&r.UserID, &r.PlaybookID, &r.ItemID, &r.ID, &payload, &completed, &updated); err != nil {
		return domain.Response{}, err
	}
	r.Payload = map[string]any{}
	if err := domain.DecodeJSON([]byte(payload), &r.Payload); err != nil {
		return domain.Response{}, fmt.Errorf("corrupt payload: %w", err)
	}
	r.CompletedAt = fromNanos(completed)
	r.UpdatedAt = fromNanos(updated)
	return r, nil
}

// nanos maps the zero time to 0; time.Time{}.UnixNano is out of range.
func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
