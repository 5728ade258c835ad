// Package history persists submitted commands and their outcomes in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/pxshell/internal/config"
)

const maxErrorBytes = 16 * 1024

// timestampLayout is fixed width so text order in SQLite matches time order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts a new submission with status submitted. The command digest is
// computed when e.CommandDigest is empty.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("submission id is empty")
	}
	if e.Command == "" {
		return fmt.Errorf("command is empty")
	}
	if e.CommandDigest == "" {
		e.CommandDigest = config.Digest(e.Command)
	}
	if e.SubmittedAt.IsZero() {
		e.SubmittedAt = time.Now()
	}

	targets, err := json.Marshal(e.Targets)
	if err != nil {
		return fmt.Errorf("encode targets: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO submission_log(
  id, command, command_digest, targets, blocking, status, submitted_at
)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, e.ID, e.Command, e.CommandDigest, string(targets), e.Blocking, StatusSubmitted, e.SubmittedAt.UTC().Format(timestampLayout))
	if err != nil {
		return fmt.Errorf("record submission: %w", err)
	}
	return nil
}

// Complete marks a submission terminal. errText is truncated and stored when non-empty.
func (s *Store) Complete(ctx context.Context, id string, status Status, errText string, at time.Time) error {
	if id == "" {
		return fmt.Errorf("submission id is empty")
	}
	if !status.Terminal() {
		return fmt.Errorf("invalid terminal status: %q", status)
	}

	var errVal any
	if errText != "" {
		if len(errText) > maxErrorBytes {
			errText = errText[:maxErrorBytes]
		}
		errVal = errText
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE submission_log
SET status = ?, error = ?, completed_at = ?
WHERE id = ?;
`, status, errVal, at.UTC().Format(timestampLayout), id)
	if err != nil {
		return fmt.Errorf("complete submission: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// Get returns one submission by id.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, command, command_digest, targets, blocking, status, error, submitted_at, completed_at
FROM submission_log
WHERE id = ?;
`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return e, nil
}

// List returns up to limit submissions, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, command, command_digest, targets, blocking, status, error, submitted_at, completed_at
FROM submission_log
ORDER BY submitted_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e            Entry
		targetsS     string
		statusS      string
		errText      sql.NullString
		submittedAtS string
		completedAtS sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Command, &e.CommandDigest, &targetsS, &e.Blocking, &statusS, &errText, &submittedAtS, &completedAtS); err != nil {
		return nil, err
	}

	e.Status = Status(statusS)
	if err := json.Unmarshal([]byte(targetsS), &e.Targets); err != nil {
		return nil, fmt.Errorf("decode targets: %w", err)
	}
	if errText.Valid {
		e.Error = &errText.String
	}
	if t, err := time.Parse(time.RFC3339Nano, submittedAtS); err == nil {
		e.SubmittedAt = t
	}
	if completedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAtS.String); err == nil {
			e.CompletedAt = &t
		}
	}
	return &e, nil
}
