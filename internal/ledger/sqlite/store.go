// Package sqlite is a single-file chain-of-custody store for forensic
// workstations and hermetic tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"casevault/internal/custody"
	"casevault/pkg/utils"
)

const columns = `id, case_id, file_name, file_hash, activity_type, user_id, user_email,
	user_full_name, ip_address, user_agent, metadata, digital_signature,
	previous_signature, occurred_at, created_at`

type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// NewStore wraps a database opened with utils.OpenSQLite. The caller owns db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, clock: time.Now}
}

func (s *Store) Ping(ctx context.Context) error {
	return utils.HealthCheck(ctx, s.db, 2*time.Second)
}

func (s *Store) Tail(ctx context.Context, caseID, fileHash string) (custody.Event, bool, error) {
	e, ok, err := tail(ctx, s.db, caseID, fileHash)
	if err != nil {
		return custody.Event{}, false, custody.NewStorageError("tail", err)
	}
	return e, ok, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func tail(ctx context.Context, q queryer, caseID, fileHash string) (custody.Event, bool, error) {
	e, err := scanEvent(q.QueryRowContext(ctx, `
		SELECT `+columns+`
		FROM chain_of_custody
		WHERE case_id = ? AND file_hash = ?
		ORDER BY occurred_at DESC, created_at DESC, id DESC
		LIMIT 1
	`, caseID, fileHash))
	if errors.Is(err, sql.ErrNoRows) {
		return custody.Event{}, false, nil
	}
	if err != nil {
		return custody.Event{}, false, err
	}
	return e, true, nil
}

func (s *Store) Append(ctx context.Context, e custody.Event) (custody.Event, error) {
	norm, meta, err := custody.NormalizeMetadata(e.Metadata)
	if err != nil {
		return custody.Event{}, err
	}
	// The caller gets back the map a later read would return.
	e.Metadata = norm
	e.Timestamp = custody.NormalizeTimestamp(e.Timestamp)
	e.CreatedAt = custody.NormalizeTimestamp(s.clock())

	err = utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		cur, ok, err := tail(ctx, tx, e.CaseID, e.FileHash)
		if err != nil {
			return err
		}
		if ok {
			if e.PreviousSignature == nil || *e.PreviousSignature != cur.DigitalSignature {
				return custody.ErrConcurrentAppend
			}
		} else if e.PreviousSignature != nil {
			return custody.ErrConcurrentAppend
		}

		var prev any
		if e.PreviousSignature != nil {
			prev = *e.PreviousSignature
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chain_of_custody (`+columns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, e.ID, e.CaseID, e.FileName, e.FileHash, string(e.ActivityType), e.UserID, e.UserEmail,
			e.UserFullName, e.IPAddress, e.UserAgent, string(meta), e.DigitalSignature,
			prev, e.Timestamp.UnixMicro(), e.CreatedAt.UnixMicro())
		return err
	})
	if err != nil {
		return custody.Event{}, classify("append", err)
	}

	return e, nil
}

func (s *Store) Chain(ctx context.Context, caseID, fileHash string) ([]custody.Event, error) {
	return s.list(ctx, "chain", `
		SELECT `+columns+`
		FROM chain_of_custody
		WHERE case_id = ? AND file_hash = ?
		ORDER BY occurred_at ASC, created_at ASC, id ASC
	`, caseID, fileHash)
}

func (s *Store) CaseChain(ctx context.Context, caseID string) ([]custody.Event, error) {
	return s.list(ctx, "case chain", `
		SELECT `+columns+`
		FROM chain_of_custody
		WHERE case_id = ?
		ORDER BY occurred_at ASC, created_at ASC, id ASC
	`, caseID)
}

func (s *Store) list(ctx context.Context, op, query string, args ...any) ([]custody.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, custody.NewStorageError(op, err)
	}
	defer rows.Close()

	out := []custody.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, custody.NewStorageError(op, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, custody.NewStorageError(op, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(r scanner) (custody.Event, error) {
	var (
		e          custody.Event
		activity   string
		meta       string
		prev       sql.NullString
		occurredAt int64
		createdAt  int64
	)
	if err := r.Scan(
		&e.ID, &e.CaseID, &e.FileName, &e.FileHash, &activity, &e.UserID, &e.UserEmail,
		&e.UserFullName, &e.IPAddress, &e.UserAgent, &meta, &e.DigitalSignature,
		&prev, &occurredAt, &createdAt,
	); err != nil {
		return custody.Event{}, err
	}
	e.ActivityType = custody.ActivityType(activity)
	if prev.Valid {
		p := prev.String
		e.PreviousSignature = &p
	}
	e.Timestamp = time.UnixMicro(occurredAt).UTC()
	e.CreatedAt = time.UnixMicro(createdAt).UTC()
	if m, err := custody.DecodeMetadata([]byte(meta)); err == nil {
		e.Metadata = m
	}
	return e, nil
}

func classify(op string, err error) error {
	if isUniqueViolation(err) {
		return custody.ErrConcurrentAppend
	}
	return custody.NewStorageError(op, err)
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		// primary code only when extended result codes are off
		msg := se.Error()
		return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
	}
	return false
}
