// Package postgres is the production chain-of-custody store.
//
// Appends are append-if-previous-matches: the tail is re-checked inside the
// insert transaction and the chain_of_custody_successor_uq index rejects any
// second successor that slips past the check.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"casevault/internal/custody"
	"casevault/pkg/utils"
)

const uniqueViolation = "23505"

const columns = `id, case_id, file_name, file_hash, activity_type, user_id, user_email,
	user_full_name, ip_address, user_agent, metadata, digital_signature,
	previous_signature, occurred_at, created_at`

type Store struct {
	db *sql.DB
}

// NewStore wraps a pool opened with utils.OpenPostgres. The caller owns db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
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
	row := q.QueryRowContext(ctx, `
		SELECT `+columns+`
		FROM chain_of_custody
		WHERE case_id = $1 AND file_hash = $2
		ORDER BY occurred_at DESC, created_at DESC, id DESC
		LIMIT 1
	`, caseID, fileHash)
	e, err := scanEvent(row)
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

	err = utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		cur, ok, err := tail(ctx, tx, e.CaseID, e.FileHash)
		if err != nil {
			return err
		}
		if !linksTo(e, cur, ok) {
			return custody.ErrConcurrentAppend
		}
		return tx.QueryRowContext(ctx, `
			INSERT INTO chain_of_custody (
				id, case_id, file_name, file_hash, activity_type, user_id, user_email,
				user_full_name, ip_address, user_agent, metadata, digital_signature,
				previous_signature, occurred_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING created_at
		`, e.ID, e.CaseID, e.FileName, e.FileHash, string(e.ActivityType), e.UserID, e.UserEmail,
			e.UserFullName, e.IPAddress, e.UserAgent, string(meta), e.DigitalSignature,
			e.PreviousSignature, e.Timestamp.UTC(),
		).Scan(&e.CreatedAt)
	})
	if err != nil {
		return custody.Event{}, classify("append", err)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func linksTo(e, cur custody.Event, ok bool) bool {
	if !ok {
		return e.PreviousSignature == nil
	}
	return e.PreviousSignature != nil && *e.PreviousSignature == cur.DigitalSignature
}

func (s *Store) Chain(ctx context.Context, caseID, fileHash string) ([]custody.Event, error) {
	return s.list(ctx, "chain", `
		SELECT `+columns+`
		FROM chain_of_custody
		WHERE case_id = $1 AND file_hash = $2
		ORDER BY occurred_at ASC, created_at ASC, id ASC
	`, caseID, fileHash)
}

func (s *Store) CaseChain(ctx context.Context, caseID string) ([]custody.Event, error) {
	return s.list(ctx, "case chain", `
		SELECT `+columns+`
		FROM chain_of_custody
		WHERE case_id = $1
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
		e        custody.Event
		activity string
		meta     string
		prev     sql.NullString
	)
	if err := r.Scan(
		&e.ID, &e.CaseID, &e.FileName, &e.FileHash, &activity, &e.UserID, &e.UserEmail,
		&e.UserFullName, &e.IPAddress, &e.UserAgent, &meta, &e.DigitalSignature,
		&prev, &e.Timestamp, &e.CreatedAt,
	); err != nil {
		return custody.Event{}, err
	}
	e.ActivityType = custody.ActivityType(activity)
	if prev.Valid {
		p := prev.String
		e.PreviousSignature = &p
	}
	e.Timestamp = e.Timestamp.UTC()
	e.CreatedAt = e.CreatedAt.UTC()

	// Unreadable metadata leaves Metadata nil; the verifier then reports the
	// event's signature as invalid instead of the read failing.
	if m, err := custody.DecodeMetadata([]byte(meta)); err == nil {
		e.Metadata = m
	}
	return e, nil
}

// classify maps unique violations to ErrConcurrentAppend and everything else
// to a StorageError.
func classify(op string, err error) error {
	if isUniqueViolation(err) {
		return custody.ErrConcurrentAppend
	}
	return custody.NewStorageError(op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
