// Package store persists users and positions. Plain SQL over a pgx pool;
// the schema is created imperatively at startup.
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNotFound reports that the addressed row does not exist. Handlers map it
// to a 404.
var ErrNotFound = errors.New("Item not found")

// ConflictError wraps a database integrity violation (duplicate key, missing
// parent row). Handlers map it to a 409 with the database message.
type ConflictError struct {
	Err error
}

func (e *ConflictError) Error() string {
	return e.Err.Error()
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

type Store struct {
	db     *pgxpool.Pool
	clock  clockwork.Clock
	logger zerolog.Logger
}

func New(db *pgxpool.Pool, clock clockwork.Clock) *Store {
	s := &Store{db: db, clock: clock}
	s.logger = log.With().Str("module", "store").Logger()
	return s
}

func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS users (
		id serial PRIMARY KEY,
		name text NOT NULL,
		surname text NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS positions (
		id serial PRIMARY KEY,
		user_id integer NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		latitude float8 NOT NULL,
		longitude float8 NOT NULL,
		source text NOT NULL,
		battery_level integer NOT NULL,
		sport_mode boolean NOT NULL,
		time bigint NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `CREATE INDEX IF NOT EXISTS positions_user_id_idx ON positions (user_id)`)
	return err
}

func (s *Store) nowMillis() int64 {
	return s.clock.Now().UnixNano() / 1e6
}

// wrapPgError turns integrity violations into ConflictError and leaves
// everything else untouched.
func wrapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgerrcode.IsIntegrityConstraintViolation(pgErr.Code) {
		return &ConflictError{Err: err}
	}
	return err
}
