package invite

import (
	"context"
	_ "embed"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const (
	defaultSchema = "backstage"
	tokensTable   = "invite_tokens"

	pgUniqueViolation = "23505"

	tokenColumns = `id, code, max_uses, used_count, expires_at, owner_scope, created_by, created_at`
)

// PostgresStore persists tokens in PostgreSQL.
// The pool is owned by the caller; the store never closes it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "backstage").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: defaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

// EnsureSchema creates the schema, table, and indexes when they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	sql := strings.NewReplacer(
		"{{schema}}", pgx.Identifier{s.schema}.Sanitize(),
		"{{tokens}}", s.table(),
	).Replace(schemaSQL)
	_, err := s.pool.Exec(ctx, sql)
	return err
}

// FindByCode fetches a token by its normalized code.
func (s *PostgresStore) FindByCode(ctx context.Context, code string) (Token, error) {
	if code == "" {
		return Token{}, ErrInvalidInput
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+`
		   FROM `+s.table()+`
		  WHERE code = $1`,
		code,
	)
	t, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Token{}, ErrCodeNotFound
	}
	return t, err
}

// TryIncrement consumes one use in a single conditional UPDATE.
// When no row qualifies it reads the current row so the caller can tell expiry from exhaustion.
func (s *PostgresStore) TryIncrement(ctx context.Context, id string, now time.Time) (IncrementResult, error) {
	if id == "" {
		return IncrementResult{}, ErrInvalidInput
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.table()+`
		    SET used_count = used_count + 1
		  WHERE id = $1
		    AND used_count < max_uses
		    AND (expires_at IS NULL OR expires_at > $2)
		RETURNING `+tokenColumns,
		id,
		now,
	)
	t, err := scanToken(row)
	if err == nil {
		return IncrementResult{Updated: true, Token: t}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IncrementResult{}, err
	}

	cur, err := s.getByID(ctx, id)
	if err != nil {
		return IncrementResult{}, err
	}
	return IncrementResult{Updated: false, Token: cur}, nil
}

// Insert creates a token row; a duplicate code yields ErrCodeConflict.
func (s *PostgresStore) Insert(ctx context.Context, in CreateRecord) (Token, error) {
	if !validRecord(in) {
		return Token{}, ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (
		     id, code, max_uses, used_count, expires_at, owner_scope, created_by, created_at
		   ) VALUES ($1, $2, $3, 0, $4, $5, $6, $7)`,
		in.ID,
		in.Code,
		in.MaxUses,
		in.ExpiresAt,
		in.OwnerScope,
		in.CreatedBy,
		in.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Token{}, ErrCodeConflict
		}
		return Token{}, err
	}
	return tokenFromRecord(in), nil
}

// List returns tokens newest first.
func (s *PostgresStore) List(ctx context.Context, in ListInput) ([]Token, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tokenColumns+`
		   FROM `+s.table()+`
		  WHERE ($1::text IS NULL OR owner_scope = $1)
		  ORDER BY id DESC
		  LIMIT $2`,
		in.OwnerScope,
		clampListLimit(in.Limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Token, 0, 16)
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) getByID(ctx context.Context, id string) (Token, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+`
		   FROM `+s.table()+`
		  WHERE id = $1`,
		id,
	)
	t, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Token{}, ErrCodeNotFound
	}
	return t, err
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, tokensTable}.Sanitize()
}

func scanToken(row pgx.Row) (Token, error) {
	var t Token
	err := row.Scan(
		&t.ID,
		&t.Code,
		&t.MaxUses,
		&t.UsedCount,
		&t.ExpiresAt,
		&t.OwnerScope,
		&t.CreatedBy,
		&t.CreatedAt,
	)
	if err != nil {
		return Token{}, err
	}
	if t.ExpiresAt != nil {
		e := t.ExpiresAt.UTC()
		t.ExpiresAt = &e
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}
