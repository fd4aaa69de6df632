// Package storage is the durable ladder store: player records, bans and the
// append-only history, backed by SQLite (default) or Postgres.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/park285/pvp-ladder/internal/domain"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed schema_sqlite.sql
var schemaSQLite string

//go:embed schema_postgres.sql
var schemaPostgres string

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) String() string {
	if d == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store provides database access. Writes are serialized through writeMu so each
// mutating sequence runs as one transaction with no other writer interleaved;
// reads go straight to the pool.
type Store struct {
	db      *sql.DB
	dialect dialect
	writeMu sync.Mutex
	now     func() time.Time
}

// Open connects to dsn. postgres:// and postgresql:// URLs use Postgres;
// anything else is treated as a SQLite path (an optional sqlite:// prefix is stripped).
func Open(ctx context.Context, dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return openPostgres(ctx, dsn)
	}
	return openSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
}

func openSQLite(ctx context.Context, path string) (*Store, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	return initStore(ctx, db, dialectSQLite)
}

func openPostgres(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return initStore(ctx, db, dialectPostgres)
}

func initStore(ctx context.Context, db *sql.DB, d dialect) (*Store, error) {
	schema := schemaSQLite
	if d == dialectPostgres {
		schema = schemaPostgres
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: db, dialect: d, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Dialect names the backing database ("sqlite" or "postgres").
func (s *Store) Dialect() string { return s.dialect.String() }

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return domain.Storage("ping", s.db.PingContext(ctx))
}

// write runs fn inside a transaction while holding the single-writer lock.
// Typed domain errors returned by fn roll the transaction back and pass through;
// anything else is reported as a storage failure for op.
func (s *Store) write(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Storage(op, fmt.Errorf("starting transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return domain.Storage(op, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Storage(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// q rewrites ? placeholders into $n for Postgres.
func (s *Store) q(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// ts converts t into the representation the dialect stores timestamps as.
func (s *Store) ts(t time.Time) any {
	if s.dialect == dialectPostgres {
		return t.UTC()
	}
	return formatTimestamp(t)
}

func (s *Store) isBanned(ctx context.Context, db querier, playerID int64) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, s.q("SELECT 1 FROM bans WHERE user_id = ?"), playerID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) requireNotBanned(ctx context.Context, db querier, ids ...int64) error {
	for _, id := range ids {
		banned, err := s.isBanned(ctx, db, id)
		if err != nil {
			return err
		}
		if banned {
			return domain.Errorf(domain.CodeBanned, "player %d is banned", id)
		}
	}
	return nil
}

func normalizeLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
