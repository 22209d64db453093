// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver registered as "pgx"
	"github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

// Supported SQL drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// SQLConfig selects the driver and data source.
type SQLConfig struct {
	Driver string
	DSN    string
}

// SQLStore persists entities in SQLite or Postgres. Each entity table holds
// the indexed columns and the JSON document.
type SQLStore struct {
	*repo
	db      *sql.DB
	dialect string
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlBackend struct {
	db      *sql.DB
	q       querier
	tx      *sql.Tx // nil outside a transaction
	dialect string
}

// OpenSQL opens the database and creates the schema when missing.
func OpenSQL(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	switch cfg.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store: database dsn cannot be empty")
	}

	if cfg.Driver == DriverSQLite && !strings.HasPrefix(cfg.DSN, "file:") && cfg.DSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("store: failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	if cfg.Driver == DriverSQLite {
		// SQLite works best with a single connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := newSQLStore(db, cfg.Driver)
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Infof("SQL store initialized (driver: %s)", cfg.Driver)
	return s, nil
}

func newSQLStore(db *sql.DB, dialect string) *SQLStore {
	b := &sqlBackend{db: db, q: db, dialect: dialect}
	return &SQLStore{repo: &repo{b: b}, db: db, dialect: dialect}
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) migrate(ctx context.Context) error {
	tables, indexes := schemaStatements(s.dialect)
	for _, stmt := range tables {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: failed to create schema: %w", err)
		}
	}
	for _, t := range allTables {
		if err := s.addMissingColumns(ctx, t); err != nil {
			return err
		}
	}
	for _, stmt := range indexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: failed to create index: %w", err)
		}
	}
	return nil
}

// addMissingColumns brings tables created by older releases up to date.
func (s *SQLStore) addMissingColumns(ctx context.Context, t *table) error {
	query := "SELECT name FROM pragma_table_info(?)"
	if s.dialect == DriverPostgres {
		query = "SELECT column_name FROM information_schema.columns WHERE table_name = $1"
	}
	rows, err := s.db.QueryContext(ctx, query, t.name)
	if err != nil {
		return fmt.Errorf("store: inspect %s: %w", t.name, err)
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return fmt.Errorf("store: inspect %s: %w", t.name, err)
		}
		existing[strings.ToLower(name)] = true
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: inspect %s: %w", t.name, err)
	}

	for _, c := range t.columns {
		if existing[c.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", t.name, c.name, columnType(s.dialect, c))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: add column %s.%s: %w", t.name, c.name, err)
		}
		log.Infof("store: added column %s.%s", t.name, c.name)
	}
	return nil
}

func columnType(dialect string, c column) string {
	switch {
	case !c.integer:
		return "TEXT"
	case dialect == DriverPostgres:
		return "BIGINT"
	default:
		return "INTEGER"
	}
}

// schemaStatements returns the CREATE TABLE statements and, separately, the
// index statements, which must run after missing columns are added.
func schemaStatements(dialect string) (tables, indexes []string) {
	seqCol := "seq INTEGER PRIMARY KEY AUTOINCREMENT"
	if dialect == DriverPostgres {
		seqCol = "seq BIGSERIAL PRIMARY KEY"
	}

	for _, t := range allTables {
		cols := []string{seqCol, "id TEXT NOT NULL UNIQUE"}
		for _, c := range t.columns {
			cols = append(cols, fmt.Sprintf("%s %s", c.name, columnType(dialect, c)))
		}
		cols = append(cols, "doc TEXT NOT NULL")
		tables = append(tables, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", t.name, strings.Join(cols, ", ")))

		for _, set := range t.unique {
			indexes = append(indexes, fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS uq_%s_%s ON %s (%s)",
				t.name, strings.Join(set, "_"), t.name, strings.Join(set, ", ")))
		}
		for _, c := range t.columns {
			indexes = append(indexes, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)", t.name, c.name, t.name, c.name))
		}
	}
	return tables, indexes
}

// rebind rewrites ? placeholders into $n for Postgres.
func rebind(dialect, query string) string {
	if dialect != DriverPostgres {
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

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}

func (b *sqlBackend) insert(ctx context.Context, t *table, id string, idx []eq, doc []byte) error {
	cols := []string{"id"}
	args := []any{id}
	for _, e := range idx {
		cols = append(cols, e.col)
		args = append(args, e.val)
	}
	cols = append(cols, "doc")
	args = append(args, string(doc))

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.name, strings.Join(cols, ", "), placeholders)
	if _, err := b.q.ExecContext(ctx, rebind(b.dialect, query), args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, t.name)
		}
		return fmt.Errorf("store: insert %s: %w", t.name, err)
	}
	return nil
}

func (b *sqlBackend) update(ctx context.Context, t *table, id string, idx []eq, doc []byte) error {
	sets := make([]string, 0, len(idx)+1)
	args := make([]any, 0, len(idx)+2)
	for _, e := range idx {
		sets = append(sets, e.col+" = ?")
		args = append(args, e.val)
	}
	sets = append(sets, "doc = ?")
	args = append(args, string(doc), id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", t.name, strings.Join(sets, ", "))
	res, err := b.q.ExecContext(ctx, rebind(b.dialect, query), args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, t.name)
		}
		return fmt.Errorf("store: update %s: %w", t.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update %s: %w", t.name, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *sqlBackend) get(ctx context.Context, t *table, id string) ([]byte, error) {
	query := fmt.Sprintf("SELECT doc FROM %s WHERE id = ?", t.name)
	var doc string
	err := b.q.QueryRowContext(ctx, rebind(b.dialect, query), id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", t.name, err)
	}
	return []byte(doc), nil
}

func (b *sqlBackend) query(ctx context.Context, t *table, filters []eq, orderBy ...string) ([][]byte, error) {
	query := fmt.Sprintf("SELECT doc FROM %s", t.name)
	args := make([]any, 0, len(filters))
	if len(filters) > 0 {
		conds := make([]string, 0, len(filters))
		for _, f := range filters {
			conds = append(conds, f.col+" = ?")
			args = append(args, f.val)
		}
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY " + strings.Join(append(orderBy, "seq"), ", ")

	rows, err := b.q.QueryContext(ctx, rebind(b.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("store: query %s: %w", t.name, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("store: scan %s: %w", t.name, err)
		}
		out = append(out, []byte(doc))
	}
	return out, rows.Err()
}

func (b *sqlBackend) begin(ctx context.Context) (backend, error) {
	if b.tx != nil {
		return nil, ErrNestedTx
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	return &sqlBackend{db: b.db, q: tx, tx: tx, dialect: b.dialect}, nil
}

func (b *sqlBackend) commit(context.Context) error {
	if b.tx == nil {
		return nil
	}
	if err := b.tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return ErrTxDone
		}
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func (b *sqlBackend) rollback(context.Context) error {
	if b.tx == nil {
		return nil
	}
	if err := b.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("store: rollback: %w", err)
	}
	return nil
}

func (b *sqlBackend) close() error {
	if b.tx != nil {
		return b.rollback(context.Background())
	}
	return b.db.Close()
}
