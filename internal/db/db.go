package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/atharvakonge/crypto-portfolio-tracker/internal/config"
)

// Dialect identifies the SQL flavour behind a DB
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// DB is a database handle that knows its dialect.
// Queries are written with ? placeholders and rebound for postgres.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open connects to the configured database and applies the schema
func Open(ctx context.Context, cfg config.DBConfig) (*DB, error) {
	switch cfg.Driver {
	case "postgres":
		return OpenPostgres(ctx, cfg)
	case "sqlite":
		return OpenSQLite(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.Driver)
	}
}

// OpenPostgres opens a PostgreSQL connection pool
func OpenPostgres(ctx context.Context, cfg config.DBConfig) (*DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name,
	)

	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Set connection pool settings
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return finish(ctx, &DB{DB: conn, Dialect: Postgres})
}

// OpenSQLite opens (creating if needed) an embedded SQLite database file
func OpenSQLite(ctx context.Context, path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// One writer at a time; keeps transactions serialised at the driver.
	conn.SetMaxOpenConns(1)

	return finish(ctx, &DB{DB: conn, Dialect: SQLite})
}

func finish(ctx context.Context, d *DB) (*DB, error) {
	if err := d.PingContext(ctx); err != nil {
		_ = d.DB.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	if err := d.Migrate(ctx); err != nil {
		_ = d.DB.Close()
		return nil, err
	}
	log.Info().Str("dialect", string(d.Dialect)).Msg("database connected")
	return d, nil
}

// Close closes database connection
func (d *DB) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	err := d.DB.Close()
	log.Info().Msg("database connection closed")
	return err
}

// Rebind converts ? placeholders into the dialect's bind syntax
func (d *DB) Rebind(query string) string {
	return Rebind(d.Dialect, query)
}

// Rebind converts ? placeholders into $1, $2... for postgres.
// Queries in this module never contain literal question marks.
func Rebind(dialect Dialect, query string) string {
	if dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
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

// Migrate creates the schema if it does not exist
func (d *DB) Migrate(ctx context.Context) error {
	seq := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d.Dialect == Postgres {
		seq = "BIGSERIAL PRIMARY KEY"
	}

	if _, err := d.ExecContext(ctx, fmt.Sprintf(schema, seq)); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Money and quantities are stored as TEXT to keep decimals exact.
// Timestamps are unix nanoseconds.
const schema = `
CREATE TABLE IF NOT EXISTS coins (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  symbol TEXT NOT NULL,
  price TEXT NOT NULL,
  market_cap TEXT NOT NULL,
  change_24h TEXT NOT NULL,
  image_url TEXT NOT NULL,
  market_rank INTEGER NOT NULL,
  updated_ns BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS holdings (
  coin_id TEXT PRIMARY KEY,
  quantity TEXT NOT NULL,
  avg_price TEXT NOT NULL,
  total_fees TEXT NOT NULL,
  updated_ns BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
  seq %s,
  id TEXT NOT NULL UNIQUE,
  coin_id TEXT NOT NULL,
  trade_type TEXT NOT NULL,
  quantity TEXT NOT NULL,
  price TEXT NOT NULL,
  fee TEXT NOT NULL,
  ts_ns BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_coin ON transactions(coin_id);

CREATE TABLE IF NOT EXISTS balance (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  amount TEXT NOT NULL,
  initial TEXT NOT NULL,
  updated_ns BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
  id TEXT PRIMARY KEY,
  coin_id TEXT NOT NULL,
  threshold TEXT NOT NULL,
  direction TEXT NOT NULL,
  active BOOLEAN NOT NULL,
  created_ns BIGINT NOT NULL,
  last_triggered_ns BIGINT
);
CREATE INDEX IF NOT EXISTS idx_alerts_coin ON alerts(coin_id);
`
