// Package sqlstore implements storage.Store on database/sql for SQLite
// (mattn/go-sqlite3) and PostgreSQL (pgx stdlib).
//
// Queries are written once with "?" placeholders and rebound to "$n" for
// PostgreSQL. Timestamps are persisted as UTC unix milliseconds and JSON
// documents as TEXT, so the same statements run on both dialects.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"automation-engine/internal/common/logging"
	"automation-engine/internal/common/utils"
	"automation-engine/internal/config"
	"automation-engine/internal/crypto"
	"automation-engine/internal/storage"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
)

// Dialect selects placeholder style and migration files.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DialectForDriver maps a database/sql driver name to its dialect.
func DialectForDriver(driver string) (Dialect, error) {
	switch driver {
	case "sqlite3", "sqlite":
		return DialectSQLite, nil
	case "pgx", "postgres", "postgresql":
		return DialectPostgres, nil
	default:
		return "", errors.Newf("unsupported database driver %q", driver)
	}
}

// DetectDialect inspects an open connection for its dialect.
func DetectDialect(ctx context.Context, db *sql.DB) Dialect {
	if _, err := db.ExecContext(ctx, "SELECT sqlite_version()"); err == nil {
		return DialectSQLite
	}
	return DialectPostgres
}

// Options configures a Store.
type Options struct {
	Dialect  Dialect
	Headers  crypto.HeaderCodec
	Location *time.Location
	Logger   logging.Logger
}

// Store is the SQL-backed storage.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	headers crypto.HeaderCodec
	loc     *time.Location
	logger  logging.Logger
}

var _ storage.Store = (*Store)(nil)

// Open connects to the database named by driver and dsn and verifies the
// connection.
func Open(ctx context.Context, driver, dsn string, opts Options) (*Store, error) {
	dialect, err := DialectForDriver(driver)
	if err != nil {
		return nil, err
	}
	if driver == "postgres" || driver == "postgresql" {
		driver = "pgx"
	}
	if driver == "sqlite" {
		driver = "sqlite3"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s database", dialect)
	}

	if dialect == DialectSQLite {
		// A single writer avoids SQLITE_BUSY between the scheduler, the
		// webhook worker and the admin API.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to connect to %s database", dialect)
	}

	opts.Dialect = dialect
	return New(db, opts), nil
}

// New wraps an already opened database. An empty Dialect is detected.
func New(db *sql.DB, opts Options) *Store {
	if opts.Dialect == "" {
		opts.Dialect = DetectDialect(context.Background(), db)
	}
	if opts.Headers == nil {
		opts.Headers = crypto.PlainHeaders{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	return &Store{
		db:      db,
		dialect: opts.Dialect,
		headers: opts.Headers,
		loc:     opts.Location,
		logger:  opts.Logger,
	}
}

// DB exposes the underlying pool.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect reports the store's SQL dialect.
func (s *Store) Dialect() Dialect { return s.dialect }

// Migrate applies pending embedded migrations.
func (s *Store) Migrate(ctx context.Context) error {
	return NewMigrationManager(s.db, s.dialect, s.logger).RunMigrations(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return infra("ping", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// rebind converts "?" placeholders to "$n" for PostgreSQL.
func (s *Store) rebind(query string) string {
	return rebind(s.dialect, query)
}

func rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
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

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Store) exec(ctx context.Context, q queryer, query string, args ...interface{}) (int64, error) {
	res, err := q.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// withTx runs fn in a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return infra("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return infra("commit transaction", err)
	}
	return nil
}

// infra wraps a driver error so callers can tell storage failures from
// domain outcomes. Sentinel errors pass through untouched.
func infra(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{storage.ErrNotFound, storage.ErrDuplicate, storage.ErrClaimLost, storage.ErrAttemptOutOfOrder, storage.ErrInvalidState} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return errors.WithDetail(errors.Wrapf(err, "storage: %s", op), op)
}

// isUniqueViolation recognises unique constraint failures from both drivers.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func writeErr(op string, err error) error {
	if isUniqueViolation(err) {
		return errors.Wrap(storage.ErrDuplicate, op)
	}
	return infra(op, err)
}

func readErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return infra(op, err)
}

func millis(t time.Time) int64 {
	return utils.ToMillis(t)
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: utils.ToMillis(*t), Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func (s *Store) timeOf(ms int64) time.Time {
	return utils.FromMillis(ms, s.loc)
}

func (s *Store) timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := utils.FromMillis(v.Int64, s.loc)
	return &t
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func rawText(doc json.RawMessage) string {
	return string(doc)
}

func textRaw(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// OpenConfig opens, and optionally migrates, the database described by cfg.
func OpenConfig(ctx context.Context, cfg *config.Config, logger logging.Logger, migrate bool) (*Store, error) {
	headers, err := crypto.NewHeaderCodec(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	driver, dsn := cfg.DatabaseDSN()
	store, err := Open(ctx, driver, dsn, Options{
		Headers:  headers,
		Location: cfg.Location(),
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
	}
	return store, nil
}
