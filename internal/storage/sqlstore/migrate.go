package sqlstore

import (
	"context"
	"crypto/md5"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"automation-engine/internal/common/logging"

	"github.com/cockroachdb/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

var migrationVersionRegex = regexp.MustCompile(`^(\d+)_.*\.sql$`)

// Migration is a single embedded schema migration.
type Migration struct {
	Version  string
	Filename string
	Content  string
	Checksum string
}

// MigrationStatus summarises applied and pending migrations.
type MigrationStatus struct {
	Total   int      `json:"total_migrations"`
	Applied int      `json:"applied_migrations"`
	Pending []string `json:"pending_migrations"`
}

// MigrationManager applies embedded migrations in version order, each in
// its own transaction, and records them in schema_migrations.
type MigrationManager struct {
	db      *sql.DB
	dialect Dialect
	logger  logging.Logger
	files   fs.FS
}

// NewMigrationManager creates a manager over the embedded migrations.
func NewMigrationManager(db *sql.DB, dialect Dialect, logger logging.Logger) *MigrationManager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	sub, _ := fs.Sub(migrationFiles, "migrations")
	return &MigrationManager{db: db, dialect: dialect, logger: logger, files: sub}
}

// RunMigrations applies all pending migrations. A checksum mismatch on an
// applied migration is reported as an error.
func (m *MigrationManager) RunMigrations(ctx context.Context) error {
	m.logger.Info("Starting database migrations", logging.Field{Key: "dialect", Value: string(m.dialect)})

	if err := m.ensureMigrationsTable(ctx); err != nil {
		return errors.Wrap(err, "failed to create migrations table")
	}

	migrations, err := m.loadMigrations()
	if err != nil {
		return errors.Wrap(err, "failed to load migration files")
	}

	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read applied migrations")
	}

	for _, mig := range migrations {
		if sum, ok := applied[mig.Version]; ok && sum != "" && sum != mig.Checksum {
			return errors.Newf("migration %s (%s) changed after it was applied", mig.Version, mig.Filename)
		}
	}

	pending := pendingMigrations(migrations, applied)
	if len(pending) == 0 {
		m.logger.Info("No pending migrations, database is up to date")
		return nil
	}

	m.logger.Info("Found pending migrations",
		logging.Field{Key: "count", Value: len(pending)},
		logging.Field{Key: "versions", Value: versionList(pending)},
	)

	for _, mig := range pending {
		if err := m.applyMigration(ctx, mig); err != nil {
			return errors.Wrapf(err, "failed to apply migration %s", mig.Version)
		}
	}

	m.logger.Info("All migrations completed", logging.Field{Key: "applied_count", Value: len(pending)})
	return nil
}

// Status reports how many embedded migrations are applied.
func (m *MigrationManager) Status(ctx context.Context) (*MigrationStatus, error) {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}
	migrations, err := m.loadMigrations()
	if err != nil {
		return nil, err
	}
	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	return &MigrationStatus{
		Total:   len(migrations),
		Applied: len(applied),
		Pending: versionList(pendingMigrations(migrations, applied)),
	}, nil
}

func (m *MigrationManager) ensureMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			applied_at BIGINT NOT NULL,
			checksum TEXT NOT NULL DEFAULT ''
		)`)
	return err
}

func (m *MigrationManager) loadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.files, ".")
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !m.compatible(name) {
			continue
		}
		version := extractVersion(name)
		if version == "" {
			m.logger.Warn("Skipping file with invalid version format",
				logging.Field{Key: "filename", Value: name},
				logging.Field{Key: "expected_format", Value: "###_name.sql"},
			)
			continue
		}
		content, err := fs.ReadFile(m.files, name)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read migration file %s", name)
		}
		migrations = append(migrations, Migration{
			Version:  version,
			Filename: name,
			Content:  string(content),
			Checksum: fmt.Sprintf("%x", md5.Sum(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return compareVersions(migrations[i].Version, migrations[j].Version) < 0
	})
	return migrations, nil
}

// compatible picks "_postgres.sql" files for PostgreSQL and the remaining
// files for SQLite.
func (m *MigrationManager) compatible(filename string) bool {
	if !strings.HasSuffix(filename, ".sql") {
		return false
	}
	isPostgres := strings.HasSuffix(filename, "_postgres.sql")
	if m.dialect == DialectPostgres {
		return isPostgres
	}
	return !isPostgres
}

func (m *MigrationManager) appliedMigrations(ctx context.Context) (map[string]string, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var version, checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, err
		}
		applied[version] = checksum
	}
	return applied, rows.Err()
}

func (m *MigrationManager) applyMigration(ctx context.Context, mig Migration) error {
	m.logger.Info("Applying migration",
		logging.Field{Key: "version", Value: mig.Version},
		logging.Field{Key: "filename", Value: mig.Filename},
	)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, mig.Content); err != nil {
		return errors.Wrap(err, "failed to execute migration SQL")
	}

	insert := rebind(m.dialect, "INSERT INTO schema_migrations (version, filename, applied_at, checksum) VALUES (?, ?, ?, ?)")
	if _, err := tx.ExecContext(ctx, insert, mig.Version, mig.Filename, time.Now().UnixMilli(), mig.Checksum); err != nil {
		return errors.Wrap(err, "failed to record migration")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit migration")
	}
	return nil
}

func extractVersion(filename string) string {
	matches := migrationVersionRegex.FindStringSubmatch(filename)
	if len(matches) < 2 {
		return ""
	}
	return matches[1]
}

func compareVersions(v1, v2 string) int {
	n1, _ := strconv.Atoi(v1)
	n2, _ := strconv.Atoi(v2)
	switch {
	case n1 < n2:
		return -1
	case n1 > n2:
		return 1
	}
	return 0
}

func pendingMigrations(all []Migration, applied map[string]string) []Migration {
	var pending []Migration
	for _, mig := range all {
		if _, ok := applied[mig.Version]; !ok {
			pending = append(pending, mig)
		}
	}
	return pending
}

func versionList(migrations []Migration) []string {
	versions := make([]string, len(migrations))
	for i, mig := range migrations {
		versions[i] = mig.Version
	}
	return versions
}
