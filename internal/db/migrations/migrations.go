package migrations

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrSchemaNewerThanSupported is returned by Migrate when the database was
// last touched by a binary newer than this one: rolling back a binary must
// never silently run against a schema it doesn't understand.
var ErrSchemaNewerThanSupported = errors.New("schema version newer than this binary supports")

// Migration is one forward step against the loginsL/loginsM/loginsSyncMeta
// schema. Down is kept for symmetry with the runner's MigrateTo signature
// but downward migrations are not implemented.
type Migration struct {
	Version     int
	Description string
	Up          func(*sql.Tx) error
	Down        func(*sql.Tx) error
}

// MigrationManager applies the ordered migration set in versions.go against
// a store's database and records what has been applied in schema_version.
type MigrationManager struct {
	db         *sql.DB
	migrations []Migration
	logger     *logrus.Logger
}

// NewMigrationManager builds a manager bound to db. A nil logger falls back
// to logrus's standard logger, matching how Store and Server treat a nil
// logger argument.
func NewMigrationManager(db *sql.DB, logger *logrus.Logger) *MigrationManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &MigrationManager{
		db:         db,
		migrations: getAllMigrations(),
		logger:     logger,
	}
}

// Initialize creates the schema_version bookkeeping table if it is missing.
// Migrate calls this itself; callers only need it directly to inspect
// version state before deciding whether to migrate.
func (m *MigrationManager) Initialize() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	return nil
}

// GetCurrentVersion reports the highest schema_version row recorded against
// this database, or 0 for a database that has never been migrated.
func (m *MigrationManager) GetCurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read current schema version: %w", err)
	}

	return version, nil
}

// GetTargetVersion reports the highest version this binary knows how to
// migrate to.
func (m *MigrationManager) GetTargetVersion() int {
	target := 0
	for _, migration := range m.migrations {
		if migration.Version > target {
			target = migration.Version
		}
	}

	return target
}

// Migrate brings the database from its current version up to the highest
// version this binary supports, in one run. It refuses to run against a
// database whose recorded version is newer than the binary's target, since
// that schema may carry columns or tables this binary doesn't know about.
func (m *MigrationManager) Migrate() error {
	if err := m.Initialize(); err != nil {
		return err
	}

	currentVersion, err := m.GetCurrentVersion()
	if err != nil {
		return err
	}

	targetVersion := m.GetTargetVersion()

	if currentVersion == targetVersion {
		m.logger.WithField("version", currentVersion).Debug("schema already at target version")
		return nil
	}

	if currentVersion > targetVersion {
		return fmt.Errorf("%w: have %d, support up to %d", ErrSchemaNewerThanSupported, currentVersion, targetVersion)
	}

	m.logger.WithFields(logrus.Fields{"from": currentVersion, "to": targetVersion}).Info("migrating schema")

	sort.Slice(m.migrations, func(i, j int) bool {
		return m.migrations[i].Version < m.migrations[j].Version
	})

	for _, migration := range m.migrations {
		if migration.Version <= currentVersion || migration.Version > targetVersion {
			continue
		}

		if err := m.runMigration(migration); err != nil {
			return fmt.Errorf("migration %d (%s): %w", migration.Version, migration.Description, err)
		}

		m.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("applied migration")
	}

	m.logger.WithField("version", targetVersion).Info("schema migration complete")
	return nil
}

// MigrateTo brings the database to an explicit version, forward only.
func (m *MigrationManager) MigrateTo(targetVersion int) error {
	if err := m.Initialize(); err != nil {
		return err
	}

	currentVersion, err := m.GetCurrentVersion()
	if err != nil {
		return err
	}

	if currentVersion == targetVersion {
		m.logger.WithField("version", currentVersion).Debug("schema already at requested version")
		return nil
	}

	if currentVersion > targetVersion {
		return fmt.Errorf("downward migrations are not supported (have %d, requested %d)", currentVersion, targetVersion)
	}

	m.logger.WithFields(logrus.Fields{"from": currentVersion, "to": targetVersion}).Info("migrating schema")

	sort.Slice(m.migrations, func(i, j int) bool {
		return m.migrations[i].Version < m.migrations[j].Version
	})

	for _, migration := range m.migrations {
		if migration.Version <= currentVersion || migration.Version > targetVersion {
			continue
		}

		if err := m.runMigration(migration); err != nil {
			return fmt.Errorf("migration %d (%s): %w", migration.Version, migration.Description, err)
		}

		m.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("applied migration")
	}

	return nil
}

// runMigration applies one migration's Up function and records it in
// schema_version inside a single transaction, so a failed migration never
// leaves a partially-applied schema behind.
func (m *MigrationManager) runMigration(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = migration.Up(tx); err != nil {
		return fmt.Errorf("apply: %w", err)
	}

	_, err = tx.Exec(
		"INSERT INTO schema_version (version, description, applied_at) VALUES (?, ?, ?)",
		migration.Version,
		migration.Description,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("record migration: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// GetMigrationHistory returns every applied migration, oldest first.
func (m *MigrationManager) GetMigrationHistory() ([]MigrationRecord, error) {
	rows, err := m.db.Query(`
		SELECT version, description, applied_at
		FROM schema_version
		ORDER BY version ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query migration history: %w", err)
	}
	defer rows.Close()

	var history []MigrationRecord
	for rows.Next() {
		var record MigrationRecord
		var appliedAt int64

		if err := rows.Scan(&record.Version, &record.Description, &appliedAt); err != nil {
			return nil, fmt.Errorf("scan migration record: %w", err)
		}

		record.AppliedAt = time.Unix(appliedAt, 0)
		history = append(history, record)
	}

	return history, rows.Err()
}

// MigrationRecord is one row of the schema_version table.
type MigrationRecord struct {
	Version     int
	Description string
	AppliedAt   time.Time
}
