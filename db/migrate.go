package db

import (
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const migrationsDir = "sqlite/migrations"

// migration is one embedded SQL file, versioned by its numeric prefix
type migration struct {
	version string
	file    string
}

// MigrationStatus reports whether one migration has been applied
type MigrationStatus struct {
	Version   string `json:"version"`
	File      string `json:"file"`
	AppliedAt string `json:"applied_at,omitempty"`
}

// Applied reports whether the migration has run
func (m MigrationStatus) Applied() bool { return m.AppliedAt != "" }

func embeddedMigrations() ([]migration, error) {
	entries, err := migrations.ReadDir(migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}
	var out []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, _, _ := strings.Cut(name, "_")
		out = append(out, migration{version: version, file: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].file < out[j].file })
	return out, nil
}

// appliedVersions returns version -> applied_at. A missing bookkeeping table
// means nothing has been applied yet.
func appliedVersions(db *sql.DB) (map[string]string, error) {
	rows, err := db.Query(`SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		var exists int
		if qerr := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_migrations'`).Scan(&exists); qerr == nil && exists == 0 {
			return map[string]string{}, nil
		}
		return nil, errors.Wrap(err, "read schema_migrations")
	}
	defer rows.Close()

	applied := map[string]string{}
	for rows.Next() {
		var version, at string
		if err := rows.Scan(&version, &at); err != nil {
			return nil, errors.Wrap(err, "scan schema_migrations")
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// Status lists every embedded migration and when it was applied
func Status(db *sql.DB) ([]MigrationStatus, error) {
	all, err := embeddedMigrations()
	if err != nil {
		return nil, err
	}
	applied, err := appliedVersions(db)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationStatus, 0, len(all))
	for _, m := range all {
		out = append(out, MigrationStatus{Version: m.version, File: m.file, AppliedAt: applied[m.version]})
	}
	return out, nil
}

// Migrate applies pending migrations in version order, each in its own
// transaction together with its schema_migrations row. A nil logger is silent.
func Migrate(db *sql.DB, log *zap.SugaredLogger) error {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = logger.AddDBSymbol(log)

	all, err := embeddedMigrations()
	if err != nil {
		return err
	}
	applied, err := appliedVersions(db)
	if err != nil {
		return err
	}

	count := 0
	for _, m := range all {
		if _, ok := applied[m.version]; ok {
			log.Debugw("Skipping migration (already applied)", "migration", m.file)
			continue
		}
		log.Infow("Applying migration", "migration", m.file, "version", m.version)
		if err := apply(db, m); err != nil {
			return err
		}
		count++
	}

	log.Infow("Migrations complete", "total_migrations", len(all), "applied", count)
	return nil
}

func apply(db *sql.DB, m migration) error {
	body, err := migrations.ReadFile(path.Join(migrationsDir, m.file))
	if err != nil {
		return errors.Wrapf(err, "read %s", m.file)
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrapf(err, "begin tx for %s", m.file)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(body)); err != nil {
		return errors.Wrapf(err, "execute %s", m.file)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
		return errors.Wrapf(err, "record %s", m.file)
	}
	return errors.Wrapf(tx.Commit(), "commit %s", m.file)
}
