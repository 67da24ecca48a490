package commands

import (
	"database/sql"

	"github.com/teranos/cadence/am"
	"github.com/teranos/cadence/db"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
)

// resolveDatabasePath returns dbPath, or the configured database.path when
// dbPath is empty.
func resolveDatabasePath(dbPath string) (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}
	path, err := am.GetDatabasePath()
	if err != nil {
		return "", errors.Wrap(err, "failed to get database path")
	}
	if path == "" {
		path = am.DefaultDatabasePath
	}
	return path, nil
}

// openDatabase opens and migrates the database at dbPath, or at the
// configured database.path when dbPath is empty.
func openDatabase(dbPath string) (*sql.DB, error) {
	dbPath, err := resolveDatabasePath(dbPath)
	if err != nil {
		return nil, err
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}

	return database, nil
}
