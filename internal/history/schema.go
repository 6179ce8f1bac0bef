package history

import (
	"database/sql"

	"github.com/sysdeck/sysdeck/internal/errors"
	"github.com/sysdeck/sysdeck/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS readings (
	       cycle_ts    INTEGER NOT NULL,
	       kind        TEXT NOT NULL,
	       component   TEXT NOT NULL,
	       value       REAL NOT NULL,
	       unit        TEXT NOT NULL,
	       backend     TEXT NOT NULL,
	       confidence  TEXT NOT NULL,
	       captured_at INTEGER NOT NULL,
	       PRIMARY KEY (cycle_ts, kind, component)
	   );
	   CREATE INDEX IF NOT EXISTS idx_readings_kind
	       ON readings (kind, component, cycle_ts);`

	insertReadingSQL = `
    INSERT OR REPLACE INTO readings (
        cycle_ts, kind, component,
        value, unit, backend, confidence, captured_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
)

// InitSchema creates the schema and records its version.
func InitSchema(db *sql.DB) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				logger.Debug().Err(err).Msg("Failed to rollback schema transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	if _, err := tx.Exec(`
        INSERT OR IGNORE INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	return nil
}
