package migrations

import (
	"database/sql"
)

// getAllMigrations returns all available migrations, in version order.
func getAllMigrations() []Migration {
	return []Migration{
		migration1_CoreTables(),
		migration2_SyncMeta(),
		migration3_Indexes(),
	}
}

// migration1_CoreTables creates the local (loginsL) and mirror (loginsM)
// tables that together hold the overlay data model described by the store.
func migration1_CoreTables() Migration {
	return Migration{
		Version:     1,
		Description: "create loginsL and loginsM tables",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS loginsL (
					guid                         TEXT PRIMARY KEY,
					origin                       TEXT,
					httpRealm                    TEXT,
					formActionOrigin             TEXT,
					usernameField                TEXT,
					passwordField                TEXT,
					secFields                    TEXT,
					timesUsed                    INTEGER NOT NULL DEFAULT 0,
					timeCreated                  INTEGER NOT NULL DEFAULT 0,
					timeLastUsed                 INTEGER NOT NULL DEFAULT 0,
					timePasswordChanged          INTEGER NOT NULL DEFAULT 0,
					timeOfLastBreach             INTEGER,
					timeLastBreachAlertDismissed INTEGER,
					local_modified               INTEGER,
					is_deleted                   INTEGER NOT NULL DEFAULT 0,
					sync_status                  INTEGER NOT NULL DEFAULT 2
				)
			`); err != nil {
				return err
			}

			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS loginsM (
					guid                         TEXT PRIMARY KEY,
					origin                       TEXT,
					httpRealm                    TEXT,
					formActionOrigin             TEXT,
					usernameField                TEXT,
					passwordField                TEXT,
					secFields                    TEXT,
					timesUsed                    INTEGER NOT NULL DEFAULT 0,
					timeCreated                  INTEGER NOT NULL DEFAULT 0,
					timeLastUsed                 INTEGER NOT NULL DEFAULT 0,
					timePasswordChanged          INTEGER NOT NULL DEFAULT 0,
					timeOfLastBreach             INTEGER,
					timeLastBreachAlertDismissed INTEGER,
					server_modified              INTEGER NOT NULL DEFAULT 0,
					is_overridden                INTEGER NOT NULL DEFAULT 0,
					enc_unknown_fields           TEXT
				)
			`); err != nil {
				return err
			}

			return nil
		},
	}
}

// migration2_SyncMeta creates the key/value sync bookkeeping table.
func migration2_SyncMeta() Migration {
	return Migration{
		Version:     2,
		Description: "create loginsSyncMeta table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS loginsSyncMeta (
					key   TEXT PRIMARY KEY,
					value TEXT
				)
			`)
			return err
		},
	}
}

// migration3_Indexes adds the indexes the store and reconciler lean on:
// origin/target lookups for dedupe, and overlay joins during sync.
func migration3_Indexes() Migration {
	return Migration{
		Version:     3,
		Description: "add dedupe and overlay indexes",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE INDEX IF NOT EXISTS idx_loginsL_origin ON loginsL(origin)`,
				`CREATE INDEX IF NOT EXISTS idx_loginsL_form_action_origin ON loginsL(formActionOrigin)`,
				`CREATE INDEX IF NOT EXISTS idx_loginsL_deleted ON loginsL(is_deleted)`,
				`CREATE INDEX IF NOT EXISTS idx_loginsM_origin ON loginsM(origin)`,
				`CREATE INDEX IF NOT EXISTS idx_loginsM_form_action_origin ON loginsM(formActionOrigin)`,
				`CREATE INDEX IF NOT EXISTS idx_loginsM_overridden ON loginsM(is_overridden)`,
			}
			for _, s := range stmts {
				if _, err := tx.Exec(s); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
