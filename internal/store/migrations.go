package store

import (
	"database/sql"
	"fmt"

	"expertmine/internal/logging"
)

// Migration defines a column addition applied to existing databases.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists schema migrations for databases created before the
// column existed. Additive only; ALTER TABLE ADD COLUMN is cheap in SQLite.
var pendingMigrations = []Migration{
	// Session error reporting (added with the ERROR terminal state)
	{"sessions", "last_error", "TEXT"},
	// Instance provenance (added when marketplace search needed entity filters)
	{"instances", "skills_json", "TEXT DEFAULT '[]'"},
	{"instances", "workflows_json", "TEXT DEFAULT '[]'"},
	// Global context session linkage (added for merge auditing)
	{"global_contexts", "last_session_id", "TEXT"},
}

// RunMigrations applies schema migrations for existing databases.
func RunMigrations(db *sql.DB) error {
	logging.StoreDebug("Running schema migrations (%d pending)", len(pendingMigrations))

	appliedCount := 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			continue
		}

		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			logging.Get(logging.CategoryStore).Warn("Migration failed (may already exist): %s.%s: %v", m.Table, m.Column, err)
			continue
		}
		logging.Store("Migration applied: added %s.%s", m.Table, m.Column)
		appliedCount++
	}

	if appliedCount > 0 {
		logging.Store("Schema migrations complete: applied=%d", appliedCount)
	}
	return nil
}

// columnExists checks for a column using PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		logging.StoreDebug("PRAGMA table_info(%s) failed: %v", table, err)
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

// tableExists checks the sqlite_master catalog for a table.
func tableExists(db *sql.DB, table string) bool {
	var name string
	err := db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
	).Scan(&name)
	return err == nil
}
