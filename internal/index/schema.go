// Package index implements the persistent symbol index: a transactional
// SQLite store of declarations, references, relations, completions, comments,
// extends, cross-language symbols and files, with a versioned schema and a
// typed query surface.
package index

import (
	"database/sql"
	"fmt"

	"cjls/internal/logging"
)

// appMagic tags cjls databases via PRAGMA application_id.
const appMagic = 0x436A4C53 // "CjLS"

// CurrentSchemaVersion is bumped whenever the DDL changes shape.
const CurrentSchemaVersion = 3

// ddl is the full schema at CurrentSchemaVersion.
var ddl = []string{
	`CREATE TABLE IF NOT EXISTS symbols (
		id INTEGER PRIMARY KEY,
		kind TEXT NOT NULL,
		sub_kind TEXT DEFAULT '',
		lang TEXT DEFAULT 'cangjie',
		flags INTEGER DEFAULT 0,
		name TEXT NOT NULL,
		scope TEXT DEFAULT '',
		package TEXT NOT NULL,
		decl_file TEXT NOT NULL,
		decl_start_line INTEGER, decl_start_col INTEGER,
		decl_end_line INTEGER, decl_end_col INTEGER,
		def_file TEXT DEFAULT '',
		def_start_line INTEGER, def_start_col INTEGER,
		def_end_line INTEGER, def_end_col INTEGER,
		signature TEXT DEFAULT '',
		return_type TEXT DEFAULT '',
		type TEXT DEFAULT '',
		modifier TEXT DEFAULT '',
		is_deprecated INTEGER DEFAULT 0,
		syscap TEXT DEFAULT '',
		container_module TEXT DEFAULT '',
		macro_call_file TEXT DEFAULT '',
		macro_call_line INTEGER DEFAULT 0,
		macro_call_col INTEGER DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name)`,
	`CREATE INDEX IF NOT EXISTS idx_symbols_package ON symbols(package)`,
	`CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(decl_file)`,

	`CREATE TABLE IF NOT EXISTS refs (
		symbol_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		file TEXT NOT NULL,
		start_line INTEGER, start_col INTEGER,
		end_line INTEGER, end_col INTEGER,
		container_id INTEGER DEFAULT 0,
		is_cjo INTEGER DEFAULT 0,
		is_super INTEGER DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_refs_symbol ON refs(symbol_id)`,
	`CREATE INDEX IF NOT EXISTS idx_refs_file ON refs(file)`,
	`CREATE INDEX IF NOT EXISTS idx_refs_container ON refs(container_id)`,

	`CREATE TABLE IF NOT EXISTS relations (
		subject_id INTEGER NOT NULL,
		predicate TEXT NOT NULL,
		object_id INTEGER NOT NULL,
		UNIQUE(subject_id, predicate, object_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_relations_subject ON relations(subject_id)`,
	`CREATE INDEX IF NOT EXISTS idx_relations_object ON relations(object_id)`,

	`CREATE TABLE IF NOT EXISTS completions (
		symbol_id INTEGER NOT NULL,
		label TEXT NOT NULL,
		insert_text TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_completions_symbol ON completions(symbol_id)`,

	`CREATE TABLE IF NOT EXISTS comments (
		symbol_id INTEGER NOT NULL,
		style TEXT DEFAULT '',
		kind TEXT DEFAULT '',
		text TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_comments_symbol ON comments(symbol_id)`,

	`CREATE TABLE IF NOT EXISTS extends (
		extend_id INTEGER NOT NULL,
		target_id INTEGER NOT NULL,
		modifier TEXT DEFAULT '',
		interface_name TEXT DEFAULT '',
		pkg_name TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_extends_target ON extends(target_id)`,

	`CREATE TABLE IF NOT EXISTS cross_symbols (
		pkg TEXT NOT NULL,
		id INTEGER NOT NULL,
		name TEXT NOT NULL,
		container_id INTEGER DEFAULT 0,
		container_name TEXT DEFAULT '',
		type TEXT DEFAULT '',
		file TEXT NOT NULL,
		start_line INTEGER, start_col INTEGER,
		end_line INTEGER, end_col INTEGER,
		declaration TEXT DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cross_pkg ON cross_symbols(pkg)`,
	`CREATE INDEX IF NOT EXISTS idx_cross_name ON cross_symbols(name)`,

	`CREATE TABLE IF NOT EXISTS files (
		file_id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL UNIQUE,
		digest TEXT NOT NULL,
		package TEXT NOT NULL,
		module TEXT DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_files_package ON files(package)`,
}

// allTables lists every table for the destructive recreate fallback.
var allTables = []string{
	"symbols", "refs", "relations", "completions", "comments",
	"extends", "cross_symbols", "files",
}

// migrations maps an old user_version to the SQL that lifts it one step.
// A version with no entry has no migration path and falls through to the
// destructive drop-and-recreate.
var migrations = map[int][]string{
	// v2 predates the macro_call_* columns.
	2: {
		`ALTER TABLE symbols ADD COLUMN macro_call_file TEXT DEFAULT ''`,
		`ALTER TABLE symbols ADD COLUMN macro_call_line INTEGER DEFAULT 0`,
		`ALTER TABLE symbols ADD COLUMN macro_call_col INTEGER DEFAULT 0`,
	},
}

// initSchema brings a connection to the current schema version.
// Read-only handles abort on mismatch; writable handles migrate along the
// ladder or drop and recreate when no path exists.
func initSchema(db *sql.DB, readOnly bool) error {
	timer := logging.StartTimer(logging.CategoryIndex, "initSchema")
	defer timer.Stop()

	var magic, version int
	if err := db.QueryRow("PRAGMA application_id").Scan(&magic); err != nil {
		return fmt.Errorf("read application_id: %w", err)
	}
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	fresh := magic == 0 && version == 0
	if !fresh && magic != appMagic {
		if readOnly {
			return fmt.Errorf("%w: foreign database (application_id %#x)", ErrSchemaMismatch, magic)
		}
		logging.Get(logging.CategoryIndex).Warn("foreign application_id %#x, recreating", magic)
		if err := dropAll(db); err != nil {
			return err
		}
		fresh = true
	}

	if !fresh && version != CurrentSchemaVersion {
		if readOnly {
			return fmt.Errorf("%w: schema v%d, want v%d", ErrSchemaMismatch, version, CurrentSchemaVersion)
		}
		if err := migrate(db, version); err != nil {
			return err
		}
	}

	// A read-only handle at the current version takes the schema as-is.
	if readOnly {
		return nil
	}

	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA application_id = %d", appMagic)); err != nil {
		return fmt.Errorf("set application_id: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", CurrentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrate walks the ladder from version to CurrentSchemaVersion, falling back
// to drop-and-recreate when a step is missing.
func migrate(db *sql.DB, version int) error {
	for version < CurrentSchemaVersion {
		steps, ok := migrations[version]
		if !ok {
			logging.Index("no migration path from v%d, recreating", version)
			return dropAll(db)
		}
		logging.Index("migrating schema v%d -> v%d (%d statements)", version, version+1, len(steps))
		for _, stmt := range steps {
			if _, err := db.Exec(stmt); err != nil {
				logging.Get(logging.CategoryIndex).Warn("migration step failed, recreating: %v", err)
				return dropAll(db)
			}
		}
		version++
	}
	return nil
}

// dropAll drops every table; the DDL pass recreates them.
func dropAll(db *sql.DB) error {
	for _, t := range allTables {
		if _, err := db.Exec("DROP TABLE IF EXISTS " + t); err != nil {
			return fmt.Errorf("drop %s: %w", t, err)
		}
	}
	return nil
}
