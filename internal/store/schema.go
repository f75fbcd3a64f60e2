package store

import "github.com/janus-dev/janus-cache/internal/paths"

// CacheVersion is the schema version this build writes and expects.
const CacheVersion = paths.CacheVersion

// schemaStatements are executed in order on every open, each idempotent
// (CREATE TABLE/INDEX IF NOT EXISTS) per the startup sequence in spec §4.3.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		ticket_id TEXT PRIMARY KEY,
		uuid TEXT,
		mtime_ns INTEGER NOT NULL,
		status TEXT,
		title TEXT,
		priority INTEGER,
		ticket_type TEXT,
		deps TEXT,
		links TEXT,
		parent TEXT,
		created TEXT,
		external_ref TEXT,
		remote TEXT,
		completion_summary TEXT,
		spawned_from TEXT,
		spawn_context TEXT,
		depth INTEGER,
		file_path TEXT,
		triaged INTEGER,
		body TEXT,
		size TEXT,
		embedding BLOB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_priority ON tickets(priority)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_type ON tickets(ticket_type)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_status_priority ON tickets(status, priority)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_spawned_from ON tickets(spawned_from)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_depth ON tickets(depth)`,
	`CREATE TABLE IF NOT EXISTS plans (
		plan_id TEXT PRIMARY KEY,
		uuid TEXT,
		mtime_ns INTEGER NOT NULL,
		title TEXT,
		created TEXT,
		structure_type TEXT,
		tickets_json TEXT,
		phases_json TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_plans_structure_type ON plans(structure_type)`,
}

// pragmas are applied via explicit statements rather than DSN query
// parameters: modernc.org/sqlite does not reliably honor journal_mode
// via the DSN, so WAL must be set with an explicit PRAGMA after open
// (same reasoning as the teacher's sqlite_bm25.go).
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 500",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA foreign_keys = ON",
}
