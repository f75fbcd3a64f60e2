package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite" // pure Go driver, no cgo

	"github.com/janus-dev/janus-cache/internal/paths"
)

// DB wraps the opened SQLite connection for one repo's cache.
type DB struct {
	conn *sql.DB
	path string
}

// corruptionMarkers are substrings of modernc.org/sqlite error messages
// that indicate the database file itself is malformed, as opposed to a
// transient busy/lock error. Mirrors the teacher's
// validateSQLiteIntegrity classification in sqlite_bm25.go.
var corruptionMarkers = []string{
	"malformed",
	"not a database",
	"disk image is malformed",
	"file is not a database",
}

// isCorruptionError reports whether err indicates database corruption
// rather than a transient or usage error.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range corruptionMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// isBusyError reports whether err indicates the busy-timeout was
// exhausted waiting for a write lock.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

// openDB runs the startup sequence from spec §4.3 (the caller has already
// created the cache dir): open/create the database, set pragmas, initialise schema
// idempotently, and validate the schema version. Unexported: callers go
// through OpenWithCorruptionHandling, which adds the delete-and-retry
// recovery path; the Store-level Open (facade.go) wraps that in turn.
func openDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, &paths.ErrCacheAccessDenied{Path: dbPath, Err: err}
	}
	// A single connection serializes writers the same way the teacher's
	// SQLiteBM25Index does; WAL readers still proceed concurrently.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	db := &DB{conn: conn, path: dbPath}

	if err := db.initSchema(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := db.validateVersion(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := db.upsertMeta("cache_version", CacheVersion); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

// OpenWithCorruptionHandling runs openDB; if it fails with a
// corruption-class error and the database file existed beforehand, it
// deletes the database and its -wal/-shm sidecars and retries openDB once.
// A gofrs/flock lock on <path>.lock serializes this recovery across
// processes, and the database is reopened once the lock is held, so two
// readers racing a corrupt file don't both delete and recreate it.
func OpenWithCorruptionHandling(dbPath string) (*DB, error) {
	existed := fileExists(dbPath)

	db, err := openDB(dbPath)
	if err == nil {
		return db, nil
	}
	if !isCorruptionError(err) || !existed {
		return nil, err
	}

	lk := flock.New(dbPath + ".lock")
	if lockErr := lk.Lock(); lockErr != nil {
		return nil, fmt.Errorf("acquire corruption-recovery lock: %w", lockErr)
	}
	defer func() { _ = lk.Unlock() }()

	// Another process may have recovered the file while this one waited.
	db, err = openDB(dbPath)
	if err == nil {
		return db, nil
	}
	if !isCorruptionError(err) {
		return nil, err
	}

	logStderr(fmt.Sprintf("janus: database corruption detected at %s: %v", dbPath, err))
	for _, suffix := range []string{"", "-wal", "-shm"} {
		_ = os.Remove(dbPath + suffix)
	}
	logStderr(fmt.Sprintf("janus: deleted corrupt database at %s, recreating", dbPath))

	db, err = openDB(dbPath)
	if err != nil {
		return nil, &ErrDatabaseCorrupt{Path: dbPath, Err: err}
	}
	return db, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func logStderr(msg string) {
	fmt.Fprintln(os.Stderr, msg)
}

func (db *DB) initSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.Exec(stmt); err != nil {
			if isCorruptionError(err) {
				return err
			}
			return fmt.Errorf("initialise schema: %w", err)
		}
	}
	return nil
}

func (db *DB) validateVersion() error {
	found, err := db.getMeta("cache_version")
	if err != nil {
		return fmt.Errorf("read cache_version: %w", err)
	}
	if found == "" {
		return nil // fresh database, no version recorded yet
	}
	if found != CacheVersion {
		return &ErrCacheVersionMismatch{Expected: CacheVersion, Found: found}
	}
	return nil
}

func (db *DB) getMeta(key string) (string, error) {
	var value string
	err := db.conn.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (db *DB) upsertMeta(key, value string) error {
	_, err := db.conn.Exec(
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

// SetRepoPath records the repository root this cache mirrors, used by
// diagnostics.
func (db *DB) SetRepoPath(repoRoot string) error {
	return db.upsertMeta("repo_path", repoRoot)
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the on-disk path of the database file.
func (db *DB) Path() string { return db.path }

// withBusyRetry wraps a DB operation, converting a busy-timeout
// exhaustion into ErrDatabaseBusy. The driver's own busy_timeout pragma
// already backs off internally; this just classifies the terminal error.
func withBusyRetry(err error) error {
	if err == nil {
		return nil
	}
	if isBusyError(err) {
		return &ErrDatabaseBusy{Err: err}
	}
	return err
}
