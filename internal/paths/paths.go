// Package paths resolves the on-disk locations the cache reads and writes:
// the repo-scoped cache database path, the legacy in-repo layout, and the
// .janus/embeddings content-addressed cache directory.
package paths

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// CacheVersion is the compiled-in schema version. Bumped on any
// incompatible schema change; the cache refuses to open older databases.
const CacheVersion = "6"

// ErrCacheAccessDenied is returned when the cache directory cannot be
// created or opened.
type ErrCacheAccessDenied struct {
	Path string
	Err  error
}

func (e *ErrCacheAccessDenied) Error() string {
	return fmt.Sprintf("cache access denied at %s: %v", e.Path, e.Err)
}

func (e *ErrCacheAccessDenied) Unwrap() error { return e.Err }

// RepoHash returns a short, stable handle derived from the canonical
// absolute path of repoRoot: truncate16(hex(SHA256(canonical(path)))).
func RepoHash(repoRoot string) (string, error) {
	abs, err := filepath.Abs(repoRoot)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}
	clean := filepath.Clean(abs)
	sum := sha256.Sum256([]byte(clean))
	full := hex.EncodeToString(sum[:])
	return full[:16], nil
}

// CacheDir returns the platform-appropriate user cache directory for
// janus: $XDG_CACHE_HOME/janus, falling back to os.UserCacheDir()/janus.
func CacheDir() (string, error) {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "janus"), nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve user cache dir: %w", err)
	}
	return filepath.Join(base, "janus"), nil
}

// EnsureCacheDir creates CacheDir() if it does not exist, returning
// ErrCacheAccessDenied on failure.
func EnsureCacheDir() (string, error) {
	dir, err := CacheDir()
	if err != nil {
		return "", &ErrCacheAccessDenied{Path: dir, Err: err}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &ErrCacheAccessDenied{Path: dir, Err: err}
	}
	return dir, nil
}

// CacheDBPath returns the unified per-repo cache database path:
// <cache-dir>/cache-v{VERSION}-{hash}.db
func CacheDBPath(hash string) (string, error) {
	dir, err := EnsureCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("cache-v%s-%s.db", CacheVersion, hash)), nil
}

// LegacyCacheDBPath returns the backwards-compatible in-repo layout:
// <repoRoot>/.janus/cache-v{VERSION}.db
func LegacyCacheDBPath(repoRoot string) string {
	return filepath.Join(repoRoot, ".janus", fmt.Sprintf("cache-v%s.db", CacheVersion))
}

// legacySemanticDBPath is the pre-unification name this package migrates
// away from: cache-v{VERSION}-semantic.db.
func legacySemanticDBPath(repoRoot string) string {
	return filepath.Join(repoRoot, ".janus", fmt.Sprintf("cache-v%s-semantic.db", CacheVersion))
}

// MigrateLegacyLayout performs a best-effort rename of any
// cache-v{VERSION}-semantic.db{,-wal,-shm} triple found under repoRoot's
// .janus directory to the unified LegacyCacheDBPath, if the target does
// not already exist. Missing source files are not an error.
func MigrateLegacyLayout(repoRoot string) error {
	target := LegacyCacheDBPath(repoRoot)
	if _, err := os.Stat(target); err == nil {
		return nil // unified target already exists, nothing to migrate
	}

	source := legacySemanticDBPath(repoRoot)
	if _, err := os.Stat(source); os.IsNotExist(err) {
		return nil // nothing to migrate
	}

	for _, suffix := range []string{"", "-wal", "-shm"} {
		src := source + suffix
		dst := target + suffix
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if _, err := os.Stat(dst); err == nil {
			continue // don't clobber an existing sidecar
		}
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("migrate legacy cache file %s: %w", src, err)
		}
	}
	return nil
}

// ItemsDir returns <repoRoot>/.janus/items.
func ItemsDir(repoRoot string) string {
	return filepath.Join(repoRoot, ".janus", "items")
}

// PlansDir returns <repoRoot>/.janus/plans.
func PlansDir(repoRoot string) string {
	return filepath.Join(repoRoot, ".janus", "plans")
}

// EmbeddingsDir returns <repoRoot>/.janus/embeddings, creating it if absent.
func EmbeddingsDir(repoRoot string) (string, error) {
	dir := filepath.Join(repoRoot, ".janus", "embeddings")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &ErrCacheAccessDenied{Path: dir, Err: err}
	}
	return dir, nil
}
