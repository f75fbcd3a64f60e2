package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/janus-dev/janus-cache/internal/config"
	"github.com/janus-dev/janus-cache/internal/embedcache"
	"github.com/janus-dev/janus-cache/internal/embedder"
	"github.com/janus-dev/janus-cache/internal/paths"
	"github.com/janus-dev/janus-cache/internal/watcher"
)

// Store is the facade over the database, sync engine, query engine and
// vector index for one repository's cache. Unlike the teacher's
// process-global, lazily-initialised index, a Store here is a plain
// value returned by Open: callers own it, pass it by reference, and are
// free to construct as many as they like (one per repo root in a test,
// for instance). The init-once behaviour the spec calls for lives in
// EnsureSynced, not in a package-level singleton.
type Store struct {
	db      *DB
	vectors *VectorIndex
	cache   *embedcache.Cache
	embed   embedder.Embedder
	syncer  *Syncer
	log     *slog.Logger

	repoRoot string
	debounce time.Duration

	syncOnce sync.Once
	syncErr  error
	syncMu   sync.Mutex

	warnMu   sync.Mutex
	warnings []Warning

	watchMu     sync.Mutex
	watching    bool
	watchStopCh chan struct{}
	watchDoneCh chan struct{}
}

// Open wires a Store's collaborators: it derives the repo-scoped cache
// database path, runs the corruption-handling open sequence (spec
// §4.3), and constructs the embedding cache and vector index. It does
// not sync — call EnsureSynced before issuing queries. embed and
// parseItem are the external collaborators of spec §6; log may be nil.
func Open(repoRoot string, cfg *config.Config, embed embedder.Embedder, parseItem ParseItemFunc, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	if err := paths.MigrateLegacyLayout(repoRoot); err != nil {
		log.Warn("legacy cache layout migration failed", slog.String("error", err.Error()))
	}

	hash, err := paths.RepoHash(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("derive repo hash: %w", err)
	}
	dbPath, err := paths.CacheDBPath(hash)
	if err != nil {
		return nil, err
	}

	db, err := OpenWithCorruptionHandling(dbPath)
	if err != nil {
		return nil, err
	}
	if err := db.SetRepoPath(repoRoot); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("record repo path: %w", err)
	}

	embeddingsDir, err := paths.EmbeddingsDir(repoRoot)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	cache, err := embedcache.New(embeddingsDir)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	timeout := time.Duration(cfg.Embeddings.PerItemTimeoutSec * float64(time.Second))
	wrapped := embedder.NewTimeoutEmbedder(embed, timeout)

	return &Store{
		db:       db,
		vectors:  NewVectorIndex(embed.Dimensions()),
		cache:    cache,
		embed:    wrapped,
		syncer:   NewSyncer(db, cache, wrapped, parseItem, repoRoot, cfg.Embeddings.BatchSize, log),
		log:      log,
		repoRoot: repoRoot,
		debounce: time.Duration(cfg.Watch.DebounceMillis) * time.Millisecond,
	}, nil
}

// Close releases the store's resources: the database connection and,
// if running, the filesystem watcher.
func (s *Store) Close() error {
	s.StopWatching()
	return s.db.Close()
}

// EnsureSynced runs the first full sync for this Store, exactly once;
// subsequent calls return the first call's result without re-syncing.
// This is the init-once half of the spec's get_or_init_store semantics —
// the read-mostly half is simply that query methods assume EnsureSynced
// has already run.
func (s *Store) EnsureSynced(ctx context.Context) error {
	s.syncOnce.Do(func() {
		_, s.syncErr = s.Sync(ctx)
	})
	return s.syncErr
}

// Sync reconciles disk and database, then rebuilds the in-process
// vector index from the refreshed embedding column. Safe to call
// repeatedly — StartWatching does so on every coalesced batch of
// filesystem events.
func (s *Store) Sync(ctx context.Context) (SyncReport, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	report, err := s.syncer.Sync(ctx)
	if err != nil {
		return report, err
	}
	s.addWarnings(report.Warnings)

	if err := s.rebuildVectorIndex(ctx); err != nil {
		s.addWarning(Warning{Message: fmt.Sprintf("vector index rebuild failed: %v", err)})
	}
	return report, nil
}

func (s *Store) rebuildVectorIndex(ctx context.Context) error {
	tickets, err := s.GetAllTickets(ctx)
	if err != nil {
		return fmt.Errorf("load tickets for vector index rebuild: %w", err)
	}
	ids := make([]string, 0, len(tickets))
	vectors := make([][]float32, 0, len(tickets))
	for _, t := range tickets {
		if len(t.Embedding) == 0 {
			continue
		}
		ids = append(ids, t.ID)
		vectors = append(vectors, t.Embedding)
	}
	return s.vectors.Rebuild(ids, vectors)
}

// Embed generates a query embedding using the same Embedder the sync
// engine uses for items, so query and corpus vectors share one model's
// geometry. Exposed for commands like `janusctl search` that need a
// vector for free-text input outside the sync path.
func (s *Store) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.embed.Embed(ctx, text)
}

// Warnings returns every non-fatal warning accumulated since Open: parse
// and embed failures recorded during Sync, plus watcher startup/runtime
// failures. Surfaced by commands in text mode, per spec §4.7.
func (s *Store) Warnings() []Warning {
	s.warnMu.Lock()
	defer s.warnMu.Unlock()
	out := make([]Warning, len(s.warnings))
	copy(out, s.warnings)
	return out
}

func (s *Store) addWarning(w Warning) {
	s.warnMu.Lock()
	s.warnings = append(s.warnings, w)
	s.warnMu.Unlock()
}

func (s *Store) addWarnings(ws []Warning) {
	if len(ws) == 0 {
		return
	}
	s.warnMu.Lock()
	s.warnings = append(s.warnings, ws...)
	s.warnMu.Unlock()
}

// StartWatching installs a filesystem watcher on .janus/items and
// .janus/plans and calls Sync on every coalesced batch of events that
// touches a Markdown file. Watcher construction or runtime failure is
// non-fatal: it is recorded via Warnings and StartWatching returns,
// leaving the store usable without live updates. Safe to call once;
// a second call is a no-op until StopWatching runs. Lifecycle mirrors
// the teacher's BackgroundIndexer: a running flag guarded by a mutex and
// stop/done channels rather than a raw goroutine leak.
func (s *Store) StartWatching(ctx context.Context) {
	s.watchMu.Lock()
	if s.watching {
		s.watchMu.Unlock()
		return
	}
	s.watching = true
	s.watchStopCh = make(chan struct{})
	s.watchDoneCh = make(chan struct{})
	stopCh := s.watchStopCh
	doneCh := s.watchDoneCh
	s.watchMu.Unlock()

	w, err := watcher.NewHybridWatcher(watcher.Options{DebounceWindow: s.debounce})
	if err != nil {
		s.addWarning(Warning{Message: fmt.Sprintf("watcher init failed: %v", err)})
		s.watchMu.Lock()
		s.watching = false
		s.watchMu.Unlock()
		close(doneCh)
		return
	}

	watchCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(doneCh)
		defer cancel()
		go func() {
			select {
			case <-stopCh:
				_ = w.Stop()
			case <-watchCtx.Done():
			}
		}()

		go func() {
			if err := w.Start(watchCtx, filepath.Join(s.repoRoot, ".janus")); err != nil {
				s.addWarning(Warning{Message: fmt.Sprintf("watcher stopped: %v", err)})
			}
		}()

		for {
			select {
			case <-watchCtx.Done():
				return
			case batch, ok := <-w.Events():
				if !ok {
					return
				}
				if !touchesMarkdown(batch) {
					continue
				}
				if _, err := s.Sync(watchCtx); err != nil {
					s.addWarning(Warning{Message: fmt.Sprintf("resync after file change failed: %v", err)})
				}
			}
		}
	}()
}

// StopWatching stops a watcher started by StartWatching and waits for
// its goroutine to exit. Safe to call even if no watcher is running.
func (s *Store) StopWatching() {
	s.watchMu.Lock()
	if !s.watching {
		s.watchMu.Unlock()
		return
	}
	stopCh := s.watchStopCh
	doneCh := s.watchDoneCh
	s.watching = false
	s.watchMu.Unlock()

	close(stopCh)
	<-doneCh
}

// Prune deletes on-disk embedding files that no longer correspond to any
// ticket's current (path, mtime_ns) pair, per spec §4.4's
// prune_orphaned. Must not run concurrently with Sync/Rebuild on the
// same repo (see the race note in DESIGN.md); the caller is responsible
// for that, typically by only running it from a one-shot CLI invocation.
func (s *Store) Prune(ctx context.Context) (deleted int, bytesFreed int64, err error) {
	tickets, err := s.GetAllTickets(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("load tickets for prune: %w", err)
	}
	validKeys := make(map[string]struct{}, len(tickets))
	for _, t := range tickets {
		if t.FilePath == "" {
			continue
		}
		info, statErr := os.Stat(t.FilePath)
		if statErr != nil {
			continue
		}
		validKeys[embedcache.Key(t.FilePath, info.ModTime().UnixNano())] = struct{}{}
	}
	return s.cache.PruneOrphaned(validKeys)
}

// Rebuild wipes every cached embedding and regenerates them from
// scratch, per spec §3's Rebuild lifecycle operation ("semantically
// equivalent to wiping .janus/embeddings/ and running a full sync").
// Clearing the on-disk cache is a PruneOrphaned call against an empty
// valid set; forcing every row to re-embed despite an unchanged mtime is
// done by resetting the stored mtime_ns to zero so the sync engine's
// ordinary diff logic picks every item up as stale.
func (s *Store) Rebuild(ctx context.Context) (SyncReport, error) {
	if _, _, err := s.cache.PruneOrphaned(map[string]struct{}{}); err != nil {
		return SyncReport{}, fmt.Errorf("clear embedding cache: %w", err)
	}
	if err := s.resetMtimes(ctx); err != nil {
		return SyncReport{}, fmt.Errorf("reset stored mtimes: %w", err)
	}
	return s.Sync(ctx)
}

func (s *Store) resetMtimes(ctx context.Context) error {
	if _, err := s.db.conn.ExecContext(ctx, `UPDATE tickets SET mtime_ns = 0`); err != nil {
		return err
	}
	_, err := s.db.conn.ExecContext(ctx, `UPDATE plans SET mtime_ns = 0`)
	return err
}

func touchesMarkdown(batch []watcher.FileEvent) bool {
	for _, e := range batch {
		if !e.IsDir && strings.HasSuffix(e.Path, ".md") {
			return true
		}
	}
	return false
}
