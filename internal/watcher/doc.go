// Package watcher provides real-time file system watching with automatic
// debouncing, used to drive re-sync of the .janus/items and .janus/plans
// directories.
//
// The package implements a hybrid watching strategy:
//   - Primary: fsnotify for efficient event-based watching
//   - Fallback: Polling for environments where fsnotify fails (network mounts, Docker volumes)
//
// Events are debounced to coalesce rapid changes from editors writing a
// file in multiple steps.
//
// Usage:
//
//	opts := watcher.DefaultOptions()
//	w, err := watcher.NewHybridWatcher(opts)
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	if err := w.Start(ctx, "/path/to/repo/.janus"); err != nil {
//	    return err
//	}
//
//	for range w.Events() {
//	    // re-sync
//	}
package watcher
