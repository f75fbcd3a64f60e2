package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRepo creates an isolated repository with a .janus directory and
// one ticket, and points the cache DB at a private XDG_CACHE_HOME so
// tests never touch or collide on the real user cache.
func newTestRepo(t *testing.T) string {
	t.Helper()
	repo := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repo, ".janus", "items"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(repo, ".janus", "plans"), 0o755))

	ticket := `---
id: j-a1b2
status: new
priority: 2
type: task
deps: []
links: []
---
# Fix login bug

Auth fails on empty password.
`
	require.NoError(t, os.WriteFile(filepath.Join(repo, ".janus", "items", "j-a1b2.md"), []byte(ticket), 0o644))

	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	return repo
}

func runJanusctl(t *testing.T, repo string, args ...string) (string, error) {
	t.Helper()
	repoFlag = "."
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"--repo", repo}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestSyncCmd_ReportsCounts(t *testing.T) {
	repo := newTestRepo(t)

	out, err := runJanusctl(t, repo, "sync")

	require.NoError(t, err)
	assert.Contains(t, out, "+1")
}
