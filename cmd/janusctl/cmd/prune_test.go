package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPruneCmd_RemovesOrphanedEmbeddings(t *testing.T) {
	repo := newTestRepo(t)

	_, err := runJanusctl(t, repo, "sync")
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(repo, ".janus", "items", "j-a1b2.md")))

	_, err = runJanusctl(t, repo, "sync")
	require.NoError(t, err)

	out, err := runJanusctl(t, repo, "prune")

	require.NoError(t, err)
	assert.Contains(t, out, "pruned 1 orphaned embeddings")
}

func TestRebuildCmd_ReEmbedsEveryTicket(t *testing.T) {
	repo := newTestRepo(t)

	_, err := runJanusctl(t, repo, "sync")
	require.NoError(t, err)

	out, err := runJanusctl(t, repo, "rebuild")

	require.NoError(t, err)
	assert.Contains(t, out, "rebuilt: 1 tickets")
}
