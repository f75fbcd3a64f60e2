package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchCmd_FindsSyncedTicket(t *testing.T) {
	repo := newTestRepo(t)

	_, err := runJanusctl(t, repo, "sync")
	require.NoError(t, err)

	out, err := runJanusctl(t, repo, "search", "login bug", "--k", "5")

	require.NoError(t, err)
	assert.Contains(t, out, "j-a1b2")
}

func TestSearchCmd_JSONOutput(t *testing.T) {
	repo := newTestRepo(t)

	_, err := runJanusctl(t, repo, "sync")
	require.NoError(t, err)

	out, err := runJanusctl(t, repo, "search", "login bug", "--json")

	require.NoError(t, err)
	assert.Contains(t, out, `"Ticket"`)
}
