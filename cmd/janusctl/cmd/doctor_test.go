package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoctorCmd_PassesOnHealthyRepo(t *testing.T) {
	repo := newTestRepo(t)

	out, err := runJanusctl(t, repo, "doctor")

	require.NoError(t, err)
	assert.Contains(t, out, "store_open")
	assert.Contains(t, out, "embedding_coverage")
}

func TestDoctorCmd_JSONOutput(t *testing.T) {
	repo := newTestRepo(t)

	out, err := runJanusctl(t, repo, "doctor", "--json")

	require.NoError(t, err)
	var result doctorJSON
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "pass", result.Status)
	assert.NotEmpty(t, result.Checks)
}
