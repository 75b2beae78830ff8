package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	root := NewRootCmd()
	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "ingest", "query", "delete", "list", "status", "version"} {
		assert.True(t, names[want], want)
	}
}

func TestVersionFlag(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "ragdex version")
}

func TestDeleteCmd_RequiresExactlyOneTarget(t *testing.T) {
	_, err := execute(t, "delete")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one")

	_, err = execute(t, "delete", "--id", "1", "--source", "doc.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one")
}

func TestIngestCmd_RequiresArgs(t *testing.T) {
	_, err := execute(t, "ingest")
	require.Error(t, err)
}
