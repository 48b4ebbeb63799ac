package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	return cmd.Execute()
}

func TestPurgeRequiresConfirmation(t *testing.T) {
	err := runCommand(t, "purge", "2023-2024")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
}

func TestMigrateDownRequiresSteps(t *testing.T) {
	err := runCommand(t, "migrate", "down")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--steps")
}

func TestMigrateRejectsUnknownDirection(t *testing.T) {
	err := runCommand(t, "migrate", "sideways")
	require.Error(t, err)
}

func TestRootRegistersCommands(t *testing.T) {
	cmd := newRootCommand()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"migrate", "archive", "purge", "transition", "token"} {
		assert.True(t, names[want], want)
	}
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-test-secret")

	err := runCommand(t, "token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--user")

	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"token", "--user", "sync-bot", "--role", "admin"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, 2, strings.Count(out.String(), "."))
	assert.Contains(t, errOut.String(), "expires at")

	err = runCommand(t, "token", "--user", "x", "--role", "guest")
	require.Error(t, err)
}
