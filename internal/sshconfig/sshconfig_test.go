package sshconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseConcreteHosts(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
# production boxes
Host web-1
    HostName 10.0.0.10
    User deploy
    Port 2222
    IdentityFile /keys/web-1

Host db-1
    HostName db.internal
    User postgres
`)

	entries, err := Parse(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, HostEntry{
		Name:         "web-1",
		Hostname:     "10.0.0.10",
		User:         "deploy",
		Port:         2222,
		IdentityFile: "/keys/web-1",
	}, entries[0])

	assert.Equal(t, "db-1", entries[1].Name)
	assert.Equal(t, "db.internal", entries[1].Hostname)
	assert.Equal(t, 22, entries[1].Port)
	assert.Empty(t, entries[1].IdentityFile)
}

func TestParseSkipsWildcardHosts(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
Host *
    ServerAliveInterval 60

Host bastion-?
    User ops

Host jump
    HostName jump.internal
    User ops
`)

	entries, err := Parse(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "jump", entries[0].Name)
}

func TestParseEqualsSyntaxAndQuotedIdentityFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
Host legacy
    HostName=legacy.internal
    User=admin
    Port=2200
    IdentityFile "/keys/legacy id"
`)

	entries, err := Parse(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "legacy.internal", entries[0].Hostname)
	assert.Equal(t, "admin", entries[0].User)
	assert.Equal(t, 2200, entries[0].Port)
	assert.Equal(t, "/keys/legacy id", entries[0].IdentityFile)
}

func TestParseDefaultsHostnameToAlias(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "Host plain.example.com\n    User root\n")

	entries, err := Parse(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "plain.example.com", entries[0].Hostname)
}

func TestParseMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Parse(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}

func TestExpandHome(t *testing.T) {
	t.Parallel()

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".ssh", "id_ed25519"), expandHome("~/.ssh/id_ed25519"))
	assert.Equal(t, "/abs/path", expandHome("/abs/path"))
}
