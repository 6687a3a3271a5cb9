package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "SECURITY_MODE", "SSH_POOL_SIZE", "SSH_REUSE_CONNECTIONS",
		"SSH_CONNECT_TIMEOUT", "COMMAND_TIMEOUT", "READ_TIMEOUT", "TRANSFER_TIMEOUT",
		"MAX_OUTPUT_SIZE", "CHUNK_SIZE", "QUICK_WAIT_TIME", "SECURITY_CASE_SENSITIVE",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "8098", cfg.Port)
	assert.Equal(t, "blacklist", cfg.SecurityMode)
	assert.False(t, cfg.CaseSensitive)
	assert.Equal(t, 5, cfg.PoolSize)
	assert.True(t, cfg.ReuseConnections)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 60*time.Second, cfg.CommandTimeout)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 300*time.Second, cfg.TransferTimeout)
	assert.Equal(t, 50000, cfg.MaxOutputSize)
	assert.Equal(t, 10000, cfg.ChunkSize)
	assert.Equal(t, 5*time.Second, cfg.QuickWaitTime)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("SECURITY_MODE", "whitelist")
	t.Setenv("COMMAND_WHITELIST", "ls.*;cat.*")
	t.Setenv("SECURITY_CASE_SENSITIVE", "true")
	t.Setenv("SSH_POOL_SIZE", "12")
	t.Setenv("SSH_REUSE_CONNECTIONS", "false")
	t.Setenv("COMMAND_TIMEOUT", "120")
	t.Setenv("CHUNK_SIZE", "4096")

	cfg := Load()

	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, "whitelist", cfg.SecurityMode)
	assert.Equal(t, "ls.*;cat.*", cfg.CommandWhitelist)
	assert.True(t, cfg.CaseSensitive)
	assert.Equal(t, 12, cfg.PoolSize)
	assert.False(t, cfg.ReuseConnections)
	assert.Equal(t, 2*time.Minute, cfg.CommandTimeout)
	assert.Equal(t, 4096, cfg.ChunkSize)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("SSH_POOL_SIZE", "many")
	t.Setenv("COMMAND_TIMEOUT", "1m")

	cfg := Load()
	assert.Equal(t, 5, cfg.PoolSize)
	assert.Equal(t, 60*time.Second, cfg.CommandTimeout)
}
