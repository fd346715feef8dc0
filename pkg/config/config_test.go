package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netchunk/netchunk/pkg/errs"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "netchunk.ini")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const validConfig = `
[general]
chunk_size = 4M
replication_factor = 3
max_concurrent_operations = 8
ftp_timeout = 30
log_level = info
log_file = /tmp/netchunk.log
local_storage_path = /tmp/netchunk

[server_1]
host = ftp1.example.com
port = 21
username = alice
password = secret
base_path = /data

[server_2]
host = ftp2.example.com
port = 2121
username = bob
password = secret2
base_path = /data
use_ssl = true

[server_3]
host = ftp3.example.com
username = carol
password = secret3

[repair]
auto_repair_enabled = true
max_repair_attempts = 5

[security]
verify_ssl_certificates = true
`

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, validConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(4<<20), cfg.General.ChunkSize)
	assert.Equal(t, 3, cfg.General.ReplicationFactor)
	require.Len(t, cfg.Servers, 3)
	assert.Equal(t, "server_1", cfg.Servers[0].ServerID)
	assert.Equal(t, "ftp1.example.com", cfg.Servers[0].Host)
	assert.Equal(t, "/data/", cfg.Servers[0].BasePath)
	assert.True(t, cfg.Servers[1].UseTLS)
	assert.Equal(t, "/", cfg.Servers[2].BasePath)
	assert.Equal(t, 5, cfg.Repair.MaxRepairAttempts)
}

func TestChunkSizeClampedToRange(t *testing.T) {
	path := writeConfig(t, `
[general]
chunk_size = 256M
replication_factor = 1

[server_1]
host = ftp1.example.com
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(MaxChunkSize), cfg.General.ChunkSize)
}

func TestReplicationFactorExceedsServerCountFails(t *testing.T) {
	path := writeConfig(t, `
[general]
replication_factor = 3

[server_1]
host = ftp1.example.com

[server_2]
host = ftp2.example.com
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, errs.InsufficientServers, errs.KindOf(err))
}

func TestNoServersFails(t *testing.T) {
	path := writeConfig(t, `
[general]
replication_factor = 1
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, errs.ConfigValidation, errs.KindOf(err))
}

func TestServerMissingHostFails(t *testing.T) {
	path := writeConfig(t, `
[server_1]
username = alice
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, errs.ConfigValidation, errs.KindOf(err))
}

func TestMalformedFileFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.ini")
	require.NoError(t, os.WriteFile(path, []byte("[general\nchunk_size=x"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, errs.ConfigParse, errs.KindOf(err))
}

func TestParseSizeWithSuffix(t *testing.T) {
	cases := map[string]int64{
		"1K": 1 << 10,
		"2M": 2 << 20,
		"1G": 1 << 30,
		"100": 100,
	}
	for input, want := range cases {
		got, err := parseSizeWithSuffix(input)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestNormalizeBasePath(t *testing.T) {
	assert.Equal(t, "/data/", normalizeBasePath("/data"))
	assert.Equal(t, "/data/", normalizeBasePath("/data/"))
	assert.Equal(t, "/", normalizeBasePath(""))
}
