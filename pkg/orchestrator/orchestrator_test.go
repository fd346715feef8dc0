package orchestrator_test

import (
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netchunk/netchunk/pkg/config"
	"github.com/netchunk/netchunk/pkg/orchestrator"
	"github.com/netchunk/netchunk/pkg/transport"
	"github.com/netchunk/netchunk/pkg/transport/fakeftp"
)

// testCluster wires one fakeftp.Server per configured server_id behind
// a single transport.Dialer that routes by server_id, modeling a
// multi-host deployment in memory.
type testCluster struct {
	cfg     *config.Config
	servers map[string]*fakeftp.Server
}

func newTestCluster(serverIDs ...string) *testCluster {
	tc := &testCluster{servers: make(map[string]*fakeftp.Server, len(serverIDs))}
	cfg := &config.Config{
		General: config.GeneralConfig{
			ChunkSize:               4 << 20,
			ReplicationFactor:       3,
			MaxConcurrentOperations: 8,
			FTPTimeout:              5 * time.Second,
		},
	}
	for _, id := range serverIDs {
		tc.servers[id] = fakeftp.NewServer()
		cfg.Servers = append(cfg.Servers, &config.ServerDescriptor{
			ServerID: id,
			Host:     id,
			Port:     21,
			BasePath: "/netchunk",
			Status:   config.HealthHealthy,
		})
	}
	tc.cfg = cfg
	return tc
}

func (tc *testCluster) dial(ctx context.Context, srv config.ServerDescriptor) (transport.Client, error) {
	server := tc.servers[srv.ServerID]
	return fakeftp.Dial(server)(ctx, srv)
}

func writeRandomFile(t *testing.T, size int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "input.bin")
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	tc := newTestCluster("s1", "s2", "s3")
	o := orchestrator.New(tc.cfg, tc.dial, nil)

	input := writeRandomFile(t, 10*1024*1024+7)
	original, err := os.ReadFile(input)
	require.NoError(t, err)

	m, stats, err := o.Upload(context.Background(), input, "report.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(len(original)), m.TotalSize)
	for _, c := range m.Chunks {
		assert.Len(t, c.Locations, 3)
	}
	assert.Greater(t, stats.ServerCount(), 0)

	outPath := filepath.Join(t.TempDir(), "out.bin")
	_, err = o.Download(context.Background(), "report.bin", outPath)
	require.NoError(t, err)

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, original, got)
}

// TestUploadExactMultipleChunkSizes mirrors scenario S1: a
// 10485760-byte file with chunk_size=4MiB and R=3 over 3 healthy
// servers yields chunks of {4194304, 4194304, 2097152} bytes.
func TestUploadExactMultipleChunkSizes(t *testing.T) {
	tc := newTestCluster("s1", "s2", "s3")
	o := orchestrator.New(tc.cfg, tc.dial, nil)

	input := writeRandomFile(t, 10485760)
	m, _, err := o.Upload(context.Background(), input, "s1-scenario.bin")
	require.NoError(t, err)

	require.Len(t, m.Chunks, 3)
	assert.Equal(t, int64(4194304), m.Chunks[0].Size)
	assert.Equal(t, int64(4194304), m.Chunks[1].Size)
	assert.Equal(t, int64(2097152), m.Chunks[2].Size)

	var sum int64
	for _, c := range m.Chunks {
		sum += c.Size
		assert.Len(t, c.Locations, 3)
		seen := map[string]bool{}
		for _, loc := range c.Locations {
			assert.False(t, seen[loc.ServerID])
			seen[loc.ServerID] = true
		}
	}
	assert.Equal(t, int64(10485760), sum)
}

// TestDownloadSurvivesOneDeadServer mirrors scenario S2.
func TestDownloadSurvivesOneDeadServer(t *testing.T) {
	tc := newTestCluster("s1", "s2", "s3")
	o := orchestrator.New(tc.cfg, tc.dial, nil)

	input := writeRandomFile(t, 1024*1024)
	original, err := os.ReadFile(input)
	require.NoError(t, err)

	_, _, err = o.Upload(context.Background(), input, "s2-scenario.bin")
	require.NoError(t, err)

	tc.servers["s2"].SetReachable(false)

	outPath := filepath.Join(t.TempDir(), "out.bin")
	_, err = o.Download(context.Background(), "s2-scenario.bin", outPath)
	require.NoError(t, err)

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, original, got)
}

func TestUploadFailsWhenZeroReplicasSucceed(t *testing.T) {
	tc := newTestCluster("s1", "s2", "s3")
	for _, s := range tc.servers {
		s.SetReachable(false)
	}
	o := orchestrator.New(tc.cfg, tc.dial, nil)

	input := writeRandomFile(t, 1024)
	_, _, err := o.Upload(context.Background(), input, "doomed.bin")
	require.Error(t, err)
}

func TestDeleteRemovesManifestAndChunks(t *testing.T) {
	tc := newTestCluster("s1", "s2")
	tc.cfg.General.ReplicationFactor = 2
	o := orchestrator.New(tc.cfg, tc.dial, nil)

	input := writeRandomFile(t, 2048)
	m, _, err := o.Upload(context.Background(), input, "todelete.bin")
	require.NoError(t, err)

	require.NoError(t, o.Delete(context.Background(), "todelete.bin"))

	for _, c := range m.Chunks {
		for _, loc := range c.Locations {
			client, err := tc.dial(context.Background(), config.ServerDescriptor{ServerID: loc.ServerID, BasePath: "/netchunk"})
			require.NoError(t, err)
			exists, err := client.Exists(context.Background(), loc.RemotePath)
			require.NoError(t, err)
			assert.False(t, exists, "replica of chunk %s on %s must be deleted", c.ID, loc.ServerID)
		}
	}

	outPath := filepath.Join(t.TempDir(), "out.bin")
	_, err = o.Download(context.Background(), "todelete.bin", outPath)
	require.Error(t, err)
}

// TestUploadRejectsZeroLengthFile mirrors scenario S5.
func TestUploadRejectsZeroLengthFile(t *testing.T) {
	tc := newTestCluster("s1", "s2", "s3")
	o := orchestrator.New(tc.cfg, tc.dial, nil)

	dir := t.TempDir()
	path := filepath.Join(dir, "empty.bin")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, _, err := o.Upload(context.Background(), path, "empty.bin")
	require.Error(t, err)
}
