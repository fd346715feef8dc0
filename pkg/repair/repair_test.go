package repair_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netchunk/netchunk/pkg/config"
	"github.com/netchunk/netchunk/pkg/hashutil"
	"github.com/netchunk/netchunk/pkg/manifest"
	"github.com/netchunk/netchunk/pkg/repair"
	"github.com/netchunk/netchunk/pkg/transport"
	"github.com/netchunk/netchunk/pkg/transport/fakeftp"
)

type fixture struct {
	servers map[string]*fakeftp.Server
	descs   []*config.ServerDescriptor
	pool    *transport.Pool
}

func newFixture(ids ...string) *fixture {
	f := &fixture{servers: make(map[string]*fakeftp.Server, len(ids))}
	for _, id := range ids {
		f.servers[id] = fakeftp.NewServer()
		f.descs = append(f.descs, &config.ServerDescriptor{ServerID: id, Host: id, Port: 21, BasePath: "/netchunk", Status: config.HealthHealthy})
	}
	dial := func(ctx context.Context, srv config.ServerDescriptor) (transport.Client, error) {
		return fakeftp.Dial(f.servers[srv.ServerID])(ctx, srv)
	}
	f.pool = transport.NewPool(dial, time.Second, 8)
	return f
}

func uploadDirect(t *testing.T, f *fixture, serverID, chunkID string, data []byte) string {
	t.Helper()
	dial := func(ctx context.Context, srv config.ServerDescriptor) (transport.Client, error) {
		return fakeftp.Dial(f.servers[srv.ServerID])(ctx, srv)
	}
	desc := config.ServerDescriptor{ServerID: serverID, BasePath: "/netchunk"}
	client, err := dial(context.Background(), desc)
	require.NoError(t, err)
	remotePath := transport.ChunkRemotePath(chunkID)
	require.NoError(t, client.Upload(context.Background(), remotePath, bytes.NewReader(data), int64(len(data)), nil))
	return remotePath
}

func buildManifest(chunkID string, data []byte, locations []manifest.Location, r int) *manifest.Manifest {
	hash := hashutil.Sum(data)
	return &manifest.Manifest{
		Version:             manifest.CurrentVersion,
		ManifestID:          "m1",
		OriginalFilename:    "f1",
		TotalSize:           int64(len(data)),
		ChunkSize:           int64(len(data)),
		ChunkCount:          1,
		FileHash:            hash,
		ReplicationFactor:   r,
		MinReplicasRequired: 1,
		Chunks: []manifest.Chunk{
			{ID: chunkID, Sequence: 0, Size: int64(len(data)), Hash: hash, Locations: locations},
		},
	}
}

func TestClassifyThresholds(t *testing.T) {
	assert.Equal(t, repair.Healthy, repair.Classify(3, 3))
	assert.Equal(t, repair.Healthy, repair.Classify(4, 3))
	assert.Equal(t, repair.Degraded, repair.Classify(2, 3))
	assert.Equal(t, repair.Critical, repair.Classify(1, 3))
	assert.Equal(t, repair.Lost, repair.Classify(0, 3))
}

func TestVerifyClassifiesHealthyChunk(t *testing.T) {
	f := newFixture("s1", "s2", "s3")
	data := []byte("chunk payload")
	for _, id := range []string{"s1", "s2", "s3"} {
		uploadDirect(t, f, id, "c1", data)
	}

	locs := []manifest.Location{{ServerID: "s1", RemotePath: "chunks/c1"}, {ServerID: "s2", RemotePath: "chunks/c1"}, {ServerID: "s3", RemotePath: "chunks/c1"}}
	m := buildManifest("c1", data, locs, 3)

	engine := repair.New(f.pool, f.descs, 3, nil)
	report := engine.Verify(context.Background(), m)
	require.Len(t, report.Chunks, 1)
	assert.Equal(t, repair.Healthy, report.Chunks[0].Health)
}

func TestVerifyDetectsCorruptReplicaWithoutCountingItHealthy(t *testing.T) {
	f := newFixture("s1", "s2", "s3")
	data := []byte("chunk payload")
	for _, id := range []string{"s1", "s2", "s3"} {
		uploadDirect(t, f, id, "c1", data)
	}
	f.servers["s1"].Corrupt("/netchunk/chunks/c1")

	locs := []manifest.Location{{ServerID: "s1", RemotePath: "chunks/c1"}, {ServerID: "s2", RemotePath: "chunks/c1"}, {ServerID: "s3", RemotePath: "chunks/c1"}}
	m := buildManifest("c1", data, locs, 3)

	engine := repair.New(f.pool, f.descs, 3, nil)
	report := engine.Verify(context.Background(), m)
	require.Len(t, report.Chunks, 1)
	assert.Equal(t, repair.Degraded, report.Chunks[0].Health) // 2 healthy, 1 corrupt
}

func TestVerifyClassifiesCriticalWhenTwoServersDown(t *testing.T) {
	f := newFixture("s1", "s2", "s3")
	data := []byte("chunk payload")
	for _, id := range []string{"s1", "s2", "s3"} {
		uploadDirect(t, f, id, "c1", data)
	}
	f.servers["s1"].SetReachable(false)
	f.servers["s2"].SetReachable(false)

	locs := []manifest.Location{{ServerID: "s1", RemotePath: "chunks/c1"}, {ServerID: "s2", RemotePath: "chunks/c1"}, {ServerID: "s3", RemotePath: "chunks/c1"}}
	m := buildManifest("c1", data, locs, 3)

	engine := repair.New(f.pool, f.descs, 3, nil)
	report := engine.Verify(context.Background(), m)
	require.Len(t, report.Chunks, 1)
	assert.Equal(t, repair.Critical, report.Chunks[0].Health)
}

func TestAutoRepairCleansUpCorruptedReplicaAndRefills(t *testing.T) {
	f := newFixture("s1", "s2", "s3")
	data := []byte("chunk payload for repair")
	for _, id := range []string{"s1", "s2"} {
		uploadDirect(t, f, id, "c1", data)
	}
	f.servers["s1"].Corrupt("/netchunk/chunks/c1")

	locs := []manifest.Location{{ServerID: "s1", RemotePath: "chunks/c1"}, {ServerID: "s2", RemotePath: "chunks/c1"}}
	m := buildManifest("c1", data, locs, 3)

	engine := repair.New(f.pool, f.descs, 3, nil)
	result, err := engine.AutoRepair(context.Background(), m, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChunksVerified)
	assert.Equal(t, 1, result.ChunksRepaired)

	assert.False(t, m.Chunks[0].HasServer("s1"), "corrupted replica must be dropped, and not immediately reused as a refill target")
	assert.True(t, m.Chunks[0].HasServer("s2"))
	assert.True(t, m.Chunks[0].HasServer("s3"))
	assert.Equal(t, 2, m.Chunks[0].ReplicaCount())
}

func TestAutoRepairNeverMutatesLostChunks(t *testing.T) {
	f := newFixture("s1", "s2", "s3")
	locs := []manifest.Location{{ServerID: "s1", RemotePath: "chunks/c1"}}
	m := buildManifest("c1", []byte("x"), locs, 3)

	engine := repair.New(f.pool, f.descs, 3, nil)
	result, err := engine.AutoRepair(context.Background(), m, false)
	require.NoError(t, err)
	assert.Contains(t, result.LostChunks, "c1")
	assert.Equal(t, 1, m.Chunks[0].ReplicaCount(), "manifest must be left intact for LOST chunks")
}

func TestRebalanceMovesChunkFromOverloadedToUnderloadedServer(t *testing.T) {
	f := newFixture("s1", "s2")
	data1 := []byte("chunk one payload")
	data2 := []byte("chunk two payload")
	uploadDirect(t, f, "s1", "c1", data1)
	uploadDirect(t, f, "s1", "c2", data2)

	m := &manifest.Manifest{
		ReplicationFactor: 1,
		Chunks: []manifest.Chunk{
			{ID: "c1", Sequence: 0, Size: int64(len(data1)), Hash: hashutil.Sum(data1),
				Locations: []manifest.Location{{ServerID: "s1", RemotePath: "chunks/c1"}}},
			{ID: "c2", Sequence: 1, Size: int64(len(data2)), Hash: hashutil.Sum(data2),
				Locations: []manifest.Location{{ServerID: "s1", RemotePath: "chunks/c2"}}},
		},
	}

	engine := repair.New(f.pool, f.descs, 1, nil)
	result, err := engine.Rebalance(context.Background(), m)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.MovesPerformed, 1)

	s1Count, s2Count := 0, 0
	for _, c := range m.Chunks {
		if c.HasServer("s1") {
			s1Count++
		}
		if c.HasServer("s2") {
			s2Count++
		}
	}
	assert.Equal(t, 1, s1Count)
	assert.Equal(t, 1, s2Count)
}
