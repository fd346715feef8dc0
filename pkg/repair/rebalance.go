package repair

import (
	"bytes"
	"context"
	"io"
	"sort"
	"time"

	"github.com/netchunk/netchunk/pkg/config"
	"github.com/netchunk/netchunk/pkg/manifest"
	"github.com/netchunk/netchunk/pkg/transport"
)

// RebalanceResult reports how many chunk replicas were moved.
type RebalanceResult struct {
	MovesPerformed int
}

// Rebalance implements spec.md §4.6's greedy per-server load
// evening: compute each server's target chunk count as
// floor(total/servers) with the remainder spread over the
// lower-index servers, then repeatedly move one chunk from the most
// overloaded server to the most underloaded server that lacks it,
// deleting the source replica only if the chunk would still have at
// least R replicas afterward.
func (e *Engine) Rebalance(ctx context.Context, m *manifest.Manifest) (*RebalanceResult, error) {
	result := &RebalanceResult{}
	safetyLimit := len(m.Chunks)*len(e.Servers) + 8

	for result.MovesPerformed < safetyLimit {
		counts := e.countChunksPerServer(m)
		targets := targetCounts(len(m.Chunks), e.Servers)

		source, sink, chunkIdx, ok := findBeneficialMove(m, e.Servers, counts, targets)
		if !ok {
			break
		}
		if !e.moveChunkReplica(ctx, m, chunkIdx, source, sink) {
			break // nothing more we can safely move
		}
		result.MovesPerformed++
	}

	return result, nil
}

// targetCounts computes spec.md §4.6's floor(total/servers), with the
// remainder spread over the lower-index servers in configured order.
func targetCounts(totalChunks int, servers []*config.ServerDescriptor) map[string]int {
	n := len(servers)
	if n == 0 {
		return nil
	}
	base := totalChunks / n
	remainder := totalChunks % n

	out := make(map[string]int, n)
	for i, s := range servers {
		target := base
		if i < remainder {
			target++
		}
		out[s.ServerID] = target
	}
	return out
}

// findBeneficialMove picks the most-overloaded server (source) and the
// most-underloaded server (sink), then a chunk that source holds and
// sink does not, preferring earlier chunks for determinism.
func findBeneficialMove(m *manifest.Manifest, servers []*config.ServerDescriptor, counts, targets map[string]int) (source, sink string, chunkIdx int, ok bool) {
	type delta struct {
		id   string
		diff int // counts - targets; positive = overloaded
	}
	deltas := make([]delta, 0, len(servers))
	for _, s := range servers {
		deltas = append(deltas, delta{id: s.ServerID, diff: counts[s.ServerID] - targets[s.ServerID]})
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].diff > deltas[j].diff })

	if len(deltas) < 2 || deltas[0].diff <= 0 {
		return "", "", 0, false
	}

	for _, over := range deltas {
		if over.diff <= 0 {
			break
		}
		for i := len(deltas) - 1; i >= 0; i-- {
			under := deltas[i]
			if under.diff >= 0 || under.id == over.id {
				continue
			}
			if idx, ok := findMovableChunk(m, over.id, under.id); ok {
				return over.id, under.id, idx, true
			}
		}
	}
	return "", "", 0, false
}

// findMovableChunk returns the index of a chunk that source holds and
// sink does not.
func findMovableChunk(m *manifest.Manifest, source, sink string) (int, bool) {
	for i, c := range m.Chunks {
		if c.HasServer(source) && !c.HasServer(sink) {
			return i, true
		}
	}
	return 0, false
}

// moveChunkReplica uploads the chunk's bytes (sourced from the source
// server, already known healthy by virtue of holding a location) to
// sink, then deletes the source replica only if that leaves the chunk
// with at least R replicas (spec.md §4.6).
func (e *Engine) moveChunkReplica(ctx context.Context, m *manifest.Manifest, chunkIdx int, source, sink string) bool {
	chunk := &m.Chunks[chunkIdx]

	sourceServer := e.serverByID(source)
	sinkServer := e.serverByID(sink)
	if sourceServer == nil || sinkServer == nil {
		return false
	}

	sourceLoc := findLocation(chunk, source)
	if sourceLoc == nil {
		return false
	}

	lease, err := e.Pool.Acquire(ctx, *sourceServer)
	if err != nil {
		return false
	}
	r, err := lease.Client.Download(ctx, sourceLoc.RemotePath)
	if err != nil {
		lease.Release(false)
		return false
	}
	data, readErr := io.ReadAll(r)
	r.Close()
	lease.Release(readErr != nil)
	if readErr != nil {
		return false
	}

	remotePath := transport.ChunkRemotePath(chunk.ID)
	sinkLease, err := e.Pool.Acquire(ctx, *sinkServer)
	if err != nil {
		return false
	}
	uploadErr := sinkLease.Client.Upload(ctx, remotePath, bytes.NewReader(data), int64(len(data)), nil)
	sinkLease.Release(uploadErr != nil)
	if uploadErr != nil {
		return false
	}

	chunk.AddLocation(manifest.Location{
		ServerID:     sink,
		RemotePath:   remotePath,
		UploadTime:   time.Now(),
		Verified:     true,
		LastVerified: time.Now(),
	})

	if chunk.ReplicaCount()-1 < e.ReplicationFactor {
		// Deleting the source would drop below R, so keep both copies.
		// That leaves the source just as overloaded as before this
		// call, so this is not a beneficial move: report false rather
		// than let the source keep accreting sink replicas up to
		// safetyLimit.
		return false
	}

	deleteLease, err := e.Pool.Acquire(ctx, *sourceServer)
	if err == nil {
		deleteLease.Client.Delete(ctx, sourceLoc.RemotePath)
		deleteLease.Release(false)
	}
	chunk.RemoveLocation(source)
	return true
}
