// Package repair implements the health probe, classification, and
// auto-repair/rebalance engine of spec.md §4.6.
//
// Grounded on pkg/content/integrity.go's VerifyContentIntegrity /
// VerifyReconstructedFile report shape (a structured per-chunk result
// list plus an aggregate summary) and on pkg/content/fetcher.go's
// concurrent-fan-out-with-mutex-guarded-results pattern, generalized
// from single-provider content fetch to per-replica probing across a
// chunk's recorded locations.
package repair

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/netchunk/netchunk/pkg/config"
	"github.com/netchunk/netchunk/pkg/errs"
	"github.com/netchunk/netchunk/pkg/hashutil"
	"github.com/netchunk/netchunk/pkg/logging"
	"github.com/netchunk/netchunk/pkg/manifest"
	"github.com/netchunk/netchunk/pkg/placement"
	"github.com/netchunk/netchunk/pkg/transport"
)

// Health is the chunk health classification of spec.md §4.6's table.
type Health int

const (
	Lost Health = iota
	Critical
	Degraded
	Healthy
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "HEALTHY"
	case Degraded:
		return "DEGRADED"
	case Critical:
		return "CRITICAL"
	default:
		return "LOST"
	}
}

// Classify maps a healthy-replica count against the replication
// factor R to spec.md §4.6's table.
func Classify(healthyReplicas, r int) Health {
	switch {
	case healthyReplicas >= r:
		return Healthy
	case healthyReplicas >= 2:
		return Degraded
	case healthyReplicas == 1:
		return Critical
	default:
		return Lost
	}
}

// ReplicaProbe is the per-location outcome of one health probe.
type ReplicaProbe struct {
	ServerID  string
	Reachable bool
	Corrupt   bool // downloaded successfully but hash mismatched
	Healthy   bool // Reachable && !Corrupt
}

// ChunkReport is the probe outcome for one chunk.
type ChunkReport struct {
	ChunkID  string
	Sequence int
	Health   Health
	Replicas []ReplicaProbe
}

// Report aggregates a verify pass over a whole manifest.
type Report struct {
	Chunks        []ChunkReport
	ChunksByHealth map[Health]int
}

// Engine drives probing, auto-repair, and rebalance. It shares the
// orchestrator's transport pool and server set so a repair session
// reuses already-open connections.
type Engine struct {
	Pool              *transport.Pool
	Servers           []*config.ServerDescriptor
	ReplicationFactor int
	RetryPolicy       transport.RetryPolicy
	Log               *logging.Logger
}

// New builds a repair Engine over an already-constructed pool.
func New(pool *transport.Pool, servers []*config.ServerDescriptor, replicationFactor int, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Discard()
	}
	return &Engine{
		Pool:              pool,
		Servers:           servers,
		ReplicationFactor: replicationFactor,
		RetryPolicy:       transport.DefaultRetryPolicy(),
		Log:               log,
	}
}

func (e *Engine) serverByID(id string) *config.ServerDescriptor {
	for _, s := range e.Servers {
		if s.ServerID == id {
			return s
		}
	}
	return nil
}

// Verify probes every recorded replica of every chunk in m and
// classifies each chunk's health. It never mutates the manifest or
// remote state (spec.md §4.6 "Verify mode. Health probe only; no
// mutation.").
func (e *Engine) Verify(ctx context.Context, m *manifest.Manifest) *Report {
	report := &Report{ChunksByHealth: make(map[Health]int)}

	for _, chunk := range m.Chunks {
		cr := e.probeChunk(ctx, chunk)
		report.Chunks = append(report.Chunks, cr)
		report.ChunksByHealth[cr.Health]++
	}
	return report
}

func (e *Engine) probeChunk(ctx context.Context, chunk manifest.Chunk) ChunkReport {
	probes := make([]ReplicaProbe, len(chunk.Locations))

	var wg sync.WaitGroup
	for i, loc := range chunk.Locations {
		i, loc := i, loc
		wg.Add(1)
		go func() {
			defer wg.Done()
			probes[i] = e.probeReplica(ctx, chunk.Hash, loc)
		}()
	}
	wg.Wait()

	healthy := 0
	for _, p := range probes {
		if p.Healthy {
			healthy++
		}
	}

	return ChunkReport{
		ChunkID:  chunk.ID,
		Sequence: chunk.Sequence,
		Health:   Classify(healthy, e.ReplicationFactor),
		Replicas: probes,
	}
}

// probeReplica downloads one replica and checks its hash. A reachable
// server that fails to reach us (network error) is NOT corruption —
// only a successful download with a bad hash marks corruption
// (spec.md §4.6).
func (e *Engine) probeReplica(ctx context.Context, wantHash string, loc manifest.Location) ReplicaProbe {
	server := e.serverByID(loc.ServerID)
	if server == nil {
		return ReplicaProbe{ServerID: loc.ServerID}
	}

	lease, err := e.Pool.Acquire(ctx, *server)
	if err != nil {
		return ReplicaProbe{ServerID: loc.ServerID}
	}

	r, err := lease.Client.Download(ctx, loc.RemotePath)
	if err != nil {
		lease.Release(false)
		return ReplicaProbe{ServerID: loc.ServerID}
	}

	data, readErr := io.ReadAll(r)
	r.Close()
	lease.Release(readErr != nil)
	if readErr != nil {
		return ReplicaProbe{ServerID: loc.ServerID}
	}

	if !hashutil.Verify(data, wantHash) {
		return ReplicaProbe{ServerID: loc.ServerID, Reachable: true, Corrupt: true}
	}

	return ReplicaProbe{ServerID: loc.ServerID, Reachable: true, Healthy: true}
}

// RepairResult summarizes one auto-repair/force pass.
type RepairResult struct {
	ChunksVerified int
	ChunksRepaired int
	LostChunks     []string
}

// AutoRepair runs the spec.md §4.6 cleanup+refill cycle over every
// non-HEALTHY, non-LOST chunk: corrupted replicas are deleted from
// their server and dropped from the manifest, then the placement
// engine is asked for enough additional targets to reach R, using a
// verified-healthy replica as the upload source. LOST chunks are
// reported but never mutated, so replicas that return later can still
// be reintegrated. If force is true, every chunk is re-probed and
// replicas are re-uploaded even where they already look healthy.
func (e *Engine) AutoRepair(ctx context.Context, m *manifest.Manifest, force bool) (*RepairResult, error) {
	result := &RepairResult{}
	perServerChunkCount := e.countChunksPerServer(m)
	mutated := false
	failures := errs.NewMultiError()

	for ci := range m.Chunks {
		chunk := &m.Chunks[ci]
		cr := e.probeChunk(ctx, *chunk)
		result.ChunksVerified++

		if cr.Health == Lost {
			result.LostChunks = append(result.LostChunks, chunk.ID)
			continue
		}
		if cr.Health == Healthy && !force {
			continue
		}

		healthySource, sourceData := e.pickHealthySource(ctx, *chunk, cr)
		if healthySource == "" {
			continue // nothing to refill from; leave state intact
		}

		cleanedServers := e.cleanupCorrupted(ctx, chunk, cr)
		if len(cleanedServers) > 0 {
			mutated = true
		}

		needed := e.ReplicationFactor - chunk.ReplicaCount()
		if force {
			needed = e.ReplicationFactor
		}
		if needed <= 0 {
			continue
		}

		added, refillErrs := e.refill(ctx, chunk, sourceData, needed, perServerChunkCount, force, cleanedServers)
		for _, rerr := range refillErrs {
			failures.Add(rerr)
		}
		if added > 0 {
			mutated = true
			result.ChunksRepaired++
		}
	}

	if mutated {
		m.LastVerified = time.Now()
	}
	// Refill failures are never fatal to the repair pass as a whole
	// (spec.md §4.6 "prefers to report DEGRADED and leave state
	// intact"); aggregate and log them instead of returning an error.
	if failures.Len() > 0 {
		e.Log.Warnf("auto-repair completed with %d non-fatal refill failures: %v", failures.Len(), failures.ErrorOrNil())
	}
	return result, nil
}

func (e *Engine) countChunksPerServer(m *manifest.Manifest) map[string]int {
	counts := make(map[string]int)
	for _, c := range m.Chunks {
		for _, loc := range c.Locations {
			counts[loc.ServerID]++
		}
	}
	return counts
}

// pickHealthySource returns a verified-healthy replica's server id and
// its downloaded payload, used both as the refill source and as proof
// that a deletion elsewhere is safe.
func (e *Engine) pickHealthySource(ctx context.Context, chunk manifest.Chunk, cr ChunkReport) (string, []byte) {
	for i, probe := range cr.Replicas {
		if !probe.Healthy {
			continue
		}
		loc := chunk.Locations[i]
		server := e.serverByID(loc.ServerID)
		if server == nil {
			continue
		}
		lease, err := e.Pool.Acquire(ctx, *server)
		if err != nil {
			continue
		}
		r, err := lease.Client.Download(ctx, loc.RemotePath)
		if err != nil {
			lease.Release(false)
			continue
		}
		data, readErr := io.ReadAll(r)
		r.Close()
		lease.Release(readErr != nil)
		if readErr != nil {
			continue
		}
		return loc.ServerID, data
	}
	return "", nil
}

// cleanupCorrupted deletes any replica that downloaded with a bad hash
// from its server and drops its location from the manifest, returning
// the server ids it cleaned. It never removes the last known-good
// replica (spec.md §4.6 "Failure semantics").
func (e *Engine) cleanupCorrupted(ctx context.Context, chunk *manifest.Chunk, cr ChunkReport) []string {
	var cleaned []string
	for _, probe := range cr.Replicas {
		if !probe.Corrupt {
			continue
		}
		server := e.serverByID(probe.ServerID)
		if server != nil {
			loc := findLocation(chunk, probe.ServerID)
			if loc != nil {
				lease, err := e.Pool.Acquire(ctx, *server)
				if err == nil {
					lease.Client.Delete(ctx, loc.RemotePath)
					lease.Release(false)
				}
			}
		}
		chunk.RemoveLocation(probe.ServerID)
		cleaned = append(cleaned, probe.ServerID)
	}
	return cleaned
}

func findLocation(chunk *manifest.Chunk, serverID string) *manifest.Location {
	for i := range chunk.Locations {
		if chunk.Locations[i].ServerID == serverID {
			return &chunk.Locations[i]
		}
	}
	return nil
}

// refill uploads sourceData to up to `needed` additional targets
// chosen by the placement engine, appending a location for each
// success. In force mode, targets already holding the chunk are
// re-uploaded to instead of skipped. excludeServers holds servers
// just cleaned up in this same pass, kept out of the refill so a
// chunk is never immediately re-placed back onto the replica that was
// just found corrupted.
func (e *Engine) refill(ctx context.Context, chunk *manifest.Chunk, sourceData []byte, needed int, perServerChunkCount map[string]int, force bool, excludeServers []string) (int, []error) {
	excluded := make(map[string]bool, len(excludeServers))
	for _, id := range excludeServers {
		excluded[id] = true
	}

	candidates := make([]placement.Candidate, 0, len(e.Servers))
	for _, s := range e.Servers {
		candidates = append(candidates, placement.Candidate{
			Server:         *s,
			AlreadyHolding: excluded[s.ServerID] || (!force && chunk.HasServer(s.ServerID)),
			ChunksOnServer: perServerChunkCount[s.ServerID],
		})
	}

	targets, _ := placement.Choose(candidates, needed)
	added := 0
	var failures []error
	for _, target := range targets {
		remotePath := transport.ChunkRemotePath(chunk.ID)
		err := transport.Do(ctx, e.RetryPolicy, nil, func() error {
			lease, err := e.Pool.Acquire(ctx, target)
			if err != nil {
				return err
			}
			uploadErr := lease.Client.Upload(ctx, remotePath, bytes.NewReader(sourceData), int64(len(sourceData)), nil)
			lease.Release(uploadErr != nil && !errs.IsRetryable(uploadErr))
			return uploadErr
		})
		if err != nil {
			failures = append(failures, fmt.Errorf("refill upload of chunk %s to %s: %w", chunk.ID, target.ServerID, err))
			continue
		}

		chunk.RemoveLocation(target.ServerID) // in force mode, replace any stale location
		chunk.AddLocation(manifest.Location{
			ServerID:     target.ServerID,
			RemotePath:   remotePath,
			UploadTime:   time.Now(),
			Verified:     true,
			LastVerified: time.Now(),
		})
		perServerChunkCount[target.ServerID]++
		added++
	}
	return added, failures
}
