// Package orchestrator drives whole-file upload, download, and delete
// by composing pkg/chunker, pkg/placement, pkg/transport, and
// pkg/manifest, per spec.md §4.5.
//
// Grounded on pkg/content/fetcher.go's ContentFetcher: a
// semaphore-bounded concurrent fetch loop with mutex-guarded
// statistics and a "try every candidate, record the first success"
// replica-selection shape, generalized here from a single-provider
// required-fetch to replicated fan-out uploads (via errgroup) and
// ordered sequential download reconstruction.
package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/netchunk/netchunk/pkg/chunker"
	"github.com/netchunk/netchunk/pkg/config"
	"github.com/netchunk/netchunk/pkg/errs"
	"github.com/netchunk/netchunk/pkg/hashutil"
	"github.com/netchunk/netchunk/pkg/logging"
	"github.com/netchunk/netchunk/pkg/manifest"
	"github.com/netchunk/netchunk/pkg/placement"
	"github.com/netchunk/netchunk/pkg/transport"
)

// Stats reports what one upload/download/delete operation did, per
// spec.md §4.5 "Return statistics: bytes, chunk count, servers
// touched, retries incurred."
type Stats struct {
	mu             sync.Mutex
	Bytes          int64
	ChunkCount     int
	ServersTouched map[string]bool
	Retries        int
}

func newStats() *Stats {
	return &Stats{ServersTouched: make(map[string]bool)}
}

func (s *Stats) touch(serverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ServersTouched[serverID] = true
}

func (s *Stats) addBytes(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Bytes += n
}

func (s *Stats) addRetries(n int) {
	if n == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Retries += n
}

// ServerCount returns how many distinct servers were touched.
func (s *Stats) ServerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ServersTouched)
}

// Orchestrator holds the wiring shared by every operation: the server
// set, connection pool, replication factor, and retry policy.
type Orchestrator struct {
	Pool              *transport.Pool
	Servers           []*config.ServerDescriptor
	ReplicationFactor int
	MinReplicas       int
	ChunkSize         int64
	RetryPolicy       transport.RetryPolicy
	Log               *logging.Logger
}

// New builds an Orchestrator from a loaded configuration and a dialer
// (transport.DialFTP in production, fakeftp.Dial in tests).
func New(cfg *config.Config, dial transport.Dialer, log *logging.Logger) *Orchestrator {
	if log == nil {
		log = logging.Discard()
	}
	return &Orchestrator{
		Pool:              transport.NewPool(dial, cfg.General.FTPTimeout, cfg.General.MaxConcurrentOperations),
		Servers:           cfg.Servers,
		ReplicationFactor: cfg.General.ReplicationFactor,
		MinReplicas:       cfg.MinReplicasFor(),
		ChunkSize:         cfg.General.ChunkSize,
		RetryPolicy:       transport.DefaultRetryPolicy(),
		Log:               log,
	}
}

// Upload implements spec.md §4.5 "Upload": chunk, place, fan out
// replica uploads per chunk, then persist the manifest to every
// reachable server.
func (o *Orchestrator) Upload(ctx context.Context, localPath, remoteName string) (*manifest.Manifest, *Stats, error) {
	stats := newStats()

	c, err := chunker.Open(localPath, o.ChunkSize)
	if err != nil {
		return nil, stats, err
	}
	defer c.Close()

	m := &manifest.Manifest{
		Version:             manifest.CurrentVersion,
		ManifestID:          remoteName,
		OriginalFilename:    remoteName,
		TotalSize:           c.TotalSize(),
		ChunkSize:           o.ChunkSize,
		ChunkCount:          c.ChunkCount(),
		FileHash:            c.FileHash(),
		CreatedTimestamp:    time.Now(),
		ReplicationFactor:   o.ReplicationFactor,
		MinReplicasRequired: o.MinReplicas,
		ContentType:         contentTypeOf(localPath),
	}

	perServerChunkCount := make(map[string]int)

	for {
		chk, ok, err := c.Next()
		if err != nil {
			return nil, stats, err
		}
		if !ok {
			break
		}

		mChunk := manifest.Chunk{
			ID:        chk.ID,
			Sequence:  chk.Sequence,
			Size:      chk.Size,
			Hash:      chk.Hash,
			CreatedAt: time.Now(),
		}

		candidates := o.candidatesFor(perServerChunkCount, nil)
		targets, placeErr := placement.Choose(candidates, o.ReplicationFactor)
		if placeErr != nil && len(targets) == 0 {
			return nil, stats, errs.New(errs.UploadFailed, "no eligible servers for chunk "+chk.ID, placeErr)
		}

		locations, uploadErr := o.uploadReplicas(ctx, chk, targets, stats)
		if uploadErr != nil {
			return nil, stats, uploadErr
		}
		if len(locations) == 0 {
			return nil, stats, errs.New(errs.UploadFailed,
				fmt.Sprintf("all replica uploads failed for chunk %s", chk.ID), nil)
		}

		for _, loc := range locations {
			mChunk.AddLocation(loc)
			perServerChunkCount[loc.ServerID]++
		}

		m.Chunks = append(m.Chunks, mChunk)
		stats.ChunkCount++
	}

	if err := manifest.Validate(m); err != nil {
		return nil, stats, err
	}

	if err := o.persistManifest(ctx, m, stats); err != nil {
		return nil, stats, err
	}

	return m, stats, nil
}

// contentTypeOf derives an informative (non-normative) MIME type from
// localPath's extension, mirroring pkg/content/manifest.go's
// BuildManifest determination of Manifest.ContentType/Filename.
func contentTypeOf(localPath string) string {
	ext := filepath.Ext(localPath)
	if ext == "" {
		return ""
	}
	return mime.TypeByExtension(ext)
}

// candidatesFor builds placement.Candidate rows for every configured
// server, excluding those already holding this chunk (existingLocs may
// be nil for a brand-new chunk).
func (o *Orchestrator) candidatesFor(perServerChunkCount map[string]int, existingLocs map[string]bool) []placement.Candidate {
	out := make([]placement.Candidate, 0, len(o.Servers))
	for _, s := range o.Servers {
		out = append(out, placement.Candidate{
			Server:         *s,
			AlreadyHolding: existingLocs[s.ServerID],
			ChunksOnServer: perServerChunkCount[s.ServerID],
		})
	}
	return out
}

// uploadReplicas fans out one upload per target server concurrently,
// returning a location for every success. A failed replica is logged
// and excluded, never fatal on its own (spec.md §4.5: fails only if
// successful_replicas == 0).
func (o *Orchestrator) uploadReplicas(ctx context.Context, chk chunker.Chunk, targets []config.ServerDescriptor, stats *Stats) ([]manifest.Location, error) {
	var mu sync.Mutex
	var locations []manifest.Location

	g, gctx := errgroup.WithContext(ctx)
	for _, target := range targets {
		target := target
		g.Go(func() error {
			remotePath := transport.ChunkRemotePath(chk.ID)
			var retries transport.Retries
			err := transport.Do(gctx, o.RetryPolicy, &retries, func() error {
				lease, err := o.Pool.Acquire(gctx, target)
				if err != nil {
					return err
				}
				uploadErr := lease.Client.Upload(gctx, remotePath, bytes.NewReader(chk.Data), chk.Size, nil)
				lease.Release(uploadErr != nil && !errs.IsRetryable(uploadErr))
				return uploadErr
			})
			stats.addRetries(retries.Count)

			if err != nil {
				o.Log.Warnf("upload of chunk %s to server %s failed: %v", chk.ID, target.ServerID, err)
				return nil // non-fatal: this replica simply doesn't exist
			}

			stats.touch(target.ServerID)
			stats.addBytes(chk.Size)

			mu.Lock()
			locations = append(locations, manifest.Location{
				ServerID:   target.ServerID,
				RemotePath: remotePath,
				UploadTime: time.Now(),
				Verified:   true,
			})
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return locations, nil
}

// persistManifest writes m to every configured server's manifest path,
// best effort; succeeds if at least one write lands (spec.md §4.5).
func (o *Orchestrator) persistManifest(ctx context.Context, m *manifest.Manifest, stats *Stats) error {
	data, err := manifest.Marshal(m)
	if err != nil {
		return err
	}

	var successes int32Safe
	var wg sync.WaitGroup
	for _, s := range o.Servers {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			remotePath := transport.ManifestRemotePath(m.OriginalFilename)
			err := transport.Do(ctx, o.RetryPolicy, nil, func() error {
				lease, err := o.Pool.Acquire(ctx, *s)
				if err != nil {
					return err
				}
				uploadErr := lease.Client.Upload(ctx, remotePath, bytes.NewReader(data), int64(len(data)), nil)
				lease.Release(uploadErr != nil && !errs.IsRetryable(uploadErr))
				return uploadErr
			})
			if err != nil {
				o.Log.Warnf("manifest write to server %s failed: %v", s.ServerID, err)
				return
			}
			stats.touch(s.ServerID)
			successes.inc()
		}()
	}
	wg.Wait()

	if successes.get() == 0 {
		return errs.New(errs.UploadFailed, "manifest could not be written to any server", nil)
	}
	return nil
}

// int32Safe is a tiny mutex-guarded counter; sync/atomic would work
// too, but this matches the mutex-guarded-stats style used throughout
// this package.
type int32Safe struct {
	mu sync.Mutex
	n  int
}

func (c *int32Safe) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *int32Safe) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Download implements spec.md §4.5 "Download": fetch the manifest from
// any responding server, then reconstruct chunks sequentially,
// verifying each replica's hash before accepting it.
func (o *Orchestrator) Download(ctx context.Context, remoteName, localPath string) (*Stats, error) {
	stats := newStats()

	m, err := o.fetchManifest(ctx, remoteName, stats)
	if err != nil {
		return stats, err
	}

	out, err := os.Create(localPath)
	if err != nil {
		return stats, errs.New(errs.FileAccess, "failed to create output file: "+localPath, err)
	}

	if err := o.reconstructChunks(ctx, m, out, stats); err != nil {
		out.Close()
		os.Remove(localPath)
		return stats, err
	}

	if err := out.Close(); err != nil {
		os.Remove(localPath)
		return stats, errs.New(errs.Io, "failed to close output file", err)
	}

	return stats, nil
}

// FetchManifest fetches and validates the manifest for remoteName,
// for callers (e.g. the verify/repair CLI path) that need the
// manifest itself rather than a reconstructed file.
func (o *Orchestrator) FetchManifest(ctx context.Context, remoteName string) (*manifest.Manifest, error) {
	return o.fetchManifest(ctx, remoteName, newStats())
}

// PersistManifest writes m to every configured server, best effort,
// for callers that mutated a manifest obtained via FetchManifest (the
// repair engine's AutoRepair/Rebalance).
func (o *Orchestrator) PersistManifest(ctx context.Context, m *manifest.Manifest) error {
	return o.persistManifest(ctx, m, newStats())
}

func (o *Orchestrator) fetchManifest(ctx context.Context, remoteName string, stats *Stats) (*manifest.Manifest, error) {
	remotePath := transport.ManifestRemotePath(remoteName)

	for _, s := range o.Servers {
		lease, err := o.Pool.Acquire(ctx, *s)
		if err != nil {
			continue
		}
		r, err := lease.Client.Download(ctx, remotePath)
		if err != nil {
			lease.Release(false)
			continue
		}
		data, readErr := io.ReadAll(r)
		r.Close()
		lease.Release(false)
		if readErr != nil {
			continue
		}

		m, parseErr := manifest.Unmarshal(data)
		if parseErr != nil {
			continue
		}
		stats.touch(s.ServerID)
		return m, nil
	}

	return nil, errs.New(errs.DownloadFailed, "manifest "+remoteName+" not found on any server", nil)
}

// reconstructChunks writes chunks to out in sequence order, trying
// every recorded location until one verifies.
func (o *Orchestrator) reconstructChunks(ctx context.Context, m *manifest.Manifest, out io.Writer, stats *Stats) error {
	for _, chunk := range m.Chunks {
		data, err := o.fetchVerifiedChunk(ctx, chunk, stats)
		if err != nil {
			return errs.New(errs.DownloadFailed,
				fmt.Sprintf("no verified replica available for chunk %s (sequence %d)", chunk.ID, chunk.Sequence), err)
		}
		if _, err := out.Write(data); err != nil {
			return errs.New(errs.Io, "failed to write reconstructed chunk to output file", err)
		}
		stats.addBytes(int64(len(data)))
		stats.ChunkCount++
	}
	return nil
}

func (o *Orchestrator) fetchVerifiedChunk(ctx context.Context, chunk manifest.Chunk, stats *Stats) ([]byte, error) {
	var lastErr error
	for _, loc := range chunk.Locations {
		server := o.serverByID(loc.ServerID)
		if server == nil {
			continue
		}

		var data []byte
		var retries transport.Retries
		err := transport.Do(ctx, o.RetryPolicy, &retries, func() error {
			lease, err := o.Pool.Acquire(ctx, *server)
			if err != nil {
				return err
			}
			r, err := lease.Client.Download(ctx, loc.RemotePath)
			if err != nil {
				lease.Release(!errs.IsRetryable(err))
				return err
			}
			buf, readErr := io.ReadAll(r)
			r.Close()
			lease.Release(readErr != nil)
			if readErr != nil {
				return errs.New(errs.Io, "failed to read chunk body", readErr)
			}
			data = buf
			return nil
		})
		stats.addRetries(retries.Count)

		if err != nil {
			lastErr = err
			continue
		}

		if !hashutil.Verify(data, chunk.Hash) {
			lastErr = errs.New(errs.ChunkIntegrity, "chunk hash mismatch on server "+loc.ServerID, nil)
			continue
		}

		stats.touch(loc.ServerID)
		return data, nil
	}
	return nil, lastErr
}

func (o *Orchestrator) serverByID(id string) *config.ServerDescriptor {
	for _, s := range o.Servers {
		if s.ServerID == id {
			return s
		}
	}
	return nil
}

// ServerHealth is one server's outcome from HealthCheck.
type ServerHealth struct {
	ServerID  string
	Reachable bool
	Latency   time.Duration
	Err       error
}

// HealthCheck pings every configured server and updates its
// ServerDescriptor.Status/LastLatency in place, per spec.md §6
// "general.health_monitoring_enabled/health_check_interval". Probing
// happens here (not at config load) because Status "is mutated by
// health probes, not by configuration loading" (pkg/config doc).
func (o *Orchestrator) HealthCheck(ctx context.Context) []ServerHealth {
	results := make([]ServerHealth, len(o.Servers))
	for i, s := range o.Servers {
		lease, err := o.Pool.Acquire(ctx, *s)
		if err != nil {
			s.Status = config.HealthUnreachable
			results[i] = ServerHealth{ServerID: s.ServerID, Err: err}
			continue
		}
		latency, err := lease.Client.Ping(ctx)
		lease.Release(err != nil)
		if err != nil {
			s.Status = config.HealthUnreachable
			results[i] = ServerHealth{ServerID: s.ServerID, Err: err}
			continue
		}
		s.Status = config.HealthHealthy
		s.LastLatency = latency
		results[i] = ServerHealth{ServerID: s.ServerID, Reachable: true, Latency: latency}
	}
	return results
}

// ListManifests implements spec.md §4.2 "list_manifests enumerates
// that directory on any responsive server and unions results
// (deduplicated by remote_name)". Every reachable server is probed so
// a manifest visible only on one replica of the fleet is still
// reported; per-server listing failures are logged, not fatal.
func (o *Orchestrator) ListManifests(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	reached := 0

	for _, s := range o.Servers {
		lease, err := o.Pool.Acquire(ctx, *s)
		if err != nil {
			o.Log.Warnf("list_manifests: could not reach %s: %v", s.ServerID, err)
			continue
		}
		entries, err := lease.Client.List(ctx, "manifests")
		lease.Release(err != nil && !errs.IsRetryable(err))
		if err != nil {
			o.Log.Warnf("list_manifests: listing failed on %s: %v", s.ServerID, err)
			continue
		}

		reached++
		for _, e := range entries {
			if e.IsDir {
				continue
			}
			name := strings.TrimSuffix(e.Name, ".manifest")
			if name == e.Name || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}

	if reached == 0 {
		return nil, errs.New(errs.DownloadFailed, "list_manifests: no server responded", nil)
	}
	sort.Strings(names)
	return names, nil
}

// Delete implements spec.md §4.5 "Delete": best-effort delete every
// chunk replica, then the manifest, from every server.
func (o *Orchestrator) Delete(ctx context.Context, remoteName string) error {
	stats := newStats()
	m, err := o.fetchManifest(ctx, remoteName, stats)
	if err != nil {
		return err
	}

	failures := errs.NewMultiError()
	var failuresMu sync.Mutex
	recordFailure := func(err error) {
		failuresMu.Lock()
		failures.Add(err)
		failuresMu.Unlock()
	}

	var wg sync.WaitGroup
	for _, chunk := range m.Chunks {
		for _, loc := range chunk.Locations {
			loc := loc
			server := o.serverByID(loc.ServerID)
			if server == nil {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				lease, err := o.Pool.Acquire(ctx, *server)
				if err != nil {
					recordFailure(fmt.Errorf("acquire %s: %w", server.ServerID, err))
					return
				}
				if err := lease.Client.Delete(ctx, loc.RemotePath); err != nil {
					recordFailure(fmt.Errorf("delete replica %s on %s: %w", loc.RemotePath, server.ServerID, err))
				}
				lease.Release(false)
			}()
		}
	}
	wg.Wait()

	remotePath := transport.ManifestRemotePath(remoteName)
	for _, s := range o.Servers {
		lease, err := o.Pool.Acquire(ctx, *s)
		if err != nil {
			recordFailure(fmt.Errorf("acquire %s: %w", s.ServerID, err))
			continue
		}
		if err := lease.Client.Delete(ctx, remotePath); err != nil {
			recordFailure(fmt.Errorf("delete manifest on %s: %w", s.ServerID, err))
		}
		lease.Release(false)
	}

	// Best-effort deletes are never fatal (spec.md §4.5): log the
	// aggregated failures at WARN and report success regardless.
	if failures.Len() > 0 {
		o.Log.Warnf("delete completed with %d non-fatal failures: %v", failures.Len(), failures.ErrorOrNil())
	}
	return nil
}
