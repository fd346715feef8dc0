// Package placement implements the target-server selection policy of
// spec.md §4.4: for each new chunk replica, pick R distinct, healthy
// servers not already holding the chunk, load-balanced by current
// per-file chunk count and tie-broken by latency, priority, then
// server_id.
//
// The teacher has no multi-replica placement concern of its own
// (BeeNet resolves a single DHT provider per fetch); this package is
// new, written in the small-pure-function-over-a-slice style of
// pkg/content/provider.go's record-selection helpers.
package placement

import (
	"sort"

	"github.com/netchunk/netchunk/pkg/config"
	"github.com/netchunk/netchunk/pkg/errs"
)

// Candidate is one server under consideration for a new placement.
type Candidate struct {
	Server         config.ServerDescriptor
	AlreadyHolding bool // already has a replica of this chunk
	ChunksOnServer int  // current chunk count for this file on this server (load balance)
}

// Choose selects up to want distinct servers from candidates for one
// chunk replica set, applying spec.md §4.4's policy:
//  1. never a server already holding this chunk
//  2. never a server whose last health probe failed
//  3. prefer fewer chunks of this file already placed
//  4. tie-break: lower latency, then higher priority, then
//     lexicographic server_id
//
// If fewer than want eligible servers exist, Choose returns all of
// them plus errs.InsufficientServers so the caller can decide whether
// a partial placement is acceptable (spec.md §4.4's "surface
// InsufficientServers to the orchestrator").
func Choose(candidates []Candidate, want int) ([]config.ServerDescriptor, error) {
	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.AlreadyHolding {
			continue
		}
		if c.Server.Status == config.HealthUnreachable {
			continue
		}
		eligible = append(eligible, c)
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.ChunksOnServer != b.ChunksOnServer {
			return a.ChunksOnServer < b.ChunksOnServer
		}
		if a.Server.LastLatency != b.Server.LastLatency {
			return a.Server.LastLatency < b.Server.LastLatency
		}
		if a.Server.Priority != b.Server.Priority {
			return a.Server.Priority > b.Server.Priority
		}
		return a.Server.ServerID < b.Server.ServerID
	})

	n := want
	if n > len(eligible) {
		n = len(eligible)
	}

	chosen := make([]config.ServerDescriptor, 0, n)
	for i := 0; i < n; i++ {
		chosen = append(chosen, eligible[i].Server)
	}

	if len(chosen) < want {
		return chosen, errs.New(errs.InsufficientServers,
			"fewer eligible servers than replication factor", nil)
	}
	return chosen, nil
}
