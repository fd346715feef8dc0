package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/netchunk/netchunk/pkg/errs"
)

// Marshal serializes a manifest to its canonical JSON wire form
// (spec.md §6 "Manifest JSON").
func Marshal(m *Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, errs.New(errs.ManifestCorrupt, "failed to marshal manifest", err)
	}
	return data, nil
}

// Unmarshal parses JSON into a Manifest, then validates it against the
// invariants of spec.md §3. Unknown fields are ignored for forward
// compatibility; missing required fields or invariant violations yield
// ManifestCorrupt.
func Unmarshal(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errs.New(errs.ManifestCorrupt, "failed to parse manifest JSON", err)
	}

	if err := requireFields(&m); err != nil {
		return nil, err
	}

	if m.Version > CurrentVersion {
		return nil, errs.New(errs.ManifestCorrupt,
			fmt.Sprintf("manifest version %d is newer than supported version %d", m.Version, CurrentVersion), nil)
	}

	if err := Validate(&m); err != nil {
		return nil, err
	}

	return &m, nil
}

// requireFields checks that fields with no safe zero-value default are
// actually present, per spec.md §4.3 "missing required fields cause
// ManifestCorrupt".
func requireFields(m *Manifest) error {
	if m.ManifestID == "" {
		return errs.New(errs.ManifestCorrupt, "manifest missing manifest_id", nil)
	}
	if m.FileHash == "" {
		return errs.New(errs.ManifestCorrupt, "manifest missing file_hash", nil)
	}
	if m.Version == 0 {
		return errs.New(errs.ManifestCorrupt, "manifest missing version", nil)
	}
	return nil
}

// Validate asserts the §3 invariants of a manifest:
//   - chunk_count == ceil(total_size / chunk_size)
//   - sum(chunks[i].size) == total_size
//   - chunks[i].sequence == i for all i (dense 0-based sequence)
//   - min_replicas_required <= replication_factor
//   - chunk_size within configured bounds is NOT checked here (that is
//     a config.Validate concern); only internal self-consistency is.
func Validate(m *Manifest) error {
	if m.ChunkSize <= 0 {
		return errs.New(errs.ManifestCorrupt, "chunk_size must be positive", nil)
	}

	expectedCount := int((m.TotalSize + m.ChunkSize - 1) / m.ChunkSize)
	if m.TotalSize == 0 {
		expectedCount = 0
	}
	if m.ChunkCount != expectedCount {
		return errs.New(errs.ManifestCorrupt,
			fmt.Sprintf("chunk_count mismatch: manifest says %d, expected %d from total_size/chunk_size", m.ChunkCount, expectedCount), nil)
	}

	if len(m.Chunks) != m.ChunkCount {
		return errs.New(errs.ManifestCorrupt,
			fmt.Sprintf("chunk_count mismatch: manifest says %d, has %d chunk entries", m.ChunkCount, len(m.Chunks)), nil)
	}

	var totalSize int64
	for i, c := range m.Chunks {
		if c.Sequence != i {
			return errs.New(errs.ManifestCorrupt,
				fmt.Sprintf("chunk at index %d has sequence %d, expected %d", i, c.Sequence, i), nil)
		}
		if c.Size <= 0 {
			return errs.New(errs.ManifestCorrupt, fmt.Sprintf("chunk %d has non-positive size", i), nil)
		}
		if c.Hash == "" {
			return errs.New(errs.ManifestCorrupt, fmt.Sprintf("chunk %d missing hash", i), nil)
		}

		locServers := make(map[string]bool, len(c.Locations))
		for _, loc := range c.Locations {
			if locServers[loc.ServerID] {
				return errs.New(errs.ManifestCorrupt,
					fmt.Sprintf("chunk %d has duplicate location for server %s", i, loc.ServerID), nil)
			}
			locServers[loc.ServerID] = true
		}

		totalSize += c.Size
	}

	if totalSize != m.TotalSize {
		return errs.New(errs.ManifestCorrupt,
			fmt.Sprintf("total_size mismatch: manifest says %d, chunks sum to %d", m.TotalSize, totalSize), nil)
	}

	if m.MinReplicasRequired > m.ReplicationFactor {
		return errs.New(errs.ManifestCorrupt, "min_replicas_required exceeds replication_factor", nil)
	}

	return nil
}
