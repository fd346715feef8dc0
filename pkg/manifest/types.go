// Package manifest implements the file manifest entity and its JSON
// codec, per spec.md §3/§4.3/§6. The manifest is the single source of
// truth for a file's chunk placement: no other index exists.
//
// Grounded on the teacher's pkg/content/manifest.go and types.go
// (BuildManifest/VerifyManifest), generalized from BLAKE3 CIDs over
// CBOR to SHA-256 hex digests over JSON per spec.md §3/§6.
package manifest

import "time"

// CurrentVersion is the manifest format version this package writes.
// Readers accept any version <= CurrentVersion (spec.md §4.3).
const CurrentVersion = 1

// Location is a single replica placement record for a chunk
// (spec.md §3 "Chunk"). UploadTime and LastVerified marshal to JSON as
// epoch seconds, not Go's default RFC3339 string — see json.go.
type Location struct {
	ServerID     string    `json:"server_id"`
	RemotePath   string    `json:"remote_path"`
	UploadTime   time.Time `json:"upload_time"`
	Verified     bool      `json:"verified"`
	LastVerified time.Time `json:"last_verified"`
}

// Chunk is a single content-addressed segment of a file
// (spec.md §3 "Chunk").
type Chunk struct {
	ID        string     `json:"id"`
	Sequence  int        `json:"sequence_number"`
	Size      int64      `json:"size"`
	Hash      string     `json:"hash"` // lower-case hex SHA-256
	CreatedAt time.Time  `json:"created_timestamp"`
	Locations []Location `json:"locations"`
}

// AddLocation appends a replica location, enforcing the "never two
// replicas of the same chunk on the same server" invariant
// (spec.md §3/§4.4). Returns false (no-op) if server_id is already
// present.
func (c *Chunk) AddLocation(loc Location) bool {
	for _, existing := range c.Locations {
		if existing.ServerID == loc.ServerID {
			return false
		}
	}
	c.Locations = append(c.Locations, loc)
	return true
}

// RemoveLocation drops the location for the given server_id, if
// present. Returns true if a location was removed.
func (c *Chunk) RemoveLocation(serverID string) bool {
	for i, loc := range c.Locations {
		if loc.ServerID == serverID {
			c.Locations = append(c.Locations[:i], c.Locations[i+1:]...)
			return true
		}
	}
	return false
}

// HasServer reports whether the chunk already has a replica on
// serverID.
func (c *Chunk) HasServer(serverID string) bool {
	for _, loc := range c.Locations {
		if loc.ServerID == serverID {
			return true
		}
	}
	return false
}

// ReplicaCount returns the number of recorded locations, i.e. the
// last-known replica count (not necessarily all currently healthy —
// see pkg/repair for health classification).
func (c *Chunk) ReplicaCount() int {
	return len(c.Locations)
}

// Manifest is the durable placement map for one logical file
// (spec.md §3 "File Manifest").
type Manifest struct {
	Version             int       `json:"version"`
	ManifestID          string    `json:"manifest_id"`
	OriginalFilename    string    `json:"original_filename"`
	TotalSize           int64     `json:"total_size"`
	ChunkSize           int64     `json:"chunk_size"`
	ChunkCount          int       `json:"chunk_count"`
	FileHash            string    `json:"file_hash"` // lower-case hex SHA-256
	CreatedTimestamp    time.Time `json:"created_timestamp"`
	LastAccessed        time.Time `json:"last_accessed"`
	LastModified        time.Time `json:"last_modified"`
	LastVerified        time.Time `json:"last_verified"`
	ReplicationFactor   int       `json:"replication_factor"`
	MinReplicasRequired int       `json:"min_replicas_required"`
	CreatorInfo         string    `json:"creator_info,omitempty"`
	Comment             string    `json:"comment,omitempty"`
	ContentType         string    `json:"content_type,omitempty"` // MIME type of the original file, informative only
	Chunks              []Chunk   `json:"chunks"`
}

// ChunkByID returns a pointer to the chunk with the given id, or nil.
func (m *Manifest) ChunkByID(id string) *Chunk {
	for i := range m.Chunks {
		if m.Chunks[i].ID == id {
			return &m.Chunks[i]
		}
	}
	return nil
}
