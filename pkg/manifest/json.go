package manifest

import (
	"encoding/json"
	"time"
)

// MarshalJSON writes upload_time/last_verified as whole seconds since
// the Unix epoch (spec.md §4.3 "Timestamps are seconds since the
// epoch"), not Go's default RFC3339 string.
func (l Location) MarshalJSON() ([]byte, error) {
	type alias Location
	return json.Marshal(struct {
		alias
		UploadTime   int64 `json:"upload_time"`
		LastVerified int64 `json:"last_verified"`
	}{
		alias:        alias(l),
		UploadTime:   l.UploadTime.Unix(),
		LastVerified: l.LastVerified.Unix(),
	})
}

// UnmarshalJSON reads upload_time/last_verified as epoch seconds.
func (l *Location) UnmarshalJSON(data []byte) error {
	type alias Location
	aux := struct {
		*alias
		UploadTime   int64 `json:"upload_time"`
		LastVerified int64 `json:"last_verified"`
	}{alias: (*alias)(l)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	l.UploadTime = time.Unix(aux.UploadTime, 0).UTC()
	l.LastVerified = time.Unix(aux.LastVerified, 0).UTC()
	return nil
}

// MarshalJSON writes created_timestamp as epoch seconds.
func (c Chunk) MarshalJSON() ([]byte, error) {
	type alias Chunk
	return json.Marshal(struct {
		alias
		CreatedAt int64 `json:"created_timestamp"`
	}{
		alias:     alias(c),
		CreatedAt: c.CreatedAt.Unix(),
	})
}

// UnmarshalJSON reads created_timestamp as epoch seconds.
func (c *Chunk) UnmarshalJSON(data []byte) error {
	type alias Chunk
	aux := struct {
		*alias
		CreatedAt int64 `json:"created_timestamp"`
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.CreatedAt = time.Unix(aux.CreatedAt, 0).UTC()
	return nil
}

// MarshalJSON writes created_timestamp/last_accessed/last_modified/
// last_verified as epoch seconds, matching the manifest JSON format
// that the original (time_t-based) implementation writes.
func (m Manifest) MarshalJSON() ([]byte, error) {
	type alias Manifest
	return json.Marshal(struct {
		alias
		CreatedTimestamp int64 `json:"created_timestamp"`
		LastAccessed     int64 `json:"last_accessed"`
		LastModified     int64 `json:"last_modified"`
		LastVerified     int64 `json:"last_verified"`
	}{
		alias:            alias(m),
		CreatedTimestamp: m.CreatedTimestamp.Unix(),
		LastAccessed:     m.LastAccessed.Unix(),
		LastModified:     m.LastModified.Unix(),
		LastVerified:     m.LastVerified.Unix(),
	})
}

// UnmarshalJSON reads the manifest's top-level timestamps as epoch
// seconds.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	type alias Manifest
	aux := struct {
		*alias
		CreatedTimestamp int64 `json:"created_timestamp"`
		LastAccessed     int64 `json:"last_accessed"`
		LastModified     int64 `json:"last_modified"`
		LastVerified     int64 `json:"last_verified"`
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.CreatedTimestamp = time.Unix(aux.CreatedTimestamp, 0).UTC()
	m.LastAccessed = time.Unix(aux.LastAccessed, 0).UTC()
	m.LastModified = time.Unix(aux.LastModified, 0).UTC()
	m.LastVerified = time.Unix(aux.LastVerified, 0).UTC()
	return nil
}
