package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorStatsRecordsByKindAndServer(t *testing.T) {
	stats := NewErrorStats()
	stats.Record(New(Network, "dial failed", nil).WithServer("server_1"))
	stats.Record(New(Network, "dial failed", nil).WithServer("server_1"))
	stats.Record(New(Timeout, "ping timed out", nil).WithServer("server_2"))

	assert.Equal(t, uint64(3), stats.Total())
	assert.Equal(t, uint64(2), stats.ByKind[Network])
	assert.Equal(t, uint64(1), stats.ByKind[Timeout])

	worst, n := stats.MostProblematicServer()
	assert.Equal(t, "server_1", worst)
	assert.Equal(t, uint64(2), n)
}

func TestErrorStatsIgnoresNil(t *testing.T) {
	stats := NewErrorStats()
	stats.Record(nil)
	assert.Equal(t, uint64(0), stats.Total())
}

func TestErrorStatsRecordsPlainErrorsAsUnknown(t *testing.T) {
	stats := NewErrorStats()
	stats.Record(errors.New("boom"))
	assert.Equal(t, uint64(1), stats.ByKind[Unknown])
}

func TestErrorStatsEmptyHasNoProblematicServer(t *testing.T) {
	stats := NewErrorStats()
	worst, n := stats.MostProblematicServer()
	assert.Equal(t, "", worst)
	assert.Equal(t, uint64(0), n)
}
