package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsRetryableFromKind(t *testing.T) {
	e := New(Network, "dial refused", nil)
	assert.True(t, e.IsRetryable())

	e = New(ChunkIntegrity, "hash mismatch", nil)
	assert.False(t, e.IsRetryable())
}

func TestWithRetryableOverrides(t *testing.T) {
	e := New(Network, "dial refused", nil).WithRetryable(false)
	assert.False(t, e.IsRetryable())
}

func TestWithServerAndErrorString(t *testing.T) {
	e := New(ServerUnavailable, "ping failed", nil).WithServer("server_1")
	assert.Contains(t, e.Error(), "server_1")
	assert.Contains(t, e.Error(), "ServerUnavailable")
}

func TestUnwrapAndIs(t *testing.T) {
	cause := errors.New("connection reset")
	e := New(Ftp, "upload failed", cause)

	assert.True(t, errors.Is(e, cause))
	assert.True(t, Is(e, Ftp))
	assert.False(t, Is(e, Timeout))
}

func TestIsRetryableNonErrsError(t *testing.T) {
	plain := errors.New("some random error")
	assert.False(t, IsRetryable(plain))
	assert.Equal(t, Unknown, KindOf(plain))
}

func TestKindOfWrapped(t *testing.T) {
	e := New(Timeout, "deadline exceeded", nil)
	wrapped := fmt.Errorf("context: %w", e)
	assert.Equal(t, Timeout, KindOf(wrapped))
	assert.True(t, IsRetryable(wrapped))
}

func TestMultiErrorAggregation(t *testing.T) {
	m := NewMultiError()
	require.Equal(t, 0, m.Len())
	require.NoError(t, m.ErrorOrNil())

	m.Add(nil)
	require.Equal(t, 0, m.Len())

	m.Add(New(Network, "server_1 unreachable", nil))
	m.Add(New(Network, "server_2 unreachable", nil))

	require.Equal(t, 2, m.Len())
	err := m.ErrorOrNil()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server_1")
	assert.Contains(t, err.Error(), "server_2")
}
