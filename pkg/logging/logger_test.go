package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesStartupAndShutdownMarkers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")

	l, err := New(path, "info")
	require.NoError(t, err)

	l.Info("TEST: hello world")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "STARTUP")
	assert.Contains(t, content, "TEST: hello world")
	assert.Contains(t, content, "SHUTDOWN")
}

func TestNewAppendsAcrossOpens(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "append.log")

	l1, err := New(path, "info")
	require.NoError(t, err)
	l1.Info("first session")
	require.NoError(t, l1.Close())

	l2, err := New(path, "info")
	require.NoError(t, err)
	l2.Info("second session")
	require.NoError(t, l2.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Equal(t, 2, strings.Count(content, "STARTUP"))
	assert.Contains(t, content, "first session")
	assert.Contains(t, content, "second session")
}

func TestRotationOnOversizedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rotate.log")

	l, err := New(path, "info")
	require.NoError(t, err)
	l.maxSizeByte = 128 // force rotation almost immediately

	for i := 0; i < 20; i++ {
		l.Info("padding line to exceed the tiny rotation threshold")
	}
	require.NoError(t, l.Close())

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err, "expected a rotated .1 file to exist")
}

func TestDiscardLoggerDoesNotPanic(t *testing.T) {
	l := Discard()
	assert.NotPanics(t, func() {
		l.Info("nowhere")
	})
}
