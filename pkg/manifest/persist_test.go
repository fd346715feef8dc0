package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netchunk/netchunk/pkg/errs"
)

func TestWriteAtomicThenReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")

	m := validManifest()
	require.NoError(t, WriteAtomic(path, m, 0))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "tmp file should not survive a successful write")

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, m.ManifestID, got.ManifestID)
}

func TestReadFileMissingReturnsFileNotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadFile(filepath.Join(dir, "nope.json"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.FileNotFound))
}

func TestWriteAtomicCreatesBackupOnOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")

	m := validManifest()
	require.NoError(t, WriteAtomic(path, m, 2))

	m.Comment = "second version"
	time.Sleep(1100 * time.Millisecond) // ensure distinct unix-second backup name
	require.NoError(t, WriteAtomic(path, m, 2))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var backups int
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			backups++
		}
	}
	assert.Equal(t, 1, backups)
}

func TestWriteAtomicPrunesOldBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")

	m := validManifest()
	require.NoError(t, WriteAtomic(path, m, 1))

	for i := 0; i < 3; i++ {
		m.Comment = "rev"
		time.Sleep(1100 * time.Millisecond)
		require.NoError(t, WriteAtomic(path, m, 1))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var backups int
	for _, e := range entries {
		if filepath.Base(e.Name()) != "manifest.json" {
			backups++
		}
	}
	assert.LessOrEqual(t, backups, 1)
}
