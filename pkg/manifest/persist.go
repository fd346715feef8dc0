package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/netchunk/netchunk/pkg/errs"
)

// WriteAtomic serializes m and writes it to path using the
// write-to-tmp-then-rename contract of spec.md §4.3: readers must see
// either the pre- or post-image, never a partial file.
//
// Grounded on NebulousLabs/Sia's persist.SafeFile (inferred from
// persist_test.go's TestAbsolutePathSafeFile: a temp file with a
// different name than the final path, committed via rename).
func WriteAtomic(path string, m *Manifest, maxBackups int) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}

	if maxBackups > 0 {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := backupExisting(path, maxBackups); err != nil {
				return err
			}
		}
	}

	return writeFileAtomic(path, data)
}

// writeFileAtomic is the general-purpose tmp+fsync+rename primitive
// used both for local manifest persistence here and (conceptually) by
// the FTP transport's atomic chunk upload (spec.md §4.2).
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errs.New(errs.Io, "failed to create temp manifest file: "+tmpPath, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return errs.New(errs.Io, "failed to write temp manifest file", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return errs.New(errs.Io, "failed to fsync temp manifest file", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return errs.New(errs.Io, "failed to close temp manifest file", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errs.New(errs.Io, "failed to rename temp manifest file into place", err)
	}

	// Best-effort fsync of the containing directory so the rename
	// itself is durable; not all filesystems require this, but it is
	// cheap and never harmful.
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}

	return nil
}

// ReadFile reads and validates a manifest from a local path.
func ReadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.FileNotFound, "manifest not found: "+path, err)
		}
		return nil, errs.New(errs.FileAccess, "failed to read manifest: "+path, err)
	}
	return Unmarshal(data)
}

// backupExisting copies path to path+".backup.<unix_ts>" before it is
// overwritten, then unlinks all but the most recent maxBackups
// backups, per spec.md §4.3's "Backup policy".
func backupExisting(path string, maxBackups int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errs.New(errs.Io, "failed to read existing manifest for backup", err)
	}

	backupPath := fmt.Sprintf("%s.backup.%d", path, time.Now().Unix())
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return errs.New(errs.Io, "failed to write manifest backup", err)
	}

	return pruneBackups(path, maxBackups)
}

// pruneBackups keeps only the maxBackups most recent
// "<path>.backup.<ts>" files, unlinking the rest.
func pruneBackups(path string, maxBackups int) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	prefix := base + ".backup."

	entries, err := os.ReadDir(dir)
	if err != nil {
		return errs.New(errs.Io, "failed to list manifest directory for backup pruning", err)
	}

	type backup struct {
		name string
		ts   int64
	}
	var backups []backup
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		tsStr := strings.TrimPrefix(e.Name(), prefix)
		ts, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			continue
		}
		backups = append(backups, backup{name: e.Name(), ts: ts})
	}

	sort.Slice(backups, func(i, j int) bool { return backups[i].ts > backups[j].ts })

	for i := maxBackups; i < len(backups); i++ {
		os.Remove(filepath.Join(dir, backups[i].name))
	}

	return nil
}
