// Package chunker implements the lazy, restartable file-splitting
// pass described in spec.md §4.1: a whole-file SHA-256 pre-pass,
// followed by a main pass that hands out fixed-size, sequence-numbered,
// content-hashed chunk records one at a time.
//
// Grounded on the teacher's pkg/content/chunker.go (ChunkFile/
// ChunkReader): same read-loop shape (reusable buffer, trim the last
// short read, stop on io.EOF), generalized from an eager []*Chunk
// return to a lazy Next() iterator so large files never have to fit
// in memory at once, and from BLAKE3 CIDs to the spec's
// seq|filehash-prefix|random chunk id.
package chunker

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"

	"github.com/netchunk/netchunk/pkg/errs"
	"github.com/netchunk/netchunk/pkg/hashutil"
)

// Chunk is one emitted payload from a Chunker's main pass.
type Chunk struct {
	ID       string
	Sequence int
	Size     int64
	Hash     string
	Data     []byte
}

// Chunker opens an input file, computes its whole-file hash in a
// pre-pass, and then emits fixed-size chunks one at a time via Next.
type Chunker struct {
	path         string
	chunkSize    int64
	file         *os.File
	buf          []byte
	nextSeq      int
	fileHash     string
	fileHashPfx  string
	totalSize    int64
	done         bool
}

// Open prepares a Chunker for path: it runs the SHA-256 pre-pass
// immediately (spec.md §4.1 "the file hash is needed by the manifest
// before any chunk is emitted") and then rewinds for the main pass.
func Open(path string, chunkSize int64) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, errs.New(errs.InvalidArgument, "chunk_size must be positive", nil)
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.FileNotFound, "input file not found: "+path, err)
		}
		return nil, errs.New(errs.FileAccess, "failed to open input file: "+path, err)
	}

	hash, size, err := prepassHash(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	if size == 0 {
		f.Close()
		return nil, errs.New(errs.InvalidArgument, "cannot chunk a zero-length file: "+path, nil)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, errs.New(errs.Io, "failed to rewind input file after hashing", err)
	}

	return &Chunker{
		path:        path,
		chunkSize:   chunkSize,
		file:        f,
		buf:         make([]byte, chunkSize),
		fileHash:    hash,
		fileHashPfx: hash[:4],
		totalSize:   size,
	}, nil
}

// prepassHash streams f through SHA-256 and reports total size,
// without holding the whole file in memory.
func prepassHash(f *os.File) (string, int64, error) {
	return hashutil.SumReader(f)
}

// FileHash returns the whole-file SHA-256 hex digest computed during
// Open's pre-pass.
func (c *Chunker) FileHash() string {
	return c.fileHash
}

// TotalSize returns the input file's size in bytes, as measured
// during the pre-pass.
func (c *Chunker) TotalSize() int64 {
	return c.totalSize
}

// ChunkCount returns the number of chunks this file will yield at the
// configured chunk size.
func (c *Chunker) ChunkCount() int {
	return int((c.totalSize + c.chunkSize - 1) / c.chunkSize)
}

// Next returns the next chunk and true, or a zero Chunk and false at
// end-of-sequence. End-of-sequence is a plain boolean, never an error
// value (spec.md §9 ambiguity 2: the source conflated an EOF sentinel
// with a real FILE_NOT_FOUND error; this collapses both into one
// signal distinct from any genuine error).
func (c *Chunker) Next() (Chunk, bool, error) {
	if c.done {
		return Chunk{}, false, nil
	}

	n, err := io.ReadFull(c.file, c.buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Chunk{}, false, errs.New(errs.Io, "failed to read chunk from input file", err)
	}

	if n == 0 {
		c.done = true
		return Chunk{}, false, nil
	}

	payload := make([]byte, n)
	copy(payload, c.buf[:n])

	hash := hashutil.Sum(payload)

	chunk := Chunk{
		ID:       c.makeID(c.nextSeq),
		Sequence: c.nextSeq,
		Size:     int64(n),
		Hash:     hash,
		Data:     payload,
	}
	c.nextSeq++

	if n < len(c.buf) {
		c.done = true
	}

	return chunk, true, nil
}

// makeID builds the spec.md §4.1 chunk id: 8 hex digits of sequence,
// 4 hex digits of the file-hash prefix, 12 hex digits of randomness.
// Per-file unique, not globally unique, and never an integrity oracle.
func (c *Chunker) makeID(seq int) string {
	random := make([]byte, 6)
	// crypto/rand.Read does not fail in practice on supported
	// platforms; a failure here would mean the OS entropy source is
	// broken, which no retry could fix.
	if _, err := rand.Read(random); err != nil {
		panic(fmt.Sprintf("chunker: system randomness unavailable: %v", err))
	}
	return fmt.Sprintf("%08x%s%s", seq, c.fileHashPfx, hashutil.Encode(random))
}

// Close releases the underlying file handle. A Chunker is restartable
// by calling Open again with the same path; Close does not invalidate
// already-emitted Chunk values.
func (c *Chunker) Close() error {
	return c.file.Close()
}
