// Package hashutil wraps the SHA-256 primitive treated by spec.md §1 as
// an external library function: content-addressing and integrity
// verification for chunks and whole files.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/netchunk/netchunk/pkg/errs"
)

// Size is the digest size of SHA-256 in bytes.
const Size = sha256.Size

// readBufferSize is the buffer used when streaming a file or reader
// through the hasher, matching the teacher's 64KiB buffered read loop
// in content/integrity.go.
const readBufferSize = 64 * 1024

// Sum returns the lower-case hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SumBytes returns the raw SHA-256 digest of data.
func SumBytes(data []byte) [Size]byte {
	return sha256.Sum256(data)
}

// SumReader streams r through SHA-256 and returns the lower-case hex
// digest along with the total number of bytes read.
func SumReader(r io.Reader) (digest string, n int64, err error) {
	h := sha256.New()
	buf := make([]byte, readBufferSize)
	for {
		read, rerr := r.Read(buf)
		if read > 0 {
			h.Write(buf[:read])
			n += int64(read)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", n, errs.New(errs.Io, "failed to read stream for hashing", rerr)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// SumFile computes the SHA-256 digest of the file at path, along with
// its size in bytes. The chunker's whole-file pre-pass does not call
// it: it runs SumReader over the file it has already opened.
func SumFile(path string) (digest string, size int64, err error) {
	f, ferr := os.Open(path)
	if ferr != nil {
		if os.IsNotExist(ferr) {
			return "", 0, errs.New(errs.FileNotFound, "file not found: "+path, ferr)
		}
		return "", 0, errs.New(errs.FileAccess, "failed to open file: "+path, ferr)
	}
	defer f.Close()

	return SumReader(f)
}

// Verify reports whether data's SHA-256 digest equals the lower-case
// hex string expected. This is the integrity oracle referenced
// throughout spec.md §3/§4.6: a chunk (or file) is healthy iff Verify
// returns true.
func Verify(data []byte, expected string) bool {
	return Sum(data) == expected
}

// Encode returns the lower-case hex encoding of raw bytes, used by the
// chunker to render the chunk id's random suffix into hex.
func Encode(raw []byte) string {
	return hex.EncodeToString(raw)
}
