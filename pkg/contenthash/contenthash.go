// Package contenthash implements the Dropbox content hash.
//
// The input is split into 4 MiB blocks, each block is hashed with SHA-256,
// and the digest is the SHA-256 of the concatenated block digests. An empty
// input hashes to SHA-256 of nothing.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

const (
	// Size is the length, in bytes, of a content hash digest.
	Size = sha256.Size

	// BlockSize is the size of the blocks the input is split into.
	BlockSize = 4 * 1024 * 1024
)

// digest keeps the finished block digests; they are 32 bytes per 4 MiB of
// input, so Sum can rehash them without disturbing the running state.
type digest struct {
	blocks   []byte
	block    hash.Hash
	blockPos int
}

// New returns a new hash.Hash computing the content hash.
func New() hash.Hash {
	return &digest{block: sha256.New()}
}

func (d *digest) Write(p []byte) (int, error) {
	n := len(p)

	for len(p) > 0 {
		take := min(BlockSize-d.blockPos, len(p))

		d.block.Write(p[:take])
		d.blockPos += take
		p = p[take:]

		if d.blockPos == BlockSize {
			d.blocks = d.block.Sum(d.blocks)
			d.block.Reset()
			d.blockPos = 0
		}
	}

	return n, nil
}

func (d *digest) Sum(b []byte) []byte {
	overall := sha256.New()
	overall.Write(d.blocks)

	if d.blockPos > 0 {
		overall.Write(d.block.Sum(nil))
	}

	return overall.Sum(b)
}

func (d *digest) Reset() {
	d.blocks = d.blocks[:0]
	d.block.Reset()
	d.blockPos = 0
}

func (d *digest) Size() int { return Size }

func (d *digest) BlockSize() int { return sha256.BlockSize }

// Sum returns the hex content hash of data.
func Sum(data []byte) string {
	h := New()
	h.Write(data)

	return hex.EncodeToString(h.Sum(nil))
}

// Reader returns the hex content hash of everything read from r.
func Reader(r io.Reader) (string, error) {
	h := New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
