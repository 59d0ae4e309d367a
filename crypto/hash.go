// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// ChunkID is a 32-byte BLAKE3 digest of a chunk's plaintext and is its
// content address, per §3: "Its identity is BLAKE3(plaintext)".
type ChunkID [32]byte

// ContentHash computes the unkeyed BLAKE3 digest of data. Chunk
// identity is deliberately the plain content hash, not a
// domain-separated keyed hash: §4.1 calls out plaintext-hash content
// addressing as what enables cross-file and cross-session
// deduplication, at the documented cost of a confirmation attack on
// known plaintext.
func ContentHash(data []byte) ChunkID {
	var id ChunkID
	sum := blake3.Sum256(data)
	copy(id[:], sum[:])
	return id
}

func (id ChunkID) String() string { return hex.EncodeToString(id[:]) }

// ParseChunkID parses a hex-encoded chunk id.
func ParseChunkID(s string) (ChunkID, error) {
	var id ChunkID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != len(id) {
		return id, errInvalidChunkIDLength
	}
	copy(id[:], b)
	return id, nil
}

var errInvalidChunkIDLength = &chunkIDLengthError{}

type chunkIDLengthError struct{}

func (*chunkIDLengthError) Error() string { return "crypto: chunk id must be 32 bytes" }
