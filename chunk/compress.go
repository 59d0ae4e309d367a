// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"github.com/pierrec/lz4/v4"
)

// CompressThreshold is the minimum plaintext length, in bytes, below
// which compression is never attempted, per §4.2: "returns a
// compressed form iff length > 1 KiB AND compressed size < plaintext
// size".
const CompressThreshold = 1024

// Compress returns the LZ4-compressed form of data along with true,
// iff data is longer than CompressThreshold and the compressed form
// is strictly smaller than data. Otherwise it returns (nil, false)
// and the caller stores data uncompressed.
func Compress(data []byte) ([]byte, bool) {
	if len(data) <= CompressThreshold {
		return nil, false
	}

	buf := make([]byte, lz4.CompressBlockBound(len(data)))
	var compressor lz4.Compressor
	n, err := compressor.CompressBlock(data, buf)
	if err != nil || n <= 0 || n >= len(data) {
		return nil, false
	}

	return buf[:n], true
}

// Decompress inverts Compress. originalSize is the known plaintext
// length (carried alongside the ChunkRef / stored chunk header).
func Decompress(compressed []byte, originalSize int) ([]byte, error) {
	out := make([]byte, originalSize)
	n, err := lz4.UncompressBlock(compressed, out)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}
