// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunk implements the fixed-size chunker and the
// beneficial-only compression gate described in §4.2. Chunks are
// uniform-size plaintext slices of a file's byte range, the last
// possibly short; compression is applied only when it helps.
package chunk

// DefaultChunkSize is the default fixed chunk size in bytes (50 MiB),
// per §3 and the chunk.chunk_size configuration default in §6.
const DefaultChunkSize = 52_428_800

// Chunk is one fixed-size (except possibly the last) plaintext slice
// of a file, with its byte offset within the file.
type Chunk struct {
	// Offset is the chunk's starting byte offset within the file.
	Offset int64

	// Data is the chunk's plaintext bytes. This is a slice into the
	// caller's input buffer and is only valid until the buffer is
	// modified.
	Data []byte
}

// Chunker splits an in-memory byte slice into fixed-size chunks. A
// zero-length input produces zero chunks (§4.2's "a zero-length file
// has an empty manifest").
type Chunker struct {
	data      []byte
	chunkSize int
	position  int
}

// NewChunker creates a chunker over data using chunkSize as the fixed
// chunk size. chunkSize must be positive; callers typically pass
// DefaultChunkSize or a configured chunk.chunk_size.
func NewChunker(data []byte, chunkSize int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Chunker{data: data, chunkSize: chunkSize}
}

// Next returns the next chunk, or nil when all input has been
// consumed. Every chunk but the last is exactly chunkSize bytes; the
// spec requires chunk size be "uniform except for the final chunk."
func (c *Chunker) Next() *Chunk {
	if c.position >= len(c.data) {
		return nil
	}

	end := c.position + c.chunkSize
	if end > len(c.data) {
		end = len(c.data)
	}

	chunk := &Chunk{
		Offset: int64(c.position),
		Data:   c.data[c.position:end],
	}
	c.position = end
	return chunk
}

// ChunkAll drains the chunker and returns every chunk. Convenience for
// callers that don't need to stream.
func (c *Chunker) ChunkAll() []*Chunk {
	var chunks []*Chunk
	for chunk := c.Next(); chunk != nil; chunk = c.Next() {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// Split is a convenience wrapper: split data into fixed-size chunks in
// one call.
func Split(data []byte, chunkSize int) []*Chunk {
	return NewChunker(data, chunkSize).ChunkAll()
}
