// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package crypto implements the core's key hierarchy: a memory-hard
// password KDF produces a master key; a purpose-separated HKDF derives
// metadata, chunk, and machine subkeys from it. See §4.1.
package crypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/tgcryptfs/tgcryptfs/internal/secretbuf"
)

const (
	// KeySize is the size in bytes of every derived key in the
	// hierarchy: the master key, and every HKDF-derived subkey.
	KeySize = 32

	// SaltSize is the size in bytes of the persistent password salt.
	SaltSize = 32
)

// KDFParams tunes the Argon2id password KDF. Defaults per §3: 64 MiB
// memory, 3 iterations, 4-way parallelism.
type KDFParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
}

// DefaultKDFParams returns the spec's default Argon2id tuning.
func DefaultKDFParams() KDFParams {
	return KDFParams{MemoryKiB: 64 * 1024, Iterations: 3, Parallelism: 4}
}

// MasterKey is the root of the key hierarchy. It never persists to
// disk; only its Salt does. The key material is held in a locked,
// mlock'd secret buffer that is zeroed on Close.
type MasterKey struct {
	buf  *secretbuf.Buffer
	salt [SaltSize]byte
}

// DeriveMaster derives a master key from a password and salt using
// Argon2id. If salt is nil, a fresh random salt is generated (first
// unlock / initialization); otherwise the provided salt is used
// (re-deriving an existing master key on subsequent mounts).
func DeriveMaster(password []byte, salt []byte, params KDFParams) (*MasterKey, error) {
	var saltBytes [SaltSize]byte
	if salt == nil {
		if _, err := io.ReadFull(rand.Reader, saltBytes[:]); err != nil {
			return nil, fmt.Errorf("crypto: generating salt: %w", err)
		}
	} else {
		if len(salt) != SaltSize {
			return nil, fmt.Errorf("crypto: salt must be %d bytes, got %d", SaltSize, len(salt))
		}
		copy(saltBytes[:], salt)
	}

	key := argon2.IDKey(password, saltBytes[:], params.Iterations, params.MemoryKiB, params.Parallelism, KeySize)
	buf, err := secretbuf.NewFromBytes(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: locking master key: %w", err)
	}

	return &MasterKey{buf: buf, salt: saltBytes}, nil
}

// Salt returns the persistent salt associated with this master key.
// This is the only key-hierarchy material that may be written to
// disk.
func (m *MasterKey) Salt() [SaltSize]byte { return m.salt }

// Close zeros and releases the master key's locked memory.
func (m *MasterKey) Close() error { return m.buf.Close() }

// DeriveSubkey derives a purpose-separated 32-byte subkey via
// HKDF-SHA256: Extract once over the master key using the salt as
// HKDF salt, then Expand with an info string built from label and
// context. label identifies the purpose (e.g. "metadata-v1",
// "chunk-v1", "machine"); context disambiguates within that purpose
// (e.g. a chunk id or machine id). Matches the labeling scheme in
// §3: "metadata-v1", "chunk-v1:<chunk_id>", "machine:<machine_id>".
func (m *MasterKey) DeriveSubkey(label string, context []byte) ([]byte, error) {
	info := []byte(label)
	if len(context) > 0 {
		info = append(append(info, ':'), context...)
	}

	reader := hkdf.New(newSHA256, m.buf.Bytes(), m.salt[:], info)
	subkey := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, subkey); err != nil {
		return nil, fmt.Errorf("crypto: HKDF expand failed for label %q: %w", label, err)
	}
	return subkey, nil
}

// MetadataKey derives the namespace metadata key, label "metadata-v1".
func (m *MasterKey) MetadataKey() ([]byte, error) {
	return m.DeriveSubkey("metadata-v1", nil)
}

// ChunkKey derives a per-chunk key, label "chunk-v1:" followed by the
// raw 32 chunk id bytes.
func (m *MasterKey) ChunkKey(chunkID [32]byte) ([]byte, error) {
	return m.DeriveSubkey("chunk-v1", chunkID[:])
}

// MachineKey derives a per-machine key, label "machine:<machine_id>".
func (m *MasterKey) MachineKey(machineID [16]byte) ([]byte, error) {
	return m.DeriveSubkey("machine", machineID[:])
}

// NamespaceKey derives a namespace's metadata key, label
// "namespace:<namespace_name>", per §4.6.
func (m *MasterKey) NamespaceKey(namespaceName string) ([]byte, error) {
	return m.DeriveSubkey("namespace", []byte(namespaceName))
}
