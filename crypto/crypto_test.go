// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"bytes"
	"testing"
)

func testParams() KDFParams {
	// Tiny Argon2 cost for fast tests; production uses DefaultKDFParams.
	return KDFParams{MemoryKiB: 1024, Iterations: 1, Parallelism: 1}
}

func TestDeriveMasterDeterministic(t *testing.T) {
	salt := make([]byte, SaltSize)
	salt[0] = 0x42

	m1, err := DeriveMaster([]byte("hunter2"), salt, testParams())
	if err != nil {
		t.Fatalf("DeriveMaster: %v", err)
	}
	defer m1.Close()

	m2, err := DeriveMaster([]byte("hunter2"), salt, testParams())
	if err != nil {
		t.Fatalf("DeriveMaster: %v", err)
	}
	defer m2.Close()

	if !bytes.Equal(m1.buf.Bytes(), m2.buf.Bytes()) {
		t.Fatal("same password and salt must derive the same master key")
	}
}

func TestDeriveMasterRandomSalt(t *testing.T) {
	m1, err := DeriveMaster([]byte("hunter2"), nil, testParams())
	if err != nil {
		t.Fatalf("DeriveMaster: %v", err)
	}
	defer m1.Close()

	m2, err := DeriveMaster([]byte("hunter2"), nil, testParams())
	if err != nil {
		t.Fatalf("DeriveMaster: %v", err)
	}
	defer m2.Close()

	if m1.Salt() == m2.Salt() {
		t.Fatal("independently generated salts should not collide")
	}
}

func TestDeriveSubkeyDomainSeparation(t *testing.T) {
	master, err := DeriveMaster([]byte("hunter2"), nil, testParams())
	if err != nil {
		t.Fatalf("DeriveMaster: %v", err)
	}
	defer master.Close()

	metadataKey, err := master.MetadataKey()
	if err != nil {
		t.Fatalf("MetadataKey: %v", err)
	}

	var chunkA, chunkB ChunkID
	chunkA[0] = 1
	chunkB[0] = 2

	keyA, err := master.ChunkKey(chunkA)
	if err != nil {
		t.Fatalf("ChunkKey: %v", err)
	}
	keyB, err := master.ChunkKey(chunkB)
	if err != nil {
		t.Fatalf("ChunkKey: %v", err)
	}

	if bytes.Equal(keyA, keyB) {
		t.Fatal("different chunk ids must derive different keys")
	}
	if bytes.Equal(keyA, metadataKey) {
		t.Fatal("chunk key and metadata key must differ")
	}

	keyAAgain, err := master.ChunkKey(chunkA)
	if err != nil {
		t.Fatalf("ChunkKey: %v", err)
	}
	if !bytes.Equal(keyA, keyAAgain) {
		t.Fatal("same chunk id must derive the same key")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}

	plaintext := []byte("hello, tgcryptfs")
	aad := []byte("chunk:abc123")

	blob, err := Seal(key, aad, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	got, err := Open(key, aad, blob)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, plaintext)
	}
}

func TestOpenWrongAADFails(t *testing.T) {
	key := make([]byte, KeySize)
	blob, err := Seal(key, []byte("aad-1"), []byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Open(key, []byte("aad-2"), blob); err == nil {
		t.Fatal("expected IntegrityFailure for mismatched AAD")
	}
}

func TestOpenTamperedCiphertextFails(t *testing.T) {
	key := make([]byte, KeySize)
	blob, err := Seal(key, nil, []byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	blob[len(blob)-1] ^= 0xFF

	if _, err := Open(key, nil, blob); err == nil {
		t.Fatal("expected IntegrityFailure for tampered ciphertext")
	}
}

func TestContentHashDeterministic(t *testing.T) {
	a := ContentHash([]byte("hello"))
	b := ContentHash([]byte("hello"))
	c := ContentHash([]byte("world"))

	if a != b {
		t.Fatal("identical content must hash identically")
	}
	if a == c {
		t.Fatal("different content must hash differently")
	}
}
