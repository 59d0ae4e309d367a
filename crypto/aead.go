// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"

	"github.com/tgcryptfs/tgcryptfs/internal/coreerr"
)

func newSHA256() hash.Hash { return sha256.New() }

const (
	// NonceSize is the AES-256-GCM nonce size in bytes (96 bits),
	// per §3.
	NonceSize = 12
	// TagSize is the AES-256-GCM authentication tag size in bytes
	// (128 bits), per §3.
	TagSize = 16
)

// Seal encrypts plaintext with AES-256-GCM under key, authenticating
// aad. The returned blob has the wire format required by §3 and §6:
// nonce(12B) || ciphertext || tag(16B). key must be 32 bytes.
func Seal(key []byte, aad []byte, plaintext []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, coreerr.New(coreerr.InvalidArgument, fmt.Sprintf("crypto: key must be %d bytes, got %d", KeySize, len(key)))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.InvalidArgument, "crypto: creating AES cipher", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.InvalidArgument, "crypto: creating GCM", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, coreerr.Wrap(coreerr.Unknown, "crypto: generating nonce", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, aad)
	blob := make([]byte, 0, NonceSize+len(sealed))
	blob = append(blob, nonce...)
	blob = append(blob, sealed...)
	return blob, nil
}

// Open decrypts a blob produced by Seal. Authentication failure
// (tampering, wrong key, or wrong aad) reports IntegrityFailure, per
// §4.1: "Authentication failure ... is not retried, surfaced as an
// I/O error."
func Open(key []byte, aad []byte, blob []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, coreerr.New(coreerr.InvalidArgument, fmt.Sprintf("crypto: key must be %d bytes, got %d", KeySize, len(key)))
	}
	if len(blob) < NonceSize+TagSize {
		return nil, coreerr.New(coreerr.IntegrityFailure, "crypto: sealed blob too short")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.InvalidArgument, "crypto: creating AES cipher", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.InvalidArgument, "crypto: creating GCM", err)
	}

	nonce := blob[:NonceSize]
	ciphertext := blob[NonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.IntegrityFailure, "crypto: authentication failed", err)
	}
	return plaintext, nil
}
