// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tgcryptfs/tgcryptfs/internal/codec"
)

const (
	identityFile   = "identity.cbor"
	privateKeyFile = "signing-key"
	publicKeyFile  = "signing-key.pub"
)

// MachineIdentity is generated once per installation and persisted
// locally, per §4.6: "(uuid, name, ed25519_private, ed25519_public,
// created_at); private key never leaves the machine."
type MachineIdentity struct {
	MachineID   uuid.UUID `cbor:"machine_id"`
	MachineName string    `cbor:"machine_name"`
	PublicKey   []byte    `cbor:"public_key"`
	CreatedAt   time.Time `cbor:"created_at"`

	privateKey ed25519.PrivateKey
}

// GenerateIdentity creates a new machine identity with a fresh
// Ed25519 keypair and UUID v4 machine id.
func GenerateIdentity(machineName string) (*MachineIdentity, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("distributed: generating Ed25519 keypair: %w", err)
	}

	return &MachineIdentity{
		MachineID:   uuid.New(),
		MachineName: machineName,
		PublicKey:   public,
		CreatedAt:   time.Now().UTC(),
		privateKey:  private,
	}, nil
}

// Sign signs data with the machine's private key.
func (m *MachineIdentity) Sign(data []byte) []byte {
	return ed25519.Sign(m.privateKey, data)
}

// Verify verifies a signature over data made by publicKey.
func Verify(publicKey ed25519.PublicKey, data, signature []byte) bool {
	return ed25519.Verify(publicKey, data, signature)
}

// SaveIdentity writes the identity record and keypair into stateDir.
// The private key file gets 0600 permissions; everything else 0644,
// matching the identity/ layout in §6 ("plaintext; signing key
// protected by file permissions").
func SaveIdentity(stateDir string, identity *MachineIdentity) error {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("distributed: creating state dir: %w", err)
	}

	if err := os.WriteFile(filepath.Join(stateDir, privateKeyFile), identity.privateKey, 0600); err != nil {
		return fmt.Errorf("distributed: writing private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(stateDir, publicKeyFile), identity.PublicKey, 0644); err != nil {
		return fmt.Errorf("distributed: writing public key: %w", err)
	}

	record := identityRecord{
		MachineID:   identity.MachineID,
		MachineName: identity.MachineName,
		CreatedAt:   identity.CreatedAt,
	}
	data, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("distributed: encoding identity record: %w", err)
	}
	if err := os.WriteFile(filepath.Join(stateDir, identityFile), data, 0644); err != nil {
		return fmt.Errorf("distributed: writing identity record: %w", err)
	}

	return nil
}

// LoadIdentity loads a previously saved identity from stateDir.
func LoadIdentity(stateDir string) (*MachineIdentity, error) {
	recordBytes, err := os.ReadFile(filepath.Join(stateDir, identityFile))
	if err != nil {
		return nil, fmt.Errorf("distributed: reading identity record: %w", err)
	}
	var record identityRecord
	if err := codec.Unmarshal(recordBytes, &record); err != nil {
		return nil, fmt.Errorf("distributed: decoding identity record: %w", err)
	}

	privateBytes, err := os.ReadFile(filepath.Join(stateDir, privateKeyFile))
	if err != nil {
		return nil, fmt.Errorf("distributed: reading private key: %w", err)
	}
	if len(privateBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("distributed: private key has %d bytes, want %d", len(privateBytes), ed25519.PrivateKeySize)
	}

	publicBytes, err := os.ReadFile(filepath.Join(stateDir, publicKeyFile))
	if err != nil {
		return nil, fmt.Errorf("distributed: reading public key: %w", err)
	}
	if len(publicBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("distributed: public key has %d bytes, want %d", len(publicBytes), ed25519.PublicKeySize)
	}

	return &MachineIdentity{
		MachineID:   record.MachineID,
		MachineName: record.MachineName,
		PublicKey:   publicBytes,
		CreatedAt:   record.CreatedAt,
		privateKey:  ed25519.PrivateKey(privateBytes),
	}, nil
}

// LoadOrGenerateIdentity loads an existing identity from stateDir, or
// generates and saves a new one if none exists yet.
func LoadOrGenerateIdentity(stateDir, machineName string) (*MachineIdentity, error) {
	identity, err := LoadIdentity(stateDir)
	if err == nil {
		return identity, nil
	}
	if _, statErr := os.Stat(filepath.Join(stateDir, identityFile)); statErr == nil {
		return nil, err
	}

	identity, err = GenerateIdentity(machineName)
	if err != nil {
		return nil, err
	}
	if err := SaveIdentity(stateDir, identity); err != nil {
		return nil, err
	}
	return identity, nil
}

type identityRecord struct {
	MachineID   uuid.UUID `cbor:"machine_id"`
	MachineName string    `cbor:"machine_name"`
	CreatedAt   time.Time `cbor:"created_at"`
}
