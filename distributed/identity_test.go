// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package distributed

import "testing"

func TestGenerateIdentitySignVerify(t *testing.T) {
	identity, err := GenerateIdentity("test-machine")
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}

	data := []byte("hello, tgcryptfs")
	sig := identity.Sign(data)

	if !Verify(identity.PublicKey, data, sig) {
		t.Fatal("signature should verify")
	}
	if Verify(identity.PublicKey, []byte("different"), sig) {
		t.Fatal("signature must not verify over different data")
	}
}

func TestSaveLoadIdentity(t *testing.T) {
	dir := t.TempDir()

	original, err := GenerateIdentity("test-machine")
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	if err := SaveIdentity(dir, original); err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}

	loaded, err := LoadIdentity(dir)
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}

	if loaded.MachineID != original.MachineID {
		t.Fatal("machine id mismatch after reload")
	}
	if loaded.MachineName != original.MachineName {
		t.Fatal("machine name mismatch after reload")
	}

	data := []byte("round trip signing")
	sig := loaded.Sign(data)
	if !Verify(original.PublicKey, data, sig) {
		t.Fatal("reloaded private key must produce signatures verifiable by the original public key")
	}
}

func TestLoadOrGenerateIdentityIsStable(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrGenerateIdentity(dir, "machine-a")
	if err != nil {
		t.Fatalf("LoadOrGenerateIdentity: %v", err)
	}
	second, err := LoadOrGenerateIdentity(dir, "machine-b")
	if err != nil {
		t.Fatalf("LoadOrGenerateIdentity: %v", err)
	}

	if first.MachineID != second.MachineID {
		t.Fatal("second call should retrieve the identity created by the first, not generate a new one")
	}
	if second.MachineName != "machine-a" {
		t.Fatalf("machine name should not change on retrieval, got %q", second.MachineName)
	}
}
