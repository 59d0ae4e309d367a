// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigMatchesDocumentedDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Chunk.ChunkSize != 52_428_800 {
		t.Fatalf("got chunk size %d, want 52428800", cfg.Chunk.ChunkSize)
	}
	if cfg.Encryption.MemoryKiB != 64*1024 || cfg.Encryption.Iterations != 3 || cfg.Encryption.Parallelism != 4 {
		t.Fatal("encryption defaults do not match the documented Argon2 tuning")
	}
	if cfg.RateLimit.MaxConcurrentUploads != 3 || cfg.RateLimit.MaxConcurrentDownloads != 5 {
		t.Fatal("rate limit defaults do not match")
	}
	if cfg.Distribution.Mode != Standalone {
		t.Fatal("default distribution mode should be standalone")
	}
}

func TestLoadFileExpandsEnvironmentVariables(t *testing.T) {
	os.Setenv("TGCRYPTFS_TEST_ROOT", "/tmp/tgcryptfs-test")
	defer os.Unsetenv("TGCRYPTFS_TEST_ROOT")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "data_dir: \"${TGCRYPTFS_TEST_ROOT}/data\"\n"
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.DataDir != "/tmp/tgcryptfs-test/data" {
		t.Fatalf("got data_dir %q", cfg.DataDir)
	}
}

func TestLoadFileLeavesUnresolvedVariablesLiteral(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "data_dir: \"${TGCRYPTFS_UNSET_VAR}/data\"\n"
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.DataDir != "${TGCRYPTFS_UNSET_VAR}/data" {
		t.Fatalf("got data_dir %q, want literal passthrough", cfg.DataDir)
	}
}

func TestLoadFailsWithoutEnvironmentVariable(t *testing.T) {
	os.Unsetenv("TGCRYPTFS_CONFIG")
	if _, err := Load(); err == nil {
		t.Fatal("Load should fail when TGCRYPTFS_CONFIG is unset")
	}
}
