// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/tgcryptfs/tgcryptfs/internal/cli"
)

// Root returns the tgcryptfs command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name:    "tgcryptfs",
		Summary: "Encrypted, content-addressed, chunk-based filesystem",
		Description: `tgcryptfs mounts a namespace's encrypted metadata tree as a
POSIX-like filesystem via FUSE, backed by a content-addressed chunk
store and an opaque remote blob service.`,
		Subcommands: []*cli.Command{
			mountCommand(),
			initCommand(),
			snapshotCommand(),
			identityCommand(),
		},
	}
}
