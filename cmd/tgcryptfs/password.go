// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/tgcryptfs/tgcryptfs/internal/secretbuf"
)

const passwordEnvVar = "TGCRYPTFS_PASSWORD"

// readPassword resolves the namespace password, checking sources in
// order: --password-file, TGCRYPTFS_PASSWORD, then an interactive
// terminal prompt with echo disabled. The returned buffer's Close
// zeros the password in memory.
func readPassword(passwordFile string) (*secretbuf.Buffer, error) {
	if passwordFile != "" {
		data, err := os.ReadFile(passwordFile)
		if err != nil {
			return nil, fmt.Errorf("reading password file: %w", err)
		}
		return secretbuf.NewFromBytes([]byte(strings.TrimRight(string(data), "\n")))
	}

	if fromEnv, ok := os.LookupEnv(passwordEnvVar); ok {
		return secretbuf.NewFromBytes([]byte(fromEnv))
	}

	stdinFD := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFD) {
		return nil, fmt.Errorf("no terminal available for an interactive password prompt (use --password-file or %s)", passwordEnvVar)
	}

	fmt.Fprint(os.Stderr, "Password: ")
	raw, err := term.ReadPassword(stdinFD)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	return secretbuf.NewFromBytes(raw)
}
