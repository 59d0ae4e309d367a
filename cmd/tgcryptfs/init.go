// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/tgcryptfs/tgcryptfs/crypto"
	"github.com/tgcryptfs/tgcryptfs/distributed"
	"github.com/tgcryptfs/tgcryptfs/internal/cli"
	"github.com/tgcryptfs/tgcryptfs/metadatastore"
)

func initCommand() *cli.Command {
	var (
		configPath   string
		namespace    string
		passwordFile string
	)

	return &cli.Command{
		Name:    "init",
		Summary: "Initialize a new namespace",
		Usage:   "tgcryptfs init --namespace NAME",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("init", pflag.ContinueOnError)
			fs.StringVar(&configPath, "config", "", "path to configuration file (default: $TGCRYPTFS_CONFIG)")
			fs.StringVar(&namespace, "namespace", "", "namespace to initialize (required)")
			fs.StringVar(&passwordFile, "password-file", "", "path to file containing the namespace password")
			return fs
		},
		Run: func(args []string) error {
			if namespace == "" {
				return fmt.Errorf("--namespace is required")
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if _, err := findNamespace(cfg, namespace); err != nil {
				return fmt.Errorf("%w (add it to the \"namespaces\" list in your configuration first)", err)
			}

			dir := namespaceDir(cfg, namespace)
			saltPath := filepath.Join(dir, saltFile)
			if _, err := os.Stat(saltPath); err == nil {
				return fmt.Errorf("namespace %q is already initialized (%s exists)", namespace, saltPath)
			}
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fmt.Errorf("creating namespace directory: %w", err)
			}

			password, err := readPassword(passwordFile)
			if err != nil {
				return err
			}
			defer password.Close()

			master, err := crypto.DeriveMaster(password.Bytes(), nil, crypto.KDFParams{
				MemoryKiB:   cfg.Encryption.MemoryKiB,
				Iterations:  cfg.Encryption.Iterations,
				Parallelism: cfg.Encryption.Parallelism,
			})
			if err != nil {
				return fmt.Errorf("deriving master key: %w", err)
			}
			defer master.Close()

			salt := master.Salt()
			if err := os.WriteFile(saltPath, salt[:], 0o600); err != nil {
				return fmt.Errorf("writing salt: %w", err)
			}

			metaKey, err := master.MetadataKey()
			if err != nil {
				return err
			}
			metaStore, err := metadatastore.Open(filepath.Join(dir, "metadata"), metaKey)
			if err != nil {
				return fmt.Errorf("bootstrapping metadata store: %w", err)
			}
			_ = metaStore.Close()

			identity, err := distributed.LoadOrGenerateIdentity(filepath.Join(dir, "identity"), namespace)
			if err != nil {
				return fmt.Errorf("generating machine identity: %w", err)
			}

			fmt.Fprintf(os.Stderr, "Initialized namespace %q at %s\n", namespace, dir)
			fmt.Fprintf(os.Stderr, "Machine identity: %s (%s)\n", identity.MachineName, identity.MachineID)
			return nil
		},
	}
}
