// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/tgcryptfs/tgcryptfs/internal/cli"
)

func snapshotCommand() *cli.Command {
	return &cli.Command{
		Name:    "snapshot",
		Summary: "Manage local point-in-time snapshots",
		Subcommands: []*cli.Command{
			snapshotCreateCommand(),
			snapshotListCommand(),
			snapshotRestoreCommand(),
			snapshotDeleteCommand(),
		},
	}
}

func withNamespaceFlags(fs *pflag.FlagSet, configPath, namespace, passwordFile *string) {
	fs.StringVar(configPath, "config", "", "path to configuration file (default: $TGCRYPTFS_CONFIG)")
	fs.StringVar(namespace, "namespace", "", "namespace to operate on (required)")
	fs.StringVar(passwordFile, "password-file", "", "path to file containing the namespace password")
}

func openNamespaceFromFlags(configPath, namespace, passwordFile string) (*namespaceHandle, error) {
	if namespace == "" {
		return nil, fmt.Errorf("--namespace is required")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	password, err := readPassword(passwordFile)
	if err != nil {
		return nil, err
	}
	defer password.Close()

	return openNamespace(cfg, namespace, password.Bytes())
}

func snapshotCreateCommand() *cli.Command {
	var configPath, namespace, passwordFile, description string
	return &cli.Command{
		Name:    "create",
		Summary: "Freeze the current metadata tree under a name",
		Usage:   "tgcryptfs snapshot create --namespace NAME SNAPSHOT_NAME",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("snapshot create", pflag.ContinueOnError)
			withNamespaceFlags(fs, &configPath, &namespace, &passwordFile)
			fs.StringVar(&description, "description", "", "human-readable note attached to the snapshot")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one snapshot name argument")
			}
			handle, err := openNamespaceFromFlags(configPath, namespace, passwordFile)
			if err != nil {
				return err
			}
			defer handle.Close()

			store, err := handle.snapshotStore()
			if err != nil {
				return err
			}
			info, err := store.Create(args[0], description)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Created snapshot %q (%s) at %s\n", info.Name, info.ID, info.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
			return nil
		},
	}
}

func snapshotListCommand() *cli.Command {
	var configPath, namespace, passwordFile string
	return &cli.Command{
		Name:    "list",
		Summary: "List local snapshots",
		Usage:   "tgcryptfs snapshot list --namespace NAME",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("snapshot list", pflag.ContinueOnError)
			withNamespaceFlags(fs, &configPath, &namespace, &passwordFile)
			return fs
		},
		Run: func(args []string) error {
			handle, err := openNamespaceFromFlags(configPath, namespace, passwordFile)
			if err != nil {
				return err
			}
			defer handle.Close()

			store, err := handle.snapshotStore()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "NAME\tCREATED\tDESCRIPTION")
			for _, info := range store.List() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", info.Name, info.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), info.Description)
			}
			return tw.Flush()
		},
	}
}

func snapshotRestoreCommand() *cli.Command {
	var configPath, namespace, passwordFile string
	return &cli.Command{
		Name:    "restore",
		Summary: "Replace the live metadata tree with a snapshot",
		Usage:   "tgcryptfs snapshot restore --namespace NAME SNAPSHOT_NAME",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("snapshot restore", pflag.ContinueOnError)
			withNamespaceFlags(fs, &configPath, &namespace, &passwordFile)
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one snapshot name argument")
			}
			handle, err := openNamespaceFromFlags(configPath, namespace, passwordFile)
			if err != nil {
				return err
			}
			defer handle.Close()

			store, err := handle.snapshotStore()
			if err != nil {
				return err
			}
			if err := store.Restore(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Restored snapshot %q\n", args[0])
			return nil
		},
	}
}

func snapshotDeleteCommand() *cli.Command {
	var configPath, namespace, passwordFile string
	return &cli.Command{
		Name:    "delete",
		Summary: "Remove a snapshot from the catalog",
		Usage:   "tgcryptfs snapshot delete --namespace NAME SNAPSHOT_NAME",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("snapshot delete", pflag.ContinueOnError)
			withNamespaceFlags(fs, &configPath, &namespace, &passwordFile)
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one snapshot name argument")
			}
			handle, err := openNamespaceFromFlags(configPath, namespace, passwordFile)
			if err != nil {
				return err
			}
			defer handle.Close()

			store, err := handle.snapshotStore()
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Deleted snapshot %q\n", args[0])
			return nil
		},
	}
}
