// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/tgcryptfs/tgcryptfs/internal/cli"
)

func identityCommand() *cli.Command {
	return &cli.Command{
		Name:    "identity",
		Summary: "Inspect this machine's identity",
		Subcommands: []*cli.Command{
			identityShowCommand(),
		},
	}
}

func identityShowCommand() *cli.Command {
	var configPath, namespace, passwordFile string
	return &cli.Command{
		Name:    "show",
		Summary: "Print this machine's identity for a namespace",
		Usage:   "tgcryptfs identity show --namespace NAME",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("identity show", pflag.ContinueOnError)
			withNamespaceFlags(fs, &configPath, &namespace, &passwordFile)
			return fs
		},
		Run: func(args []string) error {
			handle, err := openNamespaceFromFlags(configPath, namespace, passwordFile)
			if err != nil {
				return err
			}
			defer handle.Close()

			identity := handle.identity
			fmt.Printf("machine_id:   %s\n", identity.MachineID)
			fmt.Printf("machine_name: %s\n", identity.MachineName)
			fmt.Printf("created_at:   %s\n", identity.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
			fmt.Printf("public_key:   %x\n", identity.PublicKey)
			return nil
		},
	}
}
